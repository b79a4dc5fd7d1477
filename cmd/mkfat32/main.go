// Command mkfat32 formats a file as a blank FAT32 volume.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mkoll/gofat32/config"
	"github.com/mkoll/gofat32/fat32"
)

func main() {
	app := cli.App{
		Name:  "mkfat32",
		Usage: "Format a file or block device as a FAT32 volume",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create or wipe an image",
				Action:    formatImage,
				ArgsUsage: "IMAGE_FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Usage: "path to a YAML format configuration document"},
					&cli.StringFlag{Name: "preset", Usage: "named geometry preset (see list-presets)"},
					&cli.Uint64Flag{Name: "size", Usage: "total volume size in bytes, overrides config/preset"},
					&cli.StringFlag{Name: "label", Usage: "volume label"},
					&cli.BoolFlag{Name: "v", Usage: "log every mutating operation to stderr"},
				},
			},
			{
				Name:   "list-presets",
				Usage:  "List known named volume-size presets",
				Action: listPresets,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func listPresets(_ *cli.Context) error {
	for _, p := range config.ListPresets() {
		fmt.Printf("%-16s %-40s %d bytes\n", p.Slug, p.Name, p.TotalBytes)
	}
	return nil
}

func formatImage(c *cli.Context) error {
	if c.Bool("v") {
		fat32.Logger.SetOutput(os.Stderr)
	}

	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("format: an image path is required")
	}

	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	result, err := fat32.Format(f, cfg)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	fmt.Println(result.Summary())
	return nil
}

func resolveConfig(c *cli.Context) (fat32.FormatConfig, error) {
	var cfg fat32.FormatConfig
	var err error

	switch {
	case c.String("config") != "":
		ff, loadErr := config.LoadFormatFile(c.String("config"))
		if loadErr != nil {
			return cfg, loadErr
		}
		cfg, err = ff.Resolve()
	case c.String("preset") != "":
		preset, presetErr := config.GetPreset(c.String("preset"))
		if presetErr != nil {
			return cfg, presetErr
		}
		cfg = preset.FormatConfig()
	}
	if err != nil {
		return cfg, err
	}

	if c.Uint64("size") != 0 {
		cfg.TotalBytes = c.Uint64("size")
	}
	if c.String("label") != "" {
		cfg.VolumeLabel = c.String("label")
	}
	if cfg.TotalBytes == 0 {
		return cfg, fmt.Errorf("format: one of --size, --config, or --preset must set a volume size")
	}
	return cfg, nil
}
