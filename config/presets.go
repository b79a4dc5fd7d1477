// Package config loads mkfat32's volume-size presets and YAML format
// configuration.
package config

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/mkoll/gofat32/fat32"
)

// GeometryPreset is one named, pre-canned volume geometry a caller can ask
// mkfat32 to format by slug instead of specifying every field by hand.
type GeometryPreset struct {
	Slug              string `csv:"slug"`
	Name              string `csv:"name"`
	TotalBytes        uint64 `csv:"total_bytes"`
	BytesPerSector    uint   `csv:"bytes_per_sector"`
	SectorsPerCluster uint   `csv:"sectors_per_cluster"`
	ReservedSectors   uint   `csv:"reserved_sectors"`
	NumFATs           uint   `csv:"num_fats"`
	Notes             string `csv:"notes"`
}

// FormatConfig converts the preset into the fat32 package's format
// configuration.
func (p GeometryPreset) FormatConfig() fat32.FormatConfig {
	return fat32.FormatConfig{
		TotalBytes:        p.TotalBytes,
		BytesPerSector:    p.BytesPerSector,
		SectorsPerCluster: p.SectorsPerCluster,
		ReservedSectors:   p.ReservedSectors,
		NumFATs:           p.NumFATs,
	}
}

//go:embed presets.csv
var presetsRawCSV string

var presets map[string]GeometryPreset

// GetPreset looks up a predefined volume geometry by slug.
func GetPreset(slug string) (GeometryPreset, error) {
	preset, ok := presets[slug]
	if ok {
		return preset, nil
	}
	return GeometryPreset{}, fmt.Errorf("no predefined volume geometry exists with slug %q", slug)
}

// ListPresets returns every known preset, for `mkfat32 list-presets`.
func ListPresets() []GeometryPreset {
	out := make([]GeometryPreset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	return out
}

func init() {
	presets = map[string]GeometryPreset{}
	reader := strings.NewReader(presetsRawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row GeometryPreset) error {
		if _, exists := presets[row.Slug]; exists {
			return fmt.Errorf("duplicate definition for preset %q", row.Slug)
		}
		presets[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}
