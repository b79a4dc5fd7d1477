package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mkoll/gofat32/fat32"
)

// FormatFile is the on-disk shape of a `mkfat32 --config` YAML document: a
// named preset optionally overridden field-by-field, plus labeling that
// doesn't belong in a shared preset.
type FormatFile struct {
	Preset            string `yaml:"preset"`
	TotalBytes        uint64 `yaml:"total_bytes"`
	BytesPerSector    uint   `yaml:"bytes_per_sector"`
	SectorsPerCluster uint   `yaml:"sectors_per_cluster"`
	ReservedSectors   uint   `yaml:"reserved_sectors"`
	NumFATs           uint   `yaml:"num_fats"`
	VolumeLabel       string `yaml:"volume_label"`
	VolumeID          uint32 `yaml:"volume_id"`
}

// LoadFormatFile reads and parses a format configuration document from
// path.
func LoadFormatFile(path string) (FormatFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FormatFile{}, fmt.Errorf("reading format config %q: %w", path, err)
	}

	var ff FormatFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return FormatFile{}, fmt.Errorf("parsing format config %q: %w", path, err)
	}
	return ff, nil
}

// Resolve builds a fat32.FormatConfig from the file: if Preset names a known
// geometry, its fields seed the result and any field explicitly set in the
// YAML document overrides them.
func (ff FormatFile) Resolve() (fat32.FormatConfig, error) {
	var cfg fat32.FormatConfig
	if ff.Preset != "" {
		preset, err := GetPreset(ff.Preset)
		if err != nil {
			return fat32.FormatConfig{}, err
		}
		cfg = preset.FormatConfig()
	}

	if ff.TotalBytes != 0 {
		cfg.TotalBytes = ff.TotalBytes
	}
	if ff.BytesPerSector != 0 {
		cfg.BytesPerSector = ff.BytesPerSector
	}
	if ff.SectorsPerCluster != 0 {
		cfg.SectorsPerCluster = ff.SectorsPerCluster
	}
	if ff.ReservedSectors != 0 {
		cfg.ReservedSectors = ff.ReservedSectors
	}
	if ff.NumFATs != 0 {
		cfg.NumFATs = ff.NumFATs
	}
	cfg.VolumeLabel = ff.VolumeLabel
	cfg.VolumeID = ff.VolumeID

	if cfg.TotalBytes == 0 {
		return fat32.FormatConfig{}, fmt.Errorf("format config: total_bytes is required (directly or via preset)")
	}
	return cfg, nil
}
