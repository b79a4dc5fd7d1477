package fat32

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/mkoll/gofat32/errkind"
)

// FormatConfig describes the geometry and labeling used to lay down a fresh
// FAT32 volume. Fields left at their zero value fall back to the defaults
// mkfat32 uses for a plain hard-disk-style image.
type FormatConfig struct {
	TotalBytes        uint64
	BytesPerSector    uint
	SectorsPerCluster uint
	ReservedSectors   uint
	NumFATs           uint
	BackupBootSector  uint
	FSInfoSector      uint
	MediaDescriptor   uint8
	VolumeLabel       string
	VolumeID          uint32
}

// withDefaults fills in the conventional FAT32 defaults for any field left
// at its zero value.
func (c FormatConfig) withDefaults() FormatConfig {
	if c.BytesPerSector == 0 {
		c.BytesPerSector = 512
	}
	if c.SectorsPerCluster == 0 {
		c.SectorsPerCluster = 8
	}
	if c.ReservedSectors == 0 {
		c.ReservedSectors = 32
	}
	if c.NumFATs == 0 {
		c.NumFATs = 2
	}
	if c.FSInfoSector == 0 {
		c.FSInfoSector = 1
	}
	if c.BackupBootSector == 0 {
		c.BackupBootSector = 6
	}
	if c.MediaDescriptor == 0 {
		c.MediaDescriptor = 0xF8
	}
	return c
}

// FormatResult is the summary returned by Format, printed by mkfat32 as its
// one-line success message.
type FormatResult struct {
	TotalBytes   uint64
	ClusterBytes uint
	ClusterCount uint
	FreeClusters uint
	FATOffset    int64
	DataOffset   int64
	RootOffset   int64
	Warnings     []error
}

const rootDirCluster = 2

// Format lays down a brand-new FAT32 volume on stream per cfg, returning a
// summary of the geometry it chose. Geometry problems that don't prevent a
// mountable volume (an odd cluster-per-sector count, a cluster count just
// outside the nominal FAT32 range) are collected as warnings rather than
// aborting the format, mirroring mkfat32's "compute and warn, don't refuse"
// contract.
func Format(stream io.ReadWriteSeeker, cfg FormatConfig) (*FormatResult, error) {
	cfg = cfg.withDefaults()
	var warnings *multierror.Error

	if cfg.TotalBytes == 0 {
		return nil, errkind.ErrInvalidGeometry.WithMessage("total size must be positive")
	}

	switch cfg.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		warnings = multierror.Append(warnings, fmt.Errorf(
			"sectors per cluster %d is not a power of two in 1-128", cfg.SectorsPerCluster))
	}

	clusterBytes := cfg.BytesPerSector * cfg.SectorsPerCluster
	reservedBytes := uint64(cfg.ReservedSectors) * uint64(cfg.BytesPerSector)
	if cfg.TotalBytes <= reservedBytes {
		return nil, errkind.ErrInvalidGeometry.WithMessage("volume too small for the reserved region")
	}

	clusterCount := uint((cfg.TotalBytes - reservedBytes) / uint64(clusterBytes))
	if clusterCount < 65526 || clusterCount > MaxLegalCluster {
		warnings = multierror.Append(warnings, fmt.Errorf(
			"cluster count %d is outside the nominal FAT32 range [65526, 0x%X]", clusterCount, MaxLegalCluster))
	}

	fatBytesPerCopy := ceilToSectors(4*uint64(clusterCount+2), uint64(cfg.BytesPerSector)) * uint64(cfg.BytesPerSector)
	fatOffset := int64(reservedBytes)
	dataOffset := fatOffset + int64(cfg.NumFATs)*int64(fatBytesPerCopy)
	rootOffset := dataOffset + int64(rootDirCluster-2)*int64(clusterBytes)

	maxCluster := uint32(clusterCount + 1)
	if maxCluster > MaxLegalCluster {
		maxCluster = MaxLegalCluster
	}

	boot := &BootSector{
		BytesPerSector:    cfg.BytesPerSector,
		SectorsPerCluster: cfg.SectorsPerCluster,
		ReservedSectors:   cfg.ReservedSectors,
		NumFATs:           cfg.NumFATs,
		MediaDescriptor:   cfg.MediaDescriptor,
		SectorsPerFAT32:   uint(fatBytesPerCopy / uint64(cfg.BytesPerSector)),
		RootCluster:       rootDirCluster,
		FSInfoSector:      cfg.FSInfoSector,
		BackupBootSector:  cfg.BackupBootSector,
		VolumeID:          cfg.VolumeID,
		VolumeLabel:       cfg.VolumeLabel,
		TotalSectors:      uint(cfg.TotalBytes / uint64(cfg.BytesPerSector)),
		ClusterBytes:      clusterBytes,
		FATOffset:         fatOffset,
		DataOffset:        dataOffset,
		ClusterCount:      clusterCount,
		MaxCluster:        maxCluster,
	}

	totalSectors, err := DetermineSectorCount(stream, cfg.BytesPerSector)
	if err == nil && totalSectors < boot.TotalSectors {
		bs := NewBlockStream(stream, totalSectors, cfg.BytesPerSector, 0)
		if err := bs.Resize(boot.TotalSectors); err != nil {
			return nil, err
		}
	}
	blockStream := NewBlockStream(stream, boot.TotalSectors, cfg.BytesPerSector, 0)

	packedBoot, err := boot.Pack()
	if err != nil {
		return nil, err
	}
	if err := writeAt(&blockStream, 0, packedBoot); err != nil {
		return nil, err
	}

	fsInfo := &FsInfoSector{FreeClusters: uint32(clusterCount - 1), NextFreeHint: rootDirCluster}
	packedFsInfo, err := fsInfo.Pack()
	if err != nil {
		return nil, err
	}
	if err := writeAt(&blockStream, int64(cfg.FSInfoSector)*int64(cfg.BytesPerSector), packedFsInfo); err != nil {
		return nil, err
	}

	if cfg.BackupBootSector != 0 {
		backupOffset := int64(cfg.BackupBootSector) * int64(cfg.BytesPerSector)
		if err := writeAt(&blockStream, backupOffset, packedBoot); err != nil {
			return nil, err
		}
		if err := writeAt(&blockStream, backupOffset+int64(cfg.FSInfoSector)*int64(cfg.BytesPerSector), packedFsInfo); err != nil {
			return nil, err
		}
	}

	zeroFAT := make([]byte, fatBytesPerCopy)
	for copyIndex := uint(0); copyIndex < cfg.NumFATs; copyIndex++ {
		if err := writeAt(&blockStream, fatOffset+int64(copyIndex)*int64(fatBytesPerCopy), zeroFAT); err != nil {
			return nil, err
		}
	}

	fat, err := NewFat(&blockStream, boot)
	if err != nil {
		return nil, err
	}
	if err := fat.Set(0, ClusterEOCMin); err != nil {
		return nil, err
	}
	if err := fat.Set(1, ClusterEOCMax); err != nil {
		return nil, err
	}
	if err := fat.Set(rootDirCluster, ClusterEOCMax); err != nil {
		return nil, err
	}

	zeroCluster := make([]byte, clusterBytes)
	if err := writeAt(&blockStream, rootOffset, zeroCluster); err != nil {
		return nil, err
	}

	result := &FormatResult{
		TotalBytes:   cfg.TotalBytes,
		ClusterBytes: clusterBytes,
		ClusterCount: clusterCount,
		FreeClusters: fat.FreeClusterCount(),
		FATOffset:    fatOffset,
		DataOffset:   dataOffset,
		RootOffset:   rootOffset,
		Warnings:     flattenMultierror(warnings),
	}
	Logger.Printf("format: %s", result.Summary())
	return result, nil
}

func ceilToSectors(numerator, sectorBytes uint64) uint64 {
	return (numerator + sectorBytes - 1) / sectorBytes
}

func writeAt(bs *BlockStream, offset int64, data []byte) error {
	sector := SectorID(offset / int64(bs.BytesPerSector))
	return bs.WriteAt(sector, data)
}

func flattenMultierror(merr *multierror.Error) []error {
	if merr == nil {
		return nil
	}
	return merr.Errors
}

// Summary renders the one-line success message mkfat32 prints after a
// successful format.
func (r *FormatResult) Summary() string {
	return fmt.Sprintf(
		"formatted %d bytes: %d clusters of %d bytes (%d free), FAT #1 @0x%X, data @0x%X, root cluster @0x%X",
		r.TotalBytes, r.ClusterCount, r.ClusterBytes, r.FreeClusters, r.FATOffset, r.DataOffset, r.RootOffset)
}
