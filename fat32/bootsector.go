package fat32

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mkoll/gofat32/errkind"
	"github.com/noxer/bytewriter"
)

const bootSectorSize = 512

// MaxLegalCluster is the highest cluster index FAT32 can ever address; the
// top four reserved FAT-entry values start immediately above it.
const MaxLegalCluster = 0x0FFF_FFF6

// rawBootSector is the bit-exact, 512-byte on-disk layout of a FAT32 boot
// sector plus its embedded BIOS Parameter Block. Field order and widths
// mirror the real format; encoding/binary serializes it directly rather than
// through reflection-driven field lookup.
type rawBootSector struct {
	Jump              [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	MaxRootEntries    uint16
	TotalSectors16    uint16
	MediaDescriptor   uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	Heads             uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	SectorsPerFAT32   uint32
	MirrorFlags       uint16
	Version           uint16
	RootCluster       uint32
	FSInfoSector      uint16
	BackupBootSector  uint16
	Reserved          [12]byte
	PhysicalDrive     uint8
	Reserved1         uint8
	ExtBootSignature  uint8
	VolumeID          uint32
	VolumeLabel       [11]byte
	FSType            [8]byte
	Padding           [420]byte
	BootSignature     uint16
}

// BootSector is the parsed, typed view of the boot sector plus the geometry
// values derived from it. Every other component in this package is built on
// top of the offsets and counts computed here.
type BootSector struct {
	raw rawBootSector

	BytesPerSector    uint
	SectorsPerCluster uint
	ReservedSectors   uint
	NumFATs           uint
	MediaDescriptor   uint8
	HiddenSectors     uint
	SectorsPerFAT32   uint
	RootCluster       uint32
	FSInfoSector      uint
	BackupBootSector  uint
	VolumeID          uint32
	VolumeLabel       string
	TotalSectors      uint

	// Derived geometry.
	ClusterBytes  uint
	FATOffset     int64
	DataOffset    int64
	ClusterCount  uint
	MaxCluster    uint32
}

// NewBootSectorFromStream reads and validates the 512-byte boot sector at the
// stream's current position.
func NewBootSectorFromStream(reader io.Reader) (*BootSector, error) {
	raw := rawBootSector{}
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return nil, errkind.ErrIoError.Wrap(err)
	}
	return newBootSectorFromRaw(raw)
}

func newBootSectorFromRaw(raw rawBootSector) (*BootSector, error) {
	switch raw.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, errkind.ErrSectorSizeBadPow.WithMessage(
			fmt.Sprintf("got %d", raw.BytesPerSector))
	}

	switch raw.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return nil, errkind.ErrInvalidGeometry.WithMessage(
			fmt.Sprintf("sectors per cluster must be a power of two in 1-128, got %d", raw.SectorsPerCluster))
	}

	if raw.ReservedSectors == 0 {
		return nil, errkind.ErrInvalidGeometry.WithMessage("reserved sector count must be at least 1")
	}
	if raw.NumFATs == 0 {
		return nil, errkind.ErrInvalidGeometry.WithMessage("FAT copy count must be at least 1")
	}

	totalSectors := uint(raw.TotalSectors32)
	if raw.TotalSectors16 != 0 {
		totalSectors = uint(raw.TotalSectors16)
	}

	fatOffset := int64(raw.ReservedSectors) * int64(raw.BytesPerSector)
	dataOffset := fatOffset + int64(raw.NumFATs)*int64(raw.SectorsPerFAT32)*int64(raw.BytesPerSector)
	clusterBytes := uint(raw.BytesPerSector) * uint(raw.SectorsPerCluster)

	dataSectorOffset := uint(dataOffset / int64(raw.BytesPerSector))
	if totalSectors < dataSectorOffset {
		return nil, errkind.ErrInvalidGeometry.WithMessage(
			fmt.Sprintf("total sector count %d is smaller than the reserved+FAT region (%d sectors)",
				totalSectors, dataSectorOffset))
	}
	dataSectors := totalSectors - dataSectorOffset
	clusterCount := dataSectors / uint(raw.SectorsPerCluster)

	if clusterCount < 65526 || clusterCount > MaxLegalCluster {
		return nil, errkind.ErrClusterOutOfFAT32Range.WithMessage(
			fmt.Sprintf("cluster count %d not in [65526, 0x%X]", clusterCount, MaxLegalCluster))
	}

	maxCluster := uint32(clusterCount + 1)
	if maxCluster > MaxLegalCluster {
		maxCluster = MaxLegalCluster
	}

	return &BootSector{
		raw:               raw,
		BytesPerSector:    uint(raw.BytesPerSector),
		SectorsPerCluster: uint(raw.SectorsPerCluster),
		ReservedSectors:   uint(raw.ReservedSectors),
		NumFATs:           uint(raw.NumFATs),
		MediaDescriptor:   raw.MediaDescriptor,
		HiddenSectors:     uint(raw.HiddenSectors),
		SectorsPerFAT32:   uint(raw.SectorsPerFAT32),
		RootCluster:       raw.RootCluster,
		FSInfoSector:      uint(raw.FSInfoSector),
		BackupBootSector:  uint(raw.BackupBootSector),
		VolumeID:          raw.VolumeID,
		VolumeLabel:       trimPadded(raw.VolumeLabel[:]),
		TotalSectors:      totalSectors,
		ClusterBytes:      clusterBytes,
		FATOffset:         fatOffset,
		DataOffset:        dataOffset,
		ClusterCount:      clusterCount,
		MaxCluster:        maxCluster,
	}, nil
}

// trimPadded strips trailing spaces from a fixed-width, space-padded ASCII
// field such as VolumeLabel or OEMName.
func trimPadded(field []byte) string {
	end := len(field)
	for end > 0 && field[end-1] == ' ' {
		end--
	}
	return string(field[:end])
}

func padASCII(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}

// Pack serializes the boot sector back into its canonical 512-byte form.
func (bs *BootSector) Pack() ([]byte, error) {
	raw := bs.raw
	raw.Jump = [3]byte{0xEB, 0x58, 0x90}
	raw.BytesPerSector = uint16(bs.BytesPerSector)
	raw.SectorsPerCluster = uint8(bs.SectorsPerCluster)
	raw.ReservedSectors = uint16(bs.ReservedSectors)
	raw.NumFATs = uint8(bs.NumFATs)
	raw.MaxRootEntries = 0
	raw.TotalSectors16 = 0
	raw.MediaDescriptor = bs.MediaDescriptor
	raw.SectorsPerFAT16 = 0
	raw.HiddenSectors = uint32(bs.HiddenSectors)
	raw.TotalSectors32 = uint32(bs.TotalSectors)
	raw.SectorsPerFAT32 = uint32(bs.SectorsPerFAT32)
	raw.Version = 0
	raw.RootCluster = bs.RootCluster
	raw.FSInfoSector = uint16(bs.FSInfoSector)
	raw.BackupBootSector = uint16(bs.BackupBootSector)
	raw.PhysicalDrive = 0x80
	raw.ExtBootSignature = 0x29
	raw.VolumeID = bs.VolumeID
	padASCII(raw.VolumeLabel[:], bs.VolumeLabel)
	copy(raw.FSType[:], "FAT32   ")
	raw.BootSignature = 0xAA55

	out := make([]byte, bootSectorSize)
	writer := bytewriter.New(out)
	if err := binary.Write(writer, binary.LittleEndian, raw); err != nil {
		return nil, errkind.ErrIoError.Wrap(err)
	}
	return out, nil
}

// bootSectorFromBytes is a convenience wrapper used by tests to round-trip through an in-memory buffer instead of a live stream.
func bootSectorFromBytes(data []byte) (*BootSector, error) {
	return NewBootSectorFromStream(bytes.NewReader(data))
}
