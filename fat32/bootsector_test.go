package fat32

import (
	"bytes"
	"testing"

	"github.com/mkoll/gofat32/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBootSector() *BootSector {
	return &BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   32,
		NumFATs:           2,
		MediaDescriptor:   0xF8,
		SectorsPerFAT32:   521,
		RootCluster:       2,
		FSInfoSector:      1,
		BackupBootSector:  6,
		VolumeID:          0x12345678,
		VolumeLabel:       "TESTVOL",
		TotalSectors:      131072,
		ClusterBytes:      512,
		FATOffset:         32 * 512,
		DataOffset:        32*512 + 2*521*512,
		ClusterCount:      65526,
		MaxCluster:        65527,
	}
}

func TestBootSectorPackParseRoundTrip(t *testing.T) {
	boot := sampleBootSector()
	packed, err := boot.Pack()
	require.NoError(t, err)
	assert.Len(t, packed, bootSectorSize)

	parsed, err := bootSectorFromBytes(packed)
	require.NoError(t, err)

	assert.Equal(t, boot.BytesPerSector, parsed.BytesPerSector)
	assert.Equal(t, boot.SectorsPerCluster, parsed.SectorsPerCluster)
	assert.Equal(t, boot.ReservedSectors, parsed.ReservedSectors)
	assert.Equal(t, boot.NumFATs, parsed.NumFATs)
	assert.Equal(t, boot.RootCluster, parsed.RootCluster)
	assert.Equal(t, boot.VolumeLabel, parsed.VolumeLabel)
	assert.Equal(t, boot.VolumeID, parsed.VolumeID)

	repacked, err := parsed.Pack()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(packed, repacked), "pack(parse(bytes)) must equal bytes")
}

func TestBootSectorSignatureBytes(t *testing.T) {
	boot := sampleBootSector()
	packed, err := boot.Pack()
	require.NoError(t, err)

	assert.Equal(t, []byte{0xEB, 0x58, 0x90}, packed[0x00:0x03])
	assert.Equal(t, []byte{0x55, 0xAA}, packed[0x1FE:0x200])
	assert.Equal(t, []byte("FAT32   "), packed[0x52:0x5A])
}

func TestBootSectorRejectsBadSectorSize(t *testing.T) {
	boot := sampleBootSector()
	boot.BytesPerSector = 768
	packed, err := boot.Pack()
	require.NoError(t, err)

	_, err = bootSectorFromBytes(packed)
	require.Error(t, err)
	var de errkind.DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, errkind.KindInvalidGeometry, de.Kind())
}

func TestBootSectorRejectsTotalSectorsSmallerThanReservedPlusFAT(t *testing.T) {
	boot := sampleBootSector()
	// 1000 sectors isn't even enough to cover the reserved+FAT region
	// (32 + 2*521 = 1074 sectors), so this must fail cleanly rather than
	// underflow into a bogus cluster count.
	boot.TotalSectors = 1000
	packed, err := boot.Pack()
	require.NoError(t, err)

	_, err = bootSectorFromBytes(packed)
	require.Error(t, err)
	var de errkind.DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, errkind.KindInvalidGeometry, de.Kind())
}

func TestBootSectorRejectsClusterCountOutOfRange(t *testing.T) {
	boot := sampleBootSector()
	// Shrink total sectors so the derived cluster count falls under 65526,
	// while staying large enough to cover the reserved+FAT region.
	boot.TotalSectors = 2000
	packed, err := boot.Pack()
	require.NoError(t, err)

	_, err = bootSectorFromBytes(packed)
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrClusterOutOfFAT32Range)
}
