package fat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// TestFormat64MiBLiteralOffsets pins down the exact geometry a 64 MiB,
// 512-byte-sector, 1-sector-per-cluster, 32-reserved-sector volume must
// produce: boot sector at 0, FAT #1 at 16384, data region and root cluster
// at 1064960.
func TestFormat64MiBLiteralOffsets(t *testing.T) {
	const totalBytes = 67108864
	image := make([]byte, totalBytes)
	stream := bytesextra.NewReadWriteSeeker(image)

	result, err := Format(stream, FormatConfig{
		TotalBytes:        totalBytes,
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   32,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(16384), result.FATOffset)
	assert.Equal(t, int64(1064960), result.DataOffset)
	assert.Equal(t, int64(1064960), result.RootOffset)
	assert.Equal(t, uint(131040), result.ClusterCount)
	assert.Equal(t, uint(131039), result.FreeClusters)

	vol, err := Mount(stream)
	require.NoError(t, err)

	value0, err := vol.fat.Get(0)
	require.NoError(t, err)
	assert.Equal(t, ClusterEOCMin, value0)

	value1, err := vol.fat.Get(1)
	require.NoError(t, err)
	assert.Equal(t, ClusterEOCMax, value1)

	value2, err := vol.fat.Get(2)
	require.NoError(t, err)
	assert.Equal(t, ClusterEOCMax, value2)
}

func TestFormatRejectsZeroSize(t *testing.T) {
	image := make([]byte, 1024)
	stream := bytesextra.NewReadWriteSeeker(image)
	_, err := Format(stream, FormatConfig{})
	require.Error(t, err)
}

func TestFormatWarnsOnOddClusterCount(t *testing.T) {
	const totalBytes = 1 << 20
	image := make([]byte, totalBytes)
	stream := bytesextra.NewReadWriteSeeker(image)

	result, err := Format(stream, FormatConfig{
		TotalBytes:        totalBytes,
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Warnings)
}
