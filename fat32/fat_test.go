package fat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newTestFat(t *testing.T, clusterCount uint) *Fat {
	t.Helper()

	boot := sampleBootSector()
	boot.ClusterCount = clusterCount
	boot.MaxCluster = uint32(clusterCount + 1)
	boot.SectorsPerFAT32 = uint((clusterCount+2)*4+511) / 512

	image := make([]byte, int64(boot.ReservedSectors)*512+int64(boot.NumFATs)*int64(boot.SectorsPerFAT32)*512)
	stream := bytesextra.NewReadWriteSeeker(image)
	bs := NewBlockStream(stream, uint(len(image))/512, 512, 0)

	fat, err := NewFat(&bs, boot)
	require.NoError(t, err)
	return fat
}

func TestFatGetSetRoundTrip(t *testing.T) {
	fat := newTestFat(t, 100)

	require.NoError(t, fat.Set(5, 0xABCD))
	value, err := fat.Get(5)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xABCD), value)
}

func TestFatAllocPrefersContiguousRun(t *testing.T) {
	fat := newTestFat(t, 100)

	head, err := fat.Alloc(4)
	require.NoError(t, err)

	count, tail, err := fat.Count(head)
	require.NoError(t, err)
	assert.Equal(t, uint(4), count)

	value, err := fat.Get(tail)
	require.NoError(t, err)
	assert.True(t, isEndOfChain(value))

	for i := ClusterID(0); i < 3; i++ {
		v, err := fat.Get(head + i)
		require.NoError(t, err)
		assert.Equal(t, uint32(head+i+1), v)
	}
}

func TestFatAllocFragmented(t *testing.T) {
	fat := newTestFat(t, 20)

	// Use up every even cluster from 2 to 20 so only scattered odds remain free.
	for c := ClusterID(2); c <= ClusterID(20); c += 2 {
		require.NoError(t, fat.Set(c, ClusterEOCMax))
	}

	head, err := fat.Alloc(3)
	require.NoError(t, err)

	count, _, err := fat.Count(head)
	require.NoError(t, err)
	assert.Equal(t, uint(3), count)
}

func TestFatAllocOutOfSpaceLeavesFatUnmodified(t *testing.T) {
	fat := newTestFat(t, 10)

	free := fat.FreeClusterCount()
	_, err := fat.Alloc(free + 1)
	require.Error(t, err)
	assert.Equal(t, free, fat.FreeClusterCount())
}

func TestFatFreeMarksChainFree(t *testing.T) {
	fat := newTestFat(t, 50)

	head, err := fat.Alloc(5)
	require.NoError(t, err)
	freeBefore := fat.FreeClusterCount()

	require.NoError(t, fat.Free(head))
	assert.Equal(t, freeBefore+5, fat.FreeClusterCount())

	value, err := fat.Get(head)
	require.NoError(t, err)
	assert.Equal(t, ClusterFree, value)
}

func TestFatMarkRun(t *testing.T) {
	fat := newTestFat(t, 50)

	require.NoError(t, fat.MarkRun(10, 3, true))
	for c := ClusterID(10); c < 13; c++ {
		v, err := fat.Get(c)
		require.NoError(t, err)
		assert.True(t, isEndOfChain(v))
	}

	require.NoError(t, fat.MarkRun(10, 3, false))
	for c := ClusterID(10); c < 13; c++ {
		v, err := fat.Get(c)
		require.NoError(t, err)
		assert.Equal(t, ClusterFree, v)
	}
}
