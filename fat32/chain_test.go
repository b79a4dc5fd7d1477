package fat32

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// newTestChain builds a Fat and BlockStream over one in-memory image sized to
// hold both the FAT region and clusterCount data clusters, then opens a Chain
// over it starting at head.
func newTestChain(t *testing.T, clusterCount uint, head ClusterID, size uint64, writable bool) (*Chain, *Fat, *BlockStream) {
	t.Helper()

	boot := sampleBootSector()
	boot.ClusterCount = clusterCount
	boot.MaxCluster = uint32(clusterCount + 1)
	boot.SectorsPerFAT32 = uint((clusterCount+2)*4+511) / 512
	boot.FATOffset = int64(boot.ReservedSectors) * 512
	boot.DataOffset = boot.FATOffset + int64(boot.NumFATs)*int64(boot.SectorsPerFAT32)*512

	const clusterBytes = 512
	totalBytes := boot.DataOffset + int64(clusterCount+2)*clusterBytes
	image := make([]byte, totalBytes)
	stream := bytesextra.NewReadWriteSeeker(image)
	bs := NewBlockStream(stream, uint(totalBytes)/512, 512, 0)

	fat, err := NewFat(&bs, boot)
	require.NoError(t, err)

	chain, err := NewChain(fat, &bs, boot.DataOffset, clusterBytes, head, size, writable)
	require.NoError(t, err)
	return chain, fat, &bs
}

func TestChainWriteReadRoundTrip(t *testing.T) {
	chain, _, _ := newTestChain(t, 50, 0, 0, true)

	payload := bytes.Repeat([]byte("hello fat32 "), 100)
	n, err := chain.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, uint64(len(payload)), chain.Size())

	_, err = chain.Seek(0, io.SeekStart)
	require.NoError(t, err)

	out := make([]byte, len(payload))
	_, err = io.ReadFull(chain, out)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestChainGrowZeroFillsGap(t *testing.T) {
	chain, _, _ := newTestChain(t, 50, 0, 0, true)

	_, err := chain.Seek(2000, io.SeekStart)
	require.NoError(t, err)
	_, err = chain.Write([]byte("tail"))
	require.NoError(t, err)

	_, err = chain.Seek(0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 2000)
	_, err = io.ReadFull(chain, buf)
	require.NoError(t, err)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestChainTruncateShrinkFreesClusters(t *testing.T) {
	chain, fat, _ := newTestChain(t, 50, 0, 0, true)

	_, err := chain.Write(bytes.Repeat([]byte("x"), 3000))
	require.NoError(t, err)
	freeAfterGrow := fat.FreeClusterCount()

	require.NoError(t, chain.Truncate(100))
	assert.Greater(t, fat.FreeClusterCount(), freeAfterGrow)
	assert.Equal(t, uint64(100), chain.Size())
}

func TestChainTruncateToZeroFreesEverything(t *testing.T) {
	chain, fat, _ := newTestChain(t, 50, 0, 0, true)

	_, err := chain.Write(bytes.Repeat([]byte("x"), 1500))
	require.NoError(t, err)
	freeBefore := fat.FreeClusterCount()

	require.NoError(t, chain.Truncate(0))
	assert.Greater(t, fat.FreeClusterCount(), freeBefore)
	assert.Equal(t, ClusterID(0), chain.Head())
}

func TestChainReadOnlySeekClampsToSize(t *testing.T) {
	chain, _, _ := newTestChain(t, 50, 0, 0, true)
	_, err := chain.Write([]byte("abc"))
	require.NoError(t, err)

	ro, err := NewChain(chain.fat, chain.stream, chain.dataOffset, chain.clusterBytes, chain.Head(), chain.Size(), false)
	require.NoError(t, err)

	pos, err := ro.Seek(1000, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(ro.Size()), pos)
}
