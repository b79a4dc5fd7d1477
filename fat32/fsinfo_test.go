package fat32

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFsInfoSectorPackParseRoundTrip(t *testing.T) {
	fi := &FsInfoSector{FreeClusters: 123456, NextFreeHint: 78910}
	packed, err := fi.Pack()
	require.NoError(t, err)
	assert.Len(t, packed, fsInfoSectorSize)

	parsed, err := NewFsInfoSectorFromStream(bytes.NewReader(packed))
	require.NoError(t, err)
	assert.Equal(t, fi.FreeClusters, parsed.FreeClusters)
	assert.Equal(t, fi.NextFreeHint, parsed.NextFreeHint)
}

func TestFsInfoSectorRejectsBadSignature(t *testing.T) {
	fi := &FsInfoSector{FreeClusters: 1, NextFreeHint: 2}
	packed, err := fi.Pack()
	require.NoError(t, err)
	packed[0] = 'X'

	_, err = NewFsInfoSectorFromStream(bytes.NewReader(packed))
	require.Error(t, err)
}

func TestFsInfoSectorUnknownSentinels(t *testing.T) {
	assert.Equal(t, uint32(0xFFFFFFFF), uint32(FreeClustersUnknown))
	assert.Equal(t, uint32(0xFFFFFFFF), uint32(NextFreeHintUnknown))
}
