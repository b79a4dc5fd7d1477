package fat32

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// newFormattedVolume formats a totalBytes-sized in-memory image with cfg
// (defaults applied: 64 MiB, one sector per cluster) and mounts it,
// returning the live Volume plus the backing byte slice so tests can inspect
// raw offsets directly.
func newFormattedVolume(t *testing.T, cfg FormatConfig) (*Volume, []byte) {
	t.Helper()

	if cfg.TotalBytes == 0 {
		cfg.TotalBytes = 64 * 1024 * 1024
	}
	if cfg.SectorsPerCluster == 0 {
		cfg.SectorsPerCluster = 1
	}
	image := make([]byte, cfg.TotalBytes)
	stream := bytesextra.NewReadWriteSeeker(image)

	_, err := Format(stream, cfg)
	require.NoError(t, err)

	vol, err := Mount(stream)
	require.NoError(t, err)
	return vol, image
}
