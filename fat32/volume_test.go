package fat32

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeMountAfterFormat(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})
	assert.NotNil(t, vol.Root())
	assert.Greater(t, vol.FreeClusters(), uint(0))
}

func TestVolumeCreateWriteCloseRoundTrip(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})

	handle, err := vol.Create("/hello.txt")
	require.NoError(t, err)

	_, err = handle.Write([]byte("hello, fat32"))
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	read, err := vol.Open("/hello.txt")
	require.NoError(t, err)
	defer read.Close()

	buf := make([]byte, 12)
	_, err = io.ReadFull(read, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello, fat32", string(buf))
}

func TestVolumeMkdirAndResolveNestedPath(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})

	_, err := vol.Mkdir("/docs")
	require.NoError(t, err)

	handle, err := vol.Create("/docs/notes.txt")
	require.NoError(t, err)
	_, err = handle.Write([]byte("notes"))
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	read, err := vol.Open("/docs/notes.txt")
	require.NoError(t, err)
	defer read.Close()

	buf := make([]byte, 5)
	_, err = io.ReadFull(read, buf)
	require.NoError(t, err)
	assert.Equal(t, "notes", string(buf))
}

func TestVolumeRemoveDeletesFile(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})

	handle, err := vol.Create("/temp.txt")
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	require.NoError(t, vol.Remove("/temp.txt"))
	_, err = vol.Open("/temp.txt")
	require.Error(t, err)
}

func TestVolumeOpenPathThroughFileComponentFails(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})

	handle, err := vol.Create("/notadir.txt")
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	_, err = vol.Create("/notadir.txt/child.txt")
	require.Error(t, err)
}

func TestVolumeSyncPersistsFreeClusterHint(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})
	require.NoError(t, vol.Sync())
}
