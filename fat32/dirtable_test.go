package fat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryTableCreateAndFind(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})
	root := vol.Root()

	entry, err := root.create("FILE.TXT", AttrArchive, 0)
	require.NoError(t, err)
	assert.Equal(t, "FILE.TXT", entry.ShortName)

	found, err := root.Find("file.txt")
	require.NoError(t, err)
	assert.Equal(t, entry.ShortName, found.ShortName)
}

func TestDirectoryTableCreateDuplicateReplaces(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})
	root := vol.Root()

	_, err := root.create("DUP.TXT", AttrArchive, 0)
	require.NoError(t, err)
	_, err = root.create("DUP.TXT", AttrArchive, 0)
	require.NoError(t, err)

	live, _, _ := root.Stats()
	assert.Equal(t, 1, live)
}

func TestDirectoryTableLongNameGetsAlias(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})
	root := vol.Root()

	entry, err := root.create("a very long file name indeed.txt", AttrArchive, 0)
	require.NoError(t, err)
	assert.NotEqual(t, entry.LongName, entry.ShortName)
	assert.Equal(t, "a very long file name indeed.txt", entry.LongName)

	found, err := root.Find("a very long file name indeed.txt")
	require.NoError(t, err)
	assert.Equal(t, entry.ShortName, found.ShortName)
}

func TestDirectoryTableMkdirSeedsDotEntries(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})
	root := vol.Root()

	child, err := root.Mkdir("SUBDIR")
	require.NoError(t, err)

	dot, err := child.Find(".")
	require.NoError(t, err)
	assert.Equal(t, child.start, dot.Start)

	dotdot, err := child.Find("..")
	require.NoError(t, err)
	assert.Equal(t, root.start, dotdot.Start)
}

func TestDirectoryTableEraseAndReuseSlot(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})
	root := vol.Root()

	_, err := root.create("GONE.TXT", AttrArchive, 0)
	require.NoError(t, err)
	require.NoError(t, root.Erase("GONE.TXT"))

	_, err = root.Find("GONE.TXT")
	require.Error(t, err)

	_, err = root.create("BACK.TXT", AttrArchive, 0)
	require.NoError(t, err)
}

func TestDirectoryTableEraseNonEmptyDirFails(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})
	root := vol.Root()

	child, err := root.Mkdir("NONEMPTY")
	require.NoError(t, err)
	_, err = child.create("INSIDE.TXT", AttrArchive, 0)
	require.NoError(t, err)

	err = root.Erase("NONEMPTY")
	require.Error(t, err)
}

func TestDirectoryTableRmtreeRemovesContents(t *testing.T) {
	vol, _ := newFormattedVolume(t, FormatConfig{})
	root := vol.Root()

	child, err := root.Mkdir("TREE")
	require.NoError(t, err)
	_, err = child.create("LEAF.TXT", AttrArchive, 0)
	require.NoError(t, err)

	require.NoError(t, root.Rmtree("TREE"))
	_, err = root.Find("TREE")
	require.Error(t, err)
}
