package fat32

import (
	"io"
	"sync/atomic"

	"github.com/mkoll/gofat32/errkind"
)

var nextVolumeID uint64

// Volume ties together the boot sector, FSINFO hint, FAT, and root
// directory table of one mounted FAT32 file system. Every DirectoryTable
// opened from it shares its id, which is what keys the per-volume directory
// cache — so two Volumes opened over different images never collide even if
// their root clusters happen to be numbered the same.
type Volume struct {
	id     uint64
	stream *BlockStream
	boot   *BootSector
	fsInfo *FsInfoSector
	fat    *Fat
	root   *DirectoryTable
}

// Mount opens an existing FAT32 volume on stream.
func Mount(stream io.ReadWriteSeeker) (*Volume, error) {
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, errkind.ErrIoError.Wrap(err)
	}
	boot, err := NewBootSectorFromStream(stream)
	if err != nil {
		return nil, err
	}

	totalSectors, err := DetermineSectorCount(stream, boot.BytesPerSector)
	if err != nil {
		return nil, err
	}
	blockStream := NewBlockStream(stream, totalSectors, boot.BytesPerSector, 0)

	if _, err := blockStream.stream.Seek(int64(boot.FSInfoSector)*int64(boot.BytesPerSector), io.SeekStart); err != nil {
		return nil, errkind.ErrIoError.Wrap(err)
	}
	fsInfo, err := NewFsInfoSectorFromStream(blockStream.stream)
	if err != nil {
		return nil, err
	}

	fat, err := NewFat(&blockStream, boot)
	if err != nil {
		return nil, err
	}

	vol := &Volume{
		id:     atomic.AddUint64(&nextVolumeID, 1),
		stream: &blockStream,
		boot:   boot,
		fsInfo: fsInfo,
		fat:    fat,
	}

	root, err := openDirectoryTable(vol, ClusterID(boot.RootCluster), "")
	if err != nil {
		return nil, err
	}
	vol.root = root

	return vol, nil
}

// Root returns the volume's root directory table.
func (v *Volume) Root() *DirectoryTable { return v.root }

// FreeClusters returns the number of clusters the FAT currently considers
// free.
func (v *Volume) FreeClusters() uint { return v.fat.FreeClusterCount() }

// FreeBytes returns FreeClusters expressed in bytes.
func (v *Volume) FreeBytes() uint64 {
	return uint64(v.fat.FreeClusterCount()) * uint64(v.boot.ClusterBytes)
}

// Sync persists the FSINFO free-cluster count and next-free hint back to
// disk. Callers should call this before dropping a Volume, the same way a
// Handle must be explicitly closed: there is no finalizer doing it for them.
func (v *Volume) Sync() error {
	v.fsInfo.FreeClusters = uint32(v.fat.FreeClusterCount())
	v.fsInfo.NextFreeHint = uint32(v.fat.lastFreeAlloc)

	packed, err := v.fsInfo.Pack()
	if err != nil {
		return err
	}

	sector := SectorID(v.boot.FSInfoSector)
	return v.stream.WriteAt(sector, packed)
}

// resolvePath walks a slash-separated path starting at the root, opening
// each intermediate directory.
func (v *Volume) resolvePath(path string) (*DirectoryTable, string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", errkind.ErrInvalidName.WithMessage(path)
	}

	dir := v.root
	for _, part := range parts[:len(parts)-1] {
		entry, err := dir.Find(part)
		if err != nil {
			return nil, "", err
		}
		if !entry.IsDir() {
			return nil, "", errkind.ErrNotADirectory.WithMessage(part)
		}
		dir, err = openDirectoryTable(v, entry.Start, dir.path+"/"+part)
		if err != nil {
			return nil, "", err
		}
	}
	return dir, parts[len(parts)-1], nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// Open opens the file at path for reading and writing.
func (v *Volume) Open(path string) (*Handle, error) {
	dir, name, err := v.resolvePath(path)
	if err != nil {
		return nil, err
	}
	return OpenFile(dir, name)
}

// Create creates the file at path and opens it for writing.
func (v *Volume) Create(path string) (*Handle, error) {
	dir, name, err := v.resolvePath(path)
	if err != nil {
		return nil, err
	}
	return CreateFile(dir, name)
}

// Mkdir creates the directory at path.
func (v *Volume) Mkdir(path string) (*DirectoryTable, error) {
	dir, name, err := v.resolvePath(path)
	if err != nil {
		return nil, err
	}
	return dir.Mkdir(name)
}

// Remove erases the file or empty directory at path.
func (v *Volume) Remove(path string) error {
	dir, name, err := v.resolvePath(path)
	if err != nil {
		return err
	}
	return dir.Erase(name)
}

// RemoveAll recursively removes path and, if it names a directory,
// everything beneath it.
func (v *Volume) RemoveAll(path string) error {
	dir, name, err := v.resolvePath(path)
	if err != nil {
		return err
	}
	return dir.Rmtree(name)
}
