package fat32

import (
	"io"
	"time"

	"github.com/mkoll/gofat32/errkind"
)

// Handle represents an open file: a Chain over its data plus the directory
// entry it came from. Handle has no finalizer and is never registered for
// process-exit cleanup; callers are expected to `defer handle.Close()` at
// the point they open it, same as any other scoped resource in Go.
type Handle struct {
	table *DirectoryTable
	entry *DirEntry
	chain *Chain
	dirty bool
	erased bool
	closed bool
}

// OpenFile opens name for reading and writing within table.
func OpenFile(table *DirectoryTable, name string) (*Handle, error) {
	entry, err := table.Find(name)
	if err != nil {
		return nil, err
	}
	if entry.IsDir() || entry.IsLabel() {
		return nil, errkind.ErrInvalidName.WithMessage(name + ": is a directory or volume label")
	}

	chain, err := NewChain(
		table.volume.fat, table.volume.stream, table.volume.boot.DataOffset,
		table.volume.boot.ClusterBytes, entry.Start, uint64(entry.FileSize), true)
	if err != nil {
		return nil, err
	}

	return &Handle{table: table, entry: entry, chain: chain}, nil
}

// CreateFile creates name in table and opens it for writing.
func CreateFile(table *DirectoryTable, name string) (*Handle, error) {
	entry, err := table.create(name, AttrArchive, 0)
	if err != nil {
		return nil, err
	}
	chain, err := NewChain(
		table.volume.fat, table.volume.stream, table.volume.boot.DataOffset,
		table.volume.boot.ClusterBytes, entry.Start, uint64(entry.FileSize), true)
	if err != nil {
		return nil, err
	}
	return &Handle{table: table, entry: entry, chain: chain}, nil
}

func (h *Handle) Read(p []byte) (int, error) {
	n, err := h.chain.Read(p)
	if err == nil && n > 0 {
		h.entry.Accessed = time.Now()
	}
	return n, err
}

func (h *Handle) Write(p []byte) (int, error) {
	n, err := h.chain.Write(p)
	if n > 0 {
		h.dirty = true
		h.entry.Modified = time.Now()
		if h.chain.Size() > uint64(h.entry.FileSize) {
			h.entry.FileSize = uint32(h.chain.Size())
		}
		if h.chain.Head() != h.entry.Start {
			h.entry.Start = h.chain.Head()
		}
	}
	return n, err
}

func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	return h.chain.Seek(offset, whence)
}

func (h *Handle) Truncate(size uint64) error {
	if err := h.chain.Truncate(size); err != nil {
		return err
	}
	h.dirty = true
	h.entry.FileSize = uint32(size)
	h.entry.Modified = time.Now()
	return nil
}

// Delete marks the handle's entry for removal; the slot is erased and its
// cluster chain freed when the handle is closed, same as erasing a file
// that's currently open elsewhere.
func (h *Handle) Delete() {
	h.erased = true
	h.dirty = true
}

// Close flushes any pending size/time changes back to the parent directory
// table. If the entry was deleted via Delete, its slot is erased and its
// cluster chain freed instead. Close is idempotent: calling it more than
// once (or via a deferred call after an explicit early Close) is a no-op on
// the second call.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	if h.erased {
		return h.table.Erase(h.entry.Name())
	}
	if h.dirty {
		return h.table.writeBack(h.entry)
	}
	return nil
}

var _ io.ReadWriteSeeker = (*Handle)(nil)
