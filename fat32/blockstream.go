package fat32

import (
	"fmt"
	"io"

	"github.com/mkoll/gofat32/errkind"
)

// SectorID identifies a sector by its absolute index on the volume, counting
// from 0 at the very start of the backing stream.
type SectorID uint32

// Truncator is implemented by backing streams that can be resized in place.
// *os.File and bytes-backed test fixtures both satisfy it.
type Truncator interface {
	Truncate(size int64) error
}

// BlockStream is the seekable byte-I/O layer every other component sits on
// top of. It knows nothing about clusters, FAT entries, or directories: it
// only turns (sector, count) pairs into byte ranges on the backing stream.
//
// The exported fields are informational; callers must not mutate them
// directly (use Resize to change TotalSectors).
type BlockStream struct {
	BytesPerSector uint
	TotalSectors   uint
	StartOffset    int64
	stream         io.ReadWriteSeeker
}

// NewBlockStream wraps an io.ReadWriteSeeker as a BlockStream. startOffset
// lets the stream skip over a partition table or other leading data; most
// callers pass 0.
func NewBlockStream(stream io.ReadWriteSeeker, totalSectors, bytesPerSector uint, startOffset int64) BlockStream {
	return BlockStream{
		BytesPerSector: bytesPerSector,
		TotalSectors:   totalSectors,
		StartOffset:    startOffset,
		stream:         stream,
	}
}

// DetermineSectorCount returns the number of whole sectors in stream, rounded
// down.
func DetermineSectorCount(stream io.Seeker, bytesPerSector uint) (uint, error) {
	offset, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errkind.ErrIoError.Wrap(err)
	}
	return uint(offset) / bytesPerSector, nil
}

// SectorToFileOffset converts a sector index into a byte offset in the
// backing stream.
func (bs *BlockStream) SectorToFileOffset(sector SectorID) (int64, error) {
	if uint(sector) >= bs.TotalSectors {
		return -1, fmt.Errorf("sector %d not in [0, %d)", sector, bs.TotalSectors)
	}
	return bs.StartOffset + int64(sector)*int64(bs.BytesPerSector), nil
}

func (bs *BlockStream) checkBounds(sector SectorID, dataLength uint) error {
	if uint(sector) >= bs.TotalSectors {
		return fmt.Errorf("sector %d not in [0, %d)", sector, bs.TotalSectors)
	}
	if dataLength%bs.BytesPerSector != 0 {
		return fmt.Errorf(
			"data length %d is not a multiple of the sector size (%d)", dataLength, bs.BytesPerSector)
	}
	sectorCount := dataLength / bs.BytesPerSector
	if uint(sector)+sectorCount > bs.TotalSectors {
		return fmt.Errorf(
			"sector %d plus %d sectors of data extends past the end of the volume", sector, sectorCount)
	}
	return nil
}

func (bs *BlockStream) seekToSector(sector SectorID) error {
	offset, err := bs.SectorToFileOffset(sector)
	if err != nil {
		return err
	}
	_, err = bs.stream.Seek(offset, io.SeekStart)
	return err
}

// ReadAt reads count whole sectors starting at sector.
func (bs *BlockStream) ReadAt(sector SectorID, count uint) ([]byte, error) {
	if err := bs.checkBounds(sector, count*bs.BytesPerSector); err != nil {
		return nil, err
	}
	if err := bs.seekToSector(sector); err != nil {
		return nil, errkind.ErrIoError.Wrap(err)
	}

	buffer := make([]byte, count*bs.BytesPerSector)
	n, err := io.ReadFull(bs.stream, buffer)
	if err != nil {
		return nil, errkind.ErrIoError.Wrap(fmt.Errorf("read %d of %d bytes: %w", n, len(buffer), err))
	}
	return buffer, nil
}

// WriteAt writes data, which must be a whole multiple of the sector size,
// starting at sector.
func (bs *BlockStream) WriteAt(sector SectorID, data []byte) error {
	if err := bs.checkBounds(sector, uint(len(data))); err != nil {
		return err
	}
	if err := bs.seekToSector(sector); err != nil {
		return errkind.ErrIoError.Wrap(err)
	}
	if _, err := bs.stream.Write(data); err != nil {
		return errkind.ErrIoError.Wrap(err)
	}
	return nil
}

// Resize grows or shrinks the volume to newTotalSectors, zero-filling any
// newly added space. Shrinking requires the backing stream to implement
// Truncator.
func (bs *BlockStream) Resize(newTotalSectors uint) error {
	if newTotalSectors == bs.TotalSectors {
		return nil
	}

	if newTotalSectors > bs.TotalSectors {
		missing := newTotalSectors - bs.TotalSectors
		if _, err := bs.stream.Seek(0, io.SeekEnd); err != nil {
			return errkind.ErrIoError.Wrap(err)
		}
		if _, err := bs.stream.Write(make([]byte, missing*bs.BytesPerSector)); err != nil {
			return errkind.ErrIoError.Wrap(err)
		}
		bs.TotalSectors = newTotalSectors
		return nil
	}

	truncator, ok := bs.stream.(Truncator)
	if !ok {
		return fmt.Errorf("backing stream cannot be shrunk: it doesn't implement Truncate")
	}
	if err := truncator.Truncate(int64(newTotalSectors) * int64(bs.BytesPerSector)); err != nil {
		return errkind.ErrIoError.Wrap(err)
	}
	bs.TotalSectors = newTotalSectors
	return nil
}
