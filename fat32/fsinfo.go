package fat32

import (
	"encoding/binary"
	"io"

	"github.com/mkoll/gofat32/errkind"
	"github.com/noxer/bytewriter"
)

const fsInfoSectorSize = 512

var fsInfoSig1 = [4]byte{'R', 'R', 'a', 'A'}
var fsInfoSig2 = [4]byte{'r', 'r', 'A', 'a'}

// FreeClustersUnknown is the sentinel FSINFO free-cluster count meaning "not
// computed; do not trust this value".
const FreeClustersUnknown = 0xFFFFFFFF

// NextFreeHintUnknown is the sentinel FSINFO next-free-cluster hint meaning
// "no hint available; search from cluster 2".
const NextFreeHintUnknown = 0xFFFFFFFF

type rawFsInfoSector struct {
	Sig1          [4]byte
	Reserved1     [480]byte
	Sig2          [4]byte
	FreeClusters  uint32
	NextFreeHint  uint32
	Reserved2     [14]byte
	BootSignature uint16
}

// FsInfoSector holds the volume's free-cluster hint. It's advisory: the Fat's
// bitmap index is the source of truth, and this sector is only a cache of its
// count plus a locality hint for where to resume an allocation search.
// Format and Volume.Sync write it; Mount reads it but still scans the whole
// FAT to build the free-cluster index.
type FsInfoSector struct {
	FreeClusters uint32
	NextFreeHint uint32
}

// NewFsInfoSectorFromStream reads and validates the FSINFO sector at the
// stream's current position.
func NewFsInfoSectorFromStream(reader io.Reader) (*FsInfoSector, error) {
	raw := rawFsInfoSector{}
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return nil, errkind.ErrIoError.Wrap(err)
	}
	if raw.Sig1 != fsInfoSig1 || raw.Sig2 != fsInfoSig2 {
		return nil, errkind.ErrCorruptState.WithMessage("FSINFO signature mismatch")
	}
	return &FsInfoSector{FreeClusters: raw.FreeClusters, NextFreeHint: raw.NextFreeHint}, nil
}

// Pack serializes the FSINFO sector back into its canonical 512-byte form.
func (fi *FsInfoSector) Pack() ([]byte, error) {
	raw := rawFsInfoSector{
		Sig1:          fsInfoSig1,
		Sig2:          fsInfoSig2,
		FreeClusters:  fi.FreeClusters,
		NextFreeHint:  fi.NextFreeHint,
		BootSignature: 0xAA55,
	}

	out := make([]byte, fsInfoSectorSize)
	writer := bytewriter.New(out)
	if err := binary.Write(writer, binary.LittleEndian, raw); err != nil {
		return nil, errkind.ErrIoError.Wrap(err)
	}
	return out, nil
}
