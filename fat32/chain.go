package fat32

import (
	"fmt"
	"io"

	"github.com/mkoll/gofat32/errkind"
)

// run is a contiguous span of logical clusters backed by contiguous physical
// clusters: logical clusters [Base, Base+Length) map to physical clusters
// [Start, Start+Length).
type run struct {
	Base   uint
	Start  ClusterID
	Length uint
}

// Chain is a random-access byte stream over a, possibly fragmented, sequence
// of clusters. It translates a byte offset into a (virtual cluster number,
// offset within cluster) pair, then resolves the VCN to a physical cluster
// by walking a cached run map built by following the FAT chain once and
// coalescing contiguous stretches, so repeated sequential access doesn't
// re-walk the FAT one cluster at a time.
type Chain struct {
	fat          *Fat
	stream       *BlockStream
	dataOffset   int64
	clusterBytes uint

	head     ClusterID
	writable bool
	runs     []run
	size     uint64
	pos      uint64
}

// NewChain constructs a Chain over the cluster chain starting at head. size
// is the authoritative byte length (from the owning directory entry, or the
// full cluster-count for a directory); writable enables lazy allocation on
// seek/write past the current end.
func NewChain(fat *Fat, stream *BlockStream, dataOffset int64, clusterBytes uint, head ClusterID, size uint64, writable bool) (*Chain, error) {
	c := &Chain{
		fat:          fat,
		stream:       stream,
		dataOffset:   dataOffset,
		clusterBytes: clusterBytes,
		head:         head,
		writable:     writable,
		size:         size,
	}
	if head != 0 {
		if err := c.loadRuns(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Chain) loadRuns() error {
	c.runs = c.runs[:0]
	base := uint(0)
	current := c.head
	for {
		runLen, next, err := c.fat.CountRun(current, 0)
		if err != nil {
			return err
		}
		c.runs = append(c.runs, run{Base: base, Start: current, Length: runLen})
		base += runLen
		if isEndOfChain(next) {
			return nil
		}
		current = ClusterID(next)
	}
}

// Tell returns the current byte offset.
func (c *Chain) Tell() uint64 { return c.pos }

// Size returns the chain's current byte length.
func (c *Chain) Size() uint64 { return c.size }

// Seek repositions the stream per io.Seeker semantics. Seeking past the
// current size on a writable chain lazily allocates clusters to cover the
// gap and zero-fills them; on a read-only chain the position clamps to size.
func (c *Chain) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(c.pos) + offset
	case io.SeekEnd:
		target = int64(c.size) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("negative seek position %d", target)
	}

	if uint64(target) > c.size {
		if !c.writable {
			c.pos = c.size
			return int64(c.pos), nil
		}
		if err := c.growTo(uint64(target)); err != nil {
			return 0, err
		}
	}

	c.pos = uint64(target)
	return int64(c.pos), nil
}

// vcnToLCN translates a virtual cluster number into the physical cluster
// backing it, using the cached run map and falling back to a fresh FAT walk
// if the map doesn't cover it (e.g. after an external append).
func (c *Chain) vcnToLCN(vcn uint) (ClusterID, error) {
	for _, r := range c.runs {
		if vcn >= r.Base && vcn < r.Base+r.Length {
			return r.Start + ClusterID(vcn-r.Base), nil
		}
	}
	if err := c.loadRuns(); err != nil {
		return 0, err
	}
	for _, r := range c.runs {
		if vcn >= r.Base && vcn < r.Base+r.Length {
			return r.Start + ClusterID(vcn-r.Base), nil
		}
	}
	return 0, errkind.ErrCorruptState.WithMessage(
		fmt.Sprintf("virtual cluster %d not covered by chain starting at %d", vcn, c.head))
}

func (c *Chain) clusterOffset(lcn ClusterID) int64 {
	return c.dataOffset + int64(lcn-2)*int64(c.clusterBytes)
}

// growTo extends the chain so that newSize bytes are addressable, allocating
// whole clusters via the Fat and zero-filling the data between the old and
// new size.
func (c *Chain) growTo(newSize uint64) error {
	oldSize := c.size
	clustersNow := uint(0)
	for _, r := range c.runs {
		clustersNow += r.Length
	}
	if c.head == 0 {
		clustersNow = 0
	}

	clustersNeeded := uint((newSize + uint64(c.clusterBytes) - 1) / uint64(c.clusterBytes))
	if clustersNeeded > clustersNow {
		extra := clustersNeeded - clustersNow
		newHead, err := c.fat.Alloc(extra)
		if err != nil {
			return err
		}
		if c.head == 0 {
			c.head = newHead
		} else {
			tailRun := c.runs[len(c.runs)-1]
			tailCluster := tailRun.Start + ClusterID(tailRun.Length-1)
			if err := c.fat.set(tailCluster, uint32(newHead)); err != nil {
				return err
			}
			c.fat.decoded[tailCluster] = uint32(newHead)
		}
		if err := c.loadRuns(); err != nil {
			return err
		}
	}

	c.size = newSize
	if newSize > oldSize {
		return c.zeroFill(oldSize, newSize)
	}
	return nil
}

func (c *Chain) zeroFill(from, to uint64) error {
	zero := make([]byte, c.clusterBytes)
	for offset := from; offset < to; {
		vcn := uint(offset / uint64(c.clusterBytes))
		voff := offset % uint64(c.clusterBytes)
		lcn, err := c.vcnToLCN(vcn)
		if err != nil {
			return err
		}

		n := uint64(c.clusterBytes) - voff
		if offset+n > to {
			n = to - offset
		}
		if voff == 0 && n == uint64(c.clusterBytes) {
			if err := c.writeClusterBytes(lcn, 0, zero); err != nil {
				return err
			}
		} else {
			if err := c.writeClusterBytes(lcn, voff, zero[:n]); err != nil {
				return err
			}
		}
		offset += n
	}
	return nil
}

func (c *Chain) readClusterBytes(lcn ClusterID, voff uint64, n uint64) ([]byte, error) {
	sectorsPerCluster := c.clusterBytes / c.stream.BytesPerSector
	firstSector := SectorID(c.clusterOffset(lcn) / int64(c.stream.BytesPerSector))
	clusterData, err := c.stream.ReadAt(firstSector, sectorsPerCluster)
	if err != nil {
		return nil, err
	}
	return clusterData[voff : voff+n], nil
}

func (c *Chain) writeClusterBytes(lcn ClusterID, voff uint64, data []byte) error {
	sectorsPerCluster := c.clusterBytes / c.stream.BytesPerSector
	firstSector := SectorID(c.clusterOffset(lcn) / int64(c.stream.BytesPerSector))
	clusterData, err := c.stream.ReadAt(firstSector, sectorsPerCluster)
	if err != nil {
		return err
	}
	copy(clusterData[voff:], data)
	return c.stream.WriteAt(firstSector, clusterData)
}

// Read reads into p starting at the current position, advancing it. Returns
// io.EOF once the position reaches the chain's size.
func (c *Chain) Read(p []byte) (int, error) {
	if c.pos >= c.size {
		return 0, io.EOF
	}

	remaining := c.size - c.pos
	toRead := uint64(len(p))
	if toRead > remaining {
		toRead = remaining
	}

	read := uint64(0)
	for read < toRead {
		offset := c.pos + read
		vcn := uint(offset / uint64(c.clusterBytes))
		voff := offset % uint64(c.clusterBytes)

		lcn, err := c.vcnToLCN(vcn)
		if err != nil {
			return int(read), err
		}

		chunk := uint64(c.clusterBytes) - voff
		if chunk > toRead-read {
			chunk = toRead - read
		}

		data, err := c.readClusterBytes(lcn, voff, chunk)
		if err != nil {
			return int(read), err
		}
		copy(p[read:], data)
		read += chunk
	}

	c.pos += read
	return int(read), nil
}

// Write writes p at the current position, lazily allocating and zero-filling
// any gap and extending the chain if the write runs past the current size.
func (c *Chain) Write(p []byte) (int, error) {
	if !c.writable {
		return 0, fmt.Errorf("chain is read-only")
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := c.pos + uint64(len(p))
	if end > c.size {
		if err := c.growTo(end); err != nil {
			return 0, err
		}
	}

	written := uint64(0)
	for written < uint64(len(p)) {
		offset := c.pos + written
		vcn := uint(offset / uint64(c.clusterBytes))
		voff := offset % uint64(c.clusterBytes)

		lcn, err := c.vcnToLCN(vcn)
		if err != nil {
			return int(written), err
		}

		chunk := uint64(c.clusterBytes) - voff
		if chunk > uint64(len(p))-written {
			chunk = uint64(len(p)) - written
		}

		if err := c.writeClusterBytes(lcn, voff, p[written:written+chunk]); err != nil {
			return int(written), err
		}
		written += chunk
	}

	c.pos += written
	return int(written), nil
}

// Truncate shrinks or grows the chain to newSize, freeing any clusters no
// longer needed or zero-filling any newly added span.
func (c *Chain) Truncate(newSize uint64) error {
	if newSize == c.size {
		return nil
	}
	if newSize > c.size {
		return c.growTo(newSize)
	}

	clustersNeeded := uint(0)
	if newSize > 0 {
		clustersNeeded = uint((newSize + uint64(c.clusterBytes) - 1) / uint64(c.clusterBytes))
	}

	if clustersNeeded == 0 {
		if c.head != 0 {
			if err := c.fat.Free(c.head); err != nil {
				return err
			}
		}
		c.head = 0
		c.runs = nil
		c.size = 0
		if c.pos > 0 {
			c.pos = 0
		}
		return nil
	}

	cutVCN := clustersNeeded - 1
	cutLCN, err := c.vcnToLCN(cutVCN)
	if err != nil {
		return err
	}
	nextValue, err := c.fat.Get(cutLCN)
	if err != nil {
		return err
	}
	if !isEndOfChain(nextValue) {
		if err := c.fat.Free(ClusterID(nextValue)); err != nil {
			return err
		}
		if err := c.fat.Set(cutLCN, ClusterEOCMax); err != nil {
			return err
		}
	}

	c.size = newSize
	if err := c.loadRuns(); err != nil {
		return err
	}
	if c.pos > c.size {
		c.pos = c.size
	}
	return nil
}

// Head returns the chain's starting cluster, or 0 if the chain is empty.
func (c *Chain) Head() ClusterID { return c.head }
