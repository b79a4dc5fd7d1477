package fat32

import (
	"encoding/binary"
	"fmt"

	"github.com/mkoll/gofat32/errkind"
)

// ClusterID identifies a cluster by its FAT index. Indices 0 and 1 are
// reserved (media descriptor copy and end-of-chain marker respectively);
// addressable clusters start at 2.
type ClusterID uint32

const (
	// ClusterFree marks a FAT entry as unallocated.
	ClusterFree uint32 = 0
	// ClusterBad marks a cluster the driver must never allocate.
	ClusterBad uint32 = 0x0FFFFFF7
	// ClusterEOCMin is the lowest value meaning "end of chain".
	ClusterEOCMin uint32 = 0x0FFFFFF8
	// ClusterEOCMax is the highest value meaning "end of chain".
	ClusterEOCMax uint32 = 0x0FFFFFFF
)

func isEndOfChain(value uint32) bool {
	return value >= ClusterEOCMin && value <= ClusterEOCMax
}

// Fat is the decoded, cached view of the file allocation table. It mirrors
// every write to all NumFATs on-disk copies and keeps a bitmap-backed
// membership index of free clusters so allocation and free-space reporting
// never need to rescan the table.
type Fat struct {
	stream    *BlockStream
	numFATs   uint
	fatOffset int64
	fatBytes  int64

	decoded map[ClusterID]uint32
	free    membershipIndex

	rootCluster   ClusterID
	maxCluster    ClusterID
	lastFreeAlloc ClusterID
}

// NewFat constructs a Fat over the primary FAT region described by bs and
// eagerly scans every entry once, building the free-cluster membership index
// used by every later allocation.
func NewFat(stream *BlockStream, bs *BootSector) (*Fat, error) {
	entryCount := uint(bs.MaxCluster) + 1
	fatBytes := int64(bs.SectorsPerFAT32) * int64(bs.BytesPerSector)

	sectorCount := uint(fatBytes) / bs.BytesPerSector
	raw, err := stream.ReadAt(SectorID(bs.FATOffset/int64(bs.BytesPerSector)), sectorCount)
	if err != nil {
		return nil, err
	}

	fat := &Fat{
		stream:        stream,
		numFATs:       bs.NumFATs,
		fatOffset:     bs.FATOffset,
		fatBytes:      fatBytes,
		decoded:       make(map[ClusterID]uint32, entryCount),
		free:          newMembershipIndex(entryCount),
		rootCluster:   ClusterID(bs.RootCluster),
		maxCluster:    ClusterID(bs.MaxCluster),
		lastFreeAlloc: 2,
	}

	fat.free.markUsed(0)
	fat.free.markUsed(1)

	for i := ClusterID(2); i <= fat.maxCluster; i++ {
		value := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		fat.decoded[i] = value
		if value != ClusterFree {
			fat.free.markUsed(uint(i))
		}
	}

	return fat, nil
}

// checkIndex validates a FAT index. Indices 0 and 1 are legal to read and
// write (they hold the media descriptor copy and the reserved marker) but
// are never handed out as chain storage; everything from 2 to maxCluster is
// ordinary cluster storage.
func (fat *Fat) checkIndex(cluster ClusterID) error {
	if cluster > fat.maxCluster {
		return errkind.ErrCorruptState.WithMessage(
			fmt.Sprintf("cluster index %d not in [0, %d]", cluster, fat.maxCluster))
	}
	return nil
}

// Get returns the raw FAT entry for cluster.
func (fat *Fat) Get(cluster ClusterID) (uint32, error) {
	if err := fat.checkIndex(cluster); err != nil {
		return 0, err
	}
	if value, ok := fat.decoded[cluster]; ok {
		return value, nil
	}

	sector := SectorID((fat.fatOffset + int64(cluster)*4) / int64(fat.stream.BytesPerSector))
	offsetInSector := (int64(cluster) * 4) % int64(fat.stream.BytesPerSector)
	data, err := fat.stream.ReadAt(sector, 1)
	if err != nil {
		return 0, err
	}
	value := binary.LittleEndian.Uint32(data[offsetInSector : offsetInSector+4])
	fat.decoded[cluster] = value
	return value, nil
}

// set writes value to cluster in every FAT copy and updates the decoded
// cache. It does not touch the membership index; callers that change a
// cluster's allocation state must update it themselves.
func (fat *Fat) set(cluster ClusterID, value uint32) error {
	if err := fat.checkIndex(cluster); err != nil {
		return err
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)

	entryOffset := int64(cluster) * 4
	for copyIndex := uint(0); copyIndex < fat.numFATs; copyIndex++ {
		absolute := fat.fatOffset + int64(copyIndex)*fat.fatBytes + entryOffset
		sector := SectorID(absolute / int64(fat.stream.BytesPerSector))
		within := absolute % int64(fat.stream.BytesPerSector)

		sectorData, err := fat.stream.ReadAt(sector, 1)
		if err != nil {
			return err
		}
		copy(sectorData[within:within+4], buf)
		if err := fat.stream.WriteAt(sector, sectorData); err != nil {
			return err
		}
	}

	fat.decoded[cluster] = value
	return nil
}

// Set writes value to cluster in every FAT copy and reconciles the
// free-cluster membership index with the new value. MarkRun, Alloc and Free
// write through it, as does the formatter for its three seed entries
// (clusters 0, 1 and the root directory); Chain growth uses the unexported
// set directly.
func (fat *Fat) Set(cluster ClusterID, value uint32) error {
	if err := fat.set(cluster, value); err != nil {
		return err
	}
	if value == ClusterFree {
		fat.free.markFree(uint(cluster))
	} else {
		fat.free.markUsed(uint(cluster))
	}
	return nil
}

// MarkRun marks count consecutive clusters starting at start as used (without
// linking them into a chain) or free, one Set call per cluster.
func (fat *Fat) MarkRun(start ClusterID, count uint, used bool) error {
	value := ClusterFree
	if used {
		value = ClusterEOCMax
	}
	for i := uint(0); i < count; i++ {
		if err := fat.Set(start+ClusterID(i), value); err != nil {
			return err
		}
	}
	return nil
}

// Count walks the chain starting at head and returns the number of clusters
// in it along with the final (tail) cluster.
func (fat *Fat) Count(head ClusterID) (uint, ClusterID, error) {
	count := uint(1)
	current := head
	for {
		value, err := fat.Get(current)
		if err != nil {
			return 0, 0, err
		}
		if isEndOfChain(value) {
			return count, current, nil
		}
		current = ClusterID(value)
		count++
	}
}

// CountRun returns the number of contiguous (lcn[i+1] == lcn[i]+1) clusters
// starting at start, up to limit (0 means unbounded), and the FAT entry that
// follows the run.
func (fat *Fat) CountRun(start ClusterID, limit uint) (uint, uint32, error) {
	count := uint(1)
	current := start
	for {
		value, err := fat.Get(current)
		if err != nil {
			return 0, 0, err
		}
		if isEndOfChain(value) {
			return count, value, nil
		}
		if ClusterID(value) != current+1 {
			return count, value, nil
		}
		if limit > 0 && count == limit {
			return count, value, nil
		}
		current = ClusterID(value)
		count++
	}
}

// FreeClusterCount returns the number of clusters the membership index
// currently considers free.
func (fat *Fat) FreeClusterCount() uint {
	return fat.free.countFree()
}

// findFreeCluster returns a single free cluster, searching from just after
// fat.lastFreeAlloc and wrapping around to the start of the FAT.
func (fat *Fat) findFreeCluster() (ClusterID, error) {
	idx, err := fat.free.findFree(uint(fat.lastFreeAlloc) + 1)
	if err != nil {
		return 0, errkind.ErrOutOfSpace
	}
	return ClusterID(idx), nil
}

// Alloc allocates count clusters and chains them together, terminating the
// chain with an end-of-chain marker. It prefers a single contiguous run
// (best locality for the Chain's seek translation) and falls back to
// stitching together scattered free clusters one at a time when the free
// space is fragmented. The last cluster allocated becomes the new
// last-free-alloc hint, matching the LIFO policy used for the FSINFO hint.
func (fat *Fat) Alloc(count uint) (ClusterID, error) {
	if count == 0 {
		return 0, fmt.Errorf("cluster count must be positive")
	}
	if fat.free.countFree() < count {
		return 0, errkind.ErrOutOfSpace.WithMessage(
			fmt.Sprintf("need %d clusters, %d free", count, fat.free.countFree()))
	}

	if runStart, err := fat.free.findFreeRun(uint(fat.lastFreeAlloc)+1, count); err == nil {
		head := ClusterID(runStart)
		for i := uint(0); i < count-1; i++ {
			cluster := head + ClusterID(i)
			if err := fat.Set(cluster, uint32(cluster+1)); err != nil {
				return 0, err
			}
		}
		last := head + ClusterID(count-1)
		if err := fat.Set(last, ClusterEOCMax); err != nil {
			return 0, err
		}
		fat.lastFreeAlloc = last
		Logger.Printf("alloc: %d clusters starting at %d (contiguous)", count, head)
		return head, nil
	}

	var head, prev ClusterID
	for i := uint(0); i < count; i++ {
		cluster, err := fat.findFreeCluster()
		if err != nil {
			return 0, err
		}
		if err := fat.Set(cluster, ClusterEOCMax); err != nil {
			return 0, err
		}
		if i == 0 {
			head = cluster
		} else {
			if err := fat.Set(prev, uint32(cluster)); err != nil {
				return 0, err
			}
		}
		prev = cluster
		fat.lastFreeAlloc = cluster
	}
	Logger.Printf("alloc: %d clusters starting at %d (fragmented)", count, head)
	return head, nil
}

// Free walks the chain starting at head, marking every cluster in it free.
func (fat *Fat) Free(head ClusterID) error {
	current := head
	freed := uint(0)
	for {
		value, err := fat.Get(current)
		if err != nil {
			return err
		}
		if err := fat.Set(current, ClusterFree); err != nil {
			return err
		}
		freed++
		if isEndOfChain(value) {
			Logger.Printf("free: %d clusters starting at %d", freed, head)
			return nil
		}
		current = ClusterID(value)
	}
}
