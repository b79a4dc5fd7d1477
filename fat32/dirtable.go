package fat32

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mkoll/gofat32/errkind"
)

// maxDirectorySlots is the FAT32 directory-size ceiling: 2 MiB of 32-byte
// slots.
const maxDirectorySlots = (2 << 20) / slotSize

// dirCacheKey identifies a directory table's cached index. Keying on the
// bare starting cluster would collide across two mounted volumes that
// happen to share a cluster number, so the key also carries the owning
// volume's identity.
type dirCacheKey struct {
	volumeID uint64
	start    ClusterID
}

type dirCacheEntry struct {
	byLongName  map[string]*DirEntry
	byShortName map[string]*DirEntry
	freeSlots   membershipIndex
	slotCount   uint
	built       bool
}

var (
	dirCacheMu sync.Mutex
	dirCache   = map[dirCacheKey]*dirCacheEntry{}
)

func cacheFor(key dirCacheKey) *dirCacheEntry {
	dirCacheMu.Lock()
	defer dirCacheMu.Unlock()
	entry, ok := dirCache[key]
	if !ok {
		entry = &dirCacheEntry{
			byLongName:  map[string]*DirEntry{},
			byShortName: map[string]*DirEntry{},
		}
		dirCache[key] = entry
	}
	return entry
}

func dropCache(key dirCacheKey) {
	dirCacheMu.Lock()
	defer dirCacheMu.Unlock()
	delete(dirCache, key)
}

// DirectoryTable manages a FAT32 directory's slot stream: looking up,
// creating, renaming, and erasing entries, and tracking free slot runs so
// new entries can reuse space left by deleted ones.
type DirectoryTable struct {
	volume *Volume
	chain  *Chain
	start  ClusterID
	path   string
	cache  *dirCacheEntry
}

// openDirectoryTable constructs a DirectoryTable over the directory whose
// data starts at start. The chain's size is the full length of its cluster
// chain as counted by following the FAT.
func openDirectoryTable(vol *Volume, start ClusterID, path string) (*DirectoryTable, error) {
	count, _, err := vol.fat.Count(start)
	if err != nil {
		return nil, err
	}
	size := uint64(count) * uint64(vol.boot.ClusterBytes)

	chain, err := NewChain(vol.fat, vol.stream, vol.boot.DataOffset, vol.boot.ClusterBytes, start, size, true)
	if err != nil {
		return nil, err
	}

	table := &DirectoryTable{
		volume: vol,
		chain:  chain,
		start:  start,
		path:   path,
		cache:  cacheFor(dirCacheKey{volumeID: vol.id, start: start}),
	}
	if err := table.ensureLoaded(); err != nil {
		return nil, err
	}
	return table, nil
}

func (t *DirectoryTable) ensureLoaded() error {
	if t.cache.built {
		return nil
	}
	return t.rescan()
}

// rescan reads the whole directory stream and rebuilds the name indexes and
// free-slot map from scratch. Contiguous groups of 0xE5 slots become free
// runs; the unused tail of the directory (from the end-of-table marker to
// the chain's allocated capacity) is one trailing free run.
func (t *DirectoryTable) rescan() error {
	data := make([]byte, t.chain.Size())
	if _, err := t.chain.Seek(0, 0); err != nil {
		return err
	}
	if _, err := readFull(t.chain, data); err != nil {
		return err
	}

	slotCount := uint(len(data)) / slotSize
	if slotCount > maxDirectorySlots {
		slotCount = maxDirectorySlots
	}

	t.cache.byLongName = map[string]*DirEntry{}
	t.cache.byShortName = map[string]*DirEntry{}
	t.cache.freeSlots = newMembershipIndex(maxDirectorySlots)
	t.cache.slotCount = slotCount

	var lfnSlots [][]byte
	endReached := false

	for i := uint(0); i < slotCount; i++ {
		slot := data[i*slotSize : (i+1)*slotSize]

		if slot[0] == 0x00 {
			endReached = true
			lfnSlots = lfnSlots[:0]
			t.cache.freeSlots.markFree(uint(i))
			continue
		}
		if endReached {
			t.cache.freeSlots.markFree(uint(i))
			continue
		}
		if slot[0] == 0xE5 {
			t.cache.freeSlots.markFree(uint(i))
			lfnSlots = lfnSlots[:0]
			continue
		}
		t.cache.freeSlots.markUsed(i)
		if isLfnSlot(slot) {
			lfnSlots = append(lfnSlots, slot)
			continue
		}

		lfnCount := uint(len(lfnSlots))
		entry, err := decodeGroup(lfnSlots, slot)
		lfnSlots = lfnSlots[:0]
		if err != nil {
			continue
		}
		entry.slotOffset = uint64(i-lfnCount) * slotSize
		entry.slotCount = lfnCount + 1

		if entry.LongName != "" {
			t.cache.byLongName[strings.ToLower(entry.LongName)] = entry
		}
		t.cache.byShortName[strings.ToLower(entry.ShortName)] = entry
	}

	t.cache.built = true
	return nil
}

func readFull(c *Chain, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// Find looks up name, trying a long-name match first, falling back to a
// short-name match (both case-insensitively, per FAT semantics).
func (t *DirectoryTable) Find(name string) (*DirEntry, error) {
	key := strings.ToLower(name)
	if entry, ok := t.cache.byLongName[key]; ok {
		return entry, nil
	}
	if entry, ok := t.cache.byShortName[key]; ok {
		return entry, nil
	}
	return nil, errkind.ErrNotFound.WithMessage(name)
}

// Iterate returns every live entry in the table, in on-disk order.
func (t *DirectoryTable) Iterate() ([]*DirEntry, error) {
	seen := map[uint64]*DirEntry{}
	for _, e := range t.cache.byShortName {
		seen[e.slotOffset] = e
	}
	for _, e := range t.cache.byLongName {
		seen[e.slotOffset] = e
	}
	out := make([]*DirEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].slotOffset < out[j].slotOffset })
	return out, nil
}

// findFreeRun finds (splitting if necessary) a free run of at least
// needSlots contiguous slots, growing the backing chain if the table has no
// such run but is still under the 2 MiB directory size cap.
func (t *DirectoryTable) findFreeRun(needSlots uint) (uint, error) {
	if start, err := t.cache.freeSlots.findFreeRun(0, needSlots); err == nil {
		return start, nil
	}

	if t.cache.slotCount+needSlots > maxDirectorySlots {
		return 0, errkind.ErrDirectoryFull.WithMessage(t.path)
	}

	newSize := (uint64(t.cache.slotCount) + uint64(needSlots)) * slotSize
	if err := t.chain.Truncate(newSize); err != nil {
		return 0, err
	}
	if err := t.rescan(); err != nil {
		return 0, err
	}
	return t.cache.freeSlots.findFreeRun(0, needSlots)
}

func (t *DirectoryTable) writeSlotsAt(slotIndex uint, data []byte) error {
	offset := int64(slotIndex) * slotSize
	if _, err := t.chain.Seek(offset, 0); err != nil {
		return err
	}
	_, err := t.chain.Write(data)
	return err
}

// create allocates a new file entry named name, with preallocClusters
// clusters reserved up front (0 for an empty file), and returns the new
// DirEntry.
func (t *DirectoryTable) create(name string, attr uint8, preallocClusters uint) (*DirEntry, error) {
	if existing, err := t.Find(name); err == nil {
		if err := t.forceErase(existing, existing.Name()); err != nil {
			return nil, err
		}
	}

	var start ClusterID
	if preallocClusters > 0 {
		var err error
		start, err = t.volume.fat.Alloc(preallocClusters)
		if err != nil {
			return nil, err
		}
	}

	shortName := name
	if !IsShortName(name) {
		shortName = t.generateUniqueShortName(name)
	}

	now := time.Now()
	raw, err := buildSlots(name, shortName, attr, start, 0, now)
	if err != nil {
		return nil, err
	}

	needSlots := uint(len(raw)) / slotSize
	slotIndex, err := t.findFreeRun(needSlots)
	if err != nil {
		return nil, err
	}
	if err := t.writeSlotsAt(slotIndex, raw); err != nil {
		return nil, err
	}
	if err := t.rescan(); err != nil {
		return nil, err
	}
	Logger.Printf("create: %q in %q at slot %d (%d slots)", name, t.path, slotIndex, needSlots)
	return t.Find(name)
}

func (t *DirectoryTable) generateUniqueShortName(longName string) string {
	for id := 1; id < 1_000_000; id++ {
		candidate := GenRawShortFromLongNameNT(longName, id)
		if _, exists := t.cache.byShortName[strings.ToLower(candidate)]; !exists {
			return candidate
		}
	}
	return GenRawShortFromLongNameNT(longName, 999999)
}

// Mkdir creates a subdirectory named name, preallocates its first cluster,
// and seeds it with "." and ".." entries.
func (t *DirectoryTable) Mkdir(name string) (*DirectoryTable, error) {
	entry, err := t.create(name, AttrDirectory, 1)
	if err != nil {
		return nil, err
	}

	childPath := t.path + "/" + name
	child, err := openDirectoryTable(t.volume, entry.Start, childPath)
	if err != nil {
		return nil, err
	}

	// fat.Alloc doesn't zero cluster data, and a reused cluster can carry
	// stale slot bytes from whatever it held before it was freed; zero the
	// whole cluster up front so enumeration stops at the first zero slot
	// instead of reading garbage past "..".
	if _, err := child.chain.Seek(0, 0); err != nil {
		return nil, err
	}
	if _, err := child.chain.Write(make([]byte, child.chain.Size())); err != nil {
		return nil, err
	}

	now := time.Now()
	dotSlots, err := buildSlots(".", ".", AttrDirectory, entry.Start, 0, now)
	if err != nil {
		return nil, err
	}
	dotdotSlots, err := buildSlots("..", "..", AttrDirectory, t.start, 0, now)
	if err != nil {
		return nil, err
	}
	if err := child.writeSlotsAt(0, dotSlots); err != nil {
		return nil, err
	}
	if err := child.writeSlotsAt(1, dotdotSlots); err != nil {
		return nil, err
	}
	if err := child.rescan(); err != nil {
		return nil, err
	}
	return child, nil
}

// Erase removes name from the table. Directories must be empty (no entries
// besides "." and ".."). The slot group is marked deleted (first byte
// 0xE5), its cluster chain is freed if non-empty, and the freed slots are
// folded back into the free-run index.
func (t *DirectoryTable) Erase(name string) error {
	entry, err := t.Find(name)
	if err != nil {
		return err
	}

	if entry.IsDir() {
		child, err := openDirectoryTable(t.volume, entry.Start, t.path+"/"+name)
		if err != nil {
			return err
		}
		entries, err := child.Iterate()
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.ShortName != "." && e.ShortName != ".." {
				return errkind.ErrNotEmpty.WithMessage(name)
			}
		}
	}

	slotIndex := uint(entry.slotOffset / slotSize)
	marker := []byte{0xE5}
	for i := uint(0); i < entry.slotCount; i++ {
		if err := t.writeSlotsAt(slotIndex+i, marker); err != nil {
			return err
		}
	}

	if entry.Start != 0 {
		if err := t.volume.fat.Free(entry.Start); err != nil {
			return err
		}
	}

	if entry.ShortName != "." && entry.ShortName != ".." {
		childKey := dirCacheKey{volumeID: t.volume.id, start: entry.Start}
		dropCache(childKey)
	}

	Logger.Printf("erase: %q in %q", name, t.path)
	return t.rescan()
}

// Rename changes an entry's name in place, rewriting its slot group (the
// new name may need a different number of LFN slots than the old one, so
// the old group is erased and a fresh one allocated).
func (t *DirectoryTable) Rename(oldName, newName string) error {
	entry, err := t.Find(oldName)
	if err != nil {
		return err
	}
	if _, err := t.Find(newName); err == nil {
		return errkind.ErrInvalidName.WithMessage(newName + ": already exists")
	}

	// Mark the old slot group deleted without freeing the cluster chain,
	// which the new slot group keeps pointing at.
	oldSlot := uint(entry.slotOffset / slotSize)
	for i := uint(0); i < entry.slotCount; i++ {
		if err := t.writeSlotsAt(oldSlot+i, []byte{0xE5}); err != nil {
			return err
		}
	}
	if err := t.rescan(); err != nil {
		return err
	}

	shortName := newName
	if !IsShortName(newName) {
		shortName = t.generateUniqueShortName(newName)
	}
	raw, err := buildSlots(newName, shortName, entry.Attr, entry.Start, entry.FileSize, entry.Modified)
	if err != nil {
		return err
	}

	needSlots := uint(len(raw)) / slotSize
	slotIndex, err := t.findFreeRun(needSlots)
	if err != nil {
		return err
	}
	if err := t.writeSlotsAt(slotIndex, raw); err != nil {
		return err
	}
	return t.rescan()
}

// writeBack rewrites an already-existing entry's 8.3 trailer slot in place,
// used by Handle.Close to persist an updated size and modify time without
// touching the entry's LFN slots or position.
func (t *DirectoryTable) writeBack(entry *DirEntry) error {
	trailerSlot := uint(entry.slotOffset/slotSize) + entry.slotCount - 1

	raw := rawShortSlot{
		Attr:        entry.Attr,
		CaseFlags:   entry.CaseFlags,
		CreateDate:  dosDateFromTime(entry.Created),
		CreateTime:  dosTimeFromTime(entry.Created),
		AccessDate:  dosDateFromTime(entry.Accessed),
		ModifyDate:  dosDateFromTime(entry.Modified),
		ModifyTime:  dosTimeFromTime(entry.Modified),
		ClusterHigh: uint16(uint32(entry.Start) >> 16),
		ClusterLow:  uint16(uint32(entry.Start) & 0xFFFF),
		FileSize:    entry.FileSize,
	}
	rawName, _ := GenRawShortName(entry.ShortName)
	raw.Name = rawName

	if err := t.writeSlotsAt(trailerSlot, raw.pack()); err != nil {
		return err
	}
	return t.rescan()
}

// Sort rewrites the whole slot stream with entries reordered by name,
// coalescing free space to the end of the table.
func (t *DirectoryTable) Sort() error {
	entries, err := t.Iterate()
	if err != nil {
		return err
	}

	type named struct {
		name string
		e    *DirEntry
	}
	ordered := make([]named, 0, len(entries))
	for _, e := range entries {
		if e.ShortName == "." || e.ShortName == ".." {
			continue
		}
		ordered = append(ordered, named{name: e.Name(), e: e})
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1].name > ordered[j].name; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}

	out := make([]byte, 0, t.cache.slotCount*slotSize)
	appendIfPresent := func(shortName string) {
		if e, ok := t.cache.byShortName[shortName]; ok {
			raw, _ := buildSlots(e.Name(), e.ShortName, e.Attr, e.Start, e.FileSize, e.Modified)
			out = append(out, raw...)
		}
	}
	appendIfPresent(".")
	appendIfPresent("..")

	for _, n := range ordered {
		raw, err := buildSlots(n.e.Name(), n.e.ShortName, n.e.Attr, n.e.Start, n.e.FileSize, n.e.Modified)
		if err != nil {
			return err
		}
		out = append(out, raw...)
	}

	if uint(len(out)) < t.cache.slotCount*slotSize {
		out = append(out, make([]byte, t.cache.slotCount*slotSize-uint(len(out)))...)
	}

	if _, err := t.chain.Seek(0, 0); err != nil {
		return err
	}
	if _, err := t.chain.Write(out); err != nil {
		return err
	}
	return t.rescan()
}

// Walk visits this table's entries and recurses into every subdirectory
// (skipping "." and ".."), calling fn for each non-directory file with its
// slash-joined path relative to the table Walk was called on.
func (t *DirectoryTable) Walk(fn func(path string, e *DirEntry) error) error {
	entries, err := t.Iterate()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ShortName == "." || e.ShortName == ".." {
			continue
		}
		path := e.Name()
		if e.IsDir() {
			child, err := openDirectoryTable(t.volume, e.Start, t.path+"/"+path)
			if err != nil {
				return err
			}
			if err := child.Walk(func(sub string, se *DirEntry) error {
				return fn(path+"/"+sub, se)
			}); err != nil {
				return err
			}
		} else if err := fn(path, e); err != nil {
			return err
		}
	}
	return nil
}

// Rmtree recursively removes name and, if it's a directory, everything
// beneath it.
func (t *DirectoryTable) Rmtree(name string) error {
	entry, err := t.Find(name)
	if err != nil {
		return err
	}

	if entry.IsDir() {
		child, err := openDirectoryTable(t.volume, entry.Start, t.path+"/"+name)
		if err != nil {
			return err
		}
		children, err := child.Iterate()
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.ShortName == "." || c.ShortName == ".." {
				continue
			}
			if err := child.Rmtree(c.Name()); err != nil {
				return err
			}
		}
	}

	return t.forceErase(entry, name)
}

// forceErase removes name without the "must be empty" check Erase performs;
// Rmtree calls it once a directory's own contents have already been
// cleared.
func (t *DirectoryTable) forceErase(entry *DirEntry, name string) error {
	slotIndex := uint(entry.slotOffset / slotSize)
	marker := []byte{0xE5}
	for i := uint(0); i < entry.slotCount; i++ {
		if err := t.writeSlotsAt(slotIndex+i, marker); err != nil {
			return err
		}
	}
	if entry.Start != 0 {
		if err := t.volume.fat.Free(entry.Start); err != nil {
			return err
		}
	}
	dropCache(dirCacheKey{volumeID: t.volume.id, start: entry.Start})
	return t.rescan()
}

// Stats reports the number of live entries and the free/used slot counts.
func (t *DirectoryTable) Stats() (liveEntries int, freeSlots uint, totalSlots uint) {
	entries, _ := t.Iterate()
	return len(entries), t.cache.freeSlots.countFree(), t.cache.slotCount
}
