package fat32

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/mkoll/gofat32/errkind"
)

// membershipIndex is a bitmap-backed free/used tracker shared by Fat (free
// cluster bookkeeping) and DirectoryTable (free directory-slot bookkeeping).
// It exists so neither of those components has to linearly rescan its own
// backing table just to answer "is unit N free" or "give me a run of length
// K"; the bitmap mirrors that one bit of state redundantly for speed and is
// rebuilt from the authoritative table on load.
type membershipIndex struct {
	bits       bitmap.Bitmap
	totalUnits uint
	freeCount  uint
}

func newMembershipIndex(totalUnits uint) membershipIndex {
	return membershipIndex{
		bits:       bitmap.New(int(totalUnits)),
		totalUnits: totalUnits,
		freeCount:  totalUnits,
	}
}

func (idx *membershipIndex) isFree(unit uint) bool {
	return !idx.bits.Get(int(unit))
}

func (idx *membershipIndex) markUsed(unit uint) {
	if idx.isFree(unit) {
		idx.freeCount--
	}
	idx.bits.Set(int(unit), true)
}

func (idx *membershipIndex) markFree(unit uint) {
	if !idx.isFree(unit) {
		idx.freeCount++
	}
	idx.bits.Set(int(unit), false)
}

// countFree returns the number of free units tracked by the index.
func (idx *membershipIndex) countFree() uint {
	return idx.freeCount
}

// findFree returns the index of the first free unit at or after start,
// wrapping around to search from unit 0 when none is found there.
func (idx *membershipIndex) findFree(start uint) (uint, error) {
	for i := start; i < idx.totalUnits; i++ {
		if idx.isFree(i) {
			return i, nil
		}
	}
	for i := uint(0); i < start; i++ {
		if idx.isFree(i) {
			return i, nil
		}
	}
	return 0, errkind.ErrOutOfSpace
}

// findFreeRun returns the start of the first run of count contiguous free
// units at or after start, wrapping once back to the beginning.
func (idx *membershipIndex) findFreeRun(start, count uint) (uint, error) {
	if count == 0 {
		return 0, fmt.Errorf("run length must be positive")
	}

	tryFrom := func(from uint) (uint, bool) {
		runStart := uint(0)
		runLen := uint(0)
		for i := from; i < idx.totalUnits; i++ {
			if idx.isFree(i) {
				if runLen == 0 {
					runStart = i
				}
				runLen++
				if runLen == count {
					return runStart, true
				}
			} else {
				runLen = 0
			}
		}
		return 0, false
	}

	if runStart, ok := tryFrom(start); ok {
		return runStart, nil
	}
	if start != 0 {
		if runStart, ok := tryFrom(0); ok {
			return runStart, nil
		}
	}
	return 0, errkind.ErrOutOfSpace
}
