package fat32

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/mkoll/gofat32/errkind"
)

// slotSize is the size in bytes of a single 8.3 or LFN directory slot.
const slotSize = 32

// maxLongNameUnits is the longest name FAT32 can store across LFN slots:
// 255 UTF-16 code units.
const maxLongNameUnits = 255

// NT lowercase-display bits in a slot's case byte (offset 0x0C). Bit 3
// (0x08) means "display base name lowercase". The extension uses the mask
// 0x16 (bits 1, 2 and 4) rather than the single bit 0x10: GenRawShortName
// sets all three bits for a lowercase extension, and GenShortName lowercases
// the extension when any of the three is set.
const (
	shortNameLowerBase = 0x08
	shortNameLowerExtMask = 0x16
)

// rawShortSlot is the bit-exact layout of an 8.3 directory slot.
type rawShortSlot struct {
	Name             [11]byte
	Attr             uint8
	CaseFlags        uint8
	CreateTimeTenths uint8
	CreateTime       uint16
	CreateDate       uint16
	AccessDate       uint16
	ClusterHigh      uint16
	ModifyTime       uint16
	ModifyDate       uint16
	ClusterLow       uint16
	FileSize         uint32
}

// DirEntry is the parsed, user-facing view of a directory entry: the 8.3
// slot plus, if present, the long name recovered from its preceding LFN
// slots.
type DirEntry struct {
	ShortName string
	LongName  string
	Attr      uint8
	CaseFlags uint8
	Start     ClusterID
	FileSize  uint32
	Created   time.Time
	Accessed  time.Time
	Modified  time.Time
	Deleted   bool

	// slotOffset and slotCount describe where this entry (LFN slots plus its
	// 8.3 trailer) live within the owning directory table's byte stream, so
	// DirectoryTable can rewrite or erase it in place.
	slotOffset uint64
	slotCount  uint
}

// Name returns the long name if one was recorded, else the short name.
func (e *DirEntry) Name() string {
	if e.LongName != "" {
		return e.LongName
	}
	return e.ShortName
}

// IsDir reports whether the entry's attribute byte marks it a directory.
func (e *DirEntry) IsDir() bool { return e.Attr&AttrDirectory != 0 }

// IsLabel reports whether the entry is the volume label.
func (e *DirEntry) IsLabel() bool { return e.Attr&AttrVolumeID != 0 }

// parseShortSlot decodes a raw 32-byte 8.3 slot.
func parseShortSlot(data []byte) (rawShortSlot, error) {
	if len(data) != slotSize {
		return rawShortSlot{}, fmt.Errorf("short slot must be %d bytes, got %d", slotSize, len(data))
	}
	raw := rawShortSlot{
		Attr:             data[0x0B],
		CaseFlags:        data[0x0C],
		CreateTimeTenths: data[0x0D],
		CreateTime:       binary.LittleEndian.Uint16(data[0x0E:0x10]),
		CreateDate:       binary.LittleEndian.Uint16(data[0x10:0x12]),
		AccessDate:       binary.LittleEndian.Uint16(data[0x12:0x14]),
		ClusterHigh:      binary.LittleEndian.Uint16(data[0x14:0x16]),
		ModifyTime:       binary.LittleEndian.Uint16(data[0x16:0x18]),
		ModifyDate:       binary.LittleEndian.Uint16(data[0x18:0x1A]),
		ClusterLow:       binary.LittleEndian.Uint16(data[0x1A:0x1C]),
		FileSize:         binary.LittleEndian.Uint32(data[0x1C:0x20]),
	}
	copy(raw.Name[:], data[0x00:0x0B])
	return raw, nil
}

func (raw rawShortSlot) pack() []byte {
	data := make([]byte, slotSize)
	copy(data[0x00:0x0B], raw.Name[:])
	data[0x0B] = raw.Attr
	data[0x0C] = raw.CaseFlags
	data[0x0D] = raw.CreateTimeTenths
	binary.LittleEndian.PutUint16(data[0x0E:0x10], raw.CreateTime)
	binary.LittleEndian.PutUint16(data[0x10:0x12], raw.CreateDate)
	binary.LittleEndian.PutUint16(data[0x12:0x14], raw.AccessDate)
	binary.LittleEndian.PutUint16(data[0x14:0x16], raw.ClusterHigh)
	binary.LittleEndian.PutUint16(data[0x16:0x18], raw.ModifyTime)
	binary.LittleEndian.PutUint16(data[0x18:0x1A], raw.ModifyDate)
	binary.LittleEndian.PutUint16(data[0x1A:0x1C], raw.ClusterLow)
	binary.LittleEndian.PutUint32(data[0x1C:0x20], raw.FileSize)
	return data
}

func isLfnSlot(data []byte) bool {
	return data[0x0B] == 0x0F && data[0x0C] == 0 && data[0x1A] == 0 && data[0x1B] == 0
}

// lfnNameChunk extracts the 13 UTF-16LE code units packed into one LFN slot.
func lfnNameChunk(data []byte) []uint16 {
	chunk := make([]uint16, 0, 13)
	for _, span := range [][2]int{{1, 11}, {14, 26}, {28, 32}} {
		for i := span[0]; i < span[1]; i += 2 {
			chunk = append(chunk, binary.LittleEndian.Uint16(data[i:i+2]))
		}
	}
	return chunk
}

// decodeGroup turns a run of LFN slots (stored highest-sequence-number
// first, as they appear on disk) plus their trailing 8.3 slot into a
// DirEntry.
func decodeGroup(lfnSlots [][]byte, shortData []byte) (*DirEntry, error) {
	raw, err := parseShortSlot(shortData)
	if err != nil {
		return nil, err
	}
	if raw.Name[0] == 0 {
		return nil, errkind.ErrNotFound
	}

	entry := &DirEntry{
		Attr:      raw.Attr,
		CaseFlags: raw.CaseFlags,
		Start:     ClusterID(uint32(raw.ClusterHigh)<<16 | uint32(raw.ClusterLow)),
		FileSize:  raw.FileSize,
		Deleted:   raw.Name[0] == 0xE5,
		Created:   timeFromDosDateTime(raw.CreateDate, raw.CreateTime, raw.CreateTimeTenths),
		Accessed:  timeFromDosDateTime(raw.AccessDate, 0, 0),
		Modified:  timeFromDosDateTime(raw.ModifyDate, raw.ModifyTime, 0),
	}
	entry.ShortName = GenShortName(raw.Name, raw.CaseFlags)

	if len(lfnSlots) > 0 {
		var units []uint16
		for i := len(lfnSlots) - 1; i >= 0; i-- {
			units = append(units, lfnNameChunk(lfnSlots[i])...)
		}
		for i, u := range units {
			if u == 0 {
				units = units[:i]
				break
			}
		}
		entry.LongName = string(utf16.Decode(units))
	}

	return entry, nil
}

// GenShortName renders an 11-byte packed short name back into "NAME.EXT"
// form, honoring the NT lowercase-display flags.
func GenShortName(raw [11]byte, caseFlags uint8) string {
	name := strings.TrimRight(string(raw[:8]), " ")
	if caseFlags&shortNameLowerBase != 0 {
		name = strings.ToLower(name)
	}
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if caseFlags&shortNameLowerExtMask != 0 {
		ext = strings.ToLower(ext)
	}
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// specialShortChars are forbidden anywhere in an 8.3 component.
const specialShortChars = " \"*/:<>?\\|[]+.,;="

// specialLongChars are forbidden in a long name; far fewer than short names
// since LFN entries store Unicode directly and don't need to dodge
// characters DOS conflates with wildcards or path separators.
const specialLongChars = "\"*/:<>?\\|"

// IsValidDosName reports whether name is legal as either a short (lfn=false)
// or long (lfn=true) component. A leading 0xE5 is always rejected since that
// byte marks a slot deleted.
func IsValidDosName(name string, lfn bool) bool {
	if name == "" || name[0] == 0xE5 {
		return false
	}
	if lfn {
		return !strings.ContainsAny(name, specialLongChars)
	}
	// The last dot separates base and extension; neither part may hold one.
	base, ext := splitExt(name)
	ext = strings.TrimPrefix(ext, ".")
	return !strings.ContainsAny(base, specialShortChars) && !strings.ContainsAny(ext, specialShortChars)
}

// IsShortName reports whether name is already a valid 8.3 component as-is,
// needing no LFN slots.
func IsShortName(name string) bool {
	if name == "." || name == ".." {
		return true
	}

	base, ext := splitExt(name)
	if len(base) < 1 || len(base) > 8 || len(ext) > 4 {
		return false
	}
	if base != strings.ToUpper(base) && base != strings.ToLower(base) {
		return false
	}
	return IsValidDosName(name, false)
}

// splitExt splits name into base and extension at the last dot. "." and
// ".." are the dot and dot-dot pseudo-entries, not an extension-only name,
// so they pack as a bare base with no extension.
func splitExt(name string) (string, string) {
	if name == "." || name == ".." {
		return name, ""
	}
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx:]
}

// GenRawShortName packs a name that's already legal 8.3 into its raw 11-byte
// form plus the lowercase-display flags needed to recover it exactly.
func GenRawShortName(name string) ([11]byte, uint8) {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}

	base, ext := splitExt(name)
	ext = strings.TrimPrefix(ext, ".")

	var flags uint8
	if base == strings.ToLower(base) && base != strings.ToUpper(base) {
		flags |= shortNameLowerBase
	}
	if ext == strings.ToLower(ext) && ext != strings.ToUpper(ext) {
		flags |= shortNameLowerExtMask
	}

	copy(raw[0:8], strings.ToUpper(base))
	copy(raw[8:11], strings.ToUpper(ext))
	return raw, flags
}

// GenRawShortFromLongName derives a Windows-95-style 8.3 alias from an
// arbitrary long name: strip characters illegal in a short name, then
// truncate and append "~N" to disambiguate against existing siblings.
func GenRawShortFromLongName(name string, id int) string {
	stripped := strings.NewReplacer(" ", "", "[", "_", "]", "_", "+", "_", ",", "_", ";", "_", "=", "_").Replace(name)
	base, ext := splitExt(stripped)
	ext = strings.TrimPrefix(ext, ".")
	if len(ext) > 3 {
		ext = ext[:3]
	}
	dotExt := ""
	if ext != "" {
		dotExt = "." + ext
	}

	if len(base) < 9 && strings.Contains(name, base) && (ext == "" || strings.Contains(name, ext)) {
		return strings.ToUpper(base + dotExt)
	}

	tilde := fmt.Sprintf("~%d", id)
	cut := 8 - len(tilde)
	if cut > len(base) {
		cut = len(base)
	}
	return strings.ToUpper(base[:cut] + tilde + dotExt)
}

// GenRawShortFromLongNameNT generates the NT-style alias for collision index
// id once the first four Windows-95-style attempts (id < 5) are exhausted:
// two characters of the original name, four hex digits of a CRC-32 of the
// long name (reversed, as NT does), then "~N".
func GenRawShortFromLongNameNT(name string, id int) string {
	if id < 5 {
		return GenRawShortFromLongName(name, id)
	}

	crc := crc32.ChecksumIEEE([]byte(name)) & 0xFFFF
	hexDigits := reverseString(fmt.Sprintf("%x", crc))

	base, ext := splitExt(name)
	ext = strings.TrimPrefix(ext, ".")
	if len(ext) > 3 {
		ext = ext[:3]
	}

	tilde := fmt.Sprintf("~%d", id-4)
	cut := 6 - len(tilde)
	if cut > len(hexDigits) {
		cut = len(hexDigits)
	}
	prefix := base
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	if ext != "" {
		ext = "." + ext
	}

	return strings.ToUpper(prefix + hexDigits[:cut] + tilde + ext)
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// Checksum computes the 8-bit LFN checksum of an 11-byte packed short name,
// used to tie LFN slots to their trailing 8.3 slot.
func Checksum(raw [11]byte) uint8 {
	var sum uint8
	for _, c := range raw {
		sum = ((sum & 1) << 7) + (sum >> 1) + c
	}
	return sum
}

// buildSlots packs a directory entry into its on-disk slot sequence: LFN
// slots (highest sequence number first) followed by the 8.3 trailer. A
// longName that is itself a valid 8.3 name and equals shortName needs no LFN
// slots at all.
func buildSlots(longName, shortName string, attr uint8, cluster ClusterID, size uint32, when time.Time) ([]byte, error) {
	if !IsValidDosName(longName, true) {
		return nil, errkind.ErrInvalidName.WithMessage(longName)
	}
	if len(utf16.Encode([]rune(longName))) > maxLongNameUnits {
		return nil, errkind.ErrNameTooLong.WithMessage(longName)
	}

	rawShortName, caseFlags := GenRawShortName(shortName)

	date := dosDateFromTime(when)
	clock := dosTimeFromTime(when)

	trailer := rawShortSlot{
		Name:        rawShortName,
		Attr:        attr,
		CaseFlags:   caseFlags,
		CreateTime:  clock,
		CreateDate:  date,
		AccessDate:  date,
		ModifyTime:  clock,
		ModifyDate:  date,
		ClusterHigh: uint16(uint32(cluster) >> 16),
		ClusterLow:  uint16(uint32(cluster) & 0xFFFF),
		FileSize:    size,
	}
	trailerBytes := trailer.pack()

	if IsShortName(longName) && longName == shortName {
		return trailerBytes, nil
	}

	units := utf16.Encode([]rune(longName))
	checksum := Checksum(rawShortName)

	padded := make([]uint16, len(units))
	copy(padded, units)
	if len(padded)%13 != 0 {
		padded = append(padded, 0)
	}
	for len(padded)%13 != 0 {
		padded = append(padded, 0xFFFF)
	}

	slotCount := len(padded) / 13
	out := make([]byte, 0, (slotCount+1)*slotSize)
	for seq := slotCount; seq >= 1; seq-- {
		chunk := padded[(seq-1)*13 : seq*13]
		slot := make([]byte, slotSize)
		seqByte := uint8(seq)
		if seq == slotCount {
			seqByte |= 0x40
		}
		slot[0x00] = seqByte
		writeUTF16Chunk(slot[1:11], chunk[0:5])
		slot[0x0B] = 0x0F
		slot[0x0C] = 0
		slot[0x0D] = checksum
		writeUTF16Chunk(slot[14:26], chunk[5:11])
		writeUTF16Chunk(slot[28:32], chunk[11:13])
		out = append(out, slot...)
	}

	out = append(out, trailerBytes...)
	return out, nil
}

func writeUTF16Chunk(dst []byte, units []uint16) {
	for i, u := range units {
		binary.LittleEndian.PutUint16(dst[i*2:i*2+2], u)
	}
}
