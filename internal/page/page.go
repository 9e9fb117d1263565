// Package page implements the on-page encoding of interior and leaf
// B-tree nodes. It is a stateless accessor layer: every
// function takes the raw page buffer plus the tree's fixed Layout and
// reads or writes directly into the slice. No Page type owns or copies
// the bytes; callers borrow buffer-pool frames and pass them straight
// through.
package page

import (
	"bytes"
	"encoding/binary"
)

// HeaderSize is the size in bytes of the common page header, fixed
// across every page type: page_id(4) | flags(1) | count(2) | reserved(1).
const HeaderSize = 8

// ChildIDSize is the width of a child page-id entry in an interior node.
const ChildIDSize = 4

// Flag bits stored in the header's flags byte.
const (
	FlagRoot = 1 << iota
	FlagInterior
	FlagLeaf
)

// PageID returns the header's monotonically assigned page id.
func PageID(buf []byte) uint32 { return binary.BigEndian.Uint32(buf[0:4]) }

// SetPageID stamps the header's page id field.
func SetPageID(buf []byte, id uint32) { binary.BigEndian.PutUint32(buf[0:4], id) }

// Flags returns the raw flags byte.
func Flags(buf []byte) uint8 { return buf[4] }

// SetFlags overwrites the raw flags byte.
func SetFlags(buf []byte, f uint8) { buf[4] = f }

func setFlagBit(buf []byte, bit uint8, v bool) {
	if v {
		buf[4] |= bit
	} else {
		buf[4] &^= bit
	}
}

// IsRoot reports whether the ROOT flag is set.
func IsRoot(buf []byte) bool { return buf[4]&FlagRoot != 0 }

// SetRoot sets or clears the ROOT flag.
func SetRoot(buf []byte, v bool) { setFlagBit(buf, FlagRoot, v) }

// IsInterior reports whether the INTERIOR flag is set.
func IsInterior(buf []byte) bool { return buf[4]&FlagInterior != 0 }

// SetInterior sets or clears the INTERIOR flag.
func SetInterior(buf []byte, v bool) { setFlagBit(buf, FlagInterior, v) }

// IsLeaf reports whether the LEAF flag is set.
func IsLeaf(buf []byte) bool { return buf[4]&FlagLeaf != 0 }

// SetLeaf sets or clears the LEAF flag.
func SetLeaf(buf []byte, v bool) { setFlagBit(buf, FlagLeaf, v) }

// Count returns the header's entry count.
func Count(buf []byte) uint16 { return binary.BigEndian.Uint16(buf[5:7]) }

// SetCount stamps the header's entry count.
func SetCount(buf []byte, n uint16) { binary.BigEndian.PutUint16(buf[5:7], n) }

// Layout pins the fixed sizes chosen at tree-creation time: record size,
// key size, and data size never vary across pages of a given tree.
type Layout struct {
	PageSize   uint32
	RecordSize uint32
	KeySize    uint32
	DataSize   uint32
}

// MaxLeafEntries is the number of fixed-size records that fit after the
// header on one page.
func (l Layout) MaxLeafEntries() int {
	if l.RecordSize == 0 {
		return 0
	}
	avail := int(l.PageSize) - HeaderSize
	if avail < 0 {
		return 0
	}
	return avail / int(l.RecordSize)
}

// MaxInteriorEntries is the number of (key, child) pairs that fit after
// the header and the leading child-0 slot on one page.
func (l Layout) MaxInteriorEntries() int {
	stride := int(l.KeySize) + ChildIDSize
	if stride <= 0 {
		return 0
	}
	avail := int(l.PageSize) - HeaderSize - ChildIDSize
	if avail < 0 {
		return 0
	}
	return avail / stride
}

func leafOffset(l Layout, i int) uint32 {
	return HeaderSize + uint32(i)*l.RecordSize
}

// LeafRecord returns the full fixed-size record at slot i.
func LeafRecord(buf []byte, l Layout, i int) []byte {
	off := leafOffset(l, i)
	return buf[off : off+l.RecordSize]
}

// SetLeafRecord copies record into slot i, which must be RecordSize bytes.
func SetLeafRecord(buf []byte, l Layout, i int, record []byte) {
	off := leafOffset(l, i)
	copy(buf[off:off+l.RecordSize], record)
}

// LeafKey returns the key portion (the first KeySize bytes) of slot i.
func LeafKey(buf []byte, l Layout, i int) []byte {
	off := leafOffset(l, i)
	return buf[off : off+l.KeySize]
}

// LeafData returns the data portion of slot i.
func LeafData(buf []byte, l Layout, i int) []byte {
	off := leafOffset(l, i) + l.KeySize
	return buf[off : off+l.DataSize]
}

func interiorSlotOffset(l Layout, i int) uint32 {
	return HeaderSize + uint32(i)*(l.KeySize+ChildIDSize)
}

// InteriorChild returns the i-th child id, for i in [0, count].
func InteriorChild(buf []byte, l Layout, i int) uint32 {
	off := interiorSlotOffset(l, i)
	return binary.BigEndian.Uint32(buf[off : off+ChildIDSize])
}

// SetInteriorChild stamps the i-th child id, for i in [0, count].
func SetInteriorChild(buf []byte, l Layout, i int, childID uint32) {
	off := interiorSlotOffset(l, i)
	binary.BigEndian.PutUint32(buf[off:off+ChildIDSize], childID)
}

// InteriorKey returns the i-th separator key, for i in [0, count).
func InteriorKey(buf []byte, l Layout, i int) []byte {
	off := interiorSlotOffset(l, i) + ChildIDSize
	return buf[off : off+l.KeySize]
}

// SetInteriorKey stamps the i-th separator key, for i in [0, count).
func SetInteriorKey(buf []byte, l Layout, i int, key []byte) {
	off := interiorSlotOffset(l, i) + ChildIDSize
	copy(buf[off:off+l.KeySize], key)
}

// CompareKeys orders two fixed-width keys. Keys are stored big-endian so
// byte-wise comparison equals unsigned integer comparison.
func CompareKeys(a, b []byte) int { return bytes.Compare(a, b) }

// EncodeKey packs v into a big-endian key of the given width.
func EncodeKey(keySize int, v uint64) []byte {
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], v)
	buf := make([]byte, keySize)
	if keySize >= 8 {
		copy(buf[keySize-8:], full[:])
	} else {
		copy(buf, full[8-keySize:])
	}
	return buf
}

// DecodeKey unpacks a big-endian key of any width <= 8 bytes into a uint64.
func DecodeKey(key []byte) uint64 {
	var full [8]byte
	n := len(key)
	if n > 8 {
		n = 8
		key = key[len(key)-8:]
	}
	copy(full[8-n:], key)
	return binary.BigEndian.Uint64(full[:])
}

// SearchLeaf returns the lower-bound index of key among the node's
// entries (the first index whose key is >= key) and whether that entry
// is an exact match.
func SearchLeaf(buf []byte, l Layout, key []byte) (idx int, found bool) {
	n := int(Count(buf))
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if CompareKeys(LeafKey(buf, l, mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n && CompareKeys(LeafKey(buf, l, lo), key) == 0 {
		return lo, true
	}
	return lo, false
}

// SearchInterior returns the child index to descend into for key: the
// first i such that key < separator key i, or count if key is >= every
// separator (covering the rightmost child), since child i always
// covers the range [sep[i-1], sep[i]).
func SearchInterior(buf []byte, l Layout, key []byte) int {
	n := int(Count(buf))
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if CompareKeys(key, InteriorKey(buf, l, mid)) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// InsertLeafRecord shifts slots [idx, count) right by one and installs
// record at idx. Caller must ensure count+1 <= Layout.MaxLeafEntries().
func InsertLeafRecord(buf []byte, l Layout, idx int, record []byte) {
	n := int(Count(buf))
	for i := n; i > idx; i-- {
		copy(LeafRecord(buf, l, i), LeafRecord(buf, l, i-1))
	}
	SetLeafRecord(buf, l, idx, record)
	SetCount(buf, uint16(n+1))
}

// InsertInteriorEntry inserts separator key at position idx and the new
// child id immediately to its right (at idx+1), shifting existing
// entries up. Caller must ensure count+1 <= Layout.MaxInteriorEntries().
func InsertInteriorEntry(buf []byte, l Layout, idx int, key []byte, child uint32) {
	n := int(Count(buf))
	for i := n; i > idx; i-- {
		SetInteriorKey(buf, l, i, InteriorKey(buf, l, i-1))
	}
	for i := n + 1; i > idx+1; i-- {
		SetInteriorChild(buf, l, i, InteriorChild(buf, l, i-1))
	}
	SetInteriorKey(buf, l, idx, key)
	SetInteriorChild(buf, l, idx+1, child)
	SetCount(buf, uint16(n+1))
}
