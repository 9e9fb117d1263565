// Package embbtree implements the B-tree engine: search,
// insert-with-split, and ordered iteration over fixed-size key/data
// records stored in pages managed by internal/buffer, using the
// node-layout accessors of internal/page. Descent builds an active
// path and split propagation unwinds it iteratively, over copy-on-write
// fixed-record pages rather than variable-length B-link nodes.
package embbtree

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/embbtree/embbtree/btreeerr"
	"github.com/embbtree/embbtree/internal/buffer"
	"github.com/embbtree/embbtree/internal/page"
	"github.com/embbtree/embbtree/internal/store"
)

// MaxHeight bounds the active path's compile-time capacity. A put that
// would grow the tree past this many levels fails with NoSpace instead
// of growing the stack unboundedly.
const MaxHeight = 16

// Config pins the fixed geometry of a tree for its whole lifetime:
// page size, frame count, and the record/key/data widths every leaf
// entry shares. The viper-backed config package builds one of these
// from a config file or flags before calling Open.
type Config struct {
	PageSize          uint32
	NumPages          uint32
	RecordSize        uint32
	KeySize           uint32
	DataSize          uint32
	Parameters        uint32
	MappingBufferSize uint32
}

func (c Config) layout() page.Layout {
	return page.Layout{PageSize: c.PageSize, RecordSize: c.RecordSize, KeySize: c.KeySize, DataSize: c.DataSize}
}

// Validate reports a configuration that could never be used: too few
// frames to hold a root, or a record layout that doesn't add up.
func (c Config) Validate() error {
	if c.NumPages < 2 {
		return fmt.Errorf("embbtree: num_pages must be >= 2, got %d: %w", c.NumPages, btreeerr.ErrInvalidConfig)
	}
	if c.KeySize+c.DataSize > c.RecordSize {
		return fmt.Errorf("embbtree: record_size %d too small for key_size %d + data_size %d: %w",
			c.RecordSize, c.KeySize, c.DataSize, btreeerr.ErrInvalidConfig)
	}
	l := c.layout()
	if l.MaxLeafEntries() < 2 {
		return fmt.Errorf("embbtree: page_size %d fits fewer than 2 leaf records of size %d: %w",
			c.PageSize, c.RecordSize, btreeerr.ErrInvalidConfig)
	}
	if l.MaxInteriorEntries() < 2 {
		return fmt.Errorf("embbtree: page_size %d fits fewer than 2 interior entries of key_size %d: %w",
			c.PageSize, c.KeySize, btreeerr.ErrInvalidConfig)
	}
	return nil
}

// Tree is a single open B-tree over one backing store. It owns the
// buffer pool and the active path (the page-id sequence of the most
// recent descent), and is not safe for concurrent use — it assumes a
// cooperative, single-threaded caller and carries no latch machinery.
type Tree struct {
	pool   *buffer.Pool
	cfg    Config
	layout page.Layout

	// activePath is the ordered page-id sequence from root downward
	// recorded by the most recent descent. activePath[0] always names
	// the current root; the buffer pool's root reservation policy reads
	// it through currentRoot.
	activePath []uint32

	// scratch is the put-local working buffer used to assemble a split
	// node's merged entries before dividing them between the two
	// halves. Its size is configurable (MappingBufferSize) and its
	// contents are never meaningful across calls.
	scratch []byte

	log *slog.Logger
}

// Open creates or recovers a tree over backing: Recover() decides
// whether an existing store is being reattached or a fresh one
// initialized.
func Open(backing store.BackingStore, cfg Config, log *slog.Logger) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	t := &Tree{
		cfg:        cfg,
		layout:     cfg.layout(),
		activePath: []uint32{0},
		scratch:    make([]byte, cfg.MappingBufferSize),
		log:        log,
	}
	pool, err := buffer.New(backing, cfg.PageSize, cfg.NumPages, t.currentRoot, log)
	if err != nil {
		return nil, err
	}
	pool.SetLayout(t.layout)
	t.pool = pool
	if err := t.Init(); err != nil {
		return nil, err
	}
	return t, nil
}

// currentRoot is the buffer pool's RootLocator: it reads, never writes,
// the head of the active path.
func (t *Tree) currentRoot() uint32 {
	if len(t.activePath) == 0 {
		return 0
	}
	return t.activePath[0]
}

// Init recovers (or creates) the root and seeds the active path with
// it.
func (t *Tree) Init() error {
	rootID, err := t.pool.Recover()
	if err != nil {
		return err
	}
	t.activePath = []uint32{rootID}
	t.log.Info("tree initialized", "root_page_id", rootID)
	return nil
}

// Close releases the backing store, after printing I/O statistics.
func (t *Tree) Close() error { return t.pool.Close() }

// Stats reports the buffer pool's I/O counters.
func (t *Tree) Stats() buffer.Stats { return t.pool.Stats() }

// ClearStats resets the I/O counters.
func (t *Tree) ClearStats() { t.pool.ClearStats() }

// NextPageWriteID returns the physical offset the next page write will
// land at, for verifying it matches the backing store's length in
// pages after recovery.
func (t *Tree) NextPageWriteID() uint32 { return t.pool.NextPageWriteID() }

// PrintStats writes a human-readable statistics summary to w.
func (t *Tree) PrintStats(w io.Writer) { t.pool.PrintStats(w) }

func (t *Tree) checkKey(key []byte) error {
	if len(key) != int(t.layout.KeySize) {
		return fmt.Errorf("embbtree: key must be %d bytes, got %d: %w", t.layout.KeySize, len(key), btreeerr.ErrIO)
	}
	return nil
}

func copyPage(buf []byte) []byte {
	c := make([]byte, len(buf))
	copy(c, buf)
	return c
}

// scratchFor returns a buffer of at least n bytes backed by t.scratch
// when it already has room, growing it otherwise. It is the tree's
// configurable merge scratch for puts: its contents are transient
// within a single Put.
func (t *Tree) scratchFor(n int) []byte {
	if cap(t.scratch) < n {
		t.scratch = make([]byte, n)
	}
	return t.scratch[:n]
}

// descendToLeaf walks from the current root to the leaf that would
// hold key, recording every page id visited. The returned leafBuf is a
// private copy, safe to mutate or hold across further buffer calls.
func (t *Tree) descendToLeaf(key []byte) (path []uint32, leafBuf []byte, err error) {
	pageID := t.currentRoot()
	path = make([]uint32, 0, MaxHeight)
	for {
		buf, err := t.pool.ReadPage(pageID)
		if err != nil {
			return nil, nil, err
		}
		path = append(path, pageID)
		if page.IsLeaf(buf) {
			return path, copyPage(buf), nil
		}
		if len(path) >= MaxHeight {
			return nil, nil, fmt.Errorf("embbtree: tree height exceeds %d: %w", MaxHeight, btreeerr.ErrNoSpace)
		}
		idx := page.SearchInterior(buf, t.layout, key)
		pageID = page.InteriorChild(buf, t.layout, idx)
	}
}

// Get looks up key and, if found, copies its data into out (which must
// be DataSize bytes) and reports true. A miss reports false with a nil
// error — NotFound is a boolean result here, not an error.
func (t *Tree) Get(key, out []byte) (bool, error) {
	if err := t.checkKey(key); err != nil {
		return false, err
	}
	path, leafBuf, err := t.descendToLeaf(key)
	if err != nil {
		return false, err
	}
	t.activePath = path
	idx, found := page.SearchLeaf(leafBuf, t.layout, key)
	if !found {
		return false, nil
	}
	if out != nil {
		copy(out, page.LeafData(leafBuf, t.layout, idx))
	}
	return true, nil
}

// pendingOp is the unit of work propagate carries from one ancestor
// level to the next: optionally replace an existing child pointer
// (because the level below got a new page id), and optionally insert a
// new (separator, child) pair (because the level below split).
type pendingOp struct {
	hasReplace bool
	oldChild   uint32
	newChild   uint32

	hasInsert   bool
	insertKey   []byte
	insertChild uint32
}

// Put inserts or updates the record for key. Leaves are always
// rewritten as a new physical page; no leaf ever mutates in place. The
// change is threaded up through ancestors by overwriting their
// existing page in place when there's room, or splitting them
// (reusing their own page id for the left half) when there isn't. A
// split at the root allocates a brand-new interior root and clears the
// previous root's ROOT flag via an in-place overwrite or a targeted
// flags-byte patch.
func (t *Tree) Put(key, data []byte) error {
	if err := t.checkKey(key); err != nil {
		return err
	}
	if len(data) != int(t.layout.DataSize) {
		return fmt.Errorf("embbtree: data must be %d bytes, got %d: %w", t.layout.DataSize, len(data), btreeerr.ErrIO)
	}
	record := make([]byte, t.layout.RecordSize)
	copy(record, key)
	copy(record[t.layout.KeySize:], data)

	path, leafBuf, err := t.descendToLeaf(key)
	if err != nil {
		return err
	}
	t.activePath = path
	originalHeight := len(path)
	oldLeafID := path[len(path)-1]

	idx, found := page.SearchLeaf(leafBuf, t.layout, key)
	maxLeaf := t.layout.MaxLeafEntries()
	cnt := int(page.Count(leafBuf))

	if found {
		page.SetLeafRecord(leafBuf, t.layout, idx, record)
	} else if cnt < maxLeaf {
		page.InsertLeafRecord(leafBuf, t.layout, idx, record)
	} else {
		return t.splitLeafAndPropagate(path, leafBuf, idx, record, originalHeight)
	}

	newLeafID, err := t.pool.WritePage(leafBuf)
	if err != nil {
		return err
	}

	if len(path) == 1 {
		t.activePath = []uint32{newLeafID}
		return nil
	}
	op := pendingOp{hasReplace: true, oldChild: oldLeafID, newChild: newLeafID}
	return t.propagate(path[:len(path)-1], op, originalHeight)
}

// splitLeafAndPropagate handles a full leaf: it divides the old leaf's
// entries plus the new record between two brand-new leaf pages and
// threads the result upward.
func (t *Tree) splitLeafAndPropagate(path []uint32, leafBuf []byte, idx int, record []byte, originalHeight int) error {
	rs := int(t.layout.RecordSize)
	cnt := int(page.Count(leafBuf))
	total := cnt + 1

	merged := t.scratchFor(total * rs)
	for i := 0; i < idx; i++ {
		copy(merged[i*rs:], page.LeafRecord(leafBuf, t.layout, i))
	}
	copy(merged[idx*rs:], record)
	for i := idx; i < cnt; i++ {
		copy(merged[(i+1)*rs:], page.LeafRecord(leafBuf, t.layout, i))
	}

	leftCount := total / 2
	rightCount := total - leftCount

	leftBuf := make([]byte, t.layout.PageSize)
	page.SetLeaf(leftBuf, true)
	page.SetCount(leftBuf, uint16(leftCount))
	for i := 0; i < leftCount; i++ {
		page.SetLeafRecord(leftBuf, t.layout, i, merged[i*rs:(i+1)*rs])
	}

	rightBuf := make([]byte, t.layout.PageSize)
	page.SetLeaf(rightBuf, true)
	page.SetCount(rightBuf, uint16(rightCount))
	for i := 0; i < rightCount; i++ {
		page.SetLeafRecord(rightBuf, t.layout, i, merged[(leftCount+i)*rs:(leftCount+i+1)*rs])
	}
	sepKey := append([]byte{}, page.LeafKey(rightBuf, t.layout, 0)...)

	leftID, err := t.pool.WritePage(leftBuf)
	if err != nil {
		return err
	}
	rightID, err := t.pool.WritePage(rightBuf)
	if err != nil {
		return err
	}

	oldLeafID := path[len(path)-1]

	if len(path) == 1 {
		// The leaf being split was itself the root: build a new interior
		// root over the two new leaves and retire the old root page.
		if originalHeight >= MaxHeight {
			return fmt.Errorf("embbtree: tree height exceeds %d: %w", MaxHeight, btreeerr.ErrNoSpace)
		}
		oldFlags, err := t.readFlags(oldLeafID)
		if err != nil {
			return err
		}
		if err := t.pool.WriteBytes([]byte{oldFlags &^ page.FlagRoot}, 1, oldLeafID, 4); err != nil {
			return err
		}
		return t.writeNewRoot(leftID, sepKey, rightID)
	}

	op := pendingOp{
		hasReplace: true, oldChild: oldLeafID, newChild: leftID,
		hasInsert: true, insertKey: sepKey, insertChild: rightID,
	}
	return t.propagate(path[:len(path)-1], op, originalHeight)
}

// readFlags fetches a page's current flags byte, reading it fresh
// through the buffer pool (the caller's copy, if any, may already have
// been superseded).
func (t *Tree) readFlags(pageID uint32) (uint8, error) {
	buf, err := t.pool.ReadPage(pageID)
	if err != nil {
		return 0, err
	}
	return page.Flags(buf), nil
}

// writeNewRoot allocates a fresh two-child interior root and makes it
// the head of the active path.
func (t *Tree) writeNewRoot(leftID uint32, sepKey []byte, rightID uint32) error {
	buf := make([]byte, t.layout.PageSize)
	page.SetInterior(buf, true)
	page.SetRoot(buf, true)
	page.SetCount(buf, 1)
	page.SetInteriorChild(buf, t.layout, 0, leftID)
	page.SetInteriorKey(buf, t.layout, 0, sepKey)
	page.SetInteriorChild(buf, t.layout, 1, rightID)
	newRootID, err := t.pool.WritePage(buf)
	if err != nil {
		return err
	}
	t.activePath = []uint32{newRootID}
	t.log.Info("root split", "new_root_page_id", newRootID)
	return nil
}

// propagate threads a pending child-pointer replacement and/or
// separator insertion up through ancestors, from the nearest parent
// (the last element of ancestors) to the root (the first), overwriting
// each node in place where it fits and splitting (iteratively) where it
// doesn't. It is unwound as a reverse walk over the active path instead
// of recursion, since the active path already records every ancestor
// from the most recent descent.
func (t *Tree) propagate(ancestors []uint32, op pendingOp, originalHeight int) error {
	maxInterior := t.layout.MaxInteriorEntries()

	for i := len(ancestors) - 1; i >= 0; i-- {
		nodeID := ancestors[i]
		buf, err := t.pool.ReadPage(nodeID)
		if err != nil {
			return err
		}
		local := copyPage(buf)

		if op.hasReplace {
			replaceInteriorChild(local, t.layout, op.oldChild, op.newChild)
		}

		if !op.hasInsert {
			return t.pool.OverwritePage(local, nodeID)
		}

		cnt := int(page.Count(local))
		if cnt < maxInterior {
			ins := page.SearchInterior(local, t.layout, op.insertKey)
			page.InsertInteriorEntry(local, t.layout, ins, op.insertKey, op.insertChild)
			return t.pool.OverwritePage(local, nodeID)
		}

		leftID, rightID, sepKey, err := t.splitInterior(local, nodeID, op.insertKey, op.insertChild)
		if err != nil {
			return err
		}

		if i == 0 {
			if originalHeight >= MaxHeight {
				return fmt.Errorf("embbtree: tree height exceeds %d: %w", MaxHeight, btreeerr.ErrNoSpace)
			}
			return t.writeNewRoot(leftID, sepKey, rightID)
		}

		op = pendingOp{hasInsert: true, insertKey: sepKey, insertChild: rightID}
	}
	return nil
}

// replaceInteriorChild finds the slot holding oldChild among [0, count]
// and overwrites it with newChild.
func replaceInteriorChild(buf []byte, l page.Layout, oldChild, newChild uint32) {
	cnt := int(page.Count(buf))
	for c := 0; c <= cnt; c++ {
		if page.InteriorChild(buf, l, c) == oldChild {
			page.SetInteriorChild(buf, l, c, newChild)
			return
		}
	}
}

// splitInterior divides a full interior node's existing entries plus
// one new (insertKey, insertChild) pair between a left half — which
// reuses nodeID, overwritten in place with its ROOT flag cleared — and
// a brand-new right half. It returns the promoted separator, which sits
// at the split boundary and is removed from both children rather than
// duplicated, preserving the count-children = count-keys+1 shape on
// each side.
func (t *Tree) splitInterior(local []byte, nodeID uint32, insertKey []byte, insertChild uint32) (leftID, rightID uint32, sepKey []byte, err error) {
	cnt := int(page.Count(local))
	ins := page.SearchInterior(local, t.layout, insertKey)

	keys := make([][]byte, cnt+1)
	children := make([]uint32, cnt+2)
	for k := 0; k < ins; k++ {
		keys[k] = append([]byte{}, page.InteriorKey(local, t.layout, k)...)
	}
	keys[ins] = append([]byte{}, insertKey...)
	for k := ins; k < cnt; k++ {
		keys[k+1] = append([]byte{}, page.InteriorKey(local, t.layout, k)...)
	}
	for c := 0; c <= ins; c++ {
		children[c] = page.InteriorChild(local, t.layout, c)
	}
	children[ins+1] = insertChild
	for c := ins + 1; c <= cnt; c++ {
		children[c+1] = page.InteriorChild(local, t.layout, c)
	}

	total := cnt + 1 // merged key count
	leftKeyCount := total / 2
	sepIdx := leftKeyCount
	sepKey = keys[sepIdx]
	rightKeyCount := total - sepIdx - 1

	leftBuf := make([]byte, t.layout.PageSize)
	page.SetInterior(leftBuf, true)
	page.SetPageID(leftBuf, nodeID)
	page.SetCount(leftBuf, uint16(leftKeyCount))
	for k := 0; k < leftKeyCount; k++ {
		page.SetInteriorKey(leftBuf, t.layout, k, keys[k])
	}
	for c := 0; c <= leftKeyCount; c++ {
		page.SetInteriorChild(leftBuf, t.layout, c, children[c])
	}

	rightBuf := make([]byte, t.layout.PageSize)
	page.SetInterior(rightBuf, true)
	page.SetCount(rightBuf, uint16(rightKeyCount))
	for k := 0; k < rightKeyCount; k++ {
		page.SetInteriorKey(rightBuf, t.layout, k, keys[sepIdx+1+k])
	}
	for c := 0; c <= rightKeyCount; c++ {
		page.SetInteriorChild(rightBuf, t.layout, c, children[sepIdx+1+c])
	}

	rightID, err = t.pool.WritePage(rightBuf)
	if err != nil {
		return 0, 0, nil, err
	}
	// leftBuf never carries the ROOT flag: if nodeID was the root, this
	// overwrite clears it; if it wasn't root, the flag was already unset.
	if err := t.pool.OverwritePage(leftBuf, nodeID); err != nil {
		return 0, 0, nil, err
	}
	return nodeID, rightID, sepKey, nil
}
