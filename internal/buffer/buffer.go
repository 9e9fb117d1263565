// Package buffer implements the page buffer pool: a tiny, explicitly
// managed frame pool serving page reads and writes on top of a
// store.BackingStore, with a reserved root frame, a round-robin
// general pool, and plain-field statistics. Frame indices into a slice
// of byte slices stand in for raw pointer arithmetic over one big
// buffer.
package buffer

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/embbtree/embbtree/btreeerr"
	"github.com/embbtree/embbtree/internal/page"
	"github.com/embbtree/embbtree/internal/store"
)

// RootLocator is a read-only capability the tree hands to the buffer
// pool so the frame-assignment policy can recognize the current root's
// physical page id without the buffer pool owning (or importing) the
// tree's active path. This is the callback form of the "back-pointer
// from buffer to tree" design note: the tree mutates its own active
// path, the buffer only ever reads the head of it through this func.
type RootLocator func() uint32

// Stats holds the plain I/O counters the pool exposes: reads, writes,
// overwrites, and cache hits, all as fields on the pool rather than
// process-wide mutable state.
type Stats struct {
	Reads      uint64
	Writes     uint64
	Overwrites uint64
	Hits       uint64
}

type frame struct {
	status uint32 // page id held, or 0 meaning empty
	data   []byte
}

// Pool is the page buffer manager. Frame 0 is the write-scratch frame
// and never participates in cache residency. Frame 1 is the reserved
// root frame once numPages >= 3. Frames 2..numPages-1 form the general
// pool, managed round-robin with a don't-evict bias toward the most
// recently hit page.
type Pool struct {
	backing  store.BackingStore
	layout   page.Layout
	pageSize uint32
	numPages uint32
	frames   []frame
	root     RootLocator
	log      *slog.Logger

	nextPageID      uint32
	nextPageWriteID uint32
	nextBufferPage  uint32
	lastHit         uint32

	stats Stats
}

// New allocates a pool of numPages frames of pageSize bytes each, over
// backing. root is consulted by the frame-assignment policy to decide
// root-frame reservation; it may be called at any time after New
// returns, including before Init.
func New(backing store.BackingStore, pageSize, numPages uint32, root RootLocator, log *slog.Logger) (*Pool, error) {
	if numPages < 2 {
		return nil, fmt.Errorf("buffer: num_pages must be >= 2, got %d: %w", numPages, btreeerr.ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		backing:  backing,
		pageSize: pageSize,
		numPages: numPages,
		frames:   make([]frame, numPages),
		root:     root,
		log:      log,
	}
	for i := range p.frames {
		p.frames[i].data = make([]byte, pageSize)
	}
	log.Info("buffer pool created", "num_pages", numPages, "page_size", pageSize)
	p.Init()
	return p, nil
}

// SetLayout installs the node layout used only for header inspection
// during recovery; the layout is shared, read-only, with the tree.
func (p *Pool) SetLayout(l page.Layout) { p.layout = l }

// Init zeros all frame statuses and counters.
func (p *Pool) Init() {
	for i := range p.frames {
		p.frames[i].status = 0
	}
	p.nextPageID = 0
	p.nextPageWriteID = 0
	p.nextBufferPage = 1
	p.stats = Stats{}
}

// Recover re-initializes the pool and probes the backing store for an
// existing root page, scanning from the end of the file backward into
// frame 0 until a ROOT-flagged header is found. A scanned page that
// fails checkStructure stops recovery with ErrCorruptPage. If no root
// is found (an empty store), a fresh zeroed root leaf is created and
// written as page 0. It returns the physical page id of the root, for
// the caller (the tree) to seed its own active path with.
func (p *Pool) Recover() (rootPageID uint32, err error) {
	p.Init()

	lengthInPages, err := p.backing.LengthInPages()
	if err != nil {
		return 0, err
	}
	p.nextPageWriteID = lengthInPages
	p.nextPageID = lengthInPages

	for i := int64(lengthInPages) - 1; i >= 0; i-- {
		pageID := uint32(i)
		scratch, err := p.ReadPageInto(pageID, 0)
		if err != nil {
			return 0, err
		}
		if err := p.checkStructure(scratch, pageID); err != nil {
			return 0, err
		}
		if page.IsRoot(scratch) {
			p.log.Info("recovered root", "page_id", pageID)
			return pageID, nil
		}
	}

	p.log.Info("no root found, creating fresh store")
	p.nextPageID = 0
	p.nextPageWriteID = 0

	fresh := p.InitBufferPage(0)
	page.SetRoot(fresh, true)
	page.SetLeaf(fresh, true)
	rootPageID, err = p.WritePage(fresh)
	if err != nil {
		return 0, err
	}
	return rootPageID, nil
}

// checkStructure validates the header of a page read during recovery
// against the physical slot it was read from: the stored page id must
// match that slot, the flags byte must encode exactly one of
// INTERIOR/LEAF, and the entry count must not exceed what the page
// layout can physically hold. A violation means a torn write or
// garbage page rather than a legitimate tree node.
func (p *Pool) checkStructure(buf []byte, pageID uint32) error {
	if got := page.PageID(buf); got != pageID {
		return fmt.Errorf("buffer: page at slot %d has header id %d: %w", pageID, got, btreeerr.ErrCorruptPage)
	}
	isInterior, isLeaf := page.IsInterior(buf), page.IsLeaf(buf)
	if isInterior == isLeaf {
		return fmt.Errorf("buffer: page %d has flags %#02x, want exactly one of INTERIOR/LEAF: %w", pageID, page.Flags(buf), btreeerr.ErrCorruptPage)
	}
	max := p.layout.MaxLeafEntries()
	if isInterior {
		max = p.layout.MaxInteriorEntries()
	}
	if count := int(page.Count(buf)); count > max {
		return fmt.Errorf("buffer: page %d count %d exceeds capacity %d: %w", pageID, count, max, btreeerr.ErrCorruptPage)
	}
	return nil
}

// InitBufferPage zero-fills the given frame and returns a borrowed view
// into it.
func (p *Pool) InitBufferPage(frameIndex uint32) []byte {
	buf := p.frames[frameIndex].data
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// ReadPage implements the pool's frame-assignment policy and returns a
// borrowed view into the chosen frame, valid until the next buffer
// call.
func (p *Pool) ReadPage(pageID uint32) ([]byte, error) {
	if idx, ok := p.probe(pageID); ok {
		return p.frames[idx].data, nil
	}

	idx := p.chooseFrame(pageID)
	p.frames[idx].status = pageID
	if err := p.backing.ReadBlock(pageID, p.frames[idx].data); err != nil {
		p.frames[idx].status = 0
		return nil, err
	}
	p.stats.Reads++
	return p.frames[idx].data, nil
}

// ReadPageInto behaves like ReadPage but guarantees the data lands in
// frameIndex, copying from another resident frame on a hit rather than
// re-reading from storage. Recover uses this to walk candidate pages
// into the write-scratch frame during its backward scan.
func (p *Pool) ReadPageInto(pageID uint32, frameIndex uint32) ([]byte, error) {
	if idx, ok := p.probe(pageID); ok {
		if idx != frameIndex {
			copy(p.frames[frameIndex].data, p.frames[idx].data)
		}
		return p.frames[frameIndex].data, nil
	}
	if err := p.backing.ReadBlock(pageID, p.frames[frameIndex].data); err != nil {
		return nil, err
	}
	p.stats.Reads++
	p.frames[frameIndex].status = pageID
	return p.frames[frameIndex].data, nil
}

// probe implements step 1 of the frame-assignment policy: a linear scan
// of the non-scratch frames for a resident copy of pageID. Page id 0
// can never be resident, since frame status 0 doubles as "empty";
// callers always miss and re-read it from storage, which is harmless
// since page id 0 is at most the initial root and is rare thereafter.
func (p *Pool) probe(pageID uint32) (uint32, bool) {
	if pageID == 0 {
		return 0, false
	}
	for i := uint32(1); i < p.numPages; i++ {
		if p.frames[i].status == pageID {
			p.stats.Hits++
			p.lastHit = pageID
			return i, true
		}
	}
	return 0, false
}

// chooseFrame implements steps 2-5 of the frame-assignment policy for a
// cache miss.
func (p *Pool) chooseFrame(pageID uint32) uint32 {
	switch {
	case p.numPages == 2:
		return 1
	case p.root != nil && p.root() == pageID:
		return 1
	case p.numPages == 3:
		return 2
	}

	for i := uint32(2); i < p.numPages; i++ {
		if p.frames[i].status == 0 {
			return i
		}
	}

	i := p.nextBufferPage
	if i < 2 {
		i = 2
	}
	for {
		if i > p.numPages-1 {
			i = 2
		}
		if p.frames[i].status != p.lastHit {
			break
		}
		i++
	}
	p.nextBufferPage = i + 1
	return i
}

// WritePage assigns the next physical write offset, stamps the next
// monotonic page id into the header, and appends the page to storage.
func (p *Pool) WritePage(src []byte) (uint32, error) {
	page.SetPageID(src, p.nextPageID)
	offset, err := p.backing.AppendBlock(src)
	if err != nil {
		return 0, err
	}
	p.nextPageID++
	p.nextPageWriteID = offset + 1
	p.stats.Writes++
	return offset, nil
}

// OverwritePage writes src to the existing physical location of
// pageID without advancing the write cursor or the page-id counter,
// and keeps any resident frame for pageID coherent.
func (p *Pool) OverwritePage(src []byte, pageID uint32) error {
	if err := p.backing.WriteBlockAt(pageID, src, 0, p.pageSize); err != nil {
		return err
	}
	p.stats.Overwrites++

	if idx, ok := p.probe(pageID); ok && !aliases(src, p.frames[idx].data) {
		copy(p.frames[idx].data, src)
	}
	return nil
}

// WriteBytes performs a partial positioned write, used to repair
// in-place header fields without rewriting the whole page.
func (p *Pool) WriteBytes(src []byte, length, pageID, byteOffset uint32) error {
	return p.backing.WriteBlockAt(pageID, src, byteOffset, length)
}

// Close prints statistics and releases the backing store.
func (p *Pool) Close() error {
	p.PrintStats(logWriter{p.log})
	return p.backing.Close()
}

// Stats returns a snapshot of the I/O counters.
func (p *Pool) Stats() Stats { return p.stats }

// NextPageWriteID returns the physical offset that the next WritePage
// call will append at.
func (p *Pool) NextPageWriteID() uint32 { return p.nextPageWriteID }

// PageSize returns the configured page size in bytes.
func (p *Pool) PageSize() uint32 { return p.pageSize }

// NumPages returns the configured frame count.
func (p *Pool) NumPages() uint32 { return p.numPages }

// ClearStats resets the I/O counters to zero.
func (p *Pool) ClearStats() { p.stats = Stats{} }

// PrintStats writes a human-readable statistics summary to w.
func (p *Pool) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "reads=%d writes=%d overwrites=%d hits=%d\n",
		p.stats.Reads, p.stats.Writes, p.stats.Overwrites, p.stats.Hits)
}

type logWriter struct{ log *slog.Logger }

func (w logWriter) Write(b []byte) (int, error) {
	w.log.Info("buffer stats", "line", string(b))
	return len(b), nil
}

// aliases reports whether a and b share the same backing array, to
// decide whether OverwritePage needs to copy into the cached frame.
func aliases(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}
