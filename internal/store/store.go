// Package store implements the page store: positioned, whole-page
// block I/O over a seekable byte stream, surfaced as an interface so
// the buffer pool never depends on a concrete file type.
package store

// BackingStore is a seekable, positionable byte stream addressed in
// whole-page units. Implementations fail with a wrapped btreeerr.ErrIO
// on short read/write or seek failure, never a partial success;
// FileStore reports a write that fails with ENOSPC as a wrapped
// btreeerr.ErrNoSpace instead.
type BackingStore interface {
	// ReadBlock reads exactly one page_size block at pageID*page_size
	// into dst, which must be page_size bytes.
	ReadBlock(pageID uint32, dst []byte) error
	// AppendBlock writes src (one page_size block) at the current end
	// of the store and returns the physical page id assigned to it.
	AppendBlock(src []byte) (uint32, error)
	// WriteBlockAt writes src[:length] at byteOffset within page pageID,
	// without disturbing the rest of the page or the store's append
	// cursor. Used to repair in-place header fields.
	WriteBlockAt(pageID uint32, src []byte, byteOffset, length uint32) error
	// LengthInPages reports the store's current size in whole pages.
	LengthInPages() (uint32, error)
	// Sync flushes any buffering to the medium.
	Sync() error
	// Close releases the underlying resource.
	Close() error
}
