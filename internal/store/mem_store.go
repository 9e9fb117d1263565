package store

import (
	"fmt"
	"sync"

	"github.com/dsnet/golib/memfile"

	"github.com/embbtree/embbtree/btreeerr"
)

// MemStore is a BackingStore over an in-process byte slice, using
// github.com/dsnet/golib/memfile for tests and for the CLI driver's
// --backing=mem mode: a RAM-disk stand-in for a real block device, with
// the same ReaderAt/WriterAt/Seeker shape as *os.File.
type MemStore struct {
	mu       sync.Mutex
	f        *memfile.File
	pageSize uint32
}

// NewMemStore creates an empty in-memory backing store.
func NewMemStore(pageSize uint32) *MemStore {
	return &MemStore{f: memfile.New(nil), pageSize: pageSize}
}

func (m *MemStore) ReadBlock(pageID uint32, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.f.ReadAt(dst, int64(pageID)*int64(m.pageSize))
	if err != nil || n != len(dst) {
		return fmt.Errorf("store: short read of page %d: %w", pageID, btreeerr.ErrIO)
	}
	return nil
}

func (m *MemStore) AppendBlock(src []byte) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	length := len(m.f.Bytes())
	pageID := uint32(length) / m.pageSize
	off := int64(pageID) * int64(m.pageSize)
	n, err := m.f.WriteAt(src, off)
	if err != nil || n != len(src) {
		return 0, fmt.Errorf("store: short append at page %d: %w", pageID, btreeerr.ErrIO)
	}
	return pageID, nil
}

func (m *MemStore) WriteBlockAt(pageID uint32, src []byte, byteOffset, length uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := int64(pageID)*int64(m.pageSize) + int64(byteOffset)
	n, err := m.f.WriteAt(src[:length], off)
	if err != nil || uint32(n) != length {
		return fmt.Errorf("store: short write at page %d offset %d: %w", pageID, byteOffset, btreeerr.ErrIO)
	}
	return nil
}

func (m *MemStore) LengthInPages() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.f.Bytes())) / m.pageSize, nil
}

func (m *MemStore) Sync() error { return nil }

func (m *MemStore) Close() error { return m.f.Close() }
