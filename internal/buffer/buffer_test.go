package buffer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embbtree/embbtree/btreeerr"
	"github.com/embbtree/embbtree/internal/buffer"
	"github.com/embbtree/embbtree/internal/page"
	"github.com/embbtree/embbtree/internal/store"
)

const pageSize = 128

func newPool(t *testing.T, numPages uint32, root buffer.RootLocator) (*buffer.Pool, store.BackingStore) {
	t.Helper()
	backing := store.NewMemStore(pageSize)
	pool, err := buffer.New(backing, pageSize, numPages, root, nil)
	require.NoError(t, err)
	return pool, backing
}

// TestRecoverCreatesFreshRoot verifies Recover on an empty backing
// store writes a single root leaf page.
func TestRecoverCreatesFreshRoot(t *testing.T) {
	pool, _ := newPool(t, 4, nil)

	rootID, err := pool.Recover()
	require.NoError(t, err)
	require.Equal(t, uint32(0), rootID)

	buf, err := pool.ReadPage(rootID)
	require.NoError(t, err)
	require.True(t, page.IsRoot(buf))
	require.True(t, page.IsLeaf(buf))
}

// TestRecoverFindsExistingRoot verifies the newest ROOT-flagged page
// wins a backward scan.
func TestRecoverFindsExistingRoot(t *testing.T) {
	backing := store.NewMemStore(pageSize)
	pool, err := buffer.New(backing, pageSize, 4, nil, nil)
	require.NoError(t, err)

	_, err = pool.Recover()
	require.NoError(t, err)

	// Simulate a root split: write a plain leaf (dead), then a new root.
	dead := pool.InitBufferPage(0)
	page.SetLeaf(dead, true)
	_, err = pool.WritePage(dead)
	require.NoError(t, err)

	newRoot := pool.InitBufferPage(0)
	page.SetRoot(newRoot, true)
	page.SetInterior(newRoot, true)
	newRootID, err := pool.WritePage(newRoot)
	require.NoError(t, err)

	pool2, err := buffer.New(backing, pageSize, 4, nil, nil)
	require.NoError(t, err)
	rootID, err := pool2.Recover()
	require.NoError(t, err)
	require.Equal(t, newRootID, rootID)
}

// TestRecoverDetectsCorruptFlags verifies a page whose flags byte
// encodes neither LEAF nor INTERIOR fails recovery with ErrCorruptPage.
func TestRecoverDetectsCorruptFlags(t *testing.T) {
	backing := store.NewMemStore(pageSize)
	pool, err := buffer.New(backing, pageSize, 4, nil, nil)
	require.NoError(t, err)
	_, err = pool.Recover()
	require.NoError(t, err)

	leaf := pool.InitBufferPage(0)
	page.SetLeaf(leaf, true)
	id, err := pool.WritePage(leaf)
	require.NoError(t, err)

	// Torn write: clear the flags byte, leaving neither LEAF nor
	// INTERIOR set.
	require.NoError(t, backing.WriteBlockAt(id, []byte{0x00}, 4, 1))

	pool2, err := buffer.New(backing, pageSize, 4, nil, nil)
	require.NoError(t, err)
	_, err = pool2.Recover()
	require.True(t, errors.Is(err, btreeerr.ErrCorruptPage))
}

// TestRecoverDetectsPageIDMismatch verifies a page whose stored page id
// doesn't match its physical slot fails recovery with ErrCorruptPage.
func TestRecoverDetectsPageIDMismatch(t *testing.T) {
	backing := store.NewMemStore(pageSize)
	pool, err := buffer.New(backing, pageSize, 4, nil, nil)
	require.NoError(t, err)
	_, err = pool.Recover()
	require.NoError(t, err)

	leaf := pool.InitBufferPage(0)
	page.SetLeaf(leaf, true)
	id, err := pool.WritePage(leaf)
	require.NoError(t, err)

	mangledID := make([]byte, 4)
	mangledID[3] = 0xFF
	require.NoError(t, backing.WriteBlockAt(id, mangledID, 0, 4))

	pool2, err := buffer.New(backing, pageSize, 4, nil, nil)
	require.NoError(t, err)
	_, err = pool2.Recover()
	require.True(t, errors.Is(err, btreeerr.ErrCorruptPage))
}

// TestReadPageIntoMiss verifies a page not yet resident anywhere is
// read straight from storage into the requested frame.
func TestReadPageIntoMiss(t *testing.T) {
	pool, _ := newPool(t, 5, nil)

	leaf := pool.InitBufferPage(0)
	page.SetLeaf(leaf, true)
	leaf[20] = 0x42
	id, err := pool.WritePage(leaf)
	require.NoError(t, err)

	got, err := pool.ReadPageInto(id, 2)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), got[20])
}

// TestReadPageIntoHitCopies verifies a page already resident elsewhere
// is copied into the requested frame rather than re-read from storage.
func TestReadPageIntoHitCopies(t *testing.T) {
	pool, _ := newPool(t, 5, nil)

	// Page id 0 is never resident, so take it with a filler page first.
	filler := pool.InitBufferPage(0)
	page.SetLeaf(filler, true)
	_, err := pool.WritePage(filler)
	require.NoError(t, err)

	leaf := pool.InitBufferPage(0)
	page.SetLeaf(leaf, true)
	leaf[20] = 0x7A
	id, err := pool.WritePage(leaf)
	require.NoError(t, err)

	// Bring it into general-pool residency first.
	_, err = pool.ReadPage(id)
	require.NoError(t, err)
	readsBefore := pool.Stats().Reads

	got, err := pool.ReadPageInto(id, 0)
	require.NoError(t, err)
	require.Equal(t, byte(0x7A), got[20])
	require.Equal(t, readsBefore, pool.Stats().Reads, "a hit must not re-read from storage")
}

// TestOverwriteCoherence verifies OverwritePage followed by ReadPage
// never returns stale frame contents.
func TestOverwriteCoherence(t *testing.T) {
	backing := store.NewMemStore(pageSize)
	pool, err := buffer.New(backing, pageSize, 4, nil, nil)
	require.NoError(t, err)

	// Page id 0 is never cached, so take it with a filler page first.
	filler := pool.InitBufferPage(0)
	page.SetLeaf(filler, true)
	_, err = pool.WritePage(filler)
	require.NoError(t, err)

	a := pool.InitBufferPage(0)
	page.SetLeaf(a, true)
	a[20] = 0xAA
	id, err := pool.WritePage(a)
	require.NoError(t, err)

	// Read it into cache.
	cached, err := pool.ReadPage(id)
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), cached[20])

	b := make([]byte, pageSize)
	page.SetLeaf(b, true)
	b[20] = 0xBB
	require.NoError(t, pool.OverwritePage(b, id))

	after, err := pool.ReadPage(id)
	require.NoError(t, err)
	require.Equal(t, byte(0xBB), after[20])
}

// TestNoDoubleCaching verifies no page id is ever cached in two
// frames at once.
func TestNoDoubleCaching(t *testing.T) {
	backing := store.NewMemStore(pageSize)
	pool, err := buffer.New(backing, pageSize, 5, nil, nil)
	require.NoError(t, err)

	ids := make([]uint32, 0, 6)
	for i := 0; i < 6; i++ {
		buf := pool.InitBufferPage(0)
		page.SetLeaf(buf, true)
		id, err := pool.WritePage(buf)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := pool.ReadPage(id)
		require.NoError(t, err)
	}
	// No assertion surface into frame internals from outside the
	// package; absence of a panic/mismatch across repeated reads of
	// every id is the externally observable half of this guarantee.
	for _, id := range ids {
		buf, err := pool.ReadPage(id)
		require.NoError(t, err)
		require.Equal(t, id, page.PageID(buf))
	}
}
