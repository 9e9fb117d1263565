package embbtree_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	embbtree "github.com/embbtree/embbtree"
	"github.com/embbtree/embbtree/internal/page"
	"github.com/embbtree/embbtree/internal/store"
)

func smallConfig() embbtree.Config {
	return embbtree.Config{
		PageSize:          512,
		NumPages:          3,
		RecordSize:        16,
		KeySize:           4,
		DataSize:          12,
		MappingBufferSize: 64,
	}
}

func key(keySize uint32, v uint64) []byte { return page.EncodeKey(int(keySize), v) }

func record(dataSize uint32, v uint64) []byte {
	data := make([]byte, dataSize)
	data[0] = byte(v)
	return data
}

// TestSingleInsertGet covers a single insert followed by a hit and a miss.
func TestSingleInsertGet(t *testing.T) {
	cfg := smallConfig()
	backing := store.NewMemStore(cfg.PageSize)
	tree, err := embbtree.Open(backing, cfg, nil)
	require.NoError(t, err)
	defer tree.Close()

	k := key(cfg.KeySize, 42)
	require.NoError(t, tree.Put(k, record(cfg.DataSize, 42)))

	out := make([]byte, cfg.DataSize)
	found, err := tree.Get(k, out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, byte(42), out[0])

	found, err = tree.Get(key(cfg.KeySize, 43), nil)
	require.NoError(t, err)
	require.False(t, found)
}

// buildShuffledTree inserts a deterministic permutation of 1..1000 into
// a tree small enough to force several levels of splits.
func buildShuffledTree(t *testing.T) (embbtree.Config, *store.MemStore, *embbtree.Tree) {
	t.Helper()
	cfg := embbtree.Config{
		PageSize:          256,
		NumPages:          8,
		RecordSize:        16,
		KeySize:           8,
		DataSize:          8,
		MappingBufferSize: 128,
	}
	backing := store.NewMemStore(cfg.PageSize)
	tree, err := embbtree.Open(backing, cfg, nil)
	require.NoError(t, err)

	perm := rand.New(rand.NewSource(1)).Perm(1000)
	for _, p := range perm {
		k := uint64(p + 1)
		require.NoError(t, tree.Put(key(cfg.KeySize, k), record(cfg.DataSize, k)))
	}
	return cfg, backing, tree
}

func verifyShuffledTree(t *testing.T, cfg embbtree.Config, tree *embbtree.Tree) {
	t.Helper()
	out := make([]byte, cfg.DataSize)
	for k := uint64(1); k <= 1000; k++ {
		found, err := tree.Get(key(cfg.KeySize, k), out)
		require.NoError(t, err)
		require.True(t, found, "key %d should be present", k)
		require.Equal(t, byte(k), out[0])
	}
	for _, k := range []uint64{0, 3_500_000} {
		found, err := tree.Get(key(cfg.KeySize, k), nil)
		require.NoError(t, err)
		require.False(t, found, "key %d should be absent", k)
	}

	it, err := tree.InitIterator(key(cfg.KeySize, 40), key(cfg.KeySize, 299))
	require.NoError(t, err)
	var got []uint64
	for {
		k, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, page.DecodeKey(k))
	}
	require.Len(t, got, 260)
	for i, k := range got {
		require.Equal(t, uint64(40+i), k)
	}
}

// TestShuffledInsertAndLookups inserts a shuffled key range and
// verifies every key is reachable afterward.
func TestShuffledInsertAndLookups(t *testing.T) {
	cfg, _, tree := buildShuffledTree(t)
	defer tree.Close()
	verifyShuffledTree(t, cfg, tree)
}

// TestRangeIteration complements the bounded 40..299 iteration check in
// verifyShuffledTree with a scan of the complete inserted range,
// asserting strictly increasing keys and all 1000 of them.
func TestRangeIteration(t *testing.T) {
	cfg, _, tree := buildShuffledTree(t)
	defer tree.Close()

	it, err := tree.InitIterator(key(cfg.KeySize, 1), key(cfg.KeySize, 1000))
	require.NoError(t, err)
	var prev uint64
	count := 0
	for {
		k, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		v := page.DecodeKey(k)
		if count > 0 {
			require.Greater(t, v, prev, "iterator must emit strictly increasing keys")
		}
		prev = v
		count++
	}
	require.Equal(t, 1000, count)
}

// TestRecovery closes a populated tree, reopens it, and confirms every
// key is still reachable and the next page write id still matches the
// backing store's length.
func TestRecovery(t *testing.T) {
	cfg, backing, tree := buildShuffledTree(t)
	require.NoError(t, tree.Close())

	lengthBefore, err := backing.LengthInPages()
	require.NoError(t, err)

	reopened, err := embbtree.Open(backing, cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	verifyShuffledTree(t, cfg, reopened)
	require.Equal(t, lengthBefore, reopened.NextPageWriteID())
}

// TestOverwriteCoherenceThroughTree exercises, at the tree level, that
// an update to an existing key is visible to a subsequent get, never
// stale.
func TestOverwriteCoherenceThroughTree(t *testing.T) {
	cfg := smallConfig()
	backing := store.NewMemStore(cfg.PageSize)
	tree, err := embbtree.Open(backing, cfg, nil)
	require.NoError(t, err)
	defer tree.Close()

	k := key(cfg.KeySize, 1)
	dataA := record(cfg.DataSize, 0xAA)
	dataB := record(cfg.DataSize, 0xBB)

	require.NoError(t, tree.Put(k, dataA))
	out := make([]byte, cfg.DataSize)
	found, err := tree.Get(k, out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, byte(0xAA), out[0])

	require.NoError(t, tree.Put(k, dataB))
	found, err = tree.Get(k, out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, byte(0xBB), out[0])
}

func TestPutRejectsWrongSizedKey(t *testing.T) {
	cfg := smallConfig()
	backing := store.NewMemStore(cfg.PageSize)
	tree, err := embbtree.Open(backing, cfg, nil)
	require.NoError(t, err)
	defer tree.Close()

	err = tree.Put([]byte{1, 2, 3}, record(cfg.DataSize, 1))
	require.Error(t, err)
}

func TestConfigValidateRejectsUndersizedPage(t *testing.T) {
	cfg := embbtree.Config{PageSize: 16, NumPages: 2, RecordSize: 16, KeySize: 8, DataSize: 8}
	require.Error(t, cfg.Validate())
}
