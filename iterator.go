package embbtree

import (
	"github.com/embbtree/embbtree/internal/page"
)

// Iterator yields records in ascending key order over [minKey, maxKey].
// There is no leaf chaining: once a leaf is exhausted, Next re-descends
// from the current root using the last emitted key as the new lower
// bound.
type Iterator struct {
	t *Tree

	minKey []byte
	maxKey []byte

	curLeafID uint32
	curOffset int
	lastKey   []byte
	started   bool
	done      bool
}

// InitIterator positions a new iterator at the first record >= minKey,
// bounded above by maxKey inclusive.
func (t *Tree) InitIterator(minKey, maxKey []byte) (*Iterator, error) {
	if err := t.checkKey(minKey); err != nil {
		return nil, err
	}
	if err := t.checkKey(maxKey); err != nil {
		return nil, err
	}
	path, leafBuf, err := t.descendToLeaf(minKey)
	if err != nil {
		return nil, err
	}
	t.activePath = path
	idx, _ := page.SearchLeaf(leafBuf, t.layout, minKey)
	return &Iterator{
		t:         t,
		minKey:    append([]byte{}, minKey...),
		maxKey:    append([]byte{}, maxKey...),
		curLeafID: path[len(path)-1],
		curOffset: idx,
	}, nil
}

// incrementKey returns the fixed-width big-endian successor of key, and
// false if key is already the maximum representable value (all 0xFF),
// which has no successor.
func incrementKey(key []byte) ([]byte, bool) {
	out := append([]byte{}, key...)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			return out, true
		}
	}
	return nil, false
}

// Next returns the next record in range, or ok=false once the range is
// exhausted. A leaf landed on by re-descent that turns out to hold
// nothing >= the new lower bound ends iteration rather than retrying:
// leaf key ranges are disjoint and increasing, so that can only happen
// at the end of the keyspace.
func (it *Iterator) Next() (key, data []byte, ok bool, err error) {
	if it.done {
		return nil, nil, false, nil
	}
	buf, err := it.t.pool.ReadPage(it.curLeafID)
	if err != nil {
		return nil, nil, false, err
	}
	cnt := int(page.Count(buf))

	if it.curOffset >= cnt {
		if !it.started {
			it.done = true
			return nil, nil, false, nil
		}
		nextKey, hasNext := incrementKey(it.lastKey)
		if !hasNext {
			it.done = true
			return nil, nil, false, nil
		}
		path, leafBuf, err := it.t.descendToLeaf(nextKey)
		if err != nil {
			return nil, nil, false, err
		}
		it.t.activePath = path
		it.curLeafID = path[len(path)-1]
		idx, _ := page.SearchLeaf(leafBuf, it.t.layout, nextKey)
		it.curOffset = idx
		buf = leafBuf
		cnt = int(page.Count(buf))
		if it.curOffset >= cnt {
			it.done = true
			return nil, nil, false, nil
		}
	}

	k := page.LeafKey(buf, it.t.layout, it.curOffset)
	if page.CompareKeys(k, it.maxKey) > 0 {
		it.done = true
		return nil, nil, false, nil
	}

	key = append([]byte{}, k...)
	data = append([]byte{}, page.LeafData(buf, it.t.layout, it.curOffset)...)
	it.lastKey = key
	it.started = true
	it.curOffset++
	return key, data, true, nil
}
