// ABOUTME: B+Tree iterator for ordered range scans
// ABOUTME: Implements SeekGE and Next over the linked leaf chain

package btree

// Iter iterates the tree in ascending key order via the leaf chain
type Iter struct {
	leaf *node
	pos  int
}

// SeekGE positions the iterator at the first key >= the given key.
// A nil key seeks to the start of the tree.
func (t *BTree) SeekGE(key []byte) *Iter {
	it := &Iter{}
	if t.root == nil {
		return it
	}

	n := t.root
	if key == nil {
		for !n.leaf {
			n = n.children[0]
		}
		it.leaf = n
		it.pos = 0
	} else {
		for !n.leaf {
			n = n.children[childIndex(n, key)]
		}
		idx, _ := leafIndex(n, key)
		it.leaf = n
		it.pos = idx
	}

	it.skipExhausted()
	return it
}

// Valid reports whether the iterator is positioned at a key
func (it *Iter) Valid() bool {
	return it.leaf != nil && it.pos < len(it.leaf.keys)
}

// Key returns the current key. Valid only while Valid() is true.
func (it *Iter) Key() []byte {
	return it.leaf.keys[it.pos]
}

// Value returns the current value
func (it *Iter) Value() []byte {
	return it.leaf.vals[it.pos]
}

// Next advances to the next key in order
func (it *Iter) Next() {
	it.pos++
	it.skipExhausted()
}

// skipExhausted advances past empty or exhausted leaves, which can exist
// after deletions
func (it *Iter) skipExhausted() {
	for it.leaf != nil && it.pos >= len(it.leaf.keys) {
		it.leaf = it.leaf.next
		it.pos = 0
	}
}
