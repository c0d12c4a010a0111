// ABOUTME: In-memory B+Tree over byte-string keys
// ABOUTME: Implements Insert, Get, Delete with linked leaves for range scans

package btree

import (
	"bytes"
	"sort"
)

// maxKeys is the split threshold for both leaf and internal nodes
const maxKeys = 64

// BTree is an ordered mapping from byte-string keys to byte-string values.
// Keys compare with bytes.Compare. Deletion removes keys in place without
// rebalancing; sparse leaves are skipped during iteration and reclaimed the
// next time the tree is rebuilt.
type BTree struct {
	root *node
	size int
}

// node is either a leaf (keys/vals parallel, next links leaves in key
// order) or an internal node where keys[i] separates children[i] from
// children[i+1]: a lookup key k routes to children[j] with j = number of
// separators <= k.
type node struct {
	leaf     bool
	keys     [][]byte
	vals     [][]byte
	children []*node
	next     *node
}

// New creates an empty tree
func New() *BTree {
	return &BTree{}
}

// Len returns the number of keys in the tree
func (t *BTree) Len() int {
	return t.size
}

// Get retrieves the value for a key
func (t *BTree) Get(key []byte) ([]byte, bool) {
	if t.root == nil {
		return nil, false
	}
	n := t.root
	for !n.leaf {
		n = n.children[childIndex(n, key)]
	}
	idx, found := leafIndex(n, key)
	if !found {
		return nil, false
	}
	return n.vals[idx], true
}

// Insert inserts a key-value pair, replacing any existing value
func (t *BTree) Insert(key, val []byte) {
	if t.root == nil {
		t.root = &node{
			leaf: true,
			keys: [][]byte{append([]byte(nil), key...)},
			vals: [][]byte{append([]byte(nil), val...)},
		}
		t.size = 1
		return
	}

	sep, right, grew := t.insert(t.root, key, val)
	if grew {
		t.size++
	}
	if right != nil {
		t.root = &node{
			keys:     [][]byte{sep},
			children: []*node{t.root, right},
		}
	}
}

// insert descends to a leaf, inserts, and propagates splits upward.
// Returns the promoted separator and new right sibling when the child split.
func (t *BTree) insert(n *node, key, val []byte) (sep []byte, right *node, grew bool) {
	if n.leaf {
		idx, found := leafIndex(n, key)
		if found {
			n.vals[idx] = append([]byte(nil), val...)
			return nil, nil, false
		}
		n.keys = insertAt(n.keys, idx, append([]byte(nil), key...))
		n.vals = insertAt(n.vals, idx, append([]byte(nil), val...))
		if len(n.keys) > maxKeys {
			sep, right = splitLeaf(n)
		}
		return sep, right, true
	}

	ci := childIndex(n, key)
	childSep, childRight, grew := t.insert(n.children[ci], key, val)
	if childRight != nil {
		n.keys = insertAt(n.keys, ci, childSep)
		n.children = insertChildAt(n.children, ci+1, childRight)
		if len(n.keys) > maxKeys {
			sep, right = splitInternal(n)
		}
	}
	return sep, right, grew
}

// Delete removes a key. Returns false if the key was absent.
// The leaf is shrunk in place; no rebalancing takes place.
func (t *BTree) Delete(key []byte) bool {
	if t.root == nil {
		return false
	}
	n := t.root
	for !n.leaf {
		n = n.children[childIndex(n, key)]
	}
	idx, found := leafIndex(n, key)
	if !found {
		return false
	}
	n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
	n.vals = append(n.vals[:idx], n.vals[idx+1:]...)
	t.size--
	return true
}

// childIndex returns the child to descend into for key: the number of
// separators <= key
func childIndex(n *node, key []byte) int {
	return sort.Search(len(n.keys), func(i int) bool {
		return bytes.Compare(n.keys[i], key) > 0
	})
}

// leafIndex returns the position of key in a leaf, or the insertion point
func leafIndex(n *node, key []byte) (int, bool) {
	idx := sort.Search(len(n.keys), func(i int) bool {
		return bytes.Compare(n.keys[i], key) >= 0
	})
	if idx < len(n.keys) && bytes.Equal(n.keys[idx], key) {
		return idx, true
	}
	return idx, false
}

// splitLeaf splits a full leaf, linking the new right sibling into the leaf
// chain. The separator is the right sibling's first key.
func splitLeaf(n *node) ([]byte, *node) {
	mid := len(n.keys) / 2
	right := &node{
		leaf: true,
		keys: append([][]byte(nil), n.keys[mid:]...),
		vals: append([][]byte(nil), n.vals[mid:]...),
		next: n.next,
	}
	n.keys = n.keys[:mid:mid]
	n.vals = n.vals[:mid:mid]
	n.next = right
	return right.keys[0], right
}

// splitInternal splits a full internal node, promoting the middle separator
func splitInternal(n *node) ([]byte, *node) {
	mid := len(n.keys) / 2
	sep := n.keys[mid]
	right := &node{
		keys:     append([][]byte(nil), n.keys[mid+1:]...),
		children: append([]*node(nil), n.children[mid+1:]...),
	}
	n.keys = n.keys[:mid:mid]
	n.children = n.children[: mid+1 : mid+1]
	return sep, right
}

func insertAt(s [][]byte, idx int, item []byte) [][]byte {
	s = append(s, nil)
	copy(s[idx+1:], s[idx:])
	s[idx] = item
	return s
}

func insertChildAt(s []*node, idx int, item *node) []*node {
	s = append(s, nil)
	copy(s[idx+1:], s[idx:])
	s[idx] = item
	return s
}
