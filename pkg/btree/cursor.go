package btree

import (
	"github.com/strata-db/strata/pkg/types"
)

// Cursor walks a BPlusTree's leaves in key order using lock coupling:
// it holds the RLock of exactly one leaf at a time and only acquires
// the next leaf's RLock before releasing the current one. Every
// primitive (KV prefix scan, event replay, document listing, vector
// iteration) that needs an ordered walk over a shared, branch-prefixed
// tree goes through this rather than re-deriving leaf traversal.
type Cursor struct {
	tree         *BPlusTree
	currentNode  *Node
	currentIndex int
}

// NewCursor creates a cursor over tree, unpositioned until Seek is called.
func NewCursor(tree *BPlusTree) *Cursor {
	return &Cursor{tree: tree}
}

// Close releases the lock on whatever leaf the cursor currently holds.
// Safe to call on an already-closed or never-seeked cursor.
func (c *Cursor) Close() {
	if c.currentNode != nil {
		c.currentNode.RUnlock()
		c.currentNode = nil
	}
}

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() types.Comparable { return c.currentNode.Keys[c.currentIndex] }

// Value returns the heap offset at the cursor's current position.
func (c *Cursor) Value() int64 { return c.currentNode.DataPtrs[c.currentIndex] }

// Valid reports whether the cursor is positioned at a real entry.
func (c *Cursor) Valid() bool { return c.currentNode != nil && c.currentIndex < c.currentNode.N }

// Seek positions the cursor at key, or at the next key in order if key
// itself is absent. A nil key seeks to the first entry in the tree.
func (c *Cursor) Seek(key types.Comparable) {
	c.Close()

	// FindLeafLowerBound returns the leaf with its RLock already held
	// (latch crabbing); the cursor keeps that lock for as long as it
	// stays positioned on the leaf.
	leaf, idx := c.tree.FindLeafLowerBound(key)
	if leaf == nil {
		c.currentNode = nil
		c.currentIndex = 0
		return
	}

	if idx >= leaf.N {
		leaf = c.advancePastEmpty(leaf)
		idx = 0
	}

	c.currentNode = leaf
	c.currentIndex = idx
}

// Next advances to the following entry, returning false once exhausted.
func (c *Cursor) Next() bool {
	if c.currentNode == nil {
		return false
	}

	if c.currentIndex+1 < c.currentNode.N {
		c.currentIndex++
		return true
	}

	next := c.currentNode.Next
	if next != nil {
		next.RLock() // acquire before releasing: lock coupling
	}
	c.currentNode.RUnlock()
	c.currentNode = next
	c.currentIndex = 0

	if c.currentNode != nil {
		c.currentNode = c.advancePastEmpty(c.currentNode)
	}

	return c.currentNode != nil
}

// advancePastEmpty skips leaves left with zero live keys (e.g. every
// key was removed by a structural merge that hasn't reclaimed the node
// yet), holding the RLock chain the whole way. leaf arrives already
// RLocked; the node returned is RLocked, or nil if the chain ends.
func (c *Cursor) advancePastEmpty(leaf *Node) *Node {
	for leaf != nil && leaf.N == 0 {
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()
		leaf = next
	}
	return leaf
}
