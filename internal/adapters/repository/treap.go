package repository

import "math/rand"

// treap is an ordered index of image ids keyed by a float (random seed or
// rating). Ordering: key ASC, then id ASC. Priorities are random, so the
// expected depth is O(log n) regardless of insertion order.
type treap struct {
	root *node
	rng  *rand.Rand
}

// treap node
type node struct {
	key   float64
	id    string
	prio  uint64
	left  *node
	right *node
	size  int
}

func newTreap(rng *rand.Rand) *treap {
	return &treap{rng: rng}
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aKey, aID) sorts before (bKey, bID).
func less(aKey float64, aID string, bKey float64, bID string) bool {
	if aKey != bKey {
		return aKey < bKey
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func (t *treap) Len() int {
	return nsize(t.root)
}

func (t *treap) Insert(key float64, id string) {
	t.root = insert(t.root, key, id, t.rng.Uint64())
}

func (t *treap) Delete(key float64, id string) {
	t.root = deleteNode(t.root, key, id)
}

func insert(n *node, key float64, id string, prio uint64) *node {
	if n == nil {
		return &node{key: key, id: id, prio: prio, size: 1}
	}
	if less(key, id, n.key, n.id) {
		n.left = insert(n.left, key, id, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, key, id, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, key float64, id string) *node {
	if n == nil {
		return nil
	}
	if key == n.key && id == n.id {
		// Merge children by rotating highest priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, key, id)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, key, id)
		}
	} else if less(key, id, n.key, n.id) {
		n.left = deleteNode(n.left, key, id)
	} else {
		n.right = deleteNode(n.right, key, id)
	}
	fix(n)
	return n
}

// AscendAfter visits ids strictly after (key, id) in ascending order until
// visit returns false.
func (t *treap) AscendAfter(key float64, id string, visit func(id string) bool) {
	ascendAfter(t.root, key, id, visit)
}

func ascendAfter(n *node, key float64, id string, visit func(string) bool) bool {
	if n == nil {
		return true
	}
	if less(key, id, n.key, n.id) {
		if !ascendAfter(n.left, key, id, visit) {
			return false
		}
		if !visit(n.id) {
			return false
		}
	}
	return ascendAfter(n.right, key, id, visit)
}

// Ascend visits all ids in ascending order until visit returns false.
func (t *treap) Ascend(visit func(id string) bool) {
	ascend(t.root, visit)
}

func ascend(n *node, visit func(string) bool) bool {
	if n == nil {
		return true
	}
	return ascend(n.left, visit) && visit(n.id) && ascend(n.right, visit)
}

// Descend visits all ids in descending order until visit returns false.
func (t *treap) Descend(visit func(id string) bool) {
	descend(t.root, visit)
}

func descend(n *node, visit func(string) bool) bool {
	if n == nil {
		return true
	}
	return descend(n.right, visit) && visit(n.id) && descend(n.left, visit)
}
