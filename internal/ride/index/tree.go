// Package index keeps active rides ordered by ride number in a left-leaning
// red-black tree whose nodes also carry their subtree size.
//
// Point lookups, inserts and deletes run in O(log n); the size augmentation adds
// rank, select and range counting. A Tree is not safe for concurrent use.
package index

import "github.com/example/gatortaxi/internal/ride/domain"

type color bool

const (
	red   color = true
	black color = false
)

type node struct {
	key         int
	ride        *domain.Ride
	left, right *node
	color       color
	size        int
}

// Tree is a size augmented LLRB keyed by ride id.
type Tree struct {
	root *node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// Size returns the number of rides in the tree.
func (t *Tree) Size() int { return size(t.root) }

// Search returns the ride handle stored under id.
func (t *Tree) Search(id int) (*domain.Ride, bool) {
	n := t.root
	for n != nil {
		switch {
		case id < n.key:
			n = n.left
		case id > n.key:
			n = n.right
		default:
			return n.ride, true
		}
	}
	return nil, false
}

func (t *Tree) Contains(id int) bool {
	_, ok := t.Search(id)
	return ok
}

// Upsert inserts the ride, or replaces the handle stored under its id.
func (t *Tree) Upsert(r *domain.Ride) {
	t.root = put(t.root, r)
	t.root.color = black
}

func put(h *node, r *domain.Ride) *node {
	if h == nil {
		return &node{key: r.ID, ride: r, color: red, size: 1}
	}
	switch {
	case r.ID < h.key:
		h.left = put(h.left, r)
	case r.ID > h.key:
		h.right = put(h.right, r)
	default:
		h.ride = r
	}
	return balance(h)
}

// Delete removes the ride stored under id and reports whether it was present.
func (t *Tree) Delete(id int) bool {
	if !t.Contains(id) {
		return false
	}
	if !isRed(t.root.left) && !isRed(t.root.right) {
		t.root.color = red
	}
	t.root = del(t.root, id)
	if t.root != nil {
		t.root.color = black
	}
	return true
}

// del assumes id is present in the subtree rooted at h.
func del(h *node, id int) *node {
	if id < h.key {
		if !isRed(h.left) && !isRed(h.left.left) {
			h = moveRedLeft(h)
		}
		h.left = del(h.left, id)
		return balance(h)
	}
	if isRed(h.left) {
		h = rotateRight(h)
	}
	if id == h.key && h.right == nil {
		return nil
	}
	if !isRed(h.right) && !isRed(h.right.left) {
		h = moveRedRight(h)
	}
	if id == h.key {
		succ := minNode(h.right)
		h.key, h.ride = succ.key, succ.ride
		h.right = deleteMin(h.right)
	} else {
		h.right = del(h.right, id)
	}
	return balance(h)
}

func deleteMin(h *node) *node {
	if h.left == nil {
		return nil
	}
	if !isRed(h.left) && !isRed(h.left.left) {
		h = moveRedLeft(h)
	}
	h.left = deleteMin(h.left)
	return balance(h)
}

// Range returns the rides with low <= id <= high in ascending id order.
func (t *Tree) Range(low, high int) []*domain.Ride {
	var out []*domain.Ride
	if low > high {
		return out
	}
	collect(t.root, low, high, &out)
	return out
}

func collect(h *node, low, high int, out *[]*domain.Ride) {
	if h == nil {
		return
	}
	if h.key >= low {
		collect(h.left, low, high, out)
	}
	if low <= h.key && h.key <= high {
		*out = append(*out, h.ride)
	}
	if h.key <= high {
		collect(h.right, low, high, out)
	}
}

// Rank returns the number of ids strictly smaller than id.
func (t *Tree) Rank(id int) int {
	rank := 0
	n := t.root
	for n != nil {
		switch {
		case id < n.key:
			n = n.left
		case id > n.key:
			rank += 1 + size(n.left)
			n = n.right
		default:
			return rank + size(n.left)
		}
	}
	return rank
}

// Select returns the ride with the k-th smallest id, counting from zero.
func (t *Tree) Select(k int) (*domain.Ride, bool) {
	if k < 0 || k >= t.Size() {
		return nil, false
	}
	n := t.root
	for n != nil {
		left := size(n.left)
		switch {
		case k < left:
			n = n.left
		case k > left:
			k -= left + 1
			n = n.right
		default:
			return n.ride, true
		}
	}
	return nil, false
}

// CountRange returns how many ids fall in [low, high] without visiting them.
func (t *Tree) CountRange(low, high int) int {
	if low > high {
		return 0
	}
	count := t.Rank(high) - t.Rank(low)
	if t.Contains(high) {
		count++
	}
	return count
}

func (t *Tree) Min() (*domain.Ride, bool) {
	if t.root == nil {
		return nil, false
	}
	return minNode(t.root).ride, true
}

func (t *Tree) Max() (*domain.Ride, bool) {
	n := t.root
	if n == nil {
		return nil, false
	}
	for n.right != nil {
		n = n.right
	}
	return n.ride, true
}

// Keys returns every id in ascending order.
func (t *Tree) Keys() []int {
	keys := make([]int, 0, t.Size())
	var walk func(*node)
	walk = func(h *node) {
		if h == nil {
			return
		}
		walk(h.left)
		keys = append(keys, h.key)
		walk(h.right)
	}
	walk(t.root)
	return keys
}

func minNode(h *node) *node {
	for h.left != nil {
		h = h.left
	}
	return h
}

func isRed(h *node) bool { return h != nil && h.color == red }

func size(h *node) int {
	if h == nil {
		return 0
	}
	return h.size
}

func rotateLeft(h *node) *node {
	x := h.right
	h.right = x.left
	x.left = h
	x.color = h.color
	h.color = red
	x.size = h.size
	h.size = 1 + size(h.left) + size(h.right)
	return x
}

func rotateRight(h *node) *node {
	x := h.left
	h.left = x.right
	x.right = h
	x.color = h.color
	h.color = red
	x.size = h.size
	h.size = 1 + size(h.left) + size(h.right)
	return x
}

func flipColors(h *node) {
	h.color = !h.color
	h.left.color = !h.left.color
	h.right.color = !h.right.color
}

// moveRedLeft makes h.left or one of its children red, assuming h is red and
// both h.left and h.left.left are black.
func moveRedLeft(h *node) *node {
	flipColors(h)
	if isRed(h.right.left) {
		h.right = rotateRight(h.right)
		h = rotateLeft(h)
		flipColors(h)
	}
	return h
}

// moveRedRight makes h.right or one of its children red, assuming h is red and
// both h.right and h.right.left are black.
func moveRedRight(h *node) *node {
	flipColors(h)
	if isRed(h.left.left) {
		h = rotateRight(h)
		flipColors(h)
	}
	return h
}

// balance applies the local LLRB fix-ups in order and recomputes the size.
func balance(h *node) *node {
	if isRed(h.right) && !isRed(h.left) {
		h = rotateLeft(h)
	}
	if isRed(h.left) && isRed(h.left.left) {
		h = rotateRight(h)
	}
	if isRed(h.left) && isRed(h.right) {
		flipColors(h)
	}
	h.size = 1 + size(h.left) + size(h.right)
	return h
}
