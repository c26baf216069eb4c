// Package heap implements a generic 4-ary heap.
package heap

const (
	arity       = 4
	minCapacity = 4
)

// Heap is a 4-ary heap. The element at the root is the one for which less
// returns true against every other element, so a less of a < b builds a min
// heap and a less of a > b builds a max heap.
type Heap[T any] struct {
	items []T
	less  func(a, b T) bool
}

// New creates a heap ordered by less with room for capacity elements.
func New[T any](less func(a, b T) bool, capacity int) *Heap[T] {
	return &Heap[T]{
		items: make([]T, 0, max(capacity, minCapacity)),
		less:  less,
	}
}

// Len returns the number of elements in the heap.
func (h *Heap[T]) Len() int {
	return len(h.items)
}

// Push adds an element to the heap.
func (h *Heap[T]) Push(v T) {
	h.items = append(h.items, v)

	idx := len(h.items) - 1
	for idx > 0 {
		parent := (idx - 1) / arity
		if !h.less(v, h.items[parent]) {
			break
		}
		h.items[idx] = h.items[parent]
		idx = parent
	}
	h.items[idx] = v
}

// Peek returns the root without removing it.
func (h *Heap[T]) Peek() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Pop removes and returns the root.
func (h *Heap[T]) Pop() (T, bool) {
	var zero T

	n := len(h.items)
	if n == 0 {
		return zero, false
	}

	root := h.items[0]
	last := h.items[n-1]
	h.items[n-1] = zero
	h.items = h.items[:n-1]

	if n > 1 {
		h.down(last)
	}
	h.shrink()
	return root, true
}

// Replace swaps the root for v and restores the heap order. It returns the
// previous root, or false and leaves the heap untouched when it is empty.
func (h *Heap[T]) Replace(v T) (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}

	root := h.items[0]
	h.down(v)
	return root, true
}

// Reset removes every element and keeps the allocated storage.
func (h *Heap[T]) Reset() {
	clear(h.items)
	h.items = h.items[:0]
}

// Items returns the heap storage in heap order. The slice is only valid until
// the next mutation.
func (h *Heap[T]) Items() []T {
	return h.items
}

func (h *Heap[T]) down(v T) {
	n := len(h.items)
	idx := 0

	for {
		first := idx*arity + 1
		if first >= n {
			break
		}

		best := first
		for k := first + 1; k < min(first+arity, n); k++ {
			if h.less(h.items[k], h.items[best]) {
				best = k
			}
		}

		if !h.less(h.items[best], v) {
			break
		}
		h.items[idx] = h.items[best]
		idx = best
	}
	h.items[idx] = v
}

func (h *Heap[T]) shrink() {
	c := cap(h.items)
	if c <= minCapacity || len(h.items) >= c/4 {
		return
	}

	items := make([]T, len(h.items), max(len(h.items)*2, minCapacity))
	copy(items, h.items)
	h.items = items
}
