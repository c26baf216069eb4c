package quadtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/extent"
)

// frame is a pending node of a depth first walk. The rectangle is the real
// node rectangle, not the loosened one. Compaction uses target to carry the
// index the node is copied to, distance searches use dist to prune frames
// that got out of reach after they were pushed.
type frame struct {
	node   nodeIndex
	target nodeIndex
	rect   extent.Rect
	depth  int
	dist   float32
}

// stackBound is the largest stack a walk needs: each branch pop pushes 4
// frames and removes 1, at most once per level.
func stackBound(maxDepth int) int {
	return 3*maxDepth + 1
}

// enter marks the tree as being walked. Walks cannot nest and a tree cannot
// be normalized from a walk callback since it would move the records the
// walk is reading.
func (t *Quadtree[T]) enter(op string) {
	if t.busy {
		panic(errors.New("reentrant quadtree call from a callback").
			WithType(ErrTypeReentrant).
			WithTag("tree", t.config.Name).
			WithTag("operation", op))
	}
	t.busy = true
	t.stack = t.stack[:0]
}

func (t *Quadtree[T]) leave() {
	t.busy = false
}

func (t *Quadtree[T]) push(f frame) {
	if len(t.stack) == cap(t.stack) {
		panic(errors.New("traversal stack overflow").
			WithType(ErrTypeCorrupted).
			WithTag("tree", t.config.Name).
			WithTag("capacity", cap(t.stack)).
			WithTag("depth", f.depth))
	}

	t.stack = append(t.stack, f)
	if len(t.stack) > t.stackHigh {
		t.stackHigh = len(t.stack)
	}
}

func (t *Quadtree[T]) pop() (frame, bool) {
	n := len(t.stack)
	if n == 0 {
		return frame{}, false
	}

	f := t.stack[n-1]
	t.stack = t.stack[:n-1]
	return f, true
}

func (t *Quadtree[T]) pushRoot() {
	t.push(frame{node: t.root, rect: t.world})
}

// pushChildren pushes the children selected by mask in reverse order so that
// they pop in child order.
func (t *Quadtree[T]) pushChildren(f frame, n *node, mask uint8) {
	midX, midY := splitPoint(f.rect)

	for i := 3; i >= 0; i-- {
		if mask&(1<<i) == 0 {
			continue
		}

		t.push(frame{
			node:  n.children[i],
			rect:  childRect(f.rect, midX, midY, i),
			depth: f.depth + 1,
		})
	}
}

// walk visits every leaf whose loosened rectangle is accepted by the
// children mask function. The root is always visited.
func (t *Quadtree[T]) walk(mask func(f frame, midX, midY float32, n *node) uint8, visit func(f frame, n *node)) {
	t.pushRoot()

	for {
		f, ok := t.pop()
		if !ok {
			return
		}

		n := t.nodes.at(f.node)
		if n.isLeaf() {
			visit(f, n)
			continue
		}

		midX, midY := splitPoint(f.rect)
		t.pushChildren(f, n, mask(f, midX, midY, n))
	}
}

// nextQueryTick advances the query stamp, resetting every entity stamp when
// it wraps.
func (t *Quadtree[T]) nextQueryTick() uint32 {
	t.queryTick++
	if t.queryTick == 0 {
		for i := 1; i < t.entities.bound(); i++ {
			t.entities.at(EntityIndex(i)).queryTick = 0
		}
		t.queryTick = 1
	}
	return t.queryTick
}

func allChildren(frame, float32, float32, *node) uint8 {
	return 0b1111
}

func rectChildren(r extent.Rect) func(frame, float32, float32, *node) uint8 {
	return func(_ frame, midX, midY float32, _ *node) uint8 {
		return childMask(r, midX, midY)
	}
}

func circleChildren[T Bounded](t *Quadtree[T], x, y, radius float32) func(frame, float32, float32, *node) uint8 {
	radiusSq := radius * radius

	return func(f frame, midX, midY float32, n *node) uint8 {
		var m uint8
		for i := 0; i < 4; i++ {
			child := t.nodes.at(n.children[i])
			r := loosen(childRect(f.rect, midX, midY, i), child.flags)
			if r.DistanceSq(x, y) <= radiusSq {
				m |= 1 << i
			}
		}
		return m
	}
}

// StackHigh returns the deepest traversal stack used so far.
func (t *Quadtree[T]) StackHigh() int {
	return t.stackHigh
}
