package quadtree

import (
	"github.com/aukilabs/quadtree/extent"
	"github.com/aukilabs/quadtree/heap"
)

// NearestInRect searches the entities overlapping bound for the one closest
// to (x, y). fn is called each time a strictly closer entity is found, so
// the last call holds the nearest one. It returns the distance to the nearest
// entity rectangle, 0 when the point is inside it, or +Inf when none was
// found.
func (t *Quadtree[T]) NearestInRect(x, y float32, bound extent.Rect, fn func(EntityIndex, *T)) float32 {
	t.normalizeIfDirty()
	t.enter("nearest_in_rect")
	defer t.leave()

	return t.nearest(x, y, extent.Inf(1),
		func(r extent.Rect) bool { return r.Intersects(bound) },
		fn,
	)
}

// NearestInCircle searches the entities within radius of (x, y) for the
// closest one. It behaves like NearestInRect otherwise.
func (t *Quadtree[T]) NearestInCircle(x, y, radius float32, fn func(EntityIndex, *T)) float32 {
	t.normalizeIfDirty()
	t.enter("nearest_in_circle")
	defer t.leave()

	return t.nearest(x, y, radius*radius,
		func(extent.Rect) bool { return true },
		fn,
	)
}

func (t *Quadtree[T]) nearest(x, y, limitSq float32, within func(extent.Rect) bool, fn func(EntityIndex, *T)) float32 {
	best := extent.Inf(1)
	tick := t.nextQueryTick()

	reach := func() float32 {
		return min(best, limitSq)
	}

	t.pushRoot()
	for {
		f, ok := t.pop()
		if !ok {
			break
		}
		if f.dist > reach() {
			continue
		}

		n := t.nodes.at(f.node)
		if !n.isLeaf() {
			t.pushByDistance(f, n, x, y, reach(), within)
			continue
		}

		t.visitEntities(n, tick, func(idx EntityIndex, e *entity[T]) {
			if !within(e.rect) {
				return
			}

			if d := e.rect.DistanceSq(x, y); d <= limitSq && d < best {
				best = d
				fn(idx, &e.data)
			}
		})
	}

	if best == extent.Inf(1) {
		return best
	}
	return extent.Sqrt(best)
}

// pushByDistance pushes the children within reach farthest first so that the
// nearest child is walked first.
func (t *Quadtree[T]) pushByDistance(f frame, n *node, x, y, reach float32, within func(extent.Rect) bool) {
	midX, midY := splitPoint(f.rect)

	var order [4]frame
	count := 0

	for i := 0; i < 4; i++ {
		ci := n.children[i]
		rect := childRect(f.rect, midX, midY, i)
		loose := loosen(rect, t.nodes.at(ci).flags)
		if !within(loose) {
			continue
		}

		d := loose.DistanceSq(x, y)
		if d > reach {
			continue
		}

		c := frame{node: ci, rect: rect, depth: f.depth + 1, dist: d}
		j := count
		for ; j > 0 && order[j-1].dist < d; j-- {
			order[j] = order[j-1]
		}
		order[j] = c
		count++
	}

	for i := 0; i < count; i++ {
		t.push(order[i])
	}
}

type candidate struct {
	entity EntityIndex
	distSq float32
}

// NearestK calls fn with the k entities closest to (x, y), nearest first,
// along with their distance.
func (t *Quadtree[T]) NearestK(x, y float32, k int, fn func(EntityIndex, *T, float32)) {
	if k <= 0 {
		return
	}

	t.normalizeIfDirty()
	t.enter("nearest_k")
	defer t.leave()

	if t.candidates == nil {
		t.candidates = heap.New(func(a, b candidate) bool {
			return a.distSq > b.distSq
		}, k)
	}
	found := t.candidates
	found.Reset()

	reach := func() float32 {
		if found.Len() < k {
			return extent.Inf(1)
		}
		top, _ := found.Peek()
		return top.distSq
	}

	all := func(extent.Rect) bool { return true }
	tick := t.nextQueryTick()

	t.pushRoot()
	for {
		f, ok := t.pop()
		if !ok {
			break
		}
		if f.dist > reach() {
			continue
		}

		n := t.nodes.at(f.node)
		if !n.isLeaf() {
			t.pushByDistance(f, n, x, y, reach(), all)
			continue
		}

		t.visitEntities(n, tick, func(idx EntityIndex, e *entity[T]) {
			c := candidate{entity: idx, distSq: e.rect.DistanceSq(x, y)}
			switch {
			case found.Len() < k:
				found.Push(c)
			case c.distSq < reach():
				found.Replace(c)
			}
		})
	}

	ordered := make([]candidate, found.Len())
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i], _ = found.Pop()
	}

	for _, c := range ordered {
		fn(c.entity, &t.entities.at(c.entity).data, extent.Sqrt(c.distSq))
	}
}
