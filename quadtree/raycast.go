package quadtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/extent"
)

// Raycast casts a ray from (x, y) along (dx, dy) and calls fn each time an
// entity is hit strictly closer than the previous hit, up to maxDistance. It
// returns the distance to the closest hit, 0 when the origin is inside it,
// or +Inf when nothing was hit. It panics when the direction is zero.
func (t *Quadtree[T]) Raycast(x, y, dx, dy, maxDistance float32, fn func(EntityIndex, *T)) float32 {
	ray, length := extent.Ray{X: x, Y: y, DX: dx, DY: dy}.Normalize()
	if length == 0 {
		panic(errors.New("raycast with a zero direction").
			WithType(ErrTypeInvalidArg).
			WithTag("tree", t.config.Name))
	}

	t.normalizeIfDirty()
	t.enter("raycast")
	defer t.leave()

	best := extent.Inf(1)
	reach := func() float32 {
		return min(best, maxDistance)
	}
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
			t.pushAlongRay(f, n, ray, reach())
			continue
		}

		t.visitEntities(n, tick, func(idx EntityIndex, e *entity[T]) {
			d, hit := ray.Distance(e.rect)
			if hit && d <= maxDistance && d < best {
				best = d
				fn(idx, &e.data)
			}
		})
	}
	return best
}

// pushAlongRay pushes the children the ray enters within reach, farthest
// entry first.
func (t *Quadtree[T]) pushAlongRay(f frame, n *node, ray extent.Ray, reach float32) {
	midX, midY := splitPoint(f.rect)

	var order [4]frame
	count := 0

	for i := 0; i < 4; i++ {
		ci := n.children[i]
		rect := childRect(f.rect, midX, midY, i)

		d, hit := ray.Distance(loosen(rect, t.nodes.at(ci).flags))
		if !hit || d > reach {
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
