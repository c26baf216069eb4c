package quadtree

import (
	"github.com/aukilabs/quadtree/extent"
)

// QueryRegion calls fn once for every entity overlapping r, edges included.
func (t *Quadtree[T]) QueryRegion(r extent.Rect, fn func(EntityIndex, *T)) {
	t.normalizeIfDirty()
	t.enter("query_region")
	defer t.leave()

	tick := t.nextQueryTick()
	t.walk(rectChildren(r), func(f frame, n *node) {
		t.visitEntities(n, tick, func(idx EntityIndex, e *entity[T]) {
			if e.rect.Intersects(r) {
				fn(idx, &e.data)
			}
		})
	})
}

// QueryCircle calls fn once for every entity overlapping the circle.
func (t *Quadtree[T]) QueryCircle(x, y, radius float32, fn func(EntityIndex, *T)) {
	t.normalizeIfDirty()
	t.enter("query_circle")
	defer t.leave()

	tick := t.nextQueryTick()
	t.walk(circleChildren(t, x, y, radius), func(f frame, n *node) {
		t.visitEntities(n, tick, func(idx EntityIndex, e *entity[T]) {
			if e.rect.IntersectsCircle(x, y, radius) {
				fn(idx, &e.data)
			}
		})
	})
}

// QueryNodesRegion calls fn for every leaf overlapping r.
func (t *Quadtree[T]) QueryNodesRegion(r extent.Rect, fn func(*NodeInfo)) {
	t.normalizeIfDirty()
	t.enter("query_nodes_region")
	defer t.leave()

	var info NodeInfo
	t.walk(rectChildren(r), func(f frame, n *node) {
		fillNodeInfo(&info, f, n)
		fn(&info)
	})
}

// QueryNodesCircle calls fn for every leaf overlapping the circle.
func (t *Quadtree[T]) QueryNodesCircle(x, y, radius float32, fn func(*NodeInfo)) {
	t.normalizeIfDirty()
	t.enter("query_nodes_circle")
	defer t.leave()

	var info NodeInfo
	t.walk(circleChildren(t, x, y, radius), func(f frame, n *node) {
		fillNodeInfo(&info, f, n)
		fn(&info)
	})
}

func fillNodeInfo(info *NodeInfo, f frame, n *node) {
	*info = NodeInfo{
		Index:  uint32(f.node),
		Extent: f.rect.Half(),
		Depth:  f.depth,
		Count:  int(n.count),
		Flags:  n.flags,
	}
}

// visitEntities calls fn for the entities of a leaf not yet seen during the
// current query. Entities queued for removal are skipped.
func (t *Quadtree[T]) visitEntities(n *node, tick uint32, fn func(EntityIndex, *entity[T])) {
	for li := n.head; li != 0; {
		l := t.links.at(li)
		li = l.next

		e := t.entities.at(l.entity)
		if e.queryTick == tick {
			continue
		}
		e.queryTick = tick

		if e.removed {
			continue
		}
		fn(l.entity, e)
	}
}
