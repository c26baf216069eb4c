package quadtree

// Update calls fn once for every entity. When fn returns Changed, the entity
// rectangle is read again from its payload and the entity is queued for
// reinsertion or unlinked from leaves it left. The queued work is committed
// by the next normalization.
//
// The tree is normalized before the walk.
func (t *Quadtree[T]) Update(fn func(EntityIndex, *T) Status) {
	t.Normalize()
	t.enter("update")
	defer t.leave()

	t.updateTick ^= 1
	tick := t.updateTick

	t.walk(allChildren, func(f frame, n *node) {
		var prev linkIndex

		for li := n.head; li != 0; prev, li = li, t.links.at(li).next {
			l := t.links.at(li)
			idx := l.entity
			e := t.entities.at(idx)

			if e.updateTick != tick {
				e.updateTick = tick
				e.reinsertTick = tick ^ 1
				e.changed = false

				if !e.removed && fn(idx, &e.data) == Changed {
					e.rect = e.data.Bounds()
					e.changed = true
				}
			}

			if !e.changed {
				continue
			}

			if e.reinsertTick != tick && crossesEdge(e.rect, f.rect, l.flags) {
				e.reinsertTick = tick
				t.reinsertions = append(t.reinsertions, idx)
				t.markDirty(DirtySoft)
			}

			if leftLeaf(e.rect, f.rect, l.flags) {
				t.unlinks = append(t.unlinks, unlink{
					node: f.node,
					prev: prev,
					link: li,
				})
				t.markDirty(DirtySoft)
			}
		}
	})
}
