package quadtree

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadtree/extent"
)

// Normalize commits queued mutations, splits overfull leaves, merges
// underfull branches and compacts the tree storage. It panics when called
// from a traversal callback.
//
// Queued work is applied in this order: leaf unlinks found by the last
// update, reinsertions, removals and insertions. Unlinks are applied last
// recorded first since each one holds the position of its predecessor in a
// leaf list, which is only valid while later links of the same list are
// still in place.
func (t *Quadtree[T]) Normalize() {
	if t.busy {
		panic(errors.New("normalizing from a callback").
			WithType(ErrTypeReentrant).
			WithTag("tree", t.config.Name))
	}
	if t.dirty == DirtyNone {
		return
	}

	start := time.Now()
	relabel := t.dirty == DirtyHard

	t.enter("normalize")
	defer t.leave()

	t.applyUnlinks()
	t.applyReinsertions()
	t.applyRemovals()
	t.applyInsertions()

	t.splits = 0
	t.merges = 0
	t.rebalance()
	t.compact(relabel)
	t.dirty = DirtyNone

	if t.splits != 0 || t.merges != 0 {
		logs.WithTag("tree", t.config.Name).
			WithTag("splits", t.splits).
			WithTag("merges", t.merges).
			WithTag("depth", t.depth).
			WithTag("nodes", t.nodes.len()).
			Debug("quadtree rebalanced")
	}

	instrumentNormalize(t.config.Name, relabel, time.Since(start))
	instrumentRebalance(t.config.Name, t.splits, t.merges)
	instrumentShape(t.config.Name, t.entities.len(), t.nodes.len(), t.depth)
}

func (t *Quadtree[T]) applyUnlinks() {
	for i := len(t.unlinks) - 1; i >= 0; i-- {
		u := t.unlinks[i]

		l := t.links.at(u.link)
		next, idx := l.next, l.entity

		n := t.nodes.at(u.node)
		if u.prev == 0 {
			n.head = next
		} else {
			t.links.at(u.prev).next = next
		}
		n.count--
		t.links.release(u.link)

		e := t.entities.at(idx)
		e.links--
		if e.links == 0 && !e.removed && e.reinsertTick != t.updateTick {
			e.reinsertTick = t.updateTick
			t.reinsertions = append(t.reinsertions, idx)
		}
	}
	t.unlinks = t.unlinks[:0]
}

func (t *Quadtree[T]) applyReinsertions() {
	for _, idx := range t.reinsertions {
		e := t.entities.at(idx)
		if !e.alive || e.removed {
			continue
		}
		t.file(idx, e.rect, true)
	}
	t.reinsertions = t.reinsertions[:0]
}

func (t *Quadtree[T]) applyRemovals() {
	for _, idx := range t.removals {
		t.walk(rectChildren(t.entities.at(idx).rect), func(f frame, n *node) {
			t.unlinkEntity(n, idx)
		})

		// Fallback for links filed under a rectangle the entity no longer
		// has.
		if t.entities.at(idx).links != 0 {
			for i := 1; i < t.nodes.bound(); i++ {
				if n := t.nodes.at(nodeIndex(i)); n.isLeaf() {
					t.unlinkEntity(n, idx)
				}
			}
		}

		t.entities.release(idx)
	}
	t.removals = t.removals[:0]
}

func (t *Quadtree[T]) applyInsertions() {
	for i := range t.insertions {
		idx := t.entities.acquire()

		e := t.entities.at(idx)
		e.data = t.insertions[i].data
		e.rect = e.data.Bounds()
		e.alive = true
		e.updateTick = t.updateTick
		e.reinsertTick = t.updateTick

		t.file(idx, e.rect, false)
	}

	clear(t.insertions)
	t.insertions = t.insertions[:0]
}

// file links the entity into every leaf its rectangle reaches. When
// skipPresent is set, leaves already holding the entity are left untouched.
func (t *Quadtree[T]) file(idx EntityIndex, r extent.Rect, skipPresent bool) {
	t.walk(rectChildren(r), func(f frame, n *node) {
		if skipPresent && t.leafHolds(n, idx) {
			return
		}
		t.linkEntity(n, idx)
	})
}

func (t *Quadtree[T]) linkEntity(n *node, idx EntityIndex) {
	li := t.links.acquire()

	l := t.links.at(li)
	l.entity = idx
	l.flags = n.flags
	l.next = n.head

	n.head = li
	n.count++
	t.entities.at(idx).links++
}

func (t *Quadtree[T]) unlinkEntity(n *node, idx EntityIndex) bool {
	var prev linkIndex

	for li := n.head; li != 0; {
		l := t.links.at(li)
		if l.entity != idx {
			prev = li
			li = l.next
			continue
		}

		if prev == 0 {
			n.head = l.next
		} else {
			t.links.at(prev).next = l.next
		}
		n.count--
		t.links.release(li)
		t.entities.at(idx).links--
		return true
	}
	return false
}

func (t *Quadtree[T]) leafHolds(n *node, idx EntityIndex) bool {
	for li := n.head; li != 0; {
		l := t.links.at(li)
		if l.entity == idx {
			return true
		}
		li = l.next
	}
	return false
}
