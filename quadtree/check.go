package quadtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Check normalizes the tree and validates its whole structure. It returns an
// error describing the first inconsistency found. It walks every node and
// entity and is meant for tests and debugging.
func (t *Quadtree[T]) Check() error {
	t.Normalize()
	t.enter("check")
	defer t.leave()

	if t.nodes.free != 0 || t.links.free != 0 || t.entities.free != 0 {
		return errors.New("free list left after normalization").
			WithType(ErrTypeCorrupted).
			WithTag("tree", t.config.Name)
	}

	occurrences := make([]uint32, t.entities.bound())
	seen := make(map[EntityIndex]struct{}, t.config.SplitThreshold)
	nodes := 0
	links := 0

	t.pushRoot()
	for {
		f, ok := t.pop()
		if !ok {
			break
		}
		nodes++

		n := t.nodes.at(f.node)
		if f.depth > t.depth || f.depth > t.config.MaxDepth {
			return errors.New("node deeper than the tree depth").
				WithType(ErrTypeCorrupted).
				WithTag("node", f.node).
				WithTag("depth", f.depth).
				WithTag("tree_depth", t.depth)
		}

		if !n.isLeaf() {
			for i, ci := range n.children {
				if ci == 0 || int(ci) >= t.nodes.bound() {
					return errors.New("branch with an invalid child").
						WithType(ErrTypeCorrupted).
						WithTag("node", f.node).
						WithTag("child", ci)
				}

				if flags := t.nodes.at(ci).flags; flags != n.flags&childFlagMasks[i] {
					return errors.New("child with invalid position flags").
						WithType(ErrTypeCorrupted).
						WithTag("node", ci).
						WithTag("flags", flags).
						WithTag("parent_flags", n.flags)
				}
			}
			t.pushChildren(f, n, 0b1111)
			continue
		}

		loose := loosen(f.rect, n.flags)
		count := 0
		clear(seen)

		for li := n.head; li != 0; li = t.links.at(li).next {
			links++
			count++
			if count > t.links.bound() {
				return errors.New("cycle in a leaf list").
					WithType(ErrTypeCorrupted).
					WithTag("node", f.node)
			}

			l := t.links.at(li)
			if l.flags != n.flags {
				return errors.New("link flags do not match its leaf").
					WithType(ErrTypeCorrupted).
					WithTag("node", f.node).
					WithTag("link", li)
			}

			if l.entity == 0 || int(l.entity) >= t.entities.bound() || !t.entities.at(l.entity).alive {
				return errors.New("link to a dead entity").
					WithType(ErrTypeCorrupted).
					WithTag("node", f.node).
					WithTag("entity", l.entity)
			}

			if _, dup := seen[l.entity]; dup {
				return errors.New("entity linked twice into a leaf").
					WithType(ErrTypeCorrupted).
					WithTag("node", f.node).
					WithTag("entity", l.entity)
			}
			seen[l.entity] = struct{}{}

			if !t.entities.at(l.entity).rect.Intersects(loose) {
				return errors.New("entity linked into a leaf it does not overlap").
					WithType(ErrTypeCorrupted).
					WithTag("node", f.node).
					WithTag("entity", l.entity)
			}
			occurrences[l.entity]++
		}

		if count != int(n.count) {
			return errors.New("leaf count does not match its list").
				WithType(ErrTypeCorrupted).
				WithTag("node", f.node).
				WithTag("count", n.count).
				WithTag("links", count)
		}

		if t.splittable(n, f) {
			return errors.New("leaf left above the split threshold").
				WithType(ErrTypeCorrupted).
				WithTag("node", f.node).
				WithTag("count", n.count)
		}
	}

	if nodes != t.nodes.len() || links != t.links.len() {
		return errors.New("unreachable records").
			WithType(ErrTypeCorrupted).
			WithTag("reachable_nodes", nodes).
			WithTag("nodes", t.nodes.len()).
			WithTag("reachable_links", links).
			WithTag("links", t.links.len())
	}

	live := 0
	for i := 1; i < t.entities.bound(); i++ {
		idx := EntityIndex(i)
		e := t.entities.at(idx)
		if !e.alive {
			continue
		}
		live++

		if e.links == 0 || e.links != occurrences[idx] {
			return errors.New("entity link counter does not match its links").
				WithType(ErrTypeCorrupted).
				WithTag("entity", idx).
				WithTag("counter", e.links).
				WithTag("links", occurrences[idx])
		}

		// Every link sits in a leaf the entity overlaps, so matching counts
		// means the entity is in every leaf it overlaps.
		reached := 0
		t.walk(rectChildren(e.rect), func(frame, *node) {
			reached++
		})
		if reached != int(e.links) {
			return errors.New("entity missing from a leaf it overlaps").
				WithType(ErrTypeCorrupted).
				WithTag("entity", idx).
				WithTag("leaves", reached).
				WithTag("links", e.links)
		}
	}

	if live != t.entities.len() {
		return errors.New("entity count mismatch").
			WithType(ErrTypeCorrupted).
			WithTag("live", live).
			WithTag("entities", t.entities.len())
	}
	return nil
}
