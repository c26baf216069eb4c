package quadtree

// compact copies the reachable nodes and links into the spare arenas in depth
// first order and swaps them in. Siblings end up contiguous, the links of a
// leaf end up contiguous and every free list is empty afterwards. When
// relabel is set, entities are copied too and renumbered in the order they
// are first met.
func (t *Quadtree[T]) compact(relabel bool) {
	nodes := &t.spareNodes
	links := &t.spareLinks
	nodes.reset()
	links.reset()

	if relabel {
		t.spareEntities.reset()
		if cap(t.relabel) < t.entities.bound() {
			t.relabel = make([]EntityIndex, t.entities.bound())
		}
		t.relabel = t.relabel[:t.entities.bound()]
		clear(t.relabel)
	}

	depth := 0
	root := nodes.acquire()
	t.push(frame{node: t.root, target: root})

	for {
		f, ok := t.pop()
		if !ok {
			break
		}

		old := t.nodes.at(f.node)
		nodes.at(f.target).flags = old.flags

		if !old.isLeaf() {
			var children [4]nodeIndex
			for i := range children {
				children[i] = nodes.acquire()
			}

			fresh := nodes.at(f.target)
			fresh.kind = branch
			fresh.children = children

			for i := 3; i >= 0; i-- {
				t.push(frame{
					node:   old.children[i],
					target: children[i],
					depth:  f.depth + 1,
				})
			}
			continue
		}

		depth = max(depth, f.depth)

		var head, tail linkIndex
		var count uint32
		for li := old.head; li != 0; li = t.links.at(li).next {
			l := t.links.at(li)

			idx := l.entity
			if relabel {
				idx = t.relabelEntity(idx)
			}

			nli := links.acquire()
			nl := links.at(nli)
			nl.entity = idx
			nl.flags = l.flags

			if tail == 0 {
				head = nli
			} else {
				links.at(tail).next = nli
			}
			tail = nli
			count++
		}

		nodes.at(f.target).setLeaf(head, count)
	}

	t.nodes, t.spareNodes = t.spareNodes, t.nodes
	t.links, t.spareLinks = t.spareLinks, t.links
	t.spareNodes.reset()
	t.spareLinks.reset()

	if relabel {
		t.entities, t.spareEntities = t.spareEntities, t.entities
		t.spareEntities.reset()
	}

	t.root = root
	t.depth = depth
}

func (t *Quadtree[T]) relabelEntity(old EntityIndex) EntityIndex {
	if idx := t.relabel[old]; idx != 0 {
		return idx
	}

	idx := t.spareEntities.acquire()
	*t.spareEntities.at(idx) = *t.entities.at(old)
	t.relabel[old] = idx
	return idx
}
