package quadtree

// rebalance walks the tree top down, merging branches whose 4 children are
// leaves holding at most MergeThreshold links and splitting leaves holding at
// least SplitThreshold links. Children created by a split are walked too, so
// a crowded leaf is split down to the limits in one pass.
func (t *Quadtree[T]) rebalance() {
	t.pushRoot()

	for {
		f, ok := t.pop()
		if !ok {
			return
		}

		n := t.nodes.at(f.node)
		if !n.isLeaf() {
			if t.mergeable(n) {
				t.merge(f.node)
				continue
			}
			t.pushChildren(f, n, 0b1111)
			continue
		}

		if t.splittable(n, f) {
			t.split(f)
			t.pushChildren(f, t.nodes.at(f.node), 0b1111)
		}
	}
}

func (t *Quadtree[T]) splittable(n *node, f frame) bool {
	return int(n.count) >= t.config.SplitThreshold &&
		f.depth < t.config.MaxDepth &&
		f.rect.Width()*0.5 >= t.config.MinSize &&
		f.rect.Height()*0.5 >= t.config.MinSize
}

func (t *Quadtree[T]) mergeable(n *node) bool {
	var count uint32

	for _, ci := range n.children {
		c := t.nodes.at(ci)
		if !c.isLeaf() {
			return false
		}
		count += c.count
	}
	return int(count) <= t.config.MergeThreshold
}

// split turns a leaf into a branch of 4 leaves. Each link is moved to the
// first child its entity reaches and new links are created for the others.
func (t *Quadtree[T]) split(f frame) {
	var children [4]nodeIndex
	for i := range children {
		children[i] = t.nodes.acquire()
	}

	n := t.nodes.at(f.node)
	head := n.head
	for i, ci := range children {
		c := t.nodes.at(ci)
		c.kind = leaf
		c.flags = n.flags & childFlagMasks[i]
	}

	midX, midY := splitPoint(f.rect)
	for li := head; li != 0; {
		l := t.links.at(li)
		next, idx := l.next, l.entity
		mask := childMask(t.entities.at(idx).rect, midX, midY)

		moved := false
		for i, ci := range children {
			if mask&(1<<i) == 0 {
				continue
			}

			c := t.nodes.at(ci)
			if moved {
				t.linkEntity(c, idx)
				continue
			}

			l = t.links.at(li)
			l.next = c.head
			l.flags = c.flags
			c.head = li
			c.count++
			moved = true
		}
		li = next
	}

	n = t.nodes.at(f.node)
	n.kind = branch
	n.head = 0
	n.count = 0
	n.children = children
	t.splits++
}

// merge turns a branch of 4 leaves back into a leaf. Entities linked into
// several children keep their first link only.
func (t *Quadtree[T]) merge(ni nodeIndex) {
	n := t.nodes.at(ni)
	flags := n.flags
	children := n.children

	var head linkIndex
	var count uint32
	t.merged.reset()

	for _, ci := range children {
		for li := t.nodes.at(ci).head; li != 0; {
			l := t.links.at(li)
			next, idx := l.next, l.entity

			if t.merged.insert(idx) {
				l.next = head
				l.flags = flags
				head = li
				count++
			} else {
				t.links.release(li)
				t.entities.at(idx).links--
			}
			li = next
		}
		t.nodes.release(ci)
	}

	t.nodes.at(ni).setLeaf(head, count)
	t.merges++
}

// entitySet is an open addressing set of entity indices used to drop
// duplicate links while merging. It holds at most MergeThreshold entries and
// is sized to at least twice that.
type entitySet struct {
	slots []EntityIndex
	mask  uint32
}

func newEntitySet(mergeThreshold int) entitySet {
	size := nextPowerOfTwo(max(2*mergeThreshold, 8))
	return entitySet{
		slots: make([]EntityIndex, size),
		mask:  uint32(size - 1),
	}
}

func (s *entitySet) reset() {
	clear(s.slots)
}

// insert adds the index and reports whether it was absent.
func (s *entitySet) insert(idx EntityIndex) bool {
	h := hashEntity(uint32(idx)) & s.mask

	for {
		switch s.slots[h] {
		case 0:
			s.slots[h] = idx
			return true
		case idx:
			return false
		}
		h = (h + 1) & s.mask
	}
}

func hashEntity(v uint32) uint32 {
	v *= 0x9e3779b1
	return v ^ v>>16
}
