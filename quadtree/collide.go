package quadtree

const minPairBuckets = 64

// Collide calls fn once for every pair of overlapping entities, edges
// included. Leaves are scanned in storage order and every unordered pair of a
// leaf is tested. Pairs are only deduplicated when one of the entities is
// linked into several leaves, since pairs of entities confined to a single
// leaf can only meet once.
func (t *Quadtree[T]) Collide(fn func(a EntityIndex, dataA *T, b EntityIndex, dataB *T)) {
	t.normalizeIfDirty()
	t.enter("collide")
	defer t.leave()

	t.pairs.prepare()
	defer t.pairs.finish()

	for i := 1; i < t.nodes.bound(); i++ {
		n := t.nodes.at(nodeIndex(i))
		if !n.isLeaf() || n.count < 2 {
			continue
		}

		for li := n.head; li != 0; li = t.links.at(li).next {
			la := t.links.at(li)
			ia := la.entity
			a := t.entities.at(ia)

			for lj := la.next; lj != 0; lj = t.links.at(lj).next {
				ib := t.links.at(lj).entity
				b := t.entities.at(ib)

				if a.removed || b.removed || !a.rect.Intersects(b.rect) {
					continue
				}

				if (a.links > 1 || b.links > 1) && !t.pairs.insert(ia, ib) {
					continue
				}
				fn(ia, &a.data, ib, &b.data)
			}
		}
	}
}

type pairEntry struct {
	next     hashIndex
	a        EntityIndex
	b        EntityIndex
	nextFree uint32
}

func (e *pairEntry) freeNext() uint32     { return e.nextFree }
func (e *pairEntry) setFreeNext(i uint32) { e.nextFree = i }

// pairSet is a chained hash set of unordered entity pairs. It is cleared on
// each collision pass and sized from the number of pairs the previous pass
// stored.
type pairSet struct {
	buckets []hashIndex
	entries arena[hashIndex, pairEntry, *pairEntry]
	mask    uint32
	last    int
}

func newPairSet() pairSet {
	return pairSet{
		entries: newArena[hashIndex, pairEntry](minPairBuckets),
	}
}

func (s *pairSet) prepare() {
	size := nextPowerOfTwo(max(s.last*2, minPairBuckets))
	if len(s.buckets) != size {
		s.buckets = make([]hashIndex, size)
	} else {
		clear(s.buckets)
	}

	s.mask = uint32(size - 1)
	s.entries.reset()
}

func (s *pairSet) finish() {
	s.last = s.entries.len()
}

// insert adds the pair and reports whether it was absent.
func (s *pairSet) insert(a, b EntityIndex) bool {
	if a > b {
		a, b = b, a
	}

	h := hashPair(a, b) & s.mask
	for i := s.buckets[h]; i != 0; {
		e := s.entries.at(i)
		if e.a == a && e.b == b {
			return false
		}
		i = e.next
	}

	i := s.entries.acquire()
	e := s.entries.at(i)
	e.a = a
	e.b = b
	e.next = s.buckets[h]
	s.buckets[h] = i
	return true
}

func hashPair(a, b EntityIndex) uint32 {
	h := uint32(a)*48611 + uint32(b)*50261
	return h ^ h>>15
}
