package quadtree

import (
	"math/rand"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/extent"
	"github.com/stretchr/testify/require"
)

type box struct {
	id   int
	rect extent.Rect
}

func (b box) Bounds() extent.Rect {
	return b.rect
}

func newBox(id int, x, y, w, h float32) box {
	return box{id: id, rect: extent.NewHalf(x, y, w, h).Rect()}
}

func newTestTree(t *testing.T, c Config) *Quadtree[box] {
	if c.Extent == (extent.Half{}) {
		c.Extent = extent.NewHalf(0, 0, 512, 512)
	}

	tree, err := New[box](c)
	require.NoError(t, err)
	return tree
}

func randomBoxes(rng *rand.Rand, n int, world float32, maxSize float32) []box {
	boxes := make([]box, n)
	for i := range boxes {
		boxes[i] = newBox(i,
			(rng.Float32()*2-1)*world,
			(rng.Float32()*2-1)*world,
			1+rng.Float32()*maxSize,
			1+rng.Float32()*maxSize,
		)
	}
	return boxes
}

var everywhere = extent.NewRect(extent.Inf(-1), extent.Inf(-1), extent.Inf(1), extent.Inf(1))

// indices maps payload ids to their current entity index.
func indices(tree *Quadtree[box]) map[int]EntityIndex {
	m := make(map[int]EntityIndex)
	tree.QueryRegion(everywhere, func(idx EntityIndex, b *box) {
		m[b.id] = idx
	})
	return m
}

func TestNewConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		tree := newTestTree(t, Config{})
		c := tree.Config()
		require.Equal(t, DefaultSplitThreshold, c.SplitThreshold)
		require.Equal(t, DefaultMergeThreshold, c.MergeThreshold)
		require.Equal(t, DefaultMaxDepth, c.MaxDepth)
		require.Equal(t, float32(DefaultMinSize), c.MinSize)
		require.Equal(t, 0, tree.Depth())
		require.NoError(t, tree.Check())
	})

	t.Run("merge threshold derived from split threshold", func(t *testing.T) {
		tree := newTestTree(t, Config{SplitThreshold: 3})
		require.Equal(t, 2, tree.Config().MergeThreshold)
	})

	t.Run("merge threshold not below split threshold", func(t *testing.T) {
		_, err := New[box](Config{
			Extent:         extent.NewHalf(0, 0, 10, 10),
			SplitThreshold: 4,
			MergeThreshold: 4,
		})
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
	})

	t.Run("invalid extent", func(t *testing.T) {
		_, err := New[box](Config{Extent: extent.NewHalf(0, 0, 0, 10)})
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
	})
}

func TestInsertDeferred(t *testing.T) {
	tree := newTestTree(t, Config{})

	tree.Insert(newBox(1, 0, 0, 1, 1))
	require.Equal(t, DirtyHard, tree.Dirty())
	require.Equal(t, Pending{Insertions: 1}, tree.Pending())
	require.Zero(t, tree.Len())

	tree.Normalize()
	require.Equal(t, DirtyNone, tree.Dirty())
	require.Equal(t, 1, tree.Len())

	idx := indices(tree)[1]
	require.NotZero(t, idx)
	require.Equal(t, 1, tree.Get(idx).id)
	require.Nil(t, tree.Get(0))
	require.Nil(t, tree.Get(42))
}

func TestRoundTripMembership(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tree := newTestTree(t, Config{})

	boxes := randomBoxes(rng, 3000, 600, 40)
	for _, b := range boxes {
		tree.Insert(b)
	}
	require.NoError(t, tree.Check())
	require.Equal(t, len(boxes), tree.Len())
	require.Greater(t, tree.Depth(), 2)

	byID := indices(tree)
	require.Len(t, byID, len(boxes))

	for _, b := range boxes {
		hits := 0
		tree.QueryRegion(b.rect, func(idx EntityIndex, found *box) {
			if found.id == b.id {
				require.Equal(t, byID[b.id], idx)
				hits++
			}
		})
		require.Equal(t, 1, hits, "box %d", b.id)
	}
}

func TestQueryRegionMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	tree := newTestTree(t, Config{SplitThreshold: 5, MergeThreshold: 2})

	boxes := randomBoxes(rng, 1000, 500, 30)
	for _, b := range boxes {
		tree.Insert(b)
	}

	for i := 0; i < 50; i++ {
		q := extent.NewHalf(
			(rng.Float32()*2-1)*500,
			(rng.Float32()*2-1)*500,
			rng.Float32()*120,
			rng.Float32()*120,
		).Rect()

		expected := make(map[int]bool)
		for _, b := range boxes {
			if b.rect.Intersects(q) {
				expected[b.id] = true
			}
		}

		got := make(map[int]bool)
		tree.QueryRegion(q, func(_ EntityIndex, b *box) {
			require.False(t, got[b.id], "box %d reported twice", b.id)
			got[b.id] = true
		})
		require.Equal(t, expected, got)
	}
}

func TestQueryCircleMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tree := newTestTree(t, Config{})

	boxes := randomBoxes(rng, 1000, 500, 30)
	for _, b := range boxes {
		tree.Insert(b)
	}

	for i := 0; i < 50; i++ {
		x := (rng.Float32()*2 - 1) * 500
		y := (rng.Float32()*2 - 1) * 500
		r := rng.Float32() * 150

		expected := make(map[int]bool)
		for _, b := range boxes {
			if b.rect.IntersectsCircle(x, y, r) {
				expected[b.id] = true
			}
		}

		got := make(map[int]bool)
		tree.QueryCircle(x, y, r, func(_ EntityIndex, b *box) {
			require.False(t, got[b.id])
			got[b.id] = true
		})
		require.Equal(t, expected, got)
	}
}

func TestQueryNodes(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	tree := newTestTree(t, Config{})

	for _, b := range randomBoxes(rng, 500, 500, 10) {
		tree.Insert(b)
	}

	total := 0
	tree.QueryNodesRegion(tree.world, func(info *NodeInfo) {
		require.NotZero(t, info.Index)
		require.LessOrEqual(t, info.Depth, tree.Depth())
		require.Less(t, info.Count, tree.Config().SplitThreshold)
		total++
	})
	require.Greater(t, total, 1)

	circle := 0
	tree.QueryNodesCircle(0, 0, 1, func(info *NodeInfo) {
		require.True(t, info.Extent.Rect().IntersectsCircle(0, 0, 1))
		circle++
	})
	require.GreaterOrEqual(t, circle, 1)
	require.Less(t, circle, total)
}

func TestEntitiesOutsideWorld(t *testing.T) {
	tree := newTestTree(t, Config{Extent: extent.NewHalf(0, 0, 10, 10), SplitThreshold: 2, MergeThreshold: 1})

	tree.Insert(newBox(1, 1000, 1000, 1, 1))
	tree.Insert(newBox(2, -1000, 3, 1, 1))
	tree.Insert(newBox(3, 2, 2, 1, 1))
	tree.Insert(newBox(4, -2, -2, 1, 1))
	require.NoError(t, tree.Check())

	var found []int
	tree.QueryRegion(extent.NewHalf(1000, 1000, 2, 2).Rect(), func(_ EntityIndex, b *box) {
		found = append(found, b.id)
	})
	require.Equal(t, []int{1}, found)

	found = nil
	tree.QueryCircle(-1000, 3, 5, func(_ EntityIndex, b *box) {
		found = append(found, b.id)
	})
	require.Equal(t, []int{2}, found)
}

func TestSplitScenario(t *testing.T) {
	tree := newTestTree(t, Config{Extent: extent.NewHalf(0, 0, 100, 100)})
	split := tree.Config().SplitThreshold

	tree.Insert(box{id: 0, rect: tree.world})
	for i := 1; i <= split; i++ {
		tree.Insert(newBox(i, 50+float32(i)*0.1, 50+float32(i)*0.1, 0.05, 0.05))
	}
	require.NoError(t, tree.Check())
	require.GreaterOrEqual(t, tree.Depth(), 1)

	root := tree.nodes.at(tree.root)
	require.False(t, root.isLeaf())

	clustered := -1
	for i, ci := range root.children {
		c := tree.nodes.at(ci)
		if !c.isLeaf() {
			require.Equal(t, -1, clustered)
			clustered = i
			continue
		}
		require.Equal(t, uint32(1), c.count)
		require.Equal(t, 0, tree.entities.at(tree.links.at(c.head).entity).data.id)
	}
	require.Equal(t, 3, clustered)

	ids := make(map[int]bool)
	tree.QueryRegion(extent.NewRect(1, 1, 99, 99), func(_ EntityIndex, b *box) {
		ids[b.id] = true
	})
	require.Len(t, ids, split+1)
	require.True(t, ids[0])
}

func TestUpdateVisitsOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	tree := newTestTree(t, Config{})

	boxes := randomBoxes(rng, 800, 500, 10)
	// Large boxes spanning many leaves.
	for i := 0; i < 20; i++ {
		boxes = append(boxes, newBox(len(boxes), (rng.Float32()*2-1)*300, (rng.Float32()*2-1)*300, 200, 150))
	}
	for _, b := range boxes {
		tree.Insert(b)
	}
	tree.Normalize()

	spanning := 0
	for i := 1; i < tree.entities.bound(); i++ {
		if tree.entities.at(EntityIndex(i)).links > 1 {
			spanning++
		}
	}
	require.Greater(t, spanning, 20)

	for tick := 0; tick < 5; tick++ {
		visits := make(map[int]int)
		tree.Update(func(_ EntityIndex, b *box) Status {
			visits[b.id]++
			return Unchanged
		})
		require.Len(t, visits, len(boxes))
		for id, n := range visits {
			require.Equal(t, 1, n, "box %d", id)
		}
	}
	require.NoError(t, tree.Check())
}

func TestUpdateMovesEntities(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	tree := newTestTree(t, Config{Extent: extent.NewHalf(0, 0, 256, 256)})

	boxes := randomBoxes(rng, 1500, 256, 12)
	velocities := make(map[int][2]float32, len(boxes))
	for _, b := range boxes {
		velocities[b.id] = [2]float32{(rng.Float32()*2 - 1) * 8, (rng.Float32()*2 - 1) * 8}
		tree.Insert(b)
	}
	tree.Normalize()

	for tick := 0; tick < 60; tick++ {
		tree.Update(func(_ EntityIndex, b *box) Status {
			if b.id%3 == 0 {
				return Unchanged
			}

			v := velocities[b.id]
			b.rect = b.rect.Translate(v[0], v[1])
			if tick%20 == 19 {
				// Grow some boxes so they straddle more leaves.
				b.rect.MaxX += 5
			}
			return Changed
		})
		require.NotEqual(t, DirtyHard, tree.Dirty())
		require.NoError(t, tree.Check(), "tick %d", tick)
	}

	current := make(map[int]extent.Rect, len(boxes))
	tree.QueryRegion(everywhere, func(_ EntityIndex, b *box) {
		current[b.id] = b.rect
	})
	require.Len(t, current, len(boxes))

	for id, r := range current {
		hits := 0
		tree.QueryRegion(r, func(_ EntityIndex, b *box) {
			if b.id == id {
				hits++
			}
		})
		require.Equal(t, 1, hits)
	}
}

func TestUpdateKeepsIndicesStable(t *testing.T) {
	tree := newTestTree(t, Config{})
	for i := 0; i < 100; i++ {
		tree.Insert(newBox(i, float32(i*10-500), 0, 2, 2))
	}

	before := indices(tree)
	tree.Update(func(_ EntityIndex, b *box) Status {
		b.rect = b.rect.Translate(0, 300)
		return Changed
	})
	require.Equal(t, DirtySoft, tree.Dirty())
	require.Zero(t, tree.Pending().Insertions)
	require.NotZero(t, tree.Pending().Reinsertions)
	tree.Normalize()
	require.Equal(t, Pending{}, tree.Pending())
	require.Equal(t, before, indices(tree))
	require.NoError(t, tree.Check())
}

func TestHysteresis(t *testing.T) {
	tree := newTestTree(t, Config{
		Extent:         extent.NewHalf(0, 0, 100, 100),
		SplitThreshold: 8,
		MergeThreshold: 3,
	})

	quadrants := [4][2]float32{{-50, -50}, {50, -50}, {-50, 50}, {50, 50}}
	insert := func(id int) {
		q := quadrants[id%4]
		tree.Insert(newBox(id, q[0]+float32(id), q[1], 0.5, 0.5))
	}

	t.Run("leaf between thresholds stays a leaf", func(t *testing.T) {
		for i := 0; i < 6; i++ {
			insert(i)
		}
		for i := 0; i < 5; i++ {
			require.Equal(t, 0, tree.Depth())
			require.Equal(t, 1, tree.Nodes())
			tree.Normalize()
			tree.Update(func(EntityIndex, *box) Status { return Changed })
		}
		require.NoError(t, tree.Check())
	})

	t.Run("branch between thresholds stays a branch", func(t *testing.T) {
		insert(6)
		insert(7)
		require.Equal(t, 1, tree.Depth())
		require.Equal(t, 5, tree.Nodes())

		byID := indices(tree)
		tree.Remove(byID[6])
		tree.Remove(byID[7])
		tree.Remove(byID[5])
		require.Equal(t, 1, tree.Depth())
		require.Equal(t, 5, tree.Len())

		for i := 0; i < 5; i++ {
			tree.Update(func(EntityIndex, *box) Status { return Changed })
			require.Equal(t, 1, tree.Depth())
		}
		require.NoError(t, tree.Check())
	})

	t.Run("branch merges at merge threshold", func(t *testing.T) {
		byID := indices(tree)
		tree.Remove(byID[4])
		tree.Remove(byID[3])
		require.Equal(t, 0, tree.Depth())
		require.Equal(t, 1, tree.Nodes())
		require.Equal(t, 3, tree.Len())
		require.NoError(t, tree.Check())
	})
}

func TestMergeDropsDuplicateLinks(t *testing.T) {
	tree := newTestTree(t, Config{
		Extent:         extent.NewHalf(0, 0, 100, 100),
		SplitThreshold: 5,
		MergeThreshold: 4,
	})

	// A box over the center is linked into all 4 children.
	tree.Insert(newBox(0, 0, 0, 5, 5))
	corners := [4][2]float32{{-50, -50}, {50, -50}, {-50, 50}, {50, 50}}
	for i, c := range corners {
		tree.Insert(newBox(i+1, c[0], c[1], 1, 1))
	}
	require.Equal(t, 1, tree.Depth())

	byID := indices(tree)
	require.Equal(t, uint32(4), tree.entities.at(byID[0]).links)

	for i := 1; i <= 4; i++ {
		tree.Remove(byID[i])
	}
	require.Equal(t, 0, tree.Depth())
	require.NoError(t, tree.Check())

	byID = indices(tree)
	require.Len(t, byID, 1)
	require.Equal(t, uint32(1), tree.entities.at(byID[0]).links)
}

func TestRemove(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tree := newTestTree(t, Config{})

	boxes := randomBoxes(rng, 1000, 500, 20)
	for _, b := range boxes {
		tree.Insert(b)
	}

	removed := make(map[int]bool)
	byID := indices(tree)
	for id, idx := range byID {
		if id%2 == 0 {
			tree.Remove(idx)
			removed[id] = true
		}
	}
	require.NoError(t, tree.Check())
	require.Equal(t, len(boxes)-len(removed), tree.Len())

	tree.QueryRegion(everywhere, func(_ EntityIndex, b *box) {
		require.False(t, removed[b.id])
	})
	for i := 1; i < tree.links.bound(); i++ {
		l := tree.links.at(linkIndex(i))
		require.False(t, removed[tree.entities.at(l.entity).data.id])
	}

	for i := 0; i < 200; i++ {
		tree.Insert(newBox(len(boxes)+i, 0, 0, 3, 3))
	}
	require.NoError(t, tree.Check())
	require.Equal(t, len(boxes)-len(removed)+200, tree.Len())
	require.Equal(t, tree.Len()+1, tree.entities.bound())
}

func TestRemoveFromCallback(t *testing.T) {
	tree := newTestTree(t, Config{})
	for i := 0; i < 100; i++ {
		tree.Insert(newBox(i, float32(i*10-500), float32(i*5-250), 3, 3))
	}
	tree.Normalize()

	tree.QueryRegion(everywhere, func(idx EntityIndex, b *box) {
		if b.id < 50 {
			tree.Remove(idx)
		}
		if b.id == 99 {
			tree.Insert(newBox(100, 0, 0, 1, 1))
		}
	})
	require.Equal(t, DirtyHard, tree.Dirty())
	require.NoError(t, tree.Check())
	require.Equal(t, 51, tree.Len())

	tree.Update(func(idx EntityIndex, b *box) Status {
		if b.id == 100 {
			tree.Remove(idx)
		}
		return Unchanged
	})
	require.NoError(t, tree.Check())
	require.Equal(t, 50, tree.Len())
}

func TestPreconditions(t *testing.T) {
	tree := newTestTree(t, Config{})
	tree.Insert(newBox(1, 0, 0, 1, 1))
	tree.Normalize()

	require.Panics(t, func() { tree.Remove(0) })
	require.Panics(t, func() { tree.Remove(EntityIndex(tree.entities.bound())) })

	idx := indices(tree)[1]
	tree.Remove(idx)
	require.Panics(t, func() { tree.Remove(idx) })
	tree.Normalize()

	tree.Insert(newBox(2, 0, 0, 1, 1))
	require.Panics(t, func() {
		tree.QueryRegion(everywhere, func(EntityIndex, *box) {
			tree.QueryRegion(everywhere, func(EntityIndex, *box) {})
		})
	})

	tree = newTestTree(t, Config{})
	tree.Insert(newBox(1, 0, 0, 1, 1))
	tree.Normalize()
	require.Panics(t, func() {
		tree.Update(func(EntityIndex, *box) Status {
			tree.Normalize()
			return Unchanged
		})
	})

	tree = newTestTree(t, Config{})
	require.Panics(t, func() {
		tree.Raycast(0, 0, 0, 0, 10, func(EntityIndex, *box) {})
	})
}

func TestStackBound(t *testing.T) {
	const maxDepth = 6

	rng := rand.New(rand.NewSource(8))
	tree := newTestTree(t, Config{
		Extent:         extent.NewHalf(0, 0, 1024, 1024),
		SplitThreshold: 2,
		MergeThreshold: 1,
		MaxDepth:       maxDepth,
		MinSize:        0.001,
	})

	for i := 0; i < 2000; i++ {
		tree.Insert(newBox(i, rng.Float32()*4, rng.Float32()*4, 0.01, 0.01))
	}
	for _, b := range randomBoxes(rng, 500, 1024, 3) {
		b.id += 2000
		tree.Insert(b)
	}
	require.NoError(t, tree.Check())
	require.Equal(t, maxDepth, tree.Depth())

	tree.QueryRegion(everywhere, func(EntityIndex, *box) {})
	tree.QueryNodesCircle(0, 0, 2048, func(*NodeInfo) {})
	tree.NearestInCircle(1, 1, 5000, func(EntityIndex, *box) {})
	tree.NearestK(1, 1, 10, func(EntityIndex, *box, float32) {})
	tree.Raycast(-2000, 1, 1, 0.001, 5000, func(EntityIndex, *box) {})
	tree.Collide(func(EntityIndex, *box, EntityIndex, *box) {})
	tree.Update(func(_ EntityIndex, b *box) Status {
		b.rect = b.rect.Translate(0.5, 0.5)
		return Changed
	})
	require.NoError(t, tree.Check())

	require.Greater(t, tree.StackHigh(), 1)
	require.LessOrEqual(t, tree.StackHigh(), stackBound(maxDepth))
}

func TestQueryTickWrap(t *testing.T) {
	tree := newTestTree(t, Config{})
	tree.Insert(newBox(1, 0, 0, 600, 600))
	tree.Insert(newBox(2, 0, 0, 1, 1))
	tree.Normalize()

	tree.queryTick = ^uint32(0) - 1
	for i := 0; i < 3; i++ {
		n := 0
		tree.QueryRegion(everywhere, func(EntityIndex, *box) { n++ })
		require.Equal(t, 2, n)
	}
	require.Less(t, tree.queryTick, uint32(10))
}
