package quadtree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/aukilabs/quadtree/extent"
	"github.com/stretchr/testify/require"
)

type pair struct {
	a int
	b int
}

func orderedPair(a, b int) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a: a, b: b}
}

func TestCollideMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	tree := newTestTree(t, Config{Extent: extent.NewHalf(0, 0, 200, 200)})

	boxes := randomBoxes(rng, 600, 220, 15)
	for _, b := range boxes {
		tree.Insert(b)
	}

	expected := make(map[pair]bool)
	for i := range boxes {
		for j := i + 1; j < len(boxes); j++ {
			if boxes[i].rect.Intersects(boxes[j].rect) {
				expected[orderedPair(boxes[i].id, boxes[j].id)] = true
			}
		}
	}
	require.NotEmpty(t, expected)

	for pass := 0; pass < 3; pass++ {
		got := make(map[pair]bool)
		tree.Collide(func(ia EntityIndex, a *box, ib EntityIndex, b *box) {
			require.NotEqual(t, ia, ib)
			p := orderedPair(a.id, b.id)
			require.False(t, got[p], "pair %v reported twice", p)
			got[p] = true
		})
		require.Equal(t, expected, got)
	}
	require.NoError(t, tree.Check())
}

func TestCollideSkipsRemoved(t *testing.T) {
	tree := newTestTree(t, Config{})
	tree.Insert(newBox(1, 0, 0, 2, 2))
	tree.Insert(newBox(2, 1, 1, 2, 2))
	tree.Insert(newBox(3, 2, 2, 2, 2))
	tree.Normalize()

	var pairs []pair
	tree.Collide(func(_ EntityIndex, a *box, _ EntityIndex, b *box) {
		pairs = append(pairs, orderedPair(a.id, b.id))
	})
	require.Len(t, pairs, 3)

	byID := indices(tree)
	removed := false
	tree.Collide(func(_ EntityIndex, a *box, _ EntityIndex, b *box) {
		if removed {
			require.NotEqual(t, 2, a.id)
			require.NotEqual(t, 2, b.id)
			return
		}
		tree.Remove(byID[2])
		removed = true
	})
	require.True(t, removed)

	pairs = nil
	tree.Collide(func(_ EntityIndex, a *box, _ EntityIndex, b *box) {
		pairs = append(pairs, orderedPair(a.id, b.id))
	})
	require.Equal(t, []pair{{a: 1, b: 3}}, pairs)
}

func TestMovingBoxesCollideOnSecondTick(t *testing.T) {
	tree := newTestTree(t, Config{Extent: extent.NewHalf(0, 0, 100, 100)})
	tree.Insert(box{id: 1, rect: extent.NewRect(0, 0, 10, 10)})
	tree.Insert(box{id: 2, rect: extent.NewRect(15, 0, 25, 10)})

	var collisions []int
	for tick := 0; tick < 2; tick++ {
		n := 0
		tree.Collide(func(EntityIndex, *box, EntityIndex, *box) {
			n++
		})
		collisions = append(collisions, n)

		tree.Update(func(_ EntityIndex, b *box) Status {
			if b.id == 1 {
				b.rect = b.rect.Translate(3, 0)
			} else {
				b.rect = b.rect.Translate(-3, 0)
			}
			return Changed
		})
		tree.Normalize()
	}
	require.Equal(t, []int{0, 1}, collisions)
}

func TestNearestInCircle(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tree := newTestTree(t, Config{})

	boxes := randomBoxes(rng, 1000, 500, 10)
	for _, b := range boxes {
		tree.Insert(b)
	}

	for i := 0; i < 100; i++ {
		x := (rng.Float32()*2 - 1) * 600
		y := (rng.Float32()*2 - 1) * 600
		radius := rng.Float32() * 80

		best := extent.Inf(1)
		for _, b := range boxes {
			if d := b.rect.DistanceSq(x, y); d <= radius*radius && d < best {
				best = d
			}
		}

		var last *box
		d := tree.NearestInCircle(x, y, radius, func(_ EntityIndex, b *box) {
			last = b
		})

		if best == extent.Inf(1) {
			require.Nil(t, last)
			require.Equal(t, extent.Inf(1), d)
			continue
		}
		require.NotNil(t, last)
		require.Equal(t, best, last.rect.DistanceSq(x, y))
		require.Equal(t, extent.Sqrt(best), d)
	}
}

func TestNearestInRect(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	tree := newTestTree(t, Config{})

	boxes := randomBoxes(rng, 1000, 500, 10)
	for _, b := range boxes {
		tree.Insert(b)
	}

	for i := 0; i < 100; i++ {
		x := (rng.Float32()*2 - 1) * 500
		y := (rng.Float32()*2 - 1) * 500
		bound := extent.NewHalf(
			(rng.Float32()*2-1)*500,
			(rng.Float32()*2-1)*500,
			rng.Float32()*100,
			rng.Float32()*100,
		).Rect()

		best := extent.Inf(1)
		for _, b := range boxes {
			if !b.rect.Intersects(bound) {
				continue
			}
			if d := b.rect.DistanceSq(x, y); d < best {
				best = d
			}
		}

		var last *box
		d := tree.NearestInRect(x, y, bound, func(_ EntityIndex, b *box) {
			require.True(t, b.rect.Intersects(bound))
			last = b
		})

		if best == extent.Inf(1) {
			require.Nil(t, last)
			continue
		}
		require.Equal(t, best, last.rect.DistanceSq(x, y))
		require.Equal(t, extent.Sqrt(best), d)
	}
}

func TestNearestK(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	tree := newTestTree(t, Config{})

	boxes := randomBoxes(rng, 1000, 500, 10)
	for _, b := range boxes {
		tree.Insert(b)
	}

	for _, k := range []int{1, 5, 32, 2000} {
		x := (rng.Float32()*2 - 1) * 500
		y := (rng.Float32()*2 - 1) * 500

		distances := make([]float32, len(boxes))
		for i, b := range boxes {
			distances[i] = extent.Sqrt(b.rect.DistanceSq(x, y))
		}
		sort.Slice(distances, func(i, j int) bool {
			return distances[i] < distances[j]
		})
		if k < len(distances) {
			distances = distances[:k]
		}

		var got []float32
		ids := make(map[int]bool)
		tree.NearestK(x, y, k, func(_ EntityIndex, b *box, d float32) {
			require.False(t, ids[b.id])
			ids[b.id] = true
			require.Equal(t, extent.Sqrt(b.rect.DistanceSq(x, y)), d)
			got = append(got, d)
		})
		require.Equal(t, distances, got)
	}

	called := false
	tree.NearestK(0, 0, 0, func(EntityIndex, *box, float32) {
		called = true
	})
	require.False(t, called)
}

func TestRaycast(t *testing.T) {
	t.Run("first hit along the ray", func(t *testing.T) {
		tree := newTestTree(t, Config{SplitThreshold: 2, MergeThreshold: 1})
		for i := 0; i < 10; i++ {
			tree.Insert(newBox(i, float32(i*40+20), 0, 5, 5))
		}
		tree.Insert(newBox(100, -60, 0, 5, 5))

		var hits []int
		d := tree.Raycast(0, 0, 1, 0, 1000, func(_ EntityIndex, b *box) {
			hits = append(hits, b.id)
		})
		require.Equal(t, float32(15), d)
		require.Equal(t, 0, hits[len(hits)-1])

		d = tree.Raycast(0, 0, -2, 0, 1000, func(_ EntityIndex, b *box) {
			hits = append(hits, b.id)
		})
		require.Equal(t, float32(55), d)
		require.Equal(t, 100, hits[len(hits)-1])
	})

	t.Run("max distance", func(t *testing.T) {
		tree := newTestTree(t, Config{})
		tree.Insert(newBox(1, 100, 0, 5, 5))

		called := false
		d := tree.Raycast(0, 0, 1, 0, 50, func(EntityIndex, *box) {
			called = true
		})
		require.False(t, called)
		require.Equal(t, extent.Inf(1), d)
	})

	t.Run("tiny direction", func(t *testing.T) {
		tree := newTestTree(t, Config{})
		tree.Insert(newBox(1, 100, 0, 5, 5))

		var hit int
		d := tree.Raycast(0, 0, 1e-30, 0, 1000, func(_ EntityIndex, b *box) {
			hit = b.id
		})
		require.Equal(t, float32(95), d)
		require.Equal(t, 1, hit)
	})

	t.Run("origin inside", func(t *testing.T) {
		tree := newTestTree(t, Config{})
		tree.Insert(newBox(1, 0, 0, 5, 5))

		d := tree.Raycast(1, 1, 0, 1, 50, func(EntityIndex, *box) {})
		require.Zero(t, d)
	})

	t.Run("matches brute force", func(t *testing.T) {
		rng := rand.New(rand.NewSource(14))
		tree := newTestTree(t, Config{})

		boxes := randomBoxes(rng, 800, 600, 10)
		for _, b := range boxes {
			tree.Insert(b)
		}

		for i := 0; i < 100; i++ {
			x := (rng.Float32()*2 - 1) * 500
			y := (rng.Float32()*2 - 1) * 500
			dx := rng.Float32()*2 - 1
			dy := rng.Float32()*2 - 1
			if dx == 0 && dy == 0 {
				dx = 1
			}

			ray, _ := extent.Ray{X: x, Y: y, DX: dx, DY: dy}.Normalize()
			best := extent.Inf(1)
			for _, b := range boxes {
				if d, hit := ray.Distance(b.rect); hit && d <= 700 && d < best {
					best = d
				}
			}

			var last *box
			d := tree.Raycast(x, y, dx, dy, 700, func(_ EntityIndex, b *box) {
				last = b
			})
			require.Equal(t, best, d)
			if best != extent.Inf(1) {
				hit, _ := ray.Distance(last.rect)
				require.Equal(t, best, hit)
			}
		}
	})
}
