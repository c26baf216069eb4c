package simulation

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/extent"
	"github.com/aukilabs/quadtree/featureflag"
	"github.com/aukilabs/quadtree/quadtree"
)

// Neighbor is a body found by a distance search.
type Neighbor struct {
	Body     Body    `json:"body"`
	Distance float32 `json:"distance"`
}

// Snapshot is the part of a world visible in a view.
type Snapshot struct {
	Tick   uint64              `json:"tick"`
	View   extent.Rect         `json:"view"`
	Nodes  []quadtree.NodeInfo `json:"nodes,omitempty"`
	Bodies []Body              `json:"bodies,omitempty"`
}

// SnapshotOptions selects what a snapshot contains.
type SnapshotOptions struct {
	Nodes  bool
	Bodies bool

	// The maximum number of bodies returned. 0 means no limit.
	MaxBodies int
}

// Query returns the bodies overlapping r, at most limit when limit is
// positive.
func (w *World) Query(r extent.Rect, limit int) []Body {
	w.mu.Lock()
	defer w.mu.Unlock()

	var bodies []Body
	w.tree.QueryRegion(r, func(_ quadtree.EntityIndex, b *Body) {
		if limit <= 0 || len(bodies) < limit {
			bodies = append(bodies, *b)
		}
	})
	return bodies
}

// QueryCircle returns the bodies within radius of (x, y), at most limit when
// limit is positive.
func (w *World) QueryCircle(x, y, radius float32, limit int) []Body {
	w.mu.Lock()
	defer w.mu.Unlock()

	var bodies []Body
	w.tree.QueryCircle(x, y, radius, func(_ quadtree.EntityIndex, b *Body) {
		if limit <= 0 || len(bodies) < limit {
			bodies = append(bodies, *b)
		}
	})
	return bodies
}

// Nearest returns the k bodies closest to (x, y), nearest first.
func (w *World) Nearest(x, y float32, k int) []Neighbor {
	w.mu.Lock()
	defer w.mu.Unlock()

	neighbors := make([]Neighbor, 0, max(k, 0))
	w.tree.NearestK(x, y, k, func(_ quadtree.EntityIndex, b *Body, d float32) {
		neighbors = append(neighbors, Neighbor{Body: *b, Distance: d})
	})
	return neighbors
}

// NearestInCircle returns the body closest to (x, y) within radius.
func (w *World) NearestInCircle(x, y, radius float32) (Neighbor, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var n Neighbor
	found := false
	d := w.tree.NearestInCircle(x, y, radius, func(_ quadtree.EntityIndex, b *Body) {
		n.Body = *b
		found = true
	})
	n.Distance = d
	return n, found
}

// Raycast returns the first body hit by a ray cast from (x, y) along
// (dx, dy) within maxDistance.
func (w *World) Raycast(x, y, dx, dy, maxDistance float32) (Neighbor, bool, error) {
	if _, length := (extent.Ray{DX: dx, DY: dy}).Normalize(); length == 0 {
		return Neighbor{}, false, errors.New("raycast with a zero direction").
			WithType(ErrTypeInvalidArg).
			WithTag("x", x).
			WithTag("y", y)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var hit Neighbor
	found := false
	d := w.tree.Raycast(x, y, dx, dy, maxDistance, func(_ quadtree.EntityIndex, b *Body) {
		hit.Body = *b
		found = true
	})
	hit.Distance = d
	return hit, found, nil
}

// Snapshot returns the leaves and bodies overlapping view. Feature flags can
// disable either part.
func (w *World) Snapshot(view extent.Rect, opts SnapshotOptions) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Snapshot{
		Tick: w.tick,
		View: view,
	}

	if opts.Nodes {
		w.config.FeatureFlags.IfNotSet(featureflag.FlagDisableViewerNodes, func() {
			w.tree.QueryNodesRegion(view, func(info *quadtree.NodeInfo) {
				s.Nodes = append(s.Nodes, *info)
			})
		})
	}

	if opts.Bodies {
		w.config.FeatureFlags.IfNotSet(featureflag.FlagDisableViewerBodies, func() {
			w.tree.QueryRegion(view, func(_ quadtree.EntityIndex, b *Body) {
				if opts.MaxBodies <= 0 || len(s.Bodies) < opts.MaxBodies {
					s.Bodies = append(s.Bodies, *b)
				}
			})
		})
	}
	return s
}

// Check validates the underlying tree.
func (w *World) Check() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.tree.Check()
}
