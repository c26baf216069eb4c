// Package simulation moves bodies stored in a quadtree, resolving their
// collisions on every tick.
package simulation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadtree/extent"
	"github.com/aukilabs/quadtree/featureflag"
	"github.com/aukilabs/quadtree/quadtree"
	"github.com/google/uuid"
)

const (
	ErrTypeInvalidConfig = "simulation_invalid_config"
	ErrTypeInvalidArg    = "simulation_invalid_argument"
)

// Config is the configuration of a world.
type Config struct {
	// The world name, used as a metrics label and in logs.
	Name string

	// The area bodies are spawned in.
	Extent extent.Half

	// The number of bodies spawned when the world is created.
	Bodies int

	// The random seed. A world created twice with the same seed and
	// configuration runs the same simulation.
	Seed int64

	// The interval between 2 ticks when running.
	TickDuration time.Duration

	// The number of region queries run on every tick, each centered on a
	// body.
	Queries int

	// The size of the area queried around a body.
	QueryWidth  float32
	QueryHeight float32

	// The number of ticks averaged in a summary.
	MeasureTicks int

	Spawn SpawnConfig

	// The quadtree configuration. Name and Extent are taken from the world.
	Tree quadtree.Config

	FeatureFlags featureflag.FeatureFlag
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.TickDuration == 0 {
		c.TickDuration = time.Second / 60
	}
	if c.QueryWidth == 0 {
		c.QueryWidth = 1920
	}
	if c.QueryHeight == 0 {
		c.QueryHeight = 1080
	}
	if c.MeasureTicks == 0 {
		c.MeasureTicks = 1000
	}
	if c.Tree.MinSize == 0 {
		c.Tree.MinSize = 16
	}
	if c.FeatureFlags == nil {
		c.FeatureFlags = featureflag.New(nil)
	}

	c.Spawn = c.Spawn.withDefaults()
	c.Tree.Name = c.Name
	c.Tree.Extent = c.Extent
	return c
}

func (c Config) validate() error {
	switch {
	case c.Bodies < 0:
		return errors.New("negative body count").
			WithType(ErrTypeInvalidConfig).
			WithTag("bodies", c.Bodies)

	case c.Queries < 0:
		return errors.New("negative query count").
			WithType(ErrTypeInvalidConfig).
			WithTag("queries", c.Queries)

	case c.TickDuration < 0 || c.MeasureTicks < 0:
		return errors.New("invalid tick configuration").
			WithType(ErrTypeInvalidConfig).
			WithTag("tick_duration", c.TickDuration).
			WithTag("measure_ticks", c.MeasureTicks)

	case c.Spawn.SizeMin <= 0 || c.Spawn.SizeMax < c.Spawn.SizeMin:
		return errors.New("invalid body sizes").
			WithType(ErrTypeInvalidConfig).
			WithTag("size_min", c.Spawn.SizeMin).
			WithTag("size_max", c.Spawn.SizeMax)
	}
	return nil
}

// Stats describes the state of a world.
type Stats struct {
	RunID        string           `json:"run_id"`
	Name         string           `json:"name"`
	Tick         uint64           `json:"tick"`
	Bodies       int              `json:"bodies"`
	Nodes        int              `json:"nodes"`
	Leaves       int              `json:"leaves"`
	Depth        int              `json:"depth"`
	Collisions   int              `json:"collisions"`
	QueryHits    int              `json:"query_hits"`
	Pending      quadtree.Pending `json:"pending"`
	Averages     Averages         `json:"averages"`
	FeatureFlags []string         `json:"feature_flags,omitempty"`
}

// Averages holds phase durations in milliseconds and queue sizes, averaged
// over the last complete measure window.
type Averages struct {
	Ticks        int     `json:"ticks"`
	CollideMS    float64 `json:"collide_ms"`
	UpdateMS     float64 `json:"update_ms"`
	NormalizeMS  float64 `json:"normalize_ms"`
	QueryMS      float64 `json:"query_ms"`
	Reinsertions float64 `json:"reinsertions"`
	Unlinks      float64 `json:"unlinks"`
}

// World is a simulation of bodies moving in a quadtree. It is safe for
// concurrent use.
type World struct {
	config Config
	runID  string
	bounds extent.Rect

	mu         sync.Mutex
	tree       *quadtree.Quadtree[Body]
	rng        *rand.Rand
	nextID     uint32
	tick       uint64
	collisions int
	queryHits  int
	pending    quadtree.Pending
	averages   Averages

	measureCollide      measurement
	measureUpdate       measurement
	measureNormalize    measurement
	measureQuery        measurement
	measureReinsertions measurement
	measureUnlinks      measurement
}

// NewWorld creates a world and spawns its initial bodies.
func NewWorld(c Config) (*World, error) {
	c = c.withDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	tree, err := quadtree.New[Body](c.Tree)
	if err != nil {
		return nil, errors.New("creating quadtree failed").
			WithType(ErrTypeInvalidConfig).
			WithTag("world", c.Name).
			Wrap(err)
	}

	w := &World{
		config:              c,
		runID:               uuid.NewString(),
		bounds:              c.Extent.Rect(),
		tree:                tree,
		rng:                 rand.New(rand.NewSource(c.Seed)),
		nextID:              1,
		measureCollide:      newMeasurement(c.MeasureTicks),
		measureUpdate:       newMeasurement(c.MeasureTicks),
		measureNormalize:    newMeasurement(c.MeasureTicks),
		measureQuery:        newMeasurement(c.MeasureTicks),
		measureReinsertions: newMeasurement(c.MeasureTicks),
		measureUnlinks:      newMeasurement(c.MeasureTicks),
	}

	start := time.Now()
	w.spawn(c.Bodies)
	w.tree.Normalize()

	logs.WithTag("run_id", w.runID).
		WithTag("world", c.Name).
		WithTag("seed", c.Seed).
		WithTag("bodies", c.Bodies).
		WithTag("extent", c.Extent).
		WithTag("size_min", c.Spawn.SizeMin).
		WithTag("size_max", c.Spawn.SizeMax).
		WithTag("feature_flags", c.FeatureFlags.List()).
		WithTag("insertion", time.Since(start)).
		Info("simulation created")

	return w, nil
}

// RunID returns the unique id of the world.
func (w *World) RunID() string {
	return w.runID
}

// Ticks returns the number of ticks run so far.
func (w *World) Ticks() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.tick
}

// Bounds returns the world area.
func (w *World) Bounds() extent.Rect {
	return w.bounds
}

// Run ticks the world at the configured tick duration until ctx is done.
func (w *World) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.TickDuration)
	defer ticker.Stop()

	logs.WithTag("run_id", w.runID).
		WithTag("world", w.config.Name).
		WithTag("tick_duration", w.config.TickDuration).
		Info("simulation started")

	for {
		select {
		case <-ctx.Done():
			logs.WithTag("run_id", w.runID).
				WithTag("world", w.config.Name).
				WithTag("tick", w.Ticks()).
				Info("simulation stopped")
			return

		case <-ticker.C:
			w.Tick()
		}
	}
}

type phaseTimings struct {
	collide   time.Duration
	update    time.Duration
	normalize time.Duration
	query     time.Duration
}

// Tick advances the simulation by one step: collisions are resolved, bodies
// are moved, the tree is normalized and the per tick queries are run.
func (w *World) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tick++
	var timings phaseTimings

	start := time.Now()
	w.collisions = 0
	w.config.FeatureFlags.IfNotSet(featureflag.FlagDisableCollisions, func() {
		w.tree.Collide(func(_ quadtree.EntityIndex, a *Body, _ quadtree.EntityIndex, b *Body) {
			if Resolve(a, b) {
				w.collisions++
			}
		})
	})
	timings.collide = time.Since(start)

	start = time.Now()
	confine := !w.config.FeatureFlags.IsSet(featureflag.FlagDisableConfinement)
	w.tree.Update(func(_ quadtree.EntityIndex, b *Body) quadtree.Status {
		b.Move(w.bounds, confine)
		return quadtree.Changed
	})
	timings.update = time.Since(start)
	w.pending = w.tree.Pending()

	start = time.Now()
	w.tree.Normalize()
	timings.normalize = time.Since(start)

	start = time.Now()
	w.queryHits = w.runQueries()
	timings.query = time.Since(start)

	w.measure(timings)
	instrumentTick(w.config.Name, timings, w.collisions, w.tree.Len())
}

// runQueries queries the area around the first bodies of the tree, the way
// a game would query what each player sees.
func (w *World) runQueries() int {
	hits := 0
	for i := 1; i <= w.config.Queries; i++ {
		b := w.tree.Get(quadtree.EntityIndex(i))
		if b == nil {
			break
		}

		view := extent.NewRect(
			b.Rect.MinX-w.config.QueryWidth*0.5,
			b.Rect.MinY-w.config.QueryHeight*0.5,
			b.Rect.MaxX+w.config.QueryWidth*0.5,
			b.Rect.MaxY+w.config.QueryHeight*0.5,
		)
		w.tree.QueryRegion(view, func(quadtree.EntityIndex, *Body) {
			hits++
		})
	}
	return hits
}

func (w *World) measure(t phaseTimings) {
	ms := func(d time.Duration) float64 {
		return float64(d) / float64(time.Millisecond)
	}

	collide, full := w.measureCollide.add(ms(t.collide))
	update, _ := w.measureUpdate.add(ms(t.update))
	normalize, _ := w.measureNormalize.add(ms(t.normalize))
	query, _ := w.measureQuery.add(ms(t.query))
	reinsertions, _ := w.measureReinsertions.add(float64(w.pending.Reinsertions))
	unlinks, _ := w.measureUnlinks.add(float64(w.pending.Unlinks))
	if !full {
		return
	}

	w.averages = Averages{
		Ticks:        w.config.MeasureTicks,
		CollideMS:    collide,
		UpdateMS:     update,
		NormalizeMS:  normalize,
		QueryMS:      query,
		Reinsertions: reinsertions,
		Unlinks:      unlinks,
	}

	logs.WithTag("run_id", w.runID).
		WithTag("world", w.config.Name).
		WithTag("tick", w.tick).
		WithTag("bodies", w.tree.Len()).
		WithTag("depth", w.tree.Depth()).
		WithTag("averages", w.averages).
		Info("simulation summary")
}

// Stats returns the current state of the world.
func (w *World) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	leaves := 0
	w.tree.QueryNodesRegion(everywhere(), func(*quadtree.NodeInfo) {
		leaves++
	})

	return Stats{
		RunID:        w.runID,
		Name:         w.config.Name,
		Tick:         w.tick,
		Bodies:       w.tree.Len(),
		Nodes:        w.tree.Nodes(),
		Leaves:       leaves,
		Depth:        w.tree.Depth(),
		Collisions:   w.collisions,
		QueryHits:    w.queryHits,
		Pending:      w.pending,
		Averages:     w.averages,
		FeatureFlags: w.config.FeatureFlags.List(),
	}
}

// Spawn adds n random bodies. They take part in the simulation from the next
// tick.
func (w *World) Spawn(n int) error {
	if n < 0 {
		return errors.New("negative body count").
			WithType(ErrTypeInvalidArg).
			WithTag("count", n)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.spawn(n)
	return nil
}

func (w *World) spawn(n int) {
	for _, b := range Spawn(w.rng, w.bounds, w.config.Spawn, w.nextID, n) {
		w.tree.Insert(b)
	}
	w.nextID += uint32(n)
}

// Despawn removes the bodies overlapping r and returns how many were
// removed.
func (w *World) Despawn(r extent.Rect) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	w.tree.QueryRegion(r, func(idx quadtree.EntityIndex, _ *Body) {
		w.tree.Remove(idx)
		removed++
	})
	return removed
}

func everywhere() extent.Rect {
	return extent.NewRect(extent.Inf(-1), extent.Inf(-1), extent.Inf(1), extent.Inf(1))
}
