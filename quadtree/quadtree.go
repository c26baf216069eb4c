// Package quadtree implements a loose quadtree over axis-aligned rectangles.
//
// An entity is linked into every leaf its rectangle overlaps. Mutations are
// queued and committed in batches by Normalize, which is also the only place
// where nodes are split, merged and compacted. Read operations normalize a
// dirty tree before running.
//
// A tree is not safe for concurrent use.
package quadtree

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadtree/extent"
	"github.com/aukilabs/quadtree/heap"
)

const (
	DefaultSplitThreshold = 7
	DefaultMergeThreshold = 5
	DefaultMaxDepth       = 30
	DefaultMinSize        = 1.0

	ErrTypeInvalidConfig = "quadtree_invalid_config"
	ErrTypeInvalidIndex  = "quadtree_invalid_index"
	ErrTypeInvalidArg    = "quadtree_invalid_argument"
	ErrTypeReentrant     = "quadtree_reentrant_call"
	ErrTypeCorrupted     = "quadtree_corrupted"
)

// Bounded is implemented by entity payloads. Bounds is read when an entity is
// inserted and when an update callback reports it as changed.
type Bounded interface {
	Bounds() extent.Rect
}

// Status is returned by update callbacks.
type Status uint8

const (
	Unchanged Status = iota
	Changed
)

// Dirty tells how much work the next normalization has to do.
type Dirty uint8

const (
	// Nothing is pending.
	DirtyNone Dirty = iota

	// Only update driven unlinks and reinsertions are pending. Entity indices
	// survive the normalization.
	DirtySoft

	// Insertions or removals are pending. The normalization relabels entities.
	DirtyHard
)

// Config is the configuration of a tree.
type Config struct {
	// The tree name, used as a metrics label and in logs.
	Name string

	// The world covered by the root. Entities may leave it and are then kept
	// in the leaves along its boundary.
	Extent extent.Half

	// The number of entities at which a leaf splits. Defaults to 7.
	SplitThreshold int

	// The number of entities at or below which 4 sibling leaves merge.
	// Defaults to min(5, SplitThreshold-1) and must be lower than
	// SplitThreshold.
	MergeThreshold int

	// The maximum depth of a leaf. Defaults to 30.
	MaxDepth int

	// The half size under which a node does not split. Defaults to 1.
	MinSize float32
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.SplitThreshold == 0 {
		c.SplitThreshold = DefaultSplitThreshold
	}
	if c.MergeThreshold == 0 {
		c.MergeThreshold = min(DefaultMergeThreshold, c.SplitThreshold-1)
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MinSize == 0 {
		c.MinSize = DefaultMinSize
	}
	return c
}

func (c Config) validate() error {
	finite := func(v float32) bool {
		return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
	}

	switch {
	case !finite(c.Extent.X) || !finite(c.Extent.Y) ||
		!finite(c.Extent.W) || !finite(c.Extent.H) ||
		c.Extent.W <= 0 || c.Extent.H <= 0:
		return errors.New("invalid world extent").
			WithType(ErrTypeInvalidConfig).
			WithTag("extent", c.Extent)

	case c.SplitThreshold < 1:
		return errors.New("split threshold must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("split_threshold", c.SplitThreshold)

	case c.MergeThreshold < 0 || c.MergeThreshold >= c.SplitThreshold:
		return errors.New("merge threshold must be lower than split threshold").
			WithType(ErrTypeInvalidConfig).
			WithTag("split_threshold", c.SplitThreshold).
			WithTag("merge_threshold", c.MergeThreshold)

	case c.MaxDepth < 1:
		return errors.New("max depth must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("max_depth", c.MaxDepth)

	case c.MinSize < 0 || !finite(c.MinSize):
		return errors.New("invalid min size").
			WithType(ErrTypeInvalidConfig).
			WithTag("min_size", c.MinSize)
	}
	return nil
}

// Quadtree is a loose quadtree holding payloads of type T.
type Quadtree[T Bounded] struct {
	config Config
	world  extent.Rect
	dirty  Dirty

	nodes    arena[nodeIndex, node, *node]
	links    arena[linkIndex, link, *link]
	entities arena[EntityIndex, entity[T], *entity[T]]

	// Compaction targets, swapped with the live arenas after each
	// normalization.
	spareNodes    arena[nodeIndex, node, *node]
	spareLinks    arena[linkIndex, link, *link]
	spareEntities arena[EntityIndex, entity[T], *entity[T]]
	relabel       []EntityIndex

	root  nodeIndex
	depth int

	insertions   []insertion[T]
	removals     []EntityIndex
	reinsertions []EntityIndex
	unlinks      []unlink

	stack     []frame
	stackHigh int
	busy      bool

	queryTick  uint32
	updateTick uint8

	merged     entitySet
	pairs      pairSet
	candidates *heap.Heap[candidate]

	splits int
	merges int
}

// New creates an empty tree.
func New[T Bounded](c Config) (*Quadtree[T], error) {
	c = c.withDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	t := &Quadtree[T]{
		config:        c,
		world:         c.Extent.Rect(),
		nodes:         newArena[nodeIndex, node](16),
		links:         newArena[linkIndex, link](16),
		entities:      newArena[EntityIndex, entity[T]](16),
		spareNodes:    newArena[nodeIndex, node](16),
		spareLinks:    newArena[linkIndex, link](16),
		spareEntities: newArena[EntityIndex, entity[T]](16),
		stack:         make([]frame, 0, stackBound(c.MaxDepth)),
		merged:        newEntitySet(c.MergeThreshold),
		pairs:         newPairSet(),
	}

	t.root = t.nodes.acquire()
	root := t.nodes.at(t.root)
	root.kind = leaf
	root.flags = FlagAll

	logs.WithTag("tree", c.Name).
		WithTag("extent", c.Extent).
		WithTag("split_threshold", c.SplitThreshold).
		WithTag("merge_threshold", c.MergeThreshold).
		WithTag("max_depth", c.MaxDepth).
		WithTag("min_size", c.MinSize).
		Debug("quadtree created")

	return t, nil
}

// Config returns the configuration the tree was created with, defaults
// included.
func (t *Quadtree[T]) Config() Config {
	return t.config
}

// Dirty returns the pending normalization level.
func (t *Quadtree[T]) Dirty() Dirty {
	return t.dirty
}

// Insert queues data for insertion. The entity becomes visible to queries
// after the next normalization.
func (t *Quadtree[T]) Insert(data T) {
	t.insertions = append(t.insertions, insertion[T]{data: data})
	t.markDirty(DirtyHard)
}

// Remove queues the entity for removal. It panics when the index does not
// refer to a committed live entity.
func (t *Quadtree[T]) Remove(idx EntityIndex) {
	if idx == 0 || int(idx) >= t.entities.bound() {
		panic(errors.New("removing an out of range entity").
			WithType(ErrTypeInvalidIndex).
			WithTag("tree", t.config.Name).
			WithTag("entity", idx).
			WithTag("bound", t.entities.bound()))
	}

	e := t.entities.at(idx)
	if !e.alive || e.removed {
		panic(errors.New("removing a dead entity").
			WithType(ErrTypeInvalidIndex).
			WithTag("tree", t.config.Name).
			WithTag("entity", idx).
			WithTag("removed", e.removed))
	}

	e.removed = true
	t.removals = append(t.removals, idx)
	t.markDirty(DirtyHard)
}

// Get returns the payload of a live entity, or nil.
func (t *Quadtree[T]) Get(idx EntityIndex) *T {
	if idx == 0 || int(idx) >= t.entities.bound() {
		return nil
	}

	e := t.entities.at(idx)
	if !e.alive || e.removed {
		return nil
	}
	return &e.data
}

// Len returns the number of committed entities, including the ones queued
// for removal.
func (t *Quadtree[T]) Len() int {
	return t.entities.len()
}

// Depth returns the depth of the deepest leaf. The root is at depth 0.
func (t *Quadtree[T]) Depth() int {
	t.normalizeIfDirty()
	return t.depth
}

// Nodes returns the number of nodes, branches and leaves included.
func (t *Quadtree[T]) Nodes() int {
	t.normalizeIfDirty()
	return t.nodes.len()
}

// Pending holds the sizes of the mutation queues.
type Pending struct {
	Insertions   int `json:"insertions"`
	Removals     int `json:"removals"`
	Reinsertions int `json:"reinsertions"`
	Unlinks      int `json:"unlinks"`
}

// Pending returns the work queued for the next normalization.
func (t *Quadtree[T]) Pending() Pending {
	return Pending{
		Insertions:   len(t.insertions),
		Removals:     len(t.removals),
		Reinsertions: len(t.reinsertions),
		Unlinks:      len(t.unlinks),
	}
}

func (t *Quadtree[T]) markDirty(d Dirty) {
	if d > t.dirty {
		t.dirty = d
	}
}

func (t *Quadtree[T]) normalizeIfDirty() {
	if t.dirty != DirtyNone {
		t.Normalize()
	}
}
