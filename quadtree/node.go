package quadtree

import (
	"github.com/aukilabs/quadtree/extent"
)

// EntityIndex identifies an entity stored in a tree. Indices are stable
// across updates and reinsertions but are reassigned by a normalization that
// commits insertions or removals.
type EntityIndex uint32

type nodeIndex uint32

type linkIndex uint32

type hashIndex uint32

// Position flags record which sides of a node lie on the tree boundary.
const (
	FlagLeft uint8 = 1 << iota
	FlagTop
	FlagRight
	FlagBottom

	FlagAll = FlagLeft | FlagTop | FlagRight | FlagBottom
)

// Children are ordered (-x,-y), (+x,-y), (-x,+y), (+x,+y).
var childFlagMasks = [4]uint8{
	FlagLeft | FlagTop,
	FlagRight | FlagTop,
	FlagLeft | FlagBottom,
	FlagRight | FlagBottom,
}

type nodeKind uint8

const (
	leaf nodeKind = iota
	branch
)

type node struct {
	kind     nodeKind
	flags    uint8
	count    uint32
	head     linkIndex
	children [4]nodeIndex
	nextFree uint32
}

func (n *node) freeNext() uint32     { return n.nextFree }
func (n *node) setFreeNext(i uint32) { n.nextFree = i }
func (n *node) isLeaf() bool         { return n.kind == leaf }

func (n *node) setLeaf(head linkIndex, count uint32) {
	n.kind = leaf
	n.head = head
	n.count = count
	n.children = [4]nodeIndex{}
}

type link struct {
	next     linkIndex
	entity   EntityIndex
	flags    uint8
	nextFree uint32
}

func (l *link) freeNext() uint32     { return l.nextFree }
func (l *link) setFreeNext(i uint32) { l.nextFree = i }

type entity[T Bounded] struct {
	data         T
	rect         extent.Rect
	queryTick    uint32
	links        uint32
	updateTick   uint8
	reinsertTick uint8
	changed      bool
	removed      bool
	alive        bool
	nextFree     uint32
}

func (e *entity[T]) freeNext() uint32     { return e.nextFree }
func (e *entity[T]) setFreeNext(i uint32) { e.nextFree = i }

// NodeInfo describes a leaf visited by a node query.
type NodeInfo struct {
	Index  uint32      `json:"index"`
	Extent extent.Half `json:"extent"`
	Depth  int         `json:"depth"`
	Count  int         `json:"count"`
	Flags  uint8       `json:"flags"`
}

type insertion[T Bounded] struct {
	data T
}

type unlink struct {
	node nodeIndex
	prev linkIndex
	link linkIndex
}

// splitPoint returns the center of a node rectangle. Children rectangles are
// derived from it so that siblings share edges exactly.
func splitPoint(r extent.Rect) (float32, float32) {
	return (r.MinX + r.MaxX) * 0.5, (r.MinY + r.MaxY) * 0.5
}

func childRect(r extent.Rect, midX, midY float32, i int) extent.Rect {
	switch i {
	case 0:
		return extent.Rect{MinX: r.MinX, MinY: r.MinY, MaxX: midX, MaxY: midY}
	case 1:
		return extent.Rect{MinX: midX, MinY: r.MinY, MaxX: r.MaxX, MaxY: midY}
	case 2:
		return extent.Rect{MinX: r.MinX, MinY: midY, MaxX: midX, MaxY: r.MaxY}
	default:
		return extent.Rect{MinX: midX, MinY: midY, MaxX: r.MaxX, MaxY: r.MaxY}
	}
}

// childMask returns a bitmask of the children a rectangle must be filed
// into. Each axis is tested independently and edges are inclusive, so the
// result always holds at least one child.
func childMask(r extent.Rect, midX, midY float32) uint8 {
	left := r.MinX <= midX
	right := r.MaxX >= midX
	top := r.MinY <= midY
	bottom := r.MaxY >= midY

	var m uint8
	if top && left {
		m |= 1 << 0
	}
	if top && right {
		m |= 1 << 1
	}
	if bottom && left {
		m |= 1 << 2
	}
	if bottom && right {
		m |= 1 << 3
	}
	return m
}

// loosen extends the sides of a node rectangle that lie on the tree boundary
// to infinity, so that entities outside the world are still reachable.
func loosen(r extent.Rect, flags uint8) extent.Rect {
	if flags&FlagLeft != 0 {
		r.MinX = extent.Inf(-1)
	}
	if flags&FlagTop != 0 {
		r.MinY = extent.Inf(-1)
	}
	if flags&FlagRight != 0 {
		r.MaxX = extent.Inf(1)
	}
	if flags&FlagBottom != 0 {
		r.MaxY = extent.Inf(1)
	}
	return r
}

// crossesEdge reports whether r reaches a side of the leaf rectangle l that is
// not on the tree boundary.
func crossesEdge(r, l extent.Rect, flags uint8) bool {
	return (flags&FlagLeft == 0 && r.MinX <= l.MinX) ||
		(flags&FlagTop == 0 && r.MinY <= l.MinY) ||
		(flags&FlagRight == 0 && r.MaxX >= l.MaxX) ||
		(flags&FlagBottom == 0 && r.MaxY >= l.MaxY)
}

// leftLeaf reports whether r lies wholly outside the leaf rectangle l on a
// side that is not on the tree boundary.
func leftLeaf(r, l extent.Rect, flags uint8) bool {
	return (flags&FlagLeft == 0 && r.MaxX < l.MinX) ||
		(flags&FlagTop == 0 && r.MaxY < l.MinY) ||
		(flags&FlagRight == 0 && r.MinX > l.MaxX) ||
		(flags&FlagBottom == 0 && r.MinY > l.MaxY)
}
