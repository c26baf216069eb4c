package simulation

import (
	"math"

	"github.com/aukilabs/quadtree/extent"
)

// The factor applied to a velocity when a body hits the world edges.
const BoundsVelocityLoss = 0.99

// Body is a moving rectangle.
type Body struct {
	ID   uint32      `json:"id"`
	Rect extent.Rect `json:"rect"`
	VX   float32     `json:"vx"`
	VY   float32     `json:"vy"`
}

func (b Body) Bounds() extent.Rect {
	return b.Rect
}

// Move moves the body by its velocity. When confine is set, a body leaving
// the world is put back on its edge and bounces. Otherwise it is steered back
// toward the world a little more on every tick it spends outside.
func (b *Body) Move(world extent.Rect, confine bool) {
	b.Rect = b.Rect.Translate(b.VX, b.VY)

	if !confine {
		switch {
		case b.Rect.MinX < world.MinX:
			b.VX = b.VX*BoundsVelocityLoss + 1
		case b.Rect.MaxX > world.MaxX:
			b.VX = b.VX*BoundsVelocityLoss - 1
		}

		switch {
		case b.Rect.MinY < world.MinY:
			b.VY = b.VY*BoundsVelocityLoss + 1
		case b.Rect.MaxY > world.MaxY:
			b.VY = b.VY*BoundsVelocityLoss - 1
		}
		return
	}

	switch {
	case b.Rect.MinX < world.MinX:
		b.Rect = b.Rect.Translate(world.MinX-b.Rect.MinX, 0)
		b.VX = abs(b.VX) * BoundsVelocityLoss
	case b.Rect.MaxX > world.MaxX:
		b.Rect = b.Rect.Translate(world.MaxX-b.Rect.MaxX, 0)
		b.VX = -abs(b.VX) * BoundsVelocityLoss
	}

	switch {
	case b.Rect.MinY < world.MinY:
		b.Rect = b.Rect.Translate(0, world.MinY-b.Rect.MinY)
		b.VY = abs(b.VY) * BoundsVelocityLoss
	case b.Rect.MaxY > world.MaxY:
		b.Rect = b.Rect.Translate(0, world.MaxY-b.Rect.MaxY)
		b.VY = -abs(b.VY) * BoundsVelocityLoss
	}
}

// Resolve pushes 2 overlapping bodies apart along the axis of least
// penetration, proportionally to their areas, and exchanges their velocity on
// that axis as an elastic collision would. It reports whether the bodies
// were overlapping.
func Resolve(a, b *Body) bool {
	ha := a.Rect.Half()
	hb := b.Rect.Half()

	diffX := ha.X - hb.X
	diffY := ha.Y - hb.Y
	overlapX := ha.W + hb.W - abs(diffX)
	overlapY := ha.H + hb.H - abs(diffY)
	if overlapX <= 0 || overlapY <= 0 {
		return false
	}

	sizeA := ha.W * ha.H * 4
	sizeB := hb.W * hb.H * 4
	total := sizeA + sizeB
	if total == 0 {
		return false
	}

	if overlapX < overlapY {
		pushA := overlapX * sizeB / total
		pushB := overlapX * sizeA / total
		if diffX <= 0 {
			pushA, pushB = -pushA, -pushB
		}
		a.Rect = a.Rect.Translate(pushA, 0)
		b.Rect = b.Rect.Translate(-pushB, 0)
		a.VX, b.VX = bounce(a.VX, b.VX, sizeA, sizeB)
		return true
	}

	pushA := overlapY * sizeB / total
	pushB := overlapY * sizeA / total
	if diffY <= 0 {
		pushA, pushB = -pushA, -pushB
	}
	a.Rect = a.Rect.Translate(0, pushA)
	b.Rect = b.Rect.Translate(0, -pushB)
	a.VY, b.VY = bounce(a.VY, b.VY, sizeA, sizeB)
	return true
}

func bounce(va, vb, sizeA, sizeB float32) (float32, float32) {
	total := sizeA + sizeB
	return (va*(sizeA-sizeB) + 2*sizeB*vb) / total,
		(vb*(sizeB-sizeA) + 2*sizeA*va) / total
}

func abs(v float32) float32 {
	return float32(math.Abs(float64(v)))
}
