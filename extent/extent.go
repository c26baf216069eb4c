package extent

import (
	"math"
)

// Rect is an axis-aligned rectangle described by its min and max corners.
type Rect struct {
	MinX float32 `json:"min_x"`
	MinY float32 `json:"min_y"`
	MaxX float32 `json:"max_x"`
	MaxY float32 `json:"max_y"`
}

// Half is an axis-aligned rectangle described by its center and half sizes.
type Half struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w"`
	H float32 `json:"h"`
}

func NewRect(minX, minY, maxX, maxY float32) Rect {
	return Rect{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

func NewHalf(x, y, w, h float32) Half {
	return Half{X: x, Y: y, W: w, H: h}
}

// Rect converts the half extent to a min/max rectangle.
func (h Half) Rect() Rect {
	return Rect{
		MinX: h.X - h.W,
		MinY: h.Y - h.H,
		MaxX: h.X + h.W,
		MaxY: h.Y + h.H,
	}
}

// Half converts the rectangle to a center and half sizes.
func (r Rect) Half() Half {
	w := (r.MaxX - r.MinX) * 0.5
	h := (r.MaxY - r.MinY) * 0.5

	return Half{
		X: r.MinX + w,
		Y: r.MinY + h,
		W: w,
		H: h,
	}
}

func (r Rect) Width() float32 {
	return r.MaxX - r.MinX
}

func (r Rect) Height() float32 {
	return r.MaxY - r.MinY
}

func (r Rect) Center() (float32, float32) {
	return (r.MinX + r.MaxX) * 0.5, (r.MinY + r.MaxY) * 0.5
}

// Valid reports whether the rectangle has ordered, non NaN corners.
func (r Rect) Valid() bool {
	return r.MinX <= r.MaxX && r.MinY <= r.MaxY
}

// Intersects reports whether both rectangles overlap. Touching edges count as
// an overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.MinX <= o.MaxX && r.MaxX >= o.MinX &&
		r.MinY <= o.MaxY && r.MaxY >= o.MinY
}

// IsInside reports whether r lies strictly inside o.
func (r Rect) IsInside(o Rect) bool {
	return r.MinX > o.MinX && r.MaxX < o.MaxX &&
		r.MinY > o.MinY && r.MaxY < o.MaxY
}

// Contains reports whether the point lies inside the rectangle, edges
// included.
func (r Rect) Contains(x, y float32) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// DistanceSq returns the squared distance between the point and the closest
// point of the rectangle. It is 0 when the point is inside.
func (r Rect) DistanceSq(x, y float32) float32 {
	dx := max(r.MinX-x, 0, x-r.MaxX)
	dy := max(r.MinY-y, 0, y-r.MaxY)
	return dx*dx + dy*dy
}

// IntersectsCircle reports whether the rectangle overlaps the circle.
func (r Rect) IntersectsCircle(x, y, radius float32) bool {
	return r.DistanceSq(x, y) <= radius*radius
}

func (r Rect) Translate(dx, dy float32) Rect {
	return Rect{
		MinX: r.MinX + dx,
		MinY: r.MinY + dy,
		MaxX: r.MaxX + dx,
		MaxY: r.MaxY + dy,
	}
}

// Union returns the smallest rectangle holding both rectangles.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		MinX: min(r.MinX, o.MinX),
		MinY: min(r.MinY, o.MinY),
		MaxX: max(r.MaxX, o.MaxX),
		MaxY: max(r.MaxY, o.MaxY),
	}
}

// Ray is a half line starting at (X, Y). The direction does not need to be
// normalized.
type Ray struct {
	X  float32
	Y  float32
	DX float32
	DY float32
}

// Distance returns the parametric distance along the ray at which it enters
// the rectangle. It returns 0 when the origin is inside the rectangle and
// false when the ray misses it.
func (ray Ray) Distance(r Rect) (float32, bool) {
	tMinX, tMaxX, ok := slab(ray.X, ray.DX, r.MinX, r.MaxX)
	if !ok {
		return 0, false
	}

	tMinY, tMaxY, ok := slab(ray.Y, ray.DY, r.MinY, r.MaxY)
	if !ok {
		return 0, false
	}

	tNear := max(tMinX, tMinY, 0)
	tFar := min(tMaxX, tMaxY)
	if tNear > tFar {
		return 0, false
	}
	return tNear, true
}

func slab(origin, dir, lo, hi float32) (float32, float32, bool) {
	if dir == 0 {
		if origin < lo || origin > hi {
			return 0, 0, false
		}
		inf := float32(math.Inf(1))
		return -inf, inf, true
	}

	inv := 1 / dir
	t0 := (lo - origin) * inv
	t1 := (hi - origin) * inv
	if t0 > t1 {
		t0, t1 = t1, t0
	}
	return t0, t1, true
}

// Normalize returns the ray with a unit direction and the original direction
// length.
func (ray Ray) Normalize() (Ray, float32) {
	// float64 keeps tiny directions from underflowing to a zero length.
	dx, dy := float64(ray.DX), float64(ray.DY)
	length := math.Hypot(dx, dy)
	if length != 0 {
		ray.DX = float32(dx / length)
		ray.DY = float32(dy / length)
	}
	return ray, float32(length)
}

// Sqrt is a float32 square root.
func Sqrt(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

// Inf returns a float32 infinity with the sign of sign.
func Inf(sign int) float32 {
	return float32(math.Inf(sign))
}
