package simulation

import (
	"math/rand"

	"github.com/aukilabs/quadtree/extent"
)

// SpawnConfig describes how bodies are generated.
type SpawnConfig struct {
	// The smallest body size.
	SizeMin float32

	// The largest body size.
	SizeMax float32

	// Spreads the size distribution. Sizes follow 1/x, so the higher the odds
	// the more bodies are close to SizeMin.
	SizeOdds float32

	// The largest initial speed on each axis.
	InitialVelocity float32
}

func (c SpawnConfig) withDefaults() SpawnConfig {
	if c.SizeMin == 0 {
		c.SizeMin = 16
	}
	if c.SizeMax == 0 {
		c.SizeMax = 768
	}
	if c.SizeOdds == 0 {
		c.SizeOdds = 2000
	}
	if c.InitialVelocity == 0 {
		c.InitialVelocity = 0.9
	}
	return c
}

func (c SpawnConfig) size(rng *rand.Rand) float32 {
	r := rng.Float32() * c.SizeOdds
	return min((1/r)*(c.SizeMax-c.SizeMin)+c.SizeMin, c.SizeMax)
}

// Spawn generates n bodies placed randomly inside world, with ids starting
// at firstID.
func Spawn(rng *rand.Rand, world extent.Rect, c SpawnConfig, firstID uint32, n int) []Body {
	c = c.withDefaults()
	bodies := make([]Body, n)

	for i := range bodies {
		w := c.size(rng)
		h := w + c.size(rng)*0.5
		h = max(min(h, c.SizeMax), c.SizeMin)
		if i&1 != 0 {
			w, h = h, w
		}

		w = min(w, world.Width())
		h = min(h, world.Height())
		x := world.MinX + (world.Width()-w)*rng.Float32()
		y := world.MinY + (world.Height()-h)*rng.Float32()

		bodies[i] = Body{
			ID:   firstID + uint32(i),
			Rect: extent.NewRect(x, y, x+w, y+h),
			VX:   (1 - 2*rng.Float32()) * c.InitialVelocity,
			VY:   (1 - 2*rng.Float32()) * c.InitialVelocity,
		}
	}
	return bodies
}
