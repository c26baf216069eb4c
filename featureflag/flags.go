package featureflag

type Flag string

const (
	// Skips the collision pass of a simulation tick.
	FlagDisableCollisions Flag = "DISABLE_COLLISIONS"

	// Lets bodies leave the world instead of bouncing on its edges.
	FlagDisableConfinement Flag = "DISABLE_CONFINEMENT"

	// Stops sending leaf rectangles to viewers.
	FlagDisableViewerNodes Flag = "DISABLE_VIEWER_NODES"

	// Stops sending bodies to viewers.
	FlagDisableViewerBodies Flag = "DISABLE_VIEWER_BODIES"
)
