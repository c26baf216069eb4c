package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/extent"
	"github.com/aukilabs/quadtree/simulation"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

type fakeWorld struct {
	bodies []simulation.Body

	queried  extent.Rect
	limit    int
	k        int
	ray      [5]float32
	spawned  int
	despawns []extent.Rect
}

func (w *fakeWorld) Stats() simulation.Stats {
	return simulation.Stats{
		Name:   "fake",
		Bodies: len(w.bodies),
	}
}

func (w *fakeWorld) Query(r extent.Rect, limit int) []simulation.Body {
	w.queried = r
	w.limit = limit

	var bodies []simulation.Body
	for _, b := range w.bodies {
		if b.Rect.Intersects(r) && len(bodies) < limit {
			bodies = append(bodies, b)
		}
	}
	return bodies
}

func (w *fakeWorld) QueryCircle(x, y, radius float32, limit int) []simulation.Body {
	w.limit = limit

	var bodies []simulation.Body
	for _, b := range w.bodies {
		if b.Rect.IntersectsCircle(x, y, radius) && len(bodies) < limit {
			bodies = append(bodies, b)
		}
	}
	return bodies
}

func (w *fakeWorld) Nearest(x, y float32, k int) []simulation.Neighbor {
	w.k = k

	var neighbors []simulation.Neighbor
	for i := 0; i < k && i < len(w.bodies); i++ {
		neighbors = append(neighbors, simulation.Neighbor{
			Body:     w.bodies[i],
			Distance: float32(i),
		})
	}
	return neighbors
}

func (w *fakeWorld) Raycast(x, y, dx, dy, maxDistance float32) (simulation.Neighbor, bool, error) {
	w.ray = [5]float32{x, y, dx, dy, maxDistance}

	if dx == 0 && dy == 0 {
		return simulation.Neighbor{}, false, errors.New("zero direction").
			WithType(simulation.ErrTypeInvalidArg)
	}
	if dx < 0 || len(w.bodies) == 0 {
		return simulation.Neighbor{}, false, nil
	}
	return simulation.Neighbor{Body: w.bodies[0], Distance: 10}, true, nil
}

func (w *fakeWorld) Spawn(n int) error {
	w.spawned += n
	return nil
}

func (w *fakeWorld) Despawn(r extent.Rect) int {
	w.despawns = append(w.despawns, r)
	return 2
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		bodies: []simulation.Body{
			{ID: 1, Rect: extent.NewRect(0, 0, 10, 10)},
			{ID: 2, Rect: extent.NewRect(20, 20, 30, 30)},
			{ID: 3, Rect: extent.NewRect(-50, -50, -40, -40)},
		},
	}
}

func serve(t *testing.T, h http.Handler, method, target string, v any) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	require.Equal(t, "application/json", res.Header().Get("Content-Type"))
	if v != nil {
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), v))
	}
	return res
}

func TestAPIStats(t *testing.T) {
	world := newFakeWorld()
	router := NewAPIRouter(APIConfig{World: world})

	var stats simulation.Stats
	res := serve(t, router, http.MethodGet, "/api/stats", &stats)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "fake", stats.Name)
	require.Equal(t, 3, stats.Bodies)
}

func TestAPIQuery(t *testing.T) {
	world := newFakeWorld()
	router := NewAPIRouter(APIConfig{World: world})

	t.Run("rect", func(t *testing.T) {
		var body BodiesResponse
		res := serve(t, router, http.MethodGet, "/api/query?min_x=-5&min_y=-5&max_x=25&max_y=25", &body)
		require.Equal(t, http.StatusOK, res.Code)
		require.Equal(t, 2, body.Count)
		require.Equal(t, extent.NewRect(-5, -5, 25, 25), world.queried)
		require.Equal(t, defaultQueryLimit, world.limit)
	})

	t.Run("limit", func(t *testing.T) {
		var body BodiesResponse
		res := serve(t, router, http.MethodGet, "/api/query?min_x=-100&min_y=-100&max_x=100&max_y=100&limit=1", &body)
		require.Equal(t, http.StatusOK, res.Code)
		require.Equal(t, 1, body.Count)
		require.Len(t, body.Bodies, 1)
	})

	t.Run("circle", func(t *testing.T) {
		var body BodiesResponse
		res := serve(t, router, http.MethodGet, "/api/query/circle?x=0&y=0&r=5", &body)
		require.Equal(t, http.StatusOK, res.Code)
		require.Equal(t, 1, body.Count)
		require.Equal(t, uint32(1), body.Bodies[0].ID)
	})

	tests := []struct {
		name   string
		target string
	}{
		{name: "missing param", target: "/api/query?min_x=0&min_y=0&max_x=10"},
		{name: "not a number", target: "/api/query?min_x=a&min_y=0&max_x=10&max_y=10"},
		{name: "nan", target: "/api/query?min_x=NaN&min_y=0&max_x=10&max_y=10"},
		{name: "infinite rect", target: "/api/query?min_x=-Inf&min_y=0&max_x=10&max_y=10"},
		{name: "infinite circle center", target: "/api/query/circle?x=Inf&y=0&r=5"},
		{name: "infinite radius", target: "/api/query/circle?x=0&y=0&r=+Inf"},
		{name: "out of range", target: "/api/query?min_x=1e40&min_y=0&max_x=10&max_y=10"},
		{name: "inverted rect", target: "/api/query?min_x=10&min_y=0&max_x=0&max_y=10"},
		{name: "zero limit", target: "/api/query?min_x=0&min_y=0&max_x=10&max_y=10&limit=0"},
		{name: "limit too large", target: "/api/query?min_x=0&min_y=0&max_x=10&max_y=10&limit=100000"},
		{name: "negative radius", target: "/api/query/circle?x=0&y=0&r=-1"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var body ErrorResponse
			res := serve(t, router, http.MethodGet, test.target, &body)
			require.Equal(t, http.StatusBadRequest, res.Code)
			require.NotEmpty(t, body.Error)
		})
	}
}

func TestAPINearest(t *testing.T) {
	world := newFakeWorld()
	router := NewAPIRouter(APIConfig{World: world})

	t.Run("default k", func(t *testing.T) {
		var body NearestResponse
		res := serve(t, router, http.MethodGet, "/api/nearest?x=1&y=2", &body)
		require.Equal(t, http.StatusOK, res.Code)
		require.Len(t, body.Neighbors, 1)
		require.Equal(t, 1, world.k)
	})

	t.Run("k", func(t *testing.T) {
		var body NearestResponse
		res := serve(t, router, http.MethodGet, "/api/nearest?x=1&y=2&k=2", &body)
		require.Equal(t, http.StatusOK, res.Code)
		require.Len(t, body.Neighbors, 2)
		require.Equal(t, uint32(2), body.Neighbors[1].Body.ID)
	})

	t.Run("invalid k", func(t *testing.T) {
		res := serve(t, router, http.MethodGet, "/api/nearest?x=1&y=2&k=-3", nil)
		require.Equal(t, http.StatusBadRequest, res.Code)
	})

	t.Run("infinite position", func(t *testing.T) {
		var body ErrorResponse
		res := serve(t, router, http.MethodGet, "/api/nearest?x=Inf&y=0&k=3", &body)
		require.Equal(t, http.StatusBadRequest, res.Code)
		require.Contains(t, body.Error, "not a finite number")
	})
}

func TestAPIRaycast(t *testing.T) {
	world := newFakeWorld()
	router := NewAPIRouter(APIConfig{World: world})

	t.Run("hit", func(t *testing.T) {
		var body RaycastResponse
		res := serve(t, router, http.MethodGet, "/api/raycast?x=-5&y=5&dx=1&dy=0&max=100", &body)
		require.Equal(t, http.StatusOK, res.Code)
		require.NotNil(t, body.Hit)
		require.Equal(t, uint32(1), body.Hit.Body.ID)
		require.Equal(t, float32(10), body.Hit.Distance)
		require.Equal(t, [5]float32{-5, 5, 1, 0, 100}, world.ray)
	})

	t.Run("miss", func(t *testing.T) {
		var body RaycastResponse
		res := serve(t, router, http.MethodGet, "/api/raycast?x=-5&y=5&dx=-1&dy=0", &body)
		require.Equal(t, http.StatusOK, res.Code)
		require.Nil(t, body.Hit)
		require.Equal(t, extent.Inf(1), world.ray[4])
	})

	t.Run("zero direction", func(t *testing.T) {
		res := serve(t, router, http.MethodGet, "/api/raycast?x=0&y=0&dx=0&dy=0", nil)
		require.Equal(t, http.StatusBadRequest, res.Code)
	})

	t.Run("infinite values", func(t *testing.T) {
		for _, target := range []string{
			"/api/raycast?x=Inf&y=0&dx=1&dy=0",
			"/api/raycast?x=0&y=0&dx=-Inf&dy=0",
			"/api/raycast?x=0&y=0&dx=1&dy=0&max=Inf",
		} {
			res := serve(t, router, http.MethodGet, target, nil)
			require.Equal(t, http.StatusBadRequest, res.Code, target)
		}
	})
}

func TestAPIBodies(t *testing.T) {
	world := newFakeWorld()
	router := NewAPIRouter(APIConfig{World: world})

	t.Run("spawn", func(t *testing.T) {
		var body SpawnResponse
		res := serve(t, router, http.MethodPost, "/api/bodies?count=12", &body)
		require.Equal(t, http.StatusCreated, res.Code)
		require.Equal(t, 12, body.Spawned)
		require.Equal(t, 12, world.spawned)
	})

	t.Run("spawn too many", func(t *testing.T) {
		res := serve(t, router, http.MethodPost, "/api/bodies?count=1000000", nil)
		require.Equal(t, http.StatusBadRequest, res.Code)
		require.Equal(t, 12, world.spawned)
	})

	t.Run("despawn", func(t *testing.T) {
		var body DespawnResponse
		res := serve(t, router, http.MethodDelete, "/api/bodies?min_x=0&min_y=0&max_x=5&max_y=5", &body)
		require.Equal(t, http.StatusOK, res.Code)
		require.Equal(t, 2, body.Removed)
		require.Equal(t, []extent.Rect{extent.NewRect(0, 0, 5, 5)}, world.despawns)
	})
}

func TestAPIRouting(t *testing.T) {
	router := NewAPIRouter(APIConfig{World: newFakeWorld()})

	res := serve(t, router, http.MethodGet, "/api/unknown", nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	res = serve(t, router, http.MethodPut, "/api/bodies", nil)
	require.Equal(t, http.StatusMethodNotAllowed, res.Code)
}

func TestAPIRateLimit(t *testing.T) {
	router := NewAPIRouter(APIConfig{
		World: newFakeWorld(),
		RateLimiter: NewRateLimiter(RateLimitConfig{
			RequestsPerSecond: 0.001,
			Burst:             2,
		}),
	})

	for i := 0; i < 2; i++ {
		res := serve(t, router, http.MethodGet, "/api/stats", nil)
		require.Equal(t, http.StatusOK, res.Code)
	}

	res := serve(t, router, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusTooManyRequests, res.Code)
	require.Equal(t, "1", res.Header().Get("Retry-After"))
}

func TestAPIWithWorld(t *testing.T) {
	world, err := simulation.NewWorld(simulation.Config{
		Name:   "api-test",
		Extent: extent.NewHalf(0, 0, 1000, 1000),
		Bodies: 200,
		Seed:   1,
		Spawn: simulation.SpawnConfig{
			SizeMin: 4,
			SizeMax: 40,
		},
	})
	require.NoError(t, err)

	router := NewAPIRouter(APIConfig{World: world})

	var all BodiesResponse
	res := serve(t, router, http.MethodGet, "/api/query?min_x=-1000&min_y=-1000&max_x=1000&max_y=1000&limit=10000", &all)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, 200, all.Count)

	res = serve(t, router, http.MethodPost, "/api/bodies?count=50", nil)
	require.Equal(t, http.StatusCreated, res.Code)

	var ray RaycastResponse
	res = serve(t, router, http.MethodGet, "/api/raycast?x=0&y=0&dx=1e-30&dy=0", &ray)
	require.Equal(t, http.StatusOK, res.Code)

	var stats simulation.Stats
	serve(t, router, http.MethodGet, "/api/stats", &stats)
	require.Equal(t, 250, stats.Bodies)

	var removed DespawnResponse
	serve(t, router, http.MethodDelete, "/api/bodies?min_x=-1000&min_y=-1000&max_x=1000&max_y=1000", &removed)
	require.Equal(t, 250, removed.Removed)

	serve(t, router, http.MethodGet, "/api/stats", &stats)
	require.Equal(t, 0, stats.Bodies)
}
