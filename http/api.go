package http

import (
	"math"
	"net/http"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadtree/extent"
	"github.com/aukilabs/quadtree/simulation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeBadRequest = "http_bad_request"

	defaultQueryLimit = 1000
	maxQueryLimit     = 10000
	maxNearest        = 1000
	maxSpawn          = 10000
)

// World is the simulation served by the API.
type World interface {
	Stats() simulation.Stats
	Query(r extent.Rect, limit int) []simulation.Body
	QueryCircle(x, y, radius float32, limit int) []simulation.Body
	Nearest(x, y float32, k int) []simulation.Neighbor
	Raycast(x, y, dx, dy, maxDistance float32) (simulation.Neighbor, bool, error)
	Spawn(n int) error
	Despawn(r extent.Rect) int
}

// APIConfig contains the dependencies of the API router.
type APIConfig struct {
	World World

	// Optional. Requests are not rate limited when nil.
	RateLimiter *RateLimiter
}

// BodiesResponse is returned by region queries.
type BodiesResponse struct {
	Count  int               `json:"count"`
	Bodies []simulation.Body `json:"bodies"`
}

// NearestResponse is returned by nearest queries.
type NearestResponse struct {
	Neighbors []simulation.Neighbor `json:"neighbors"`
}

// RaycastResponse is returned by raycasts. Hit is nil when nothing was hit.
type RaycastResponse struct {
	Hit *simulation.Neighbor `json:"hit"`
}

// SpawnResponse is returned when bodies are added.
type SpawnResponse struct {
	Spawned int `json:"spawned"`
}

// DespawnResponse is returned when bodies are removed.
type DespawnResponse struct {
	Removed int `json:"removed"`
}

// ErrorResponse is returned when a request fails.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewAPIRouter creates the router serving the simulation API under /api.
func NewAPIRouter(c APIConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if c.RateLimiter != nil {
		r.Use(c.RateLimiter.Middleware)
	}

	h := apiHandlers{world: c.World}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.handleStats)
		r.Get("/query", h.handleQuery)
		r.Get("/query/circle", h.handleQueryCircle)
		r.Get("/nearest", h.handleNearest)
		r.Get("/raycast", h.handleRaycast)
		r.Post("/bodies", h.handleSpawn)
		r.Delete("/bodies", h.handleDespawn)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

type apiHandlers struct {
	world World
}

func (h apiHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.world.Stats())
}

func (h apiHandlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	p := params{r: r}
	rect := p.rect()
	limit := p.intOr("limit", defaultQueryLimit)
	if p.err == nil && (limit <= 0 || limit > maxQueryLimit) {
		p.fail("limit", "must be between 1 and "+strconv.Itoa(maxQueryLimit))
	}
	if p.err != nil {
		handleError(w, p.err)
		return
	}

	bodies := h.world.Query(rect, limit)
	writeJSON(w, http.StatusOK, BodiesResponse{
		Count:  len(bodies),
		Bodies: bodies,
	})
}

func (h apiHandlers) handleQueryCircle(w http.ResponseWriter, r *http.Request) {
	p := params{r: r}
	x := p.float("x")
	y := p.float("y")
	radius := p.float("r")
	limit := p.intOr("limit", defaultQueryLimit)
	if p.err == nil && radius < 0 {
		p.fail("r", "must not be negative")
	}
	if p.err == nil && (limit <= 0 || limit > maxQueryLimit) {
		p.fail("limit", "must be between 1 and "+strconv.Itoa(maxQueryLimit))
	}
	if p.err != nil {
		handleError(w, p.err)
		return
	}

	bodies := h.world.QueryCircle(x, y, radius, limit)
	writeJSON(w, http.StatusOK, BodiesResponse{
		Count:  len(bodies),
		Bodies: bodies,
	})
}

func (h apiHandlers) handleNearest(w http.ResponseWriter, r *http.Request) {
	p := params{r: r}
	x := p.float("x")
	y := p.float("y")
	k := p.intOr("k", 1)
	if p.err == nil && (k <= 0 || k > maxNearest) {
		p.fail("k", "must be between 1 and "+strconv.Itoa(maxNearest))
	}
	if p.err != nil {
		handleError(w, p.err)
		return
	}

	writeJSON(w, http.StatusOK, NearestResponse{
		Neighbors: h.world.Nearest(x, y, k),
	})
}

func (h apiHandlers) handleRaycast(w http.ResponseWriter, r *http.Request) {
	p := params{r: r}
	x := p.float("x")
	y := p.float("y")
	dx := p.float("dx")
	dy := p.float("dy")
	maxDistance := p.floatOr("max", extent.Inf(1))
	if p.err != nil {
		handleError(w, p.err)
		return
	}

	hit, ok, err := h.world.Raycast(x, y, dx, dy, maxDistance)
	if err != nil {
		handleError(w, err)
		return
	}

	var res RaycastResponse
	if ok {
		res.Hit = &hit
	}
	writeJSON(w, http.StatusOK, res)
}

func (h apiHandlers) handleSpawn(w http.ResponseWriter, r *http.Request) {
	p := params{r: r}
	count := p.intOr("count", 1)
	if p.err == nil && (count <= 0 || count > maxSpawn) {
		p.fail("count", "must be between 1 and "+strconv.Itoa(maxSpawn))
	}
	if p.err != nil {
		handleError(w, p.err)
		return
	}

	if err := h.world.Spawn(count); err != nil {
		handleError(w, err)
		return
	}

	logs.WithTag("count", count).Info("bodies spawned")
	writeJSON(w, http.StatusCreated, SpawnResponse{Spawned: count})
}

func (h apiHandlers) handleDespawn(w http.ResponseWriter, r *http.Request) {
	p := params{r: r}
	rect := p.rect()
	if p.err != nil {
		handleError(w, p.err)
		return
	}

	removed := h.world.Despawn(rect)

	logs.WithTag("rect", rect).
		WithTag("removed", removed).
		Info("bodies despawned")
	writeJSON(w, http.StatusOK, DespawnResponse{Removed: removed})
}

// params reads query parameters and keeps the first error.
type params struct {
	r   *http.Request
	err error
}

func (p *params) fail(name, reason string) {
	if p.err == nil {
		p.err = errors.New("invalid parameter " + name + ": " + reason).
			WithType(ErrTypeBadRequest).
			WithTag("param", name)
	}
}

func (p *params) float(name string) float32 {
	v := p.r.URL.Query().Get(name)
	if v == "" {
		p.fail(name, "missing")
		return 0
	}
	return p.parseFloat(name, v)
}

func (p *params) floatOr(name string, def float32) float32 {
	v := p.r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	return p.parseFloat(name, v)
}

func (p *params) parseFloat(name, v string) float32 {
	f, err := strconv.ParseFloat(v, 32)
	if err != nil || math.IsNaN(f) {
		p.fail(name, "not a number")
		return 0
	}
	if math.IsInf(f, 0) {
		p.fail(name, "not a finite number")
		return 0
	}
	return float32(f)
}

func (p *params) intOr(name string, def int) int {
	v := p.r.URL.Query().Get(name)
	if v == "" {
		return def
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(name, "not an integer")
		return 0
	}
	return i
}

func (p *params) rect() extent.Rect {
	r := extent.NewRect(
		p.float("min_x"),
		p.float("min_y"),
		p.float("max_x"),
		p.float("max_y"),
	)
	if p.err == nil && !r.Valid() {
		p.fail("rect", "min is greater than max")
	}
	return r
}

func handleError(w http.ResponseWriter, err error) {
	if errors.IsType(err, ErrTypeBadRequest) || errors.IsType(err, simulation.ErrTypeInvalidArg) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs.Error(errors.New("api request failed").Wrap(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Warn(errors.New("writing response failed").Wrap(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
