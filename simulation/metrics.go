package simulation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	worldLabel = "world"
	phaseLabel = "phase"

	phaseCollide   = "collide"
	phaseUpdate    = "update"
	phaseNormalize = "normalize"
	phaseQuery     = "query"
)

var (
	tickPhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simulation_tick_phase_duration_seconds",
		Help:    "The time spent in each phase of a simulation tick.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	}, []string{
		worldLabel,
		phaseLabel,
	})

	tickCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulation_ticks_total",
		Help: "The number of simulation ticks.",
	}, []string{worldLabel})

	collisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simulation_collisions_total",
		Help: "The number of resolved collisions.",
	}, []string{worldLabel})

	bodyGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "simulation_bodies",
		Help: "The number of simulated bodies.",
	}, []string{worldLabel})
)

func instrumentTick(world string, t phaseTimings, collisions, bodies int) {
	observe := func(phase string, d time.Duration) {
		tickPhaseDuration.
			With(prometheus.Labels{
				worldLabel: world,
				phaseLabel: phase,
			}).
			Observe(d.Seconds())
	}

	observe(phaseCollide, t.collide)
	observe(phaseUpdate, t.update)
	observe(phaseNormalize, t.normalize)
	observe(phaseQuery, t.query)

	labels := prometheus.Labels{worldLabel: world}
	tickCount.With(labels).Inc()
	collisionCount.With(labels).Add(float64(collisions))
	bodyGauge.With(labels).Set(float64(bodies))
}
