package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/quadtree/extent"
	"github.com/aukilabs/quadtree/featureflag"
	qhttp "github.com/aukilabs/quadtree/http"
	"github.com/aukilabs/quadtree/quadtree"
	"github.com/aukilabs/quadtree/simulation"
	"github.com/aukilabs/quadtree/smoketest"
	qwebsocket "github.com/aukilabs/quadtree/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

var (
	// The server version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "quadtree_info",
		Help:        "Quadtree simulation server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// Keeps the config struct from being obfuscated so that the cli package can
// generate readable command-line options.
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string           `cli:""        env:"QUADTREE_ADDR"                 help:"Listening address for viewer and API connections."`
	AdminAddr          string           `cli:""        env:"QUADTREE_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string           `cli:""        env:"QUADTREE_PUBLIC_ENDPOINT"      help:"The public endpoint where this server is reachable."`
	LogLevel           string           `cli:""        env:"QUADTREE_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool             `cli:""        env:"QUADTREE_LOG_INDENT"           help:"Indent logs."`
	CORSOrigins        []string         `cli:""        env:"QUADTREE_CORS_ORIGINS"         help:"Comma separated origins allowed to call the server from a browser. All origins when empty."`
	ClientIdleTimeout  time.Duration    `cli:",hidden" env:"QUADTREE_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle viewer will be disconnected."`
	FrameDuration      time.Duration    `cli:",hidden" env:"QUADTREE_FRAME_DURATION"       help:"The duration of a viewer frame."`
	LogSummaryInterval time.Duration    `cli:",hidden" env:"QUADTREE_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	Simulation         simulationConfig `cli:",hidden" env:"-"                             help:"Simulation configuration."`
	Tree               treeConfig       `cli:",hidden" env:"-"                             help:"Quadtree configuration."`
	Viewer             viewerConfig     `cli:",hidden" env:"-"                             help:"Viewer configuration."`
	API                apiConfig        `cli:",hidden" env:"-"                             help:"API configuration."`
	Events             eventsConfig     `cli:",hidden" env:"-"                             help:"Event pusher configuration."`
	FeatureFlags       []string         `cli:",hidden" env:"QUADTREE_FEATURE_FLAGS"        help:"Comma separated feature flags."`
	Version            bool             `cli:""        env:"-"                             help:"Show version."`
	Help               bool             `cli:""        env:"-"                             help:"Show help."`
}

type simulationConfig struct {
	Name         string        `cli:""        env:"QUADTREE_SIMULATION_NAME"          help:"The simulation name, used in logs and metrics."`
	Width        int           `cli:""        env:"QUADTREE_SIMULATION_WIDTH"         help:"The width of the area bodies are spawned in."`
	Height       int           `cli:""        env:"QUADTREE_SIMULATION_HEIGHT"        help:"The height of the area bodies are spawned in."`
	Bodies       int           `cli:""        env:"QUADTREE_SIMULATION_BODIES"        help:"The number of bodies spawned at start."`
	Seed         int           `cli:""        env:"QUADTREE_SIMULATION_SEED"          help:"The random seed."`
	TickDuration time.Duration `cli:""        env:"QUADTREE_SIMULATION_TICK_DURATION" help:"The interval between 2 simulation ticks."`
	Queries      int           `cli:",hidden" env:"QUADTREE_SIMULATION_QUERIES"       help:"The number of region queries run on every tick."`
	MeasureTicks int           `cli:",hidden" env:"QUADTREE_SIMULATION_MEASURE_TICKS" help:"The number of ticks averaged in a summary."`
	SizeMin      int           `cli:",hidden" env:"QUADTREE_SIMULATION_SIZE_MIN"      help:"The minimum body size."`
	SizeMax      int           `cli:",hidden" env:"QUADTREE_SIMULATION_SIZE_MAX"      help:"The maximum body size."`
}

type treeConfig struct {
	SplitThreshold int `cli:",hidden" env:"QUADTREE_TREE_SPLIT_THRESHOLD" help:"The number of entities that splits a leaf."`
	MergeThreshold int `cli:",hidden" env:"QUADTREE_TREE_MERGE_THRESHOLD" help:"The number of entities under which a branch is merged."`
	MaxDepth       int `cli:",hidden" env:"QUADTREE_TREE_MAX_DEPTH"       help:"The maximum depth of the tree."`
	MinSize        int `cli:",hidden" env:"QUADTREE_TREE_MIN_SIZE"        help:"The minimum half size of a node."`
}

type viewerConfig struct {
	MaxBodies      int `cli:",hidden" env:"QUADTREE_VIEWER_MAX_BODIES"       help:"The maximum number of bodies in a frame."`
	MaxViewArea    int `cli:",hidden" env:"QUADTREE_VIEWER_MAX_VIEW_AREA"    help:"The largest area a viewer can watch. 0 means no limit."`
	ViewsPerSecond int `cli:",hidden" env:"QUADTREE_VIEWER_VIEWS_PER_SECOND" help:"The number of view changes a viewer can request per second."`
	ViewBurst      int `cli:",hidden" env:"QUADTREE_VIEWER_VIEW_BURST"       help:"The number of view changes a viewer can request at once."`
}

type apiConfig struct {
	RequestsPerSecond int           `cli:",hidden" env:"QUADTREE_API_REQUESTS_PER_SECOND" help:"The number of API requests a client can send per second."`
	Burst             int           `cli:",hidden" env:"QUADTREE_API_BURST"               help:"The number of API requests a client can send at once."`
	CleanupInterval   time.Duration `cli:",hidden" env:"QUADTREE_API_CLEANUP_INTERVAL"    help:"The duration after which an inactive API client is forgotten."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"QUADTREE_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed. Disabled when empty."`
	FlushInterval time.Duration `cli:",hidden" env:"QUADTREE_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"QUADTREE_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"QUADTREE_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Millisecond * 50,
		LogSummaryInterval: time.Minute,
		Simulation: simulationConfig{
			Name:         "default",
			Width:        20000,
			Height:       20000,
			Bodies:       10000,
			Seed:         1,
			TickDuration: time.Second / 60,
			Queries:      100,
			MeasureTicks: 1000,
			SizeMin:      16,
			SizeMax:      768,
		},
		Tree: treeConfig{
			SplitThreshold: 7,
			MergeThreshold: 5,
			MaxDepth:       30,
			MinSize:        16,
		},
		Viewer: viewerConfig{
			MaxBodies:      5000,
			ViewsPerSecond: 10,
			ViewBurst:      20,
		},
		API: apiConfig{
			RequestsPerSecond: int(qhttp.DefaultRateLimitConfig.RequestsPerSecond),
			Burst:             qhttp.DefaultRateLimitConfig.Burst,
			CleanupInterval:   qhttp.DefaultRateLimitConfig.CleanupInterval,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the quadtree simulation server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "quadtree",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)

	world, err := simulation.NewWorld(newWorldConfig(conf, featureFlags))
	if err != nil {
		logs.Fatal(errors.New("creating simulation failed").Wrap(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		world.Run(ctx)
	}()

	apiRateLimiter := qhttp.NewRateLimiter(qhttp.RateLimitConfig{
		RequestsPerSecond: float64(conf.API.RequestsPerSecond),
		Burst:             conf.API.Burst,
		CleanupInterval:   conf.API.CleanupInterval,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		apiRateLimiter.Start(ctx)
	}()

	readinessCheck := func() bool {
		return world.Ticks() > 0
	}

	var service http.ServeMux
	service.Handle("/health", qhttp.HandleWithCORS(http.HandlerFunc(qhttp.HandleHealthCheck), conf.CORSOrigins...))
	service.Handle("/ready", qhttp.HandleWithCORS(qhttp.HandleReadyCheck(readinessCheck), conf.CORSOrigins...))
	service.Handle("/version", qhttp.HandleWithCORS(qhttp.HandleVersion(version, world.RunID()), conf.CORSOrigins...))
	service.Handle("/api/", qhttp.HandleWithCORS(qhttp.NewAPIRouter(qhttp.APIConfig{
		World:       world,
		RateLimiter: apiRateLimiter,
	}), conf.CORSOrigins...))

	service.Handle("/", qhttp.HandleWithCORS(websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h qwebsocket.Handler = &qwebsocket.ViewerHandler{
				World:             world,
				ClientIdleTimeout: conf.ClientIdleTimeout,
				FrameDuration:     conf.FrameDuration,
				ViewRate:          rate.Limit(conf.Viewer.ViewsPerSecond),
				ViewBurst:         conf.Viewer.ViewBurst,
				MaxBodies:         conf.Viewer.MaxBodies,
				MaxViewArea:       float32(conf.Viewer.MaxViewArea),
			}
			h = qwebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
			h = qwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			qwebsocket.Handle(ctx, conn, h)
		},
	}, conf.CORSOrigins...))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", qhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", qhttp.HandleReadyCheck(readinessCheck))
	admin.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("Quadtree %s", version),
		SendResult: func(_ context.Context, res smoketest.Result) error {
			logs.WithTag("result", res).Info("smoke test finished")
			return nil
		},
	}))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("run_id", world.RunID()).
		WithTag("feature_flags", featureFlags.List()).
		Info("starting quadtree server")

	qhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			qhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	wg.Wait()
}

func newWorldConfig(conf config, featureFlags featureflag.FeatureFlag) simulation.Config {
	s := conf.Simulation

	return simulation.Config{
		Name:         s.Name,
		Extent:       extent.NewHalf(0, 0, float32(s.Width)/2, float32(s.Height)/2),
		Bodies:       s.Bodies,
		Seed:         int64(s.Seed),
		TickDuration: s.TickDuration,
		Queries:      s.Queries,
		MeasureTicks: s.MeasureTicks,
		Spawn: simulation.SpawnConfig{
			SizeMin: float32(s.SizeMin),
			SizeMax: float32(s.SizeMax),
		},
		Tree: quadtree.Config{
			SplitThreshold: conf.Tree.SplitThreshold,
			MergeThreshold: conf.Tree.MergeThreshold,
			MaxDepth:       conf.Tree.MaxDepth,
			MinSize:        float32(conf.Tree.MinSize),
		},
		FeatureFlags: featureFlags,
	}
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.ClientIdleTimeout <= 0 || conf.FrameDuration <= 0 || conf.LogSummaryInterval <= 0 {
		return errors.New("viewer durations must be positive").
			WithTag("client_idle_timeout", conf.ClientIdleTimeout).
			WithTag("frame_duration", conf.FrameDuration).
			WithTag("log_summary_interval", conf.LogSummaryInterval)
	}

	if conf.Simulation.TickDuration <= 0 {
		return errors.New("simulation tick duration must be positive").
			WithTag("tick_duration", conf.Simulation.TickDuration)
	}

	if conf.Simulation.Width <= 0 || conf.Simulation.Height <= 0 {
		return errors.New("simulation size must be positive").
			WithTag("width", conf.Simulation.Width).
			WithTag("height", conf.Simulation.Height)
	}

	if conf.API.RequestsPerSecond <= 0 || conf.API.CleanupInterval <= 0 {
		return errors.New("api rate limit must be positive").
			WithTag("requests_per_second", conf.API.RequestsPerSecond).
			WithTag("cleanup_interval", conf.API.CleanupInterval)
	}

	return nil
}
