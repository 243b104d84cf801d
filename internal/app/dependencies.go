package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-billing/internal/catalog"
	"github.com/noah-isme/pos-billing/internal/common"
	"github.com/noah-isme/pos-billing/internal/config"
	"github.com/noah-isme/pos-billing/internal/events"
	"github.com/noah-isme/pos-billing/internal/health"
	"github.com/noah-isme/pos-billing/internal/money"
	"github.com/noah-isme/pos-billing/internal/obs"
	"github.com/noah-isme/pos-billing/internal/register"
	"github.com/noah-isme/pos-billing/internal/security"
	"github.com/noah-isme/pos-billing/internal/sequence"
)

// Dependencies enumerates the services shared by the HTTP server.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Redis     *redis.Client
	Validator *validator.Validate
	Registry  prometheus.Registerer
	Gatherer  prometheus.Gatherer
	Events    *events.MemoryStore
	Register  *register.Register
	Items     *catalog.Store
	Handler   *register.Handler
}

// Options overrides infrastructure for tests.
type Options struct {
	// Redis replaces the client dialled from REDIS_URL.
	Redis *redis.Client
	// Registry defaults to the global Prometheus registry.
	Registry *prometheus.Registry
}

// New wires the register and its collaborators. Redis is optional: without it references come
// from an in-process counter and idempotency keys are not enforced.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Validator: validator.New(validator.WithRequiredStructEnabled()),
		Registry:  prometheus.DefaultRegisterer,
		Gatherer:  prometheus.DefaultGatherer,
		Items:     catalog.NewStore(),
		Events:    events.NewMemoryStore(cfg.EventBufferSize),
	}
	if opts.Registry != nil {
		deps.Registry = opts.Registry
		deps.Gatherer = opts.Registry
	}
	if cfg.Obs.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, deps.Registry)
	}

	client := opts.Redis
	if client == nil && cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(redisOpts)
		if err := redisotel.InstrumentTracing(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
		if cfg.Obs.MetricsEnabled {
			if err := redisotel.InstrumentMetrics(client); err != nil {
				logger.Error().Err(err).Msg("instrument redis metrics")
			}
		}
	}
	deps.Redis = client

	var seq sequence.Sequencer
	if client != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		redisSeq, err := sequence.NewRedis(pingCtx, client, cfg.SequenceKey, cfg.RefStart)
		if err != nil {
			return nil, err
		}
		seq = redisSeq
	}

	bus := &events.Bus{
		Store:     deps.Events,
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()}},
	}
	reg, err := register.New(register.Config{Currency: cfg.Currency, RefStart: cfg.RefStart}, register.Deps{
		Currencies: money.NewStandardTable(),
		Sequence:   seq,
		Events:     bus,
		Logger:     logger.With().Str("component", "register").Logger(),
	})
	if err != nil {
		return nil, err
	}
	deps.Register = reg

	handlerCfg := register.HandlerConfig{Register: reg, Items: deps.Items, Validator: deps.Validator}
	if client != nil {
		handlerCfg.Idempotency = common.Idem{R: client, TTL: cfg.IdempotencyTTL}.Middleware
	}
	deps.Handler = register.NewHandler(handlerCfg)
	return deps, nil
}

// Close releases external connections.
func (d *Dependencies) Close() error {
	if d.Redis == nil {
		return nil
	}
	if err := d.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// Router builds the HTTP surface: health, metrics, optional pprof and the versioned API.
func (d *Dependencies) Router() http.Handler {
	cfg := d.Config
	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), d.Registry)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(security.Headers)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders:   []string{"X-Total-Count"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Obs.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.Obs.PprofUser, cfg.Obs.PprofPass))
	}

	healthHandler := health.Handler{
		Checker:      health.RedisChecker{Client: d.Redis},
		RedisTimeout: cfg.HealthRedisTimeout,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", d.Handler.Mount)

	if cfg.Obs.TracingEnabled {
		return obs.TracingHandler(r, "pos-billing")
	}
	return r
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
