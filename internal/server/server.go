// Package server monta o gateway a partir da configuração: stores, gate,
// sinks de eventos, router chi e o ciclo de vida do processo.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"
	"golang.org/x/sync/errgroup"

	"ranch-gateway/internal/admin"
	"ranch-gateway/internal/config"
	"ranch-gateway/internal/routes"
	"ranch-gateway/middleware/gate"
	"ranch-gateway/middleware/identity"
	"ranch-gateway/middleware/ratelimit"
	"ranch-gateway/middleware/ratelimit/application"
	"ranch-gateway/middleware/ratelimit/domain"
	"ranch-gateway/middleware/ratelimit/infra"
	"ranch-gateway/middleware/rbac"
)

const codeFloodLimit = "FLOOD_LIMIT_EXCEEDED"

// Server é o gateway montado. Handler pode ser servido por qualquer http.Server;
// Run cuida do listener e das goroutines de fundo.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	rdb        *redis.Client
	memory     *infra.MemoryWindowStore
	dispatcher *infra.Dispatcher

	Limiter  application.Service
	Gate     *gate.Gate
	Metrics  *infra.Metrics
	Counters *infra.MemoryStatsStore
	Pool     *infra.ChanPool
	Resolver identity.Resolver

	handler http.Handler
}

// Option ajusta a montagem (usado por testes e pelo example-server).
type Option func(*options)

type options struct {
	rdb      *redis.Client
	resolver identity.Resolver
}

// WithRedisClient usa um cliente já criado em vez de abrir um novo.
func WithRedisClient(rdb *redis.Client) Option {
	return func(o *options) { o.rdb = rdb }
}

// WithResolver troca o resolvedor de identidade escolhido por IDENTITY_MODE.
func WithResolver(res identity.Resolver) Option {
	return func(o *options) { o.resolver = res }
}

// New monta o gateway. upstream recebe toda requisição admitida em /api.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, upstream http.Handler, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{cfg: cfg, logger: logger}

	if cfg.UsesRedis() {
		s.rdb = o.rdb
		if s.rdb == nil {
			s.rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = s.rdb.Close()
			return nil, fmt.Errorf("server: redis ping: %w", err)
		}
	}

	policies, err := application.DefaultPolicyTable()
	if err != nil {
		return nil, err
	}

	var store domain.WindowStore
	if cfg.RateEnabled {
		switch cfg.RateStore {
		case "redis":
			store = infra.NewRedisWindowStore(s.rdb, infra.WithRedisPrefix(cfg.RedisPrefix))
		default:
			s.memory = infra.NewMemoryWindowStore(
				infra.WithShards(cfg.RateShards),
				infra.WithSweepEvery(cfg.SweepEvery),
			)
			store = s.memory
		}
	}

	s.Metrics = infra.NewMetrics()
	if store != nil {
		s.Metrics.RegisterWindowStore(store)
	}
	s.Counters = infra.NewMemoryStatsStore()

	sinks := []domain.StatsStore{infra.NewSecurityLog(logger), s.Metrics, s.Counters}
	var distributed admin.DistributedCounters
	if cfg.StatsEnabled {
		rs := infra.NewRedisStatsStore(
			s.rdb,
			infra.WithStatsPrefix(cfg.StatsPrefix),
			infra.WithStatsTTL(cfg.StatsTTL),
			infra.WithStatsBucket(cfg.StatsBucket),
			infra.WithStatsTrackKeys(cfg.StatsTrackKeys),
		)
		sinks = append(sinks, rs)
		distributed = rs
	}
	s.dispatcher = infra.NewDispatcher(logger, cfg.EventBuffer, sinks...)

	s.Limiter = application.Service{
		Store:          store,
		Policies:       policies,
		Lanes:          application.DefaultLanes(),
		BypassSecret:   cfg.BypassSecret,
		ScaleAnonymous: cfg.ScaleAnonymous,
		Stats:          s.dispatcher,
	}
	s.Gate = gate.New(rbac.NewEvaluator(nil), s.Limiter, s.dispatcher, logger)

	var gauge domain.LoadGauge
	var heavy func(http.Handler) http.Handler
	if cfg.ConcurrencyMax > 0 {
		s.Pool = infra.NewChanPool(cfg.ConcurrencyMax)
		gauge = s.Pool
		s.Metrics.RegisterLoadGauge(s.Pool)
		heavy = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Pool:           s.Pool,
			AcquireTimeout: cfg.ConcurrencyTimeout,
			Stats:          s.dispatcher,
		})
	}
	bp := application.Backpressure{
		Gauge:     gauge,
		Threshold: cfg.BackpressureThreshold,
		Factor:    cfg.BackpressureFactor,
	}

	s.Resolver = o.resolver
	if s.Resolver == nil {
		s.Resolver, err = newResolver(cfg)
		if err != nil {
			return nil, err
		}
	}

	source := ratelimit.DefaultSourceAddress(cfg.TrustXFF)
	protect := gate.NewHTTP(s.Gate, gate.HTTPOptions{
		BypassHeader: cfg.BypassHeader,
		LoadFunc:     bp.LoadFactor,
		AddHeaders:   cfg.AddHeaders,
		Source:       source,
	})

	adm := &admin.Handler{
		Limiter:     s.Limiter,
		Counters:    s.Counters,
		Distributed: distributed,
		Dropped:     s.dispatcher.Dropped,
		Logger:      logger.With().Str("component", "admin").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))
	r.Use(secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "no-referrer",
	}).Handler)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", s.Metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.FloodLimit > 0 {
			r.Use(httprate.Limit(cfg.FloodLimit, time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
					return domain.NormalizeAddress(source(r)), nil
				}),
				httprate.WithLimitHandler(floodLimited),
				// X-RateLimit-* pertencem ao gate
				httprate.WithResponseHeaders(httprate.ResponseHeaders{}),
			))
		}
		r.Use(identity.Middleware(s.Resolver, source, logger))

		r.Mount("/admin/ratelimit", adm.Routes(protect))
		routes.Mount(r, routes.Rules(), protect, heavy, upstream)
	})

	s.handler = r
	return s, nil
}

func newResolver(cfg *config.Config) (identity.Resolver, error) {
	if cfg.IdentityMode == "header" {
		return identity.NewHeaderResolver(), nil
	}
	res, err := identity.NewJWTResolver(cfg.JWTSecret, identity.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return nil, fmt.Errorf("server: jwt resolver: %w", err)
	}
	return res, nil
}

func (s *Server) Handler() http.Handler { return s.handler }

// Run sobe o listener em cfg.ListenAddr e as goroutines de fundo (dispatcher,
// janitor). Retorna quando ctx encerra e o shutdown termina.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.dispatcher.Run(gctx) })
	if s.memory != nil {
		s.memory.StartJanitor(gctx)
	}

	g.Go(func() error {
		s.logger.Info().
			Str("addr", s.cfg.ListenAddr).
			Bool("rate_enabled", s.cfg.RateEnabled).
			Str("rate_store", s.cfg.RateStore).
			Str("identity", s.cfg.IdentityMode).
			Bool("stats_redis", s.cfg.StatsEnabled).
			Int("concurrency_max", s.cfg.ConcurrencyMax).
			Bool("bypass_enabled", s.cfg.BypassSecret != "").
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	return err
}

// Close libera o cliente Redis (se houver).
func (s *Server) Close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}

type healthView struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	view := healthView{Status: "ok"}
	status := http.StatusOK
	if s.rdb != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		view.Redis = "ok"
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			// sem redis o gate nega tudo (fail closed)
			view.Status, view.Redis = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, view)
}

func floodLimited(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(ratelimit.HeaderRetryAfter, "60")
	ratelimit.WriteError(w, http.StatusTooManyRequests, codeFloodLimit, "Too many requests from this address", 60)
}
