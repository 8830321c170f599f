package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quota-gateway/middleware/ratelimit"
	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServeCmd struct {
	ListenAddr  string `name:"listen-addr" env:"LISTEN_ADDR" default:":8080" help:"Listen address."`
	UpstreamURL string `name:"upstream-url" env:"UPSTREAM_URL" help:"Upstream service URL (required)."`

	RateEnabled  bool          `name:"rate-enabled" env:"RATE_ENABLED" default:"true" negatable:"" help:"Enable rate limiting on proxied routes."`
	KeyHeader    string        `name:"key-header" env:"RATE_KEY_HEADER" default:"X-User-Id" help:"Header carrying the authenticated subject."`
	TrustXFF     bool          `name:"trust-xff" env:"TRUST_XFF" help:"Trust X-Forwarded-For for anonymous traffic."`
	AddHeaders   bool          `name:"add-headers" env:"ADD_RATELIMIT_HEADERS" help:"Add X-RateLimit-* headers to allowed responses."`
	StoreTimeout time.Duration `name:"store-timeout" env:"RATE_STORE_TIMEOUT" default:"500ms" help:"Timeout for each counter store call (0 = none)."`

	ConcurrencyMax     int           `name:"concurrency-max" env:"CONCURRENCY_MAX" default:"100" help:"Max in-flight requests (0 = unlimited)."`
	ConcurrencyTimeout time.Duration `name:"concurrency-timeout" env:"CONCURRENCY_TIMEOUT" default:"0s" help:"Wait for a slot up to this long."`
	RetryAfter         time.Duration `name:"retry-after" env:"RETRY_AFTER" default:"1s" help:"Retry-After for concurrency and debug throttling rejections."`

	StatsEnabled       bool          `name:"stats-enabled" env:"RATE_STATS_ENABLED" help:"Aggregate decisions in Redis hashes."`
	StatsRedisAddr     string        `name:"stats-redis-addr" env:"RATE_STATS_REDIS_ADDR" help:"Separate Redis for stats (default: counter store)."`
	StatsRedisPassword string        `name:"stats-redis-password" env:"RATE_STATS_REDIS_PASSWORD"`
	StatsRedisDB       int           `name:"stats-redis-db" env:"RATE_STATS_REDIS_DB" default:"0"`
	StatsPrefix        string        `name:"stats-prefix" env:"RATE_STATS_PREFIX" default:"ratelimit:stats"`
	StatsTTL           time.Duration `name:"stats-ttl" env:"RATE_STATS_TTL" default:"24h"`
	StatsBucket        string        `name:"stats-bucket" env:"RATE_STATS_BUCKET" default:"minute" enum:"minute,none"`
	StatsTrackSubjects bool          `name:"stats-track-subjects" env:"RATE_STATS_TRACK_KEYS"`

	Debug          bool          `name:"debug" env:"DEBUG" help:"Expose /debug/limits."`
	DebugRPS       float64       `name:"debug-rps" env:"DEBUG_RPS" default:"0.2" help:"Debug endpoint rate per operator."`
	DebugBurst     int           `name:"debug-burst" env:"DEBUG_BURST" default:"5"`
	CronSecret     string        `name:"cron-secret" env:"CRON_SECRET" help:"Bearer secret for POST /cron/heartbeat."`
	HeartbeatEvery time.Duration `name:"heartbeat-every" env:"HEARTBEAT_EVERY" default:"0s" help:"Run the store heartbeat in-process (0 = only via cron)."`
}

func (c *ServeCmd) validate() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.DebugRPS <= 0 || c.DebugBurst <= 0 {
		return errors.New("DEBUG_RPS and DEBUG_BURST must be > 0")
	}
	return nil
}

func (c *ServeCmd) Run(g *Globals) error {
	log := slog.Default()

	if err := c.validate(); err != nil {
		return err
	}
	target, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx, g)
	if err != nil {
		return err
	}
	defer d.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promStats, err := infra.NewPrometheusStats(reg)
	if err != nil {
		return err
	}
	stats := infra.MultiStats{promStats}

	if c.StatsEnabled {
		statsRdb := d.rdb
		if c.StatsRedisAddr != "" {
			statsRdb, err = newRedis(ctx, c.StatsRedisAddr, c.StatsRedisPassword, c.StatsRedisDB)
			if err != nil {
				return fmt.Errorf("redis stats: %w", err)
			}
			defer func() { _ = statsRdb.Close() }()
		}
		stats = append(stats, infra.NewRedisStatsStore(
			statsRdb,
			infra.WithStatsPrefix(c.StatsPrefix),
			infra.WithStatsTTL(c.StatsTTL),
			infra.WithStatsBucket(c.StatsBucket),
			infra.WithStatsTrackSubjects(c.StatsTrackSubjects),
		))
	}

	gate := application.NewGate(d.registry,
		application.WithBypass(d.bypass),
		application.WithStats(stats),
		application.WithStoreTimeout(c.StoreTimeout),
		application.WithGateLogger(log),
	)
	inspector := application.NewInspector(d.registry, d.store,
		application.WithInspectorStats(stats),
		application.WithInspectorLogger(log),
		application.WithEntries(true),
	)

	throttle := infra.NewThrottle(c.DebugRPS, c.DebugBurst)
	throttle.StartJanitor(ctx)

	heartbeat := infra.NewHeartbeat(d.rdb)
	heartbeat.Run(ctx, c.HeartbeatEvery, func(err error) {
		log.Error("heartbeat failed", "err", err)
	})

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.ErrorContext(r.Context(), "proxy error", "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	var proxied http.Handler = proxy
	if c.RateEnabled {
		proxied = ratelimit.Middleware(ratelimit.Options{
			Gate:                gate,
			Routes:              d.cfg,
			UserHeader:          c.KeyHeader,
			TrustXForwardedFor:  c.TrustXFF,
			AddRateLimitHeaders: c.AddHeaders,
			Logger:              log,
		})(proxied)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Group(func(r chi.Router) {
		if c.ConcurrencyMax > 0 {
			r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
				Max:            c.ConcurrencyMax,
				RejectStatus:   http.StatusServiceUnavailable,
				AcquireTimeout: c.ConcurrencyTimeout,
				RetryAfter:     c.RetryAfter,
				Stats:          stats,
			}))
		}
		handlers := &ratelimit.Handlers{
			Gate:       gate,
			Inspector:  inspector,
			Heartbeat:  heartbeat,
			Throttle:   application.ThrottleService{Store: throttle, RetryAfter: c.RetryAfter},
			Debug:      c.Debug,
			CronSecret: c.CronSecret,
			SubjectFn:  ratelimit.AuthenticatedSubject(c.KeyHeader),
			Logger:     log,
		}
		handlers.Mount(r)
		r.Handle("/*", proxied)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              c.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("gateway listening", "addr", c.ListenAddr, "upstream", target.String())
	log.Info("rate", "enabled", c.RateEnabled, "key_header", c.KeyHeader, "trust_xff", c.TrustXFF,
		"store_timeout", c.StoreTimeout, "admins", len(g.AdminSubjects), "debug", c.Debug)
	log.Info("rate-stats", "enabled", c.StatsEnabled, "bucket", c.StatsBucket, "ttl", c.StatsTTL,
		"track_subjects", c.StatsTrackSubjects)
	log.Info("concurrency", "max", c.ConcurrencyMax, "acquire_timeout", c.ConcurrencyTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// compile-time: o heartbeat Redis atende os handlers de status.
var _ ratelimit.HeartbeatService = (*infra.Heartbeat)(nil)
