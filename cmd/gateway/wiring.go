package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/config"
	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// deps é o que todos os comandos montam a partir das Globals.
type deps struct {
	cfg      config.Config
	rdb      *redis.Client
	store    *infra.RedisCounterStore
	registry *application.Registry
	bypass   domain.BypassPolicy
	cleanup  []func()
}

func (d *deps) Close() {
	for i := len(d.cleanup) - 1; i >= 0; i-- {
		d.cleanup[i]()
	}
}

func newRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func setupTracing(enabled bool) (func(), error) {
	if !enabled {
		return func() {}, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

func buildDeps(ctx context.Context, g *Globals) (*deps, error) {
	cfg, err := config.Load(g.LimitsFile)
	if err != nil {
		return nil, fmt.Errorf("limits config: %w", err)
	}

	d := &deps{cfg: cfg}

	shutdownTracing, err := setupTracing(g.TraceStdout)
	if err != nil {
		return nil, err
	}
	d.cleanup = append(d.cleanup, shutdownTracing)

	d.rdb, err = newRedis(ctx, g.RedisAddr, g.RedisPassword, g.RedisDB)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.cleanup = append(d.cleanup, func() { _ = d.rdb.Close() })

	d.store = infra.NewRedisCounterStore(d.rdb)
	d.registry, err = application.NewRegistry(d.store, cfg.Limiters, application.WithLogger(slog.Default()))
	if err != nil {
		d.Close()
		return nil, err
	}

	policies := infra.AnyBypass{infra.NewStaticBypass(g.AdminSubjects...)}
	if g.DirectoryPrefix != "" {
		policies = append(policies, infra.DirectoryBypass{
			Directory: infra.NewRedisSubjectDirectory(d.rdb, g.DirectoryPrefix),
		})
	}
	d.bypass = policies

	for _, def := range cfg.Limiters {
		slog.Info("limiter", "name", def.Name, "max_tokens", def.MaxTokens, "window", def.Window,
			"key_prefix", def.KeyPrefix, "fail_open", def.FailOpen)
	}
	return d, nil
}
