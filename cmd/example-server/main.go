package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quota-gateway/middleware/ratelimit"
	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/config"
	"quota-gateway/middleware/ratelimit/infra"
)

func main() {
	// Exemplo: middleware injetado direto no webserver (sem proxy), contadores em memória.
	cfg := config.Default()
	store := infra.NewMemoryCounterStore()

	reg, err := application.NewRegistry(store, cfg.Limiters)
	if err != nil {
		slog.Error("registry", "err", err)
		os.Exit(1)
	}
	stats := infra.NewMemoryStatsStore()
	gate := application.NewGate(reg,
		application.WithBypass(infra.NewStaticBypass("admin")),
		application.WithStats(stats),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := http.Handler(mux)
	h = ratelimit.Middleware(ratelimit.Options{
		Gate:                gate,
		Routes:              cfg,
		UserHeader:          "X-User-Id", // vazio => sempre IP
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
	})(h)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		slog.Info("decisions", "total", stats.Total())
	}()

	slog.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
