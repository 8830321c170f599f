package ratelimit

import (
	"testing"
	"time"

	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/config"
	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"
)

type fixture struct {
	store *infra.MemoryCounterStore
	stats *infra.MemoryStatsStore
	reg   *application.Registry
	gate  *application.Gate
	cfg   config.Config
	now   time.Time
}

// newFixture monta api 3/min (fail-open), auth 2/15m (fail-closed) e upload 2/24h (record).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }

	cfg := config.Config{
		Limiters: []domain.LimiterDefinition{
			{Name: "api", Window: time.Minute, MaxTokens: 3, KeyPrefix: "ratelimit", FailOpen: true},
			{Name: "auth", Window: 15 * time.Minute, MaxTokens: 2, KeyPrefix: "ratelimit/auth"},
			{Name: "fileUpload", Window: 24 * time.Hour, MaxTokens: 2, KeyPrefix: "ratelimit/file-upload", FailOpen: true},
		},
		Routes: []config.Route{
			{Prefix: "/api/auth", Purpose: "auth", Mode: config.ModeConsume},
			{Prefix: "/api/upload", Purpose: "fileUpload", Mode: config.ModeRecord},
			{Prefix: "/api", Purpose: "api", Mode: config.ModeConsume},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid fixture config: %v", err)
	}

	store := infra.NewMemoryCounterStore(infra.WithMemoryClock(clock))
	reg, err := application.NewRegistry(store, cfg.Limiters, application.WithClock(clock))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	stats := infra.NewMemoryStatsStore()
	gate := application.NewGate(reg,
		application.WithStats(stats),
		application.WithBypass(infra.NewStaticBypass("admin")),
	)
	return &fixture{store: store, stats: stats, reg: reg, gate: gate, cfg: cfg, now: now}
}
