package infra

import (
	"context"
	"sync"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// Throttle é um throttle local (em processo) baseado em token bucket (x/time/rate),
// com cache por chave e limpeza periódica. Protege endpoints de operador
// (debug/inspeção/reset) sem gastar cota do counter store compartilhado.
type Throttle struct {
	mu           sync.Mutex
	entries      map[domain.ThrottleKey]*throttleEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type ThrottleOption func(*Throttle)

func WithIdleTTL(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.cleanupEvery = d }
}

func NewThrottle(rps float64, burst int, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		entries:      make(map[domain.ThrottleKey]*throttleEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Throttle) RPS() float64 { return float64(t.rps) }
func (t *Throttle) Burst() int   { return t.burst }

// Get implementa domain.ThrottleStore.
func (t *Throttle) Get(key domain.ThrottleKey) domain.Throttle {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ent, ok := t.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(t.rps, t.burst)
	t.entries[key] = &throttleEntry{lim: lim, lastSeen: now}
	return lim
}

func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Throttle) Cleanup() {
	cutoff := time.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (t *Throttle) StartJanitor(ctx context.Context) {
	if t.cleanupEvery <= 0 {
		return
	}

	tick := time.NewTicker(t.cleanupEvery)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				t.Cleanup()
			}
		}
	}()
}
