package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Heartbeat mantém o counter store "acordado" (instâncias gerenciadas podem
// suspender por inatividade) e registra quando o último beat aconteceu.
type Heartbeat struct {
	rdb    redis.UniversalClient
	prefix string
	keep   time.Duration
	maxAge time.Duration
	now    func() time.Time
}

type HeartbeatOption func(*Heartbeat)

func WithHeartbeatPrefix(prefix string) HeartbeatOption {
	return func(h *Heartbeat) { h.prefix = strings.Trim(prefix, ":") }
}

// WithHeartbeatMaxAge define a idade máxima do último beat para o status ser "healthy".
func WithHeartbeatMaxAge(d time.Duration) HeartbeatOption {
	return func(h *Heartbeat) { h.maxAge = d }
}

func WithHeartbeatClock(now func() time.Time) HeartbeatOption {
	return func(h *Heartbeat) { h.now = now }
}

func NewHeartbeat(rdb redis.UniversalClient, opts ...HeartbeatOption) *Heartbeat {
	h := &Heartbeat{
		rdb:    rdb,
		prefix: "app:redis:heartbeat",
		keep:   30 * 24 * time.Hour,
		maxAge: 10 * 24 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type BeatResult struct {
	Timestamp time.Time `json:"timestamp"`
	Ping      string    `json:"ping_response"`
	Count     int64     `json:"heartbeat_count"`
}

// Beat faz PING, grava o instante do beat e incrementa o contador.
func (h *Heartbeat) Beat(ctx context.Context) (BeatResult, error) {
	at := h.now().UTC()

	pong, err := h.rdb.Ping(ctx).Result()
	if err != nil {
		return BeatResult{}, fmt.Errorf("heartbeat ping: %w", err)
	}

	var incr *redis.IntCmd
	_, err = h.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, h.prefix+":last", at.Format(time.RFC3339Nano), h.keep)
		incr = pipe.Incr(ctx, h.prefix+":count")
		return nil
	})
	if err != nil {
		return BeatResult{}, fmt.Errorf("heartbeat record: %w", err)
	}
	return BeatResult{Timestamp: at, Ping: pong, Count: incr.Val()}, nil
}

type HeartbeatStatus struct {
	Healthy         bool       `json:"healthy"`
	LastBeat        *time.Time `json:"last_heartbeat,omitempty"`
	SinceLastBeat   string     `json:"since_last_heartbeat,omitempty"`
	TotalBeats      int64      `json:"total_heartbeats"`
	MaxAllowedDelay string     `json:"max_allowed_delay"`
}

// Status lê o último beat. Saudável quando houve beat dentro de maxAge.
func (h *Heartbeat) Status(ctx context.Context) (HeartbeatStatus, error) {
	st := HeartbeatStatus{MaxAllowedDelay: h.maxAge.String()}

	var lastCmd, countCmd *redis.StringCmd
	_, err := h.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		lastCmd = pipe.Get(ctx, h.prefix+":last")
		countCmd = pipe.Get(ctx, h.prefix+":count")
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return st, fmt.Errorf("heartbeat status: %w", err)
	}

	if n, err := countCmd.Int64(); err == nil {
		st.TotalBeats = n
	}
	if raw, err := lastCmd.Result(); err == nil {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			since := h.now().Sub(at)
			st.LastBeat = &at
			st.SinceLastBeat = since.Truncate(time.Second).String()
			st.Healthy = since < h.maxAge
		}
	}
	return st, nil
}

// Run executa Beat a cada intervalo até o ctx encerrar. onErr pode ser nil.
func (h *Heartbeat) Run(ctx context.Context, every time.Duration, onErr func(error)) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := h.Beat(ctx); err != nil && onErr != nil {
					onErr(err)
				}
			}
		}
	}()
}
