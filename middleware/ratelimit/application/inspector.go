package application

import (
	"context"
	"log/slog"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"golang.org/x/sync/errgroup"
)

// Inspector compara duas contagens independentes de "tokens usados":
// um ZCOUNT direto no store e MaxTokens - Remaining do próprio engine.
// Nunca consome cota e nunca participa do caminho de tráfego.
type Inspector struct {
	registry    *Registry
	store       domain.CounterStore
	stats       domain.StatsStore
	log         *slog.Logger
	withEntries bool
}

type InspectorOption func(*Inspector)

func WithInspectorStats(s domain.StatsStore) InspectorOption {
	return func(i *Inspector) { i.stats = s }
}

func WithInspectorLogger(l *slog.Logger) InspectorOption {
	return func(i *Inspector) { i.log = l }
}

// WithEntries inclui as entradas cruas do sorted set no relatório.
func WithEntries(on bool) InspectorOption {
	return func(i *Inspector) { i.withEntries = on }
}

func NewInspector(reg *Registry, store domain.CounterStore, opts ...InspectorOption) *Inspector {
	i := &Inspector{registry: reg, store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inspect produz o relatório de um limiter. Divergência é relida uma vez
// (tráfego ao vivo pode cair entre as duas leituras); se persistir, vai para
// log/estatística e fica disponível em report.Mismatch().
func (i *Inspector) Inspect(ctx context.Context, purpose string, s domain.Subject) (domain.ConsistencyReport, error) {
	eng, err := i.registry.Get(purpose)
	if err != nil {
		return domain.ConsistencyReport{}, err
	}
	if s == "" {
		return domain.ConsistencyReport{}, domain.ErrInvalidSubject
	}

	rep, err := i.compare(ctx, eng, s)
	if err != nil {
		return rep, err
	}
	if !rep.Match {
		if rep, err = i.compare(ctx, eng, s); err != nil {
			return rep, err
		}
		if !rep.Match {
			i.log.WarnContext(ctx, "rate limit consistency mismatch",
				"purpose", purpose, "subject", string(s), "key", rep.Key,
				"direct_count", rep.DirectCount, "derived_used", rep.DerivedUsed, "overshoot", rep.Overshoot)
			if i.stats != nil {
				_ = i.stats.Record(ctx, domain.StatsEvent{
					Purpose: purpose,
					Subject: s,
					Outcome: domain.OutcomeConsistencyMismatch,
					At:      time.Now(),
				})
			}
		}
	}

	if err := i.details(ctx, &rep); err != nil {
		return rep, err
	}
	return rep, nil
}

func (i *Inspector) compare(ctx context.Context, eng *Engine, s domain.Subject) (domain.ConsistencyReport, error) {
	def := eng.Definition()
	now := eng.Now()
	nowMs := now.UnixMilli()
	start := eng.windowStart(nowMs)

	rep := domain.ConsistencyReport{
		Purpose:           def.Name,
		Subject:           s,
		Key:               eng.Key(s),
		NowMillis:         nowMs,
		WindowStartMillis: start,
		Limit:             def.MaxTokens,
	}

	direct, err := i.store.Count(ctx, rep.Key, start, nowMs)
	if err != nil {
		return rep, err
	}
	u, err := eng.PeekAt(ctx, s, now)
	if err != nil {
		return rep, err
	}

	rep.DirectCount = direct
	rep.Remaining = u.Remaining
	rep.ResetAtMillis = u.ResetAtMillis
	rep.DerivedUsed = int64(def.MaxTokens - u.Remaining)
	// Remaining satura em 0; o excedente registrado fica em Overshoot.
	rep.Overshoot = max(0, u.Count-int64(def.MaxTokens))
	rep.Match = rep.DirectCount == rep.DerivedUsed+rep.Overshoot
	return rep, nil
}

func (i *Inspector) details(ctx context.Context, rep *domain.ConsistencyReport) error {
	entries, err := i.store.Entries(ctx, rep.Key)
	if err != nil {
		return err
	}
	rep.StoredEntries = len(entries)
	if i.withEntries {
		rep.Entries = entries
	}

	ttl, err := i.store.TTL(ctx, rep.Key)
	if err != nil {
		return err
	}
	rep.KeyTTLMillis = -1
	if ttl >= 0 {
		rep.KeyTTLMillis = ttl.Milliseconds()
	}
	return nil
}

// InspectAll inspeciona todos os limiters em paralelo. Falhas individuais
// ficam em report.Error; não abortam os demais.
func (i *Inspector) InspectAll(ctx context.Context, s domain.Subject) ([]domain.ConsistencyReport, error) {
	if s == "" {
		return nil, domain.ErrInvalidSubject
	}
	names := i.registry.Names()
	out := make([]domain.ConsistencyReport, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for idx, name := range names {
		g.Go(func() error {
			rep, err := i.Inspect(gctx, name, s)
			if err != nil {
				rep.Purpose, rep.Subject = name, s
				rep.Error = err.Error()
			}
			out[idx] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// ResetAll reseta o subject em todos os limiters e devolve o resultado de cada um.
func (i *Inspector) ResetAll(ctx context.Context, s domain.Subject) ([]domain.ResetResult, domain.ResetSummary) {
	names := i.registry.Names()
	out := make([]domain.ResetResult, len(names))

	var g errgroup.Group
	for idx, name := range names {
		g.Go(func() error {
			res := domain.ResetResult{Limiter: name, Status: "success"}
			if err := i.registry.MustGet(name).Reset(ctx, s); err != nil {
				res.Status, res.Error = "error", err.Error()
			} else {
				i.log.InfoContext(ctx, "rate limit reset", "purpose", name, "subject", string(s))
			}
			out[idx] = res
			return nil
		})
	}
	_ = g.Wait()
	return out, domain.SummarizeResets(out)
}
