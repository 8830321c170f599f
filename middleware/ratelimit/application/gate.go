package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quota-gateway/middleware/ratelimit/domain"
)

// Gate é o ponto de entrada público: bypass primeiro, depois o engine, e por
// fim a política de falha do limiter quando o counter store não responde.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Gate struct {
	registry     *Registry
	bypass       domain.BypassPolicy
	stats        domain.StatsStore
	log          *slog.Logger
	storeTimeout time.Duration
}

type GateOption func(*Gate)

func WithBypass(p domain.BypassPolicy) GateOption {
	return func(g *Gate) { g.bypass = p }
}

func WithStats(s domain.StatsStore) GateOption {
	return func(g *Gate) { g.stats = s }
}

func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.log = l }
}

// WithStoreTimeout limita cada chamada ao store. Zero = sem timeout
// (o do contexto do chamador vale).
func WithStoreTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.storeTimeout = d }
}

func NewGate(reg *Registry, opts ...GateOption) *Gate {
	g := &Gate{registry: reg, log: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Registry() *Registry { return g.registry }

// Check aplica o rate limit de purpose ao subject.
//
// Com o store indisponível, devolve a decisão da política do limiter
// (fail_open ou fail_closed) junto com o erro envolvendo ErrStoreUnavailable.
func (g *Gate) Check(ctx context.Context, purpose string, s domain.Subject) (domain.Decision, error) {
	eng, err := g.registry.Get(purpose)
	if err != nil {
		return domain.Decision{}, err
	}
	if s == "" {
		return domain.Decision{}, domain.ErrInvalidSubject
	}

	if g.Bypassed(ctx, s) {
		dec := domain.Decision{
			Purpose:   purpose,
			Allowed:   true,
			Limit:     domain.Unlimited,
			Remaining: domain.Unlimited,
			Outcome:   domain.OutcomeBypassed,
		}
		g.record(ctx, purpose, s, dec.Outcome)
		return dec, nil
	}

	sctx, cancel := g.withTimeout(ctx)
	defer cancel()

	dec, err := eng.CheckAndConsume(sctx, s)
	if err != nil {
		dec = g.failurePolicy(eng, err)
		g.log.WarnContext(ctx, "rate limit store failure",
			"purpose", purpose, "subject", string(s), "outcome", dec.Outcome, "err", err)
		g.record(ctx, purpose, s, dec.Outcome)
		return dec, err
	}
	g.record(ctx, purpose, s, dec.Outcome)
	return dec, nil
}

// Peek é a visão sem consumo. Subjects com bypass veem cota ilimitada.
func (g *Gate) Peek(ctx context.Context, purpose string, s domain.Subject) (domain.Usage, error) {
	eng, err := g.registry.Get(purpose)
	if err != nil {
		return domain.Usage{}, err
	}
	if s == "" {
		return domain.Usage{}, domain.ErrInvalidSubject
	}
	if g.Bypassed(ctx, s) {
		return domain.Usage{Purpose: purpose, Limit: domain.Unlimited, Remaining: domain.Unlimited}, nil
	}

	sctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return eng.Peek(sctx, s)
}

// Record contabiliza um consumo já ocorrido, sem gating. Bypass não registra nada.
func (g *Gate) Record(ctx context.Context, purpose string, s domain.Subject) (domain.Usage, error) {
	eng, err := g.registry.Get(purpose)
	if err != nil {
		return domain.Usage{}, err
	}
	if s == "" {
		return domain.Usage{}, domain.ErrInvalidSubject
	}
	if g.Bypassed(ctx, s) {
		g.record(ctx, purpose, s, domain.OutcomeBypassed)
		return domain.Usage{Purpose: purpose, Limit: domain.Unlimited, Remaining: domain.Unlimited}, nil
	}

	sctx, cancel := g.withTimeout(ctx)
	defer cancel()

	u, err := eng.Record(sctx, s)
	if err != nil {
		g.log.WarnContext(ctx, "rate limit record failed", "purpose", purpose, "subject", string(s), "err", err)
		return u, err
	}
	g.record(ctx, purpose, s, domain.OutcomeRecorded)
	return u, nil
}

func (g *Gate) Reset(ctx context.Context, purpose string, s domain.Subject) error {
	eng, err := g.registry.Get(purpose)
	if err != nil {
		return err
	}
	sctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return eng.Reset(sctx, s)
}

// Bypassed resolve a política de bypass sob o mesmo StoreTimeout das chamadas
// ao store. Erro ou timeout conta como "sem bypass".
func (g *Gate) Bypassed(ctx context.Context, s domain.Subject) bool {
	if g.bypass == nil {
		return false
	}
	bctx, cancel := g.withTimeout(ctx)
	defer cancel()
	ok, err := g.bypass.IsBypassed(bctx, s)
	if err != nil {
		if !errors.Is(err, domain.ErrBypassResolution) {
			err = errors.Join(domain.ErrBypassResolution, err)
		}
		g.log.WarnContext(ctx, "BypassResolutionFailed", "subject", string(s), "err", err)
		return false
	}
	return ok
}

func (g *Gate) failurePolicy(eng *Engine, err error) domain.Decision {
	def := eng.Definition()
	if !errors.Is(err, domain.ErrStoreUnavailable) && !errors.Is(err, domain.ErrMemberCollision) {
		// erro inesperado: trata como indisponibilidade, pela política do limiter
		g.log.Error("unexpected limiter error", "purpose", def.Name, "err", err)
	}
	if def.FailOpen {
		return domain.Decision{
			Purpose:   def.Name,
			Allowed:   true,
			Limit:     def.MaxTokens,
			Remaining: def.MaxTokens,
			Outcome:   domain.OutcomeFailOpen,
		}
	}
	return domain.Decision{
		Purpose:       def.Name,
		Allowed:       false,
		Limit:         def.MaxTokens,
		Remaining:     0,
		ResetAtMillis: eng.Now().Add(def.Window).UnixMilli(),
		Outcome:       domain.OutcomeFailClosed,
	}
}

func (g *Gate) record(ctx context.Context, purpose string, s domain.Subject, o domain.Outcome) {
	if g.stats == nil {
		return
	}
	ev := domain.StatsEvent{Purpose: purpose, Subject: s, Outcome: o, At: time.Now()}
	if ri, ok := RequestInfoFrom(ctx); ok {
		ev.Method, ev.Path = ri.Method, ri.Path
	}
	if err := g.stats.Record(ctx, ev); err != nil {
		g.log.DebugContext(ctx, "rate limit stats record failed", "err", err)
	}
}

func (g *Gate) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.storeTimeout)
}

type requestInfoKey struct{}

// RequestInfo carrega método/rota para as estatísticas sem acoplar o Gate a net/http.
type RequestInfo struct {
	Method string
	Path   string
}

func WithRequestInfo(ctx context.Context, ri RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, ri)
}

func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	ri, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return ri, ok
}
