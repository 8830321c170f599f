package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "quota-gateway/ratelimit"

// Engine é a janela deslizante de um limiter (um LimiterDefinition).
//
// Seguro para uso concorrente: toda a decisão acontece dentro do counter store
// (script Lua ou seção crítica), nunca como leitura seguida de escrita no cliente.
type Engine struct {
	def    domain.LimiterDefinition
	store  domain.CounterStore
	now    func() time.Time
	member func(now time.Time) string
	tracer trace.Tracer
	log    *slog.Logger
}

type EngineOption func(*Engine)

// WithClock define o relógio usado tanto para o score quanto para a contagem.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithMemberFunc troca o gerador de ids de membro (precisa ser único por chave).
func WithMemberFunc(fn func(now time.Time) string) EngineOption {
	return func(e *Engine) { e.member = fn }
}

func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewMemberID gera "<millis>-<uuid v4>": ordenável por tempo e sem colisão
// entre inserções no mesmo milissegundo.
func NewMemberID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())
}

func NewEngine(def domain.LimiterDefinition, store domain.CounterStore, opts ...EngineOption) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("limiter %s: counter store is required", def.Name)
	}
	e := &Engine{
		def:    def,
		store:  store,
		now:    time.Now,
		member: NewMemberID,
		tracer: otel.Tracer(tracerName),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Definition() domain.LimiterDefinition { return e.def }

func (e *Engine) Key(s domain.Subject) string { return e.def.WindowKey(s) }

// Now devolve o instante atual segundo o relógio do engine.
func (e *Engine) Now() time.Time { return e.now() }

// CheckAndConsume conta as entradas em [now-window, now] e, se houver cota,
// insere uma nova entrada em now, tudo numa única operação atômica no store.
// Chamadas negadas não inserem nada.
func (e *Engine) CheckAndConsume(ctx context.Context, s domain.Subject) (domain.Decision, error) {
	if s == "" {
		return domain.Decision{}, domain.ErrInvalidSubject
	}

	ctx, span := e.start(ctx, "consume")
	defer span.End()

	now := e.now()
	nowMs := now.UnixMilli()
	res, err := e.store.Consume(ctx, e.Key(s), domain.ConsumeRequest{
		NowMillis:         nowMs,
		WindowStartMillis: e.windowStart(nowMs),
		MaxTokens:         e.def.MaxTokens,
		Member:            e.member(now),
		TTL:               e.def.KeyTTL(),
	})
	if err != nil {
		e.fail(span, err)
		return domain.Decision{Purpose: e.def.Name, Limit: e.def.MaxTokens}, fmt.Errorf("limiter %s: %w", e.def.Name, err)
	}

	used := res.Count
	if res.Allowed {
		used++
	}
	dec := domain.Decision{
		Purpose:       e.def.Name,
		Allowed:       res.Allowed,
		Limit:         e.def.MaxTokens,
		Remaining:     e.remaining(used),
		ResetAtMillis: e.resetAt(nowMs, res.OldestMillis),
		Outcome:       domain.OutcomeDenied,
	}
	if dec.Allowed {
		dec.Outcome = domain.OutcomeAllowed
	}

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", dec.Allowed),
		attribute.Int("ratelimit.remaining", dec.Remaining),
	)
	if !dec.Allowed {
		e.log.DebugContext(ctx, "rate limit exceeded",
			"purpose", e.def.Name, "subject", string(s), "count", res.Count, "limit", e.def.MaxTokens)
	}
	return dec, nil
}

// Peek é a mesma contagem do CheckAndConsume, sem inserção.
func (e *Engine) Peek(ctx context.Context, s domain.Subject) (domain.Usage, error) {
	return e.PeekAt(ctx, s, e.now())
}

// PeekAt permite fixar o instante (o inspector usa o mesmo now nas duas leituras).
func (e *Engine) PeekAt(ctx context.Context, s domain.Subject, at time.Time) (domain.Usage, error) {
	if s == "" {
		return domain.Usage{}, domain.ErrInvalidSubject
	}

	ctx, span := e.start(ctx, "peek")
	defer span.End()

	atMs := at.UnixMilli()
	st, err := e.store.Window(ctx, e.Key(s), e.windowStart(atMs), atMs)
	if err != nil {
		e.fail(span, err)
		return domain.Usage{Purpose: e.def.Name, Limit: e.def.MaxTokens}, fmt.Errorf("limiter %s: %w", e.def.Name, err)
	}
	u := e.usage(st, atMs)
	span.SetAttributes(attribute.Int("ratelimit.remaining", u.Remaining))
	return u, nil
}

// Record registra um consumo sem gating (ex: contabilizar um upload já concluído).
// Pode deixar a janela acima de MaxTokens; o próximo CheckAndConsume nega.
func (e *Engine) Record(ctx context.Context, s domain.Subject) (domain.Usage, error) {
	if s == "" {
		return domain.Usage{}, domain.ErrInvalidSubject
	}

	ctx, span := e.start(ctx, "record")
	defer span.End()

	now := e.now()
	nowMs := now.UnixMilli()
	key := e.Key(s)
	entry := domain.TokenEntry{Member: e.member(now), TimestampMillis: nowMs}
	if err := e.store.Add(ctx, key, entry, e.def.KeyTTL()); err != nil {
		e.fail(span, err)
		return domain.Usage{Purpose: e.def.Name, Limit: e.def.MaxTokens}, fmt.Errorf("limiter %s: %w", e.def.Name, err)
	}

	st, err := e.store.Window(ctx, key, e.windowStart(nowMs), nowMs)
	if err != nil {
		e.fail(span, err)
		return domain.Usage{Purpose: e.def.Name, Limit: e.def.MaxTokens}, fmt.Errorf("limiter %s: %w", e.def.Name, err)
	}
	return e.usage(st, nowMs), nil
}

// Reset apaga a Window Key inteira. Idempotente.
func (e *Engine) Reset(ctx context.Context, s domain.Subject) error {
	if s == "" {
		return domain.ErrInvalidSubject
	}

	ctx, span := e.start(ctx, "reset")
	defer span.End()

	if err := e.store.Delete(ctx, e.Key(s)); err != nil {
		e.fail(span, err)
		return fmt.Errorf("limiter %s: %w", e.def.Name, err)
	}
	return nil
}

func (e *Engine) windowStart(nowMs int64) int64 {
	return nowMs - e.def.Window.Milliseconds()
}

func (e *Engine) remaining(used int64) int {
	r := int64(e.def.MaxTokens) - used
	if r < 0 {
		return 0
	}
	return int(r)
}

// resetAt é o instante em que a entrada mais antiga sai da janela
// (o limite inferior é inclusivo, daí o +1ms). Janela vazia: now + window + 1ms.
func (e *Engine) resetAt(nowMs, oldestMs int64) int64 {
	base := oldestMs
	if base < 0 {
		base = nowMs
	}
	return base + e.def.Window.Milliseconds() + 1
}

func (e *Engine) usage(st domain.WindowState, atMs int64) domain.Usage {
	return domain.Usage{
		Purpose:       e.def.Name,
		Count:         st.Count,
		Limit:         e.def.MaxTokens,
		Remaining:     e.remaining(st.Count),
		ResetAtMillis: e.resetAt(atMs, st.OldestMillis),
	}
}

func (e *Engine) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "ratelimit.engine."+op, trace.WithAttributes(
		attribute.String("ratelimit.purpose", e.def.Name),
		attribute.String("ratelimit.key_prefix", e.def.KeyPrefix),
	))
}

func (e *Engine) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
