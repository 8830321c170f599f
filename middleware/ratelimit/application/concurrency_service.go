package application

import (
	"context"
	"sync"
	"time"

	"quota-gateway/middleware/ratelimit/domain"
)

// ConcurrencyPurpose é o Purpose dos eventos de stats gerados pelo limite de
// requisições em voo. Não é um limiter do registry.
const ConcurrencyPurpose = "concurrency"

// ConcurrencyService protege o gateway inteiro: vagas em voo com timeout de espera.
// Não conhece HTTP nem subjects.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
	// Stats recebe um evento overloaded a cada vaga negada (opcional).
	Stats domain.StatsStore
	Now   func() time.Time
}

// Acquire tenta ocupar uma vaga.
//   - AcquireTimeout <= 0: espera até o ctx encerrar.
//   - AcquireTimeout > 0: espera no máximo esse tempo.
//
// Com ok=true o release devolvido pode ser chamado mais de uma vez; só a
// primeira chamada libera a vaga.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if !ok {
		s.overloaded(ctx)
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(release) }, true
}

func (s ConcurrencyService) overloaded(ctx context.Context) {
	if s.Stats == nil {
		return
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ev := domain.StatsEvent{Purpose: ConcurrencyPurpose, Outcome: domain.OutcomeOverloaded, At: now()}
	if ri, ok := RequestInfoFrom(ctx); ok {
		ev.Method, ev.Path = ri.Method, ri.Path
	}
	_ = s.Stats.Record(context.WithoutCancel(ctx), ev)
}
