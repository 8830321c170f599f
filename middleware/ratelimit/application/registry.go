package application

import (
	"fmt"

	"quota-gateway/middleware/ratelimit/domain"
)

// Registry guarda um Engine por propósito. Construído uma vez na inicialização
// e injetado nos handlers; não muda depois disso.
type Registry struct {
	engines map[string]*Engine
	order   []string
}

func NewRegistry(store domain.CounterStore, defs []domain.LimiterDefinition, opts ...EngineOption) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no limiters configured", domain.ErrInvalidDefinition)
	}
	if err := domain.ValidateDefinitions(defs); err != nil {
		return nil, err
	}
	r := &Registry{engines: make(map[string]*Engine, len(defs))}
	for _, def := range defs {
		eng, err := NewEngine(def, store, opts...)
		if err != nil {
			return nil, err
		}
		r.engines[def.Name] = eng
		r.order = append(r.order, def.Name)
	}
	return r, nil
}

func (r *Registry) Get(name string) (*Engine, error) {
	eng, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownLimiter, name)
	}
	return eng, nil
}

// MustGet entra em pânico para nomes desconhecidos (erro de programação).
func (r *Registry) MustGet(name string) *Engine {
	eng, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return eng
}

// Names devolve os nomes na ordem da configuração.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Definitions() []domain.LimiterDefinition {
	out := make([]domain.LimiterDefinition, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.engines[n].def)
	}
	return out
}
