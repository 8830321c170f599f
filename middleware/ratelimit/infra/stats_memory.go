package infra

import (
	"context"
	"sync"

	"quota-gateway/middleware/ratelimit/domain"
)

// Counters agrega eventos por outcome.
type Counters map[domain.Outcome]int64

func (c Counters) clone() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu        sync.Mutex
	total     Counters
	byPurpose map[string]Counters
	byRoute   map[string]Counters
	bySubject map[domain.Subject]Counters

	trackSubjects bool
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackSubjects liga contagem por subject (cuidado com cardinalidade).
func WithTrackSubjects(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackSubjects = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		total:     make(Counters),
		byPurpose: make(map[string]Counters),
		byRoute:   make(map[string]Counters),
		bySubject: make(map[domain.Subject]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total[ev.Outcome]++
	bump(s.byPurpose, ev.Purpose, ev.Outcome)
	if ev.Method != "" || ev.Path != "" {
		bump(s.byRoute, ev.Method+" "+ev.Path, ev.Outcome)
	}
	if s.trackSubjects && ev.Subject != "" {
		bump(s.bySubject, ev.Subject, ev.Outcome)
	}
	return nil
}

func bump[K comparable](m map[K]Counters, k K, o domain.Outcome) {
	c, ok := m[k]
	if !ok {
		c = make(Counters)
		m[k] = c
	}
	c[o]++
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total.clone()
}

func (s *MemoryStatsStore) ByPurpose() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.byPurpose)
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.byRoute)
}

func (s *MemoryStatsStore) BySubject() map[domain.Subject]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.bySubject)
}

func cloneAll[K comparable](m map[K]Counters) map[K]Counters {
	out := make(map[K]Counters, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}
