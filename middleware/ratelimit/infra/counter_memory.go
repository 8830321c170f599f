package infra

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quota-gateway/middleware/ratelimit/domain"
)

// MemoryCounterStore é um domain.CounterStore em memória (um processo só).
// Útil para testes e desenvolvimento; cada operação roda sob um único mutex,
// o que dá a mesma atomicidade do script Lua dentro do processo.
type MemoryCounterStore struct {
	mu      sync.Mutex
	windows map[string]*memWindow
	now     func() time.Time
	// fail, se definido, é devolvido por todas as operações (simula indisponibilidade).
	fail error
}

type memWindow struct {
	members   map[string]int64
	expiresAt time.Time
}

type MemoryCounterOption func(*MemoryCounterStore)

// WithMemoryClock define o relógio usado para expirar chaves (TTL).
func WithMemoryClock(now func() time.Time) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func NewMemoryCounterStore(opts ...MemoryCounterOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		windows: make(map[string]*memWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFailure faz as próximas operações falharem com err (nil restaura).
func (s *MemoryCounterStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// lookup devolve a janela viva da chave, descartando-a se já expirou.
func (s *MemoryCounterStore) lookup(key string) *memWindow {
	w, ok := s.windows[key]
	if !ok {
		return nil
	}
	if !w.expiresAt.IsZero() && !s.now().Before(w.expiresAt) {
		delete(s.windows, key)
		return nil
	}
	return w
}

func (s *MemoryCounterStore) failure(op string) error {
	if s.fail == nil {
		return nil
	}
	return unavailable(op, s.fail)
}

func (s *MemoryCounterStore) Consume(ctx context.Context, key string, req domain.ConsumeRequest) (domain.ConsumeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConsumeResult{}, unavailable("consume", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("consume"); err != nil {
		return domain.ConsumeResult{}, err
	}

	w := s.lookup(key)
	if w == nil {
		w = &memWindow{members: make(map[string]int64)}
	}
	for m, score := range w.members {
		if score < req.WindowStartMillis {
			delete(w.members, m)
		}
	}

	count, _ := w.span(req.WindowStartMillis, req.NowMillis)
	res := domain.ConsumeResult{Count: count}
	if count < int64(req.MaxTokens) {
		if _, exists := w.members[req.Member]; exists {
			return domain.ConsumeResult{Count: count, OldestMillis: -1}, fmt.Errorf("%w: %s", domain.ErrMemberCollision, req.Member)
		}
		w.members[req.Member] = req.NowMillis
		w.expiresAt = s.now().Add(req.TTL)
		res.Allowed = true
	}
	if len(w.members) > 0 {
		s.windows[key] = w
	}
	_, res.OldestMillis = w.span(req.WindowStartMillis, req.NowMillis)
	return res, nil
}

func (s *MemoryCounterStore) Window(ctx context.Context, key string, fromMillis, toMillis int64) (domain.WindowState, error) {
	if err := ctx.Err(); err != nil {
		return domain.WindowState{}, unavailable("window", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("window"); err != nil {
		return domain.WindowState{}, err
	}

	w := s.lookup(key)
	if w == nil {
		return domain.WindowState{OldestMillis: -1}, nil
	}
	count, oldest := w.span(fromMillis, toMillis)
	return domain.WindowState{Count: count, OldestMillis: oldest}, nil
}

func (s *MemoryCounterStore) Count(ctx context.Context, key string, fromMillis, toMillis int64) (int64, error) {
	st, err := s.Window(ctx, key, fromMillis, toMillis)
	if err != nil {
		return 0, err
	}
	return st.Count, nil
}

func (s *MemoryCounterStore) Add(ctx context.Context, key string, entry domain.TokenEntry, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return unavailable("add", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("add"); err != nil {
		return err
	}

	w := s.lookup(key)
	if w == nil {
		w = &memWindow{members: make(map[string]int64)}
		s.windows[key] = w
	}
	if _, exists := w.members[entry.Member]; exists {
		return fmt.Errorf("%w: %s", domain.ErrMemberCollision, entry.Member)
	}
	w.members[entry.Member] = entry.TimestampMillis
	w.expiresAt = s.now().Add(ttl)
	return nil
}

func (s *MemoryCounterStore) Entries(ctx context.Context, key string) ([]domain.TokenEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("entries", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("entries"); err != nil {
		return nil, err
	}

	w := s.lookup(key)
	if w == nil {
		return []domain.TokenEntry{}, nil
	}
	out := make([]domain.TokenEntry, 0, len(w.members))
	for m, score := range w.members {
		out = append(out, domain.TokenEntry{Member: m, TimestampMillis: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimestampMillis == out[j].TimestampMillis {
			return out[i].Member < out[j].Member
		}
		return out[i].TimestampMillis < out[j].TimestampMillis
	})
	return out, nil
}

// TTL segue a convenção do PTTL: -2 chave inexistente.
func (s *MemoryCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("ttl", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ttl"); err != nil {
		return 0, err
	}

	w := s.lookup(key)
	if w == nil {
		return -2, nil
	}
	if w.expiresAt.IsZero() {
		return -1, nil
	}
	return w.expiresAt.Sub(s.now()), nil
}

func (s *MemoryCounterStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("delete"); err != nil {
		return err
	}
	delete(s.windows, key)
	return nil
}

// Keys devolve as chaves vivas (ordenadas).
func (s *MemoryCounterStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.windows))
	for k := range s.windows {
		if s.lookup(k) != nil {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// span conta membros com score em [from, to] e devolve o menor score (-1 se vazio).
func (w *memWindow) span(from, to int64) (int64, int64) {
	var count int64
	oldest := int64(-1)
	for _, score := range w.members {
		if score < from || score > to {
			continue
		}
		count++
		if oldest < 0 || score < oldest {
			oldest = score
		}
	}
	return count, oldest
}
