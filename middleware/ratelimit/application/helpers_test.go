package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type storeFactory func(t *testing.T, clock *fakeClock) domain.CounterStore

// counterStores devolve as duas implementações para rodar as mesmas propriedades.
func counterStores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(_ *testing.T, clock *fakeClock) domain.CounterStore {
			return infra.NewMemoryCounterStore(infra.WithMemoryClock(clock.Now))
		},
		"redis": func(t *testing.T, _ *fakeClock) domain.CounterStore {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return infra.NewRedisCounterStore(rdb)
		},
	}
}

func testDef(name string, max int, window time.Duration) domain.LimiterDefinition {
	return domain.LimiterDefinition{
		Name:      name,
		Window:    window,
		MaxTokens: max,
		KeyPrefix: "test/" + name,
		FailOpen:  true,
	}
}

// blockingStore segura Consume até o contexto acabar.
type blockingStore struct {
	domain.CounterStore
}

func (blockingStore) Consume(ctx context.Context, _ string, _ domain.ConsumeRequest) (domain.ConsumeResult, error) {
	<-ctx.Done()
	return domain.ConsumeResult{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, ctx.Err())
}

// driftStore soma extra ao ZCOUNT direto, simulando divergência.
type driftStore struct {
	domain.CounterStore
	extra int64
}

func (d driftStore) Count(ctx context.Context, key string, from, to int64) (int64, error) {
	n, err := d.CounterStore.Count(ctx, key, from, to)
	return n + d.extra, err
}
