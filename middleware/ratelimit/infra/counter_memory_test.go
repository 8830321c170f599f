package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterStore_KeyExpiresAfterTTL(t *testing.T) {
	now := time.UnixMilli(10_000)
	store := NewMemoryCounterStore(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	res, err := store.Consume(ctx, "rl:u", domain.ConsumeRequest{
		NowMillis: 10_000, WindowStartMillis: 9_000, MaxTokens: 1, Member: "a", TTL: 2 * time.Second,
	})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.Equal(t, []string{"rl:u"}, store.Keys())

	now = now.Add(2 * time.Second)
	assert.Empty(t, store.Keys())

	ttl, err := store.TTL(ctx, "rl:u")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-2), ttl)
}

func TestMemoryCounterStore_ConsumeTrimsBeforeCounting(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "rl:u", domain.TokenEntry{Member: "old", TimestampMillis: 100}, time.Hour))

	res, err := store.Consume(ctx, "rl:u", domain.ConsumeRequest{
		NowMillis: 2000, WindowStartMillis: 1000, MaxTokens: 1, Member: "new", TTL: time.Hour,
	})
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	entries, err := store.Entries(ctx, "rl:u")
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenEntry{{Member: "new", TimestampMillis: 2000}}, entries)
}

func TestMemoryCounterStore_SetFailure(t *testing.T) {
	store := NewMemoryCounterStore()
	store.SetFailure(errors.New("down"))

	err := store.Delete(context.Background(), "rl:u")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	store.SetFailure(nil)
	require.NoError(t, store.Delete(context.Background(), "rl:u"))
}
