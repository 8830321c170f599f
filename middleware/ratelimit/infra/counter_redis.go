package infra

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

var (
	//go:embed scripts/consume.lua
	consumeSource string
	//go:embed scripts/peek.lua
	peekSource string

	consumeScript = redis.NewScript(consumeSource)
	peekScript    = redis.NewScript(peekSource)
)

// RedisCounterStore implementa domain.CounterStore sobre sorted sets do Redis.
//
// O check-and-consume roda num único script Lua (EVALSHA), portanto é atômico
// para todos os processos que compartilham a mesma instância.
type RedisCounterStore struct {
	rdb redis.UniversalClient
}

func NewRedisCounterStore(rdb redis.UniversalClient) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb}
}

func (s *RedisCounterStore) Consume(ctx context.Context, key string, req domain.ConsumeRequest) (domain.ConsumeResult, error) {
	res, err := consumeScript.Run(ctx, s.rdb, []string{key},
		req.NowMillis,
		req.WindowStartMillis,
		req.MaxTokens,
		req.Member,
		req.TTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return domain.ConsumeResult{}, unavailable("consume", err)
	}
	if len(res) != 3 {
		return domain.ConsumeResult{}, unavailable("consume", fmt.Errorf("unexpected script reply %v", res))
	}
	if res[0] < 0 {
		return domain.ConsumeResult{Count: res[1], OldestMillis: -1}, fmt.Errorf("%w: %s", domain.ErrMemberCollision, req.Member)
	}
	return domain.ConsumeResult{
		Allowed:      res[0] == 1,
		Count:        res[1],
		OldestMillis: res[2],
	}, nil
}

func (s *RedisCounterStore) Window(ctx context.Context, key string, fromMillis, toMillis int64) (domain.WindowState, error) {
	res, err := peekScript.Run(ctx, s.rdb, []string{key}, fromMillis, toMillis).Int64Slice()
	if err != nil {
		return domain.WindowState{}, unavailable("window", err)
	}
	if len(res) != 2 {
		return domain.WindowState{}, unavailable("window", fmt.Errorf("unexpected script reply %v", res))
	}
	return domain.WindowState{Count: res[0], OldestMillis: res[1]}, nil
}

// Count é um ZCOUNT direto, sem script, usado como segunda fonte pelo inspector.
func (s *RedisCounterStore) Count(ctx context.Context, key string, fromMillis, toMillis int64) (int64, error) {
	n, err := s.rdb.ZCount(ctx, key, strconv.FormatInt(fromMillis, 10), strconv.FormatInt(toMillis, 10)).Result()
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (s *RedisCounterStore) Add(ctx context.Context, key string, entry domain.TokenEntry, ttl time.Duration) error {
	var added *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.ZAddNX(ctx, key, redis.Z{Score: float64(entry.TimestampMillis), Member: entry.Member})
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return unavailable("add", err)
	}
	if added.Val() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrMemberCollision, entry.Member)
	}
	return nil
}

func (s *RedisCounterStore) Entries(ctx context.Context, key string) ([]domain.TokenEntry, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, unavailable("entries", err)
	}
	out := make([]domain.TokenEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, domain.TokenEntry{Member: member, TimestampMillis: int64(z.Score)})
	}
	return out, nil
}

// TTL devolve o PTTL da chave. Valores negativos seguem o Redis:
// -1 sem expiração, -2 chave inexistente.
func (s *RedisCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	return d, nil
}

func (s *RedisCounterStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}
