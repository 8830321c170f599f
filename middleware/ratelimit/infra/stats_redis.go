package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore agrega outcomes em hashes do Redis (HINCRBY num pipeline).
//
// Chaves:
//   - <prefix>:total                 cumulativo, sem expiração
//   - <prefix>:purpose:<purpose>     cumulativo por limiter
//   - <prefix>:minute:<yyyymmddhhmm> série temporal (bucket "minute")
//   - <prefix>:route                 campo "<METHOD> <path>:<outcome>"
//   - <prefix>:subject:<subject>     opcional (trackSubjects)
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por subject.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackSubjects bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackSubjects(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackSubjects = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := string(ev.Outcome)
	if field == "" {
		return nil
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if p := strings.TrimSpace(ev.Purpose); p != "" {
		pipe.HIncrBy(ctx, s.prefix+":purpose:"+p, field, 1)
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	routeField := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
	if routeField != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", routeField+":"+field, 1)
	}

	if s.trackSubjects {
		if subj := strings.TrimSpace(string(ev.Subject)); subj != "" {
			subjKey := s.prefix + ":subject:" + subj
			pipe.HIncrBy(ctx, subjKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, subjKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
