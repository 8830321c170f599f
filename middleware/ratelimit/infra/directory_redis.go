package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisSubjectDirectory lê metadados publicados pelo serviço de identidade
// num hash "<prefix>:<subject>" com os campos "is-admin" e "roles" (CSV).
type RedisSubjectDirectory struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisSubjectDirectory(rdb redis.UniversalClient, prefix string) *RedisSubjectDirectory {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = "identity:subject"
	}
	return &RedisSubjectDirectory{rdb: rdb, prefix: prefix}
}

func (d *RedisSubjectDirectory) Lookup(ctx context.Context, s domain.Subject) (domain.SubjectMetadata, error) {
	vals, err := d.rdb.HMGet(ctx, d.prefix+":"+string(s), "is-admin", "roles").Result()
	if err != nil {
		return domain.SubjectMetadata{}, fmt.Errorf("lookup %s: %w", s, err)
	}

	var md domain.SubjectMetadata
	if v, ok := vals[0].(string); ok {
		md.Admin, _ = strconv.ParseBool(strings.TrimSpace(v))
	}
	if v, ok := vals[1].(string); ok {
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				md.Roles = append(md.Roles, r)
			}
		}
	}
	return md, nil
}
