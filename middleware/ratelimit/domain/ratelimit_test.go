package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterDefinition_Validate(t *testing.T) {
	ok := LimiterDefinition{Name: "api", Window: 50 * time.Second, MaxTokens: 20, KeyPrefix: "ratelimit"}
	require.NoError(t, ok.Validate())

	cases := map[string]LimiterDefinition{
		"name":           {Window: time.Second, MaxTokens: 1, KeyPrefix: "p"},
		"api.window":     {Name: "api", MaxTokens: 1, KeyPrefix: "p"},
		"api.max_tokens": {Name: "api", Window: time.Second, KeyPrefix: "p"},
		"api.key_prefix": {Name: "api", Window: time.Second, MaxTokens: 1},
	}
	for field, def := range cases {
		err := def.Validate()
		require.ErrorIs(t, err, ErrInvalidDefinition, field)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, field, verr.Field)
	}
}

func TestLimiterDefinition_KeyAndTTL(t *testing.T) {
	def := LimiterDefinition{Name: "auth", Window: 15 * time.Minute, MaxTokens: 5, KeyPrefix: "ratelimit/auth"}
	assert.Equal(t, "ratelimit/auth:user_1", def.WindowKey("user_1"))
	assert.Equal(t, 15*time.Minute+90*time.Second, def.KeyTTL())

	short := LimiterDefinition{Window: 3 * time.Second}
	assert.Equal(t, 4*time.Second, short.KeyTTL(), "slack is at least one second")
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.UnixMilli(10_000)
	assert.Equal(t, 2500*time.Millisecond, Decision{ResetAtMillis: 12_500}.RetryAfter(now))
	assert.Zero(t, Decision{ResetAtMillis: 9_000}.RetryAfter(now))
	assert.Zero(t, Decision{}.RetryAfter(now))
}

func TestConsistencyReport_Mismatch(t *testing.T) {
	assert.NoError(t, ConsistencyReport{Match: true}.Mismatch())
	assert.NoError(t, ConsistencyReport{Error: "store down"}.Mismatch())

	err := ConsistencyReport{Key: "k", DirectCount: 3, DerivedUsed: 2}.Mismatch()
	require.ErrorIs(t, err, ErrConsistencyMismatch)
	assert.Contains(t, err.Error(), "direct=3 derived=2")
}

func TestSummarizeResets(t *testing.T) {
	sum := SummarizeResets([]ResetResult{
		{Limiter: "api", Status: "success"},
		{Limiter: "auth", Status: "error", Error: "boom"},
	})
	assert.Equal(t, ResetSummary{Successful: 1, Failed: 1, Total: 2}, sum)
}
