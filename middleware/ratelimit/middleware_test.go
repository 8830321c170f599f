package ratelimit

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) handler(next http.Handler) http.Handler {
	return Middleware(Options{
		Gate:                f.gate,
		Routes:              f.cfg,
		AddRateLimitHeaders: true,
		Now:                 func() time.Time { return f.now },
	})(next)
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func doRequest(h http.Handler, method, target, user string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if user != "" {
		r.Header.Set(DefaultUserHeader, user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameSubject(t *testing.T) {
	f := newFixture(t)
	calls := 0
	h := f.handler(okHandler(&calls))

	for i := 2; i >= 0; i-- {
		w := doRequest(h, http.MethodGet, "http://example/api/items", "user_1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, formatInt(i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := doRequest(h, http.MethodGet, "http://example/api/items", "user_1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "61", w.Header().Get("Retry-After"), "60.001s rounds up")
	assert.Equal(t, formatInt64(f.now.UnixMilli()+60_001), w.Header().Get("X-RateLimit-Reset"))

	var body deniedBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 3, body.Limit)
	assert.Equal(t, 0, body.Remaining)
	assert.Equal(t, f.now.UnixMilli()+60_001, body.ResetTime)
	assert.NotEmpty(t, body.Detail)

	assert.Equal(t, 3, calls)

	// outro subject tem a própria janela
	w = doRequest(h, http.MethodGet, "http://example/api/items", "user_2")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_AnonymousTrafficKeyedByIP(t *testing.T) {
	f := newFixture(t)
	calls := 0
	h := f.handler(okHandler(&calls))

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "http://example/api/x", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, http.MethodGet, "http://example/api/x", "").Code)
	assert.Equal(t, []string{"ratelimit:ip:10.0.0.1"}, f.store.Keys())
}

func TestMiddleware_UnmatchedRoutePassesThrough(t *testing.T) {
	f := newFixture(t)
	calls := 0
	h := f.handler(okHandler(&calls))

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "http://example/health", "user_1").Code)
	}
	assert.Empty(t, f.store.Keys())
}

func TestMiddleware_AdminBypass(t *testing.T) {
	f := newFixture(t)
	calls := 0
	h := f.handler(okHandler(&calls))

	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "http://example/api/auth/login", "admin").Code)
	}
	assert.Empty(t, f.store.Keys())
	assert.Equal(t, int64(20), f.stats.Total()[domain.OutcomeBypassed])
}

func TestMiddleware_StoreDownFailOpenAndFailClosed(t *testing.T) {
	f := newFixture(t)
	f.store.SetFailure(errors.New("connection refused"))
	calls := 0
	h := f.handler(okHandler(&calls))

	w := doRequest(h, http.MethodGet, "http://example/api/items", "user_1")
	assert.Equal(t, http.StatusOK, w.Code, "api is fail-open")

	w = doRequest(h, http.MethodPost, "http://example/api/auth/login", "user_1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "auth is fail-closed")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, 1, calls)
}

func TestMiddleware_RecordModeCountsOnlySuccessfulResponses(t *testing.T) {
	f := newFixture(t)
	status := http.StatusCreated
	calls := 0
	h := f.handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	require.Equal(t, http.StatusCreated, doRequest(h, http.MethodPost, "http://example/api/upload", "user_1").Code)

	status = http.StatusBadRequest
	require.Equal(t, http.StatusBadRequest, doRequest(h, http.MethodPost, "http://example/api/upload", "user_1").Code)

	eng := f.reg.MustGet("fileUpload")
	u, err := eng.Peek(t.Context(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Count, "failed upload must not be recorded")

	status = http.StatusCreated
	require.Equal(t, http.StatusCreated, doRequest(h, http.MethodPost, "http://example/api/upload", "user_1").Code)

	w := doRequest(h, http.MethodPost, "http://example/api/upload", "user_1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(2), f.stats.Total()[domain.OutcomeRecorded])
}
