package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quota-gateway/middleware/ratelimit/application"
	"quota-gateway/middleware/ratelimit/domain"
	"quota-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHeartbeat struct {
	beats int64
	err   error
}

func (f *fakeHeartbeat) Beat(context.Context) (infra.BeatResult, error) {
	if f.err != nil {
		return infra.BeatResult{}, f.err
	}
	f.beats++
	return infra.BeatResult{Timestamp: time.Now(), Ping: "PONG", Count: f.beats}, nil
}

func (f *fakeHeartbeat) Status(context.Context) (infra.HeartbeatStatus, error) {
	if f.err != nil {
		return infra.HeartbeatStatus{}, f.err
	}
	return infra.HeartbeatStatus{Healthy: f.beats > 0, TotalBeats: f.beats}, nil
}

func (f *fixture) router(debug bool, hb HeartbeatService, throttle application.ThrottleService) http.Handler {
	h := &Handlers{
		Gate:       f.gate,
		Inspector:  application.NewInspector(f.reg, f.store),
		Heartbeat:  hb,
		Throttle:   throttle,
		Debug:      debug,
		CronSecret: "s3cret",
		Now:        func() time.Time { return f.now },
	}
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func TestQuota_DoesNotConsume(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.Check(t.Context(), "fileUpload", "user_1")
	require.NoError(t, err)
	h := f.router(false, nil, application.ThrottleService{})

	for i := 0; i < 5; i++ {
		w := doRequest(h, http.MethodGet, "http://example/quota/fileUpload", "user_1")
		require.Equal(t, http.StatusOK, w.Code)

		var body quotaResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, 1, body.Remaining)
		assert.Equal(t, 2, body.Limit)
		assert.Equal(t, int64(1), body.Used)
		assert.True(t, body.CanConsume)
		assert.NotEmpty(t, body.ResetDate)
	}
}

func TestQuota_Errors(t *testing.T) {
	f := newFixture(t)
	h := f.router(false, nil, application.ThrottleService{})

	assert.Equal(t, http.StatusUnauthorized, doRequest(h, http.MethodGet, "http://example/quota/api", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(h, http.MethodGet, "http://example/quota/nope", "user_1").Code)

	f.store.SetFailure(errors.New("down"))
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(h, http.MethodGet, "http://example/quota/api", "user_1").Code)
}

func TestDebug_Guards(t *testing.T) {
	f := newFixture(t)

	off := f.router(false, nil, application.ThrottleService{})
	assert.Equal(t, http.StatusNotFound, doRequest(off, http.MethodGet, "http://example/debug/limits", "user_1").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(off, http.MethodDelete, "http://example/debug/limits", "user_1").Code)

	on := f.router(true, nil, application.ThrottleService{})
	assert.Equal(t, http.StatusUnauthorized, doRequest(on, http.MethodGet, "http://example/debug/limits", "").Code)
	assert.Equal(t, http.StatusForbidden, doRequest(on, http.MethodGet, "http://example/debug/limits?subject=user_2", "user_1").Code)
	assert.Equal(t, http.StatusOK, doRequest(on, http.MethodGet, "http://example/debug/limits?subject=user_2", "admin").Code)
}

func TestDebug_ThrottledPerOperator(t *testing.T) {
	f := newFixture(t)
	h := f.router(true, nil, application.ThrottleService{Store: infra.NewThrottle(0.01, 2), RetryAfter: 3 * time.Second})

	require.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "http://example/debug/limits", "user_1").Code)
	require.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "http://example/debug/limits", "user_1").Code)

	w := doRequest(h, http.MethodGet, "http://example/debug/limits", "user_1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "http://example/debug/limits", "user_2").Code)
}

func TestDebug_InspectAndReset(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		_, err := f.gate.Check(t.Context(), "api", "user_1")
		require.NoError(t, err)
	}
	h := f.router(true, nil, application.ThrottleService{})

	w := doRequest(h, http.MethodGet, "http://example/debug/limits", "user_1")
	require.Equal(t, http.StatusOK, w.Code)

	var body debugResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, domain.Subject("user_1"), body.Subject)
	require.Len(t, body.Limiters, 3)
	assert.Equal(t, "api", body.Limiters[0].Purpose)
	assert.Equal(t, int64(2), body.Limiters[0].DirectCount)
	assert.True(t, body.Limiters[0].Match)
	assert.Equal(t, "1/3 remaining", body.Summary["api"])
	assert.Zero(t, body.Mismatches)

	w = doRequest(h, http.MethodDelete, "http://example/debug/limits", "user_1")
	require.Equal(t, http.StatusOK, w.Code)

	var reset resetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&reset))
	assert.Equal(t, domain.ResetSummary{Successful: 3, Total: 3}, reset.Summary)
	assert.Empty(t, f.store.Keys())
}

func TestStoreStatusAndCron(t *testing.T) {
	f := newFixture(t)
	hb := &fakeHeartbeat{}
	h := f.router(false, hb, application.ThrottleService{})

	w := doRequest(h, http.MethodGet, "http://example/status/store", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"warning"`)

	r := httptest.NewRequest(http.MethodPost, "http://example/cron/heartbeat", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	r = httptest.NewRequest(http.MethodPost, "http://example/cron/heartbeat", nil)
	r.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"heartbeat_count":1`)

	w = doRequest(h, http.MethodGet, "http://example/status/store", "")
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	hb.err = errors.New("down")
	assert.Equal(t, http.StatusInternalServerError, doRequest(h, http.MethodGet, "http://example/status/store", "").Code)
}
