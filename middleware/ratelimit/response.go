package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"

	"quota-gateway/middleware/ratelimit/domain"
)

// deniedBody é o corpo JSON de uma resposta 429/503.
type deniedBody struct {
	Detail    string `json:"detail"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetTime int64  `json:"reset_time"`
}

func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetAt int64) {
	w.Header().Set("X-RateLimit-Limit", formatInt(limit))
	w.Header().Set("X-RateLimit-Remaining", formatInt(remaining))
	w.Header().Set("X-RateLimit-Reset", formatInt64(resetAt))
}

func writeDenied(w http.ResponseWriter, dec domain.Decision, now time.Time, status int, detail string) {
	setRateLimitHeaders(w, dec.Limit, 0, dec.ResetAtMillis)
	w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter(now)))
	writeJSON(w, status, deniedBody{
		Detail:    detail,
		Limit:     dec.Limit,
		Remaining: 0,
		ResetTime: dec.ResetAtMillis,
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
