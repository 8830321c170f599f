// utilitário pequeno para formatação rápida/consistente de valores numéricos em headers.
// Evita puxar fmt só para formatação simples.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

// retryAfterSeconds arredonda para cima: Retry-After "0" faria o cliente martelar.
func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return formatInt64(secs)
}
