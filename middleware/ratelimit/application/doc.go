// Package application contém os casos de uso do rate limit: o Engine de janela
// deslizante, o Registry de limiters por propósito, o Gate (bypass + política de
// falha) e o Inspector de consistência. Também o throttle local e o limite de
// concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http nem Redis.
// Ex.: Gate.Check(ctx, "api", subject) retorna uma Decision (allowed, remaining, reset).
package application
