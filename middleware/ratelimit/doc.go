// Package ratelimit fornece adapters HTTP (net/http) para o rate limit por janela
// deslizante, a visão de cota, os endpoints de debug e o limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: Engine, Registry, Gate e Inspector, sem net/http
//   - infra: implementações concretas (Redis, memória, x/time/rate, semáforo)
//   - config: definições de limiters e rotas (YAML + padrões)
//   - ratelimit (este pacote): middlewares HTTP + resolução do subject + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Casa a rota por prefixo e descobre o limiter (propósito) e o modo
//  2. Resolve o subject (usuário autenticado, ou IP para tráfego anônimo)
//  3. Chama o Gate (bypass, check-and-consume, política de falha)
//  4. Se bloqueado, responde 429 (cota) ou 503 (store indisponível em fail-closed)
//  5. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_KEY_HEADER, RATE_LIMITS_FILE, CONCURRENCY_MAX e CONCURRENCY_TIMEOUT.
package ratelimit
