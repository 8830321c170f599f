// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisCounterStore: janela deslizante em sorted sets, scripts Lua atômicos
//   - MemoryCounterStore: mesma semântica em memória (testes, processo único)
//   - StaticBypass / DirectoryBypass / AnyBypass: políticas de bypass
//   - RedisStatsStore / MemoryStatsStore / PrometheusStats: estatísticas de decisão
//   - Heartbeat: keep-alive do Redis e status
//   - Throttle: token bucket local por chave usando golang.org/x/time/rate
//   - ChanPool: semáforo simples para limite de concorrência
package infra
