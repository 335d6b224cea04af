// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryWindowStore: janela fixa por chave em memória, com shards e janitor
//   - RedisWindowStore: janela fixa no Redis via script Lua (várias instâncias)
//   - ChanPool: semáforo simples para limite de concorrência (+ utilização)
//   - MemoryStatsStore / RedisStatsStore: contadores de decisões
//   - Metrics: métricas Prometheus; SecurityLog: log estruturado (zerolog)
//   - Dispatcher: entrega assíncrona de eventos para os destinos acima
package infra
