// Package ratelimit fornece a tradução HTTP (net/http) do rate limit e o
// middleware de limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (admissão por janela fixa, acquire/timeout) sem net/http
//   - infra: implementações concretas (stores de janela, semáforo, sinks de eventos)
//   - ratelimit (este pacote): endereço de origem, headers X-RateLimit-*, status
//     e payload JSON de negação
//
// Quem decide é o pacote gate (autorização + admissão). Este pacote só traduz a
// decisão:
//
//  1. 429 para RATE_LIMIT_EXCEEDED / VETERINARY_RATE_LIMIT_EXCEEDED
//  2. 503 para ADMISSION_UNAVAILABLE (store falhou, fail closed) e falta de vaga
//  3. headers de janela em toda resposta admitida com limite
package ratelimit
