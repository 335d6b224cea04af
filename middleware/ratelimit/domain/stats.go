package domain

import (
	"context"
	"time"

	"ranch-gateway/middleware/rbac"
)

// EventKind separa decisões de admissão, de autorização e de bypass, além das
// falhas e rejeições que não são decisões de política.
type EventKind string

const (
	EventAdmission     EventKind = "admission"
	EventAuthorization EventKind = "authorization"
	EventBypass        EventKind = "bypass"
	EventBypassRefused EventKind = "bypass_refused"
	EventStoreFault    EventKind = "store_fault"
	// EventConcurrency: requisição já admitida recusada por falta de vaga (FILES, BULK).
	EventConcurrency EventKind = "concurrency_rejected"
)

// StatsEvent representa um evento de decisão do gate.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas
// e podem ser usadas para web, gRPC, etc.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Kind    EventKind
	Key     Key
	Class   EndpointClass
	Lane    Lane
	Allowed bool
	Code    string

	UserID string
	Role   rbac.Role
	Source string

	Method  string
	Path    string
	// Pattern é o padrão da rota (ex.: "/api/cattle/*"); os contadores por rota
	// usam ele, nunca Path.
	Pattern string

	// AuditID identifica eventos de segurança (bypass) nos logs.
	AuditID string
	Err     error

	At time.Time
}

// StatsStore é a estratégia de persistência/observação para eventos do gate.
//
// Implementações podem armazenar em Redis, memória, Prometheus, log etc.
// Quem chama trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
