// Package application contém os casos de uso (regras de aplicação) para rate limit
// e limite de concorrência.
//
// Ele depende apenas de domain e rbac e não conhece net/http.
// Ex.: Service.Admit(ctx, req) retorna uma domain.Decision (allow/deny, lane,
// remaining, retry-after e código de negação).
package application
