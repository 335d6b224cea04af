// Package gate junta autorização (rbac) e admissão (rate limit) em uma única
// decisão por requisição.
//
// Ordem fixa: autorização primeiro, admissão depois. Uma requisição negada por
// papel nunca consome janela. Qualquer panic durante a avaliação vira negação
// INTERNAL_ERROR (fail closed).
package gate
