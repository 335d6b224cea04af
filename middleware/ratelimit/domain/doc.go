// Package domain define contratos e tipos de domínio para admissão (rate limit),
// classes de endpoint, políticas e concorrência.
//
// Este pacote não depende de net/http para regras nem de implementações concretas
// (memória, Redis). A intenção é permitir testes de unidade puros e desacoplar
// regras de negócio de detalhes de infraestrutura.
package domain
