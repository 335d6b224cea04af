package domain

import "context"

// SlotPool representa um recurso com capacidade finita (ex: conexões concorrentes).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// LoadGauge expõe a ocupação (0..1) de um recurso finito; alimenta o fator de
// escala adaptativo das políticas.
type LoadGauge interface {
	Utilization() float64
}
