package application

import (
	"time"

	"ranch-gateway/middleware/ratelimit/domain"
	"ranch-gateway/middleware/rbac"
)

// limits na ordem VIEWER, WORKER, VETERINARIAN, MANAGER, ADMIN, OWNER.
type limits [rbac.NumRoles]int

func row(window time.Duration, l limits) map[rbac.Role]domain.Policy {
	out := make(map[rbac.Role]domain.Policy, rbac.NumRoles)
	for i, role := range rbac.AllRoles() {
		out[role] = domain.Policy{Window: window, MaxRequests: l[i]}
	}
	return out
}

// DefaultPolicyEntries é a tabela padrão de políticas do gateway da fazenda.
func DefaultPolicyEntries() map[domain.EndpointClass]map[rbac.Role]domain.Policy {
	return map[domain.EndpointClass]map[rbac.Role]domain.Policy{
		domain.ClassAuth:          row(15*time.Minute, limits{10, 10, 10, 10, 20, 20}),
		domain.ClassRead:          row(time.Minute, limits{60, 120, 150, 200, 300, 300}),
		domain.ClassWrite:         row(time.Minute, limits{0, 30, 40, 60, 100, 100}),
		domain.ClassCattleRead:    row(time.Minute, limits{60, 120, 150, 200, 300, 300}),
		domain.ClassCattleWrite:   row(time.Minute, limits{0, 20, 30, 50, 100, 100}),
		domain.ClassHealthRecords: row(time.Minute, limits{30, 40, 100, 60, 100, 100}),
		domain.ClassReports:       row(5*time.Minute, limits{5, 5, 10, 20, 30, 30}),
		domain.ClassFiles:         row(5*time.Minute, limits{0, 10, 20, 20, 50, 50}),
		domain.ClassBulk:          row(time.Hour, limits{0, 0, 2, 5, 10, 10}),
		domain.ClassExternalAPI:   row(time.Minute, limits{10, 20, 30, 30, 50, 50}),
	}
}

// DefaultAnonymousPolicy é o fallback por IP para requisições sem identidade.
func DefaultAnonymousPolicy() domain.Policy {
	return domain.Policy{Window: 15 * time.Minute, MaxRequests: 100}
}

// DefaultPolicyTable monta e valida a tabela padrão.
func DefaultPolicyTable() (*domain.PolicyTable, error) {
	return domain.NewPolicyTable(DefaultPolicyEntries(), DefaultAnonymousPolicy())
}

// DefaultLanes devolve as priority lanes indexadas pelo nome.
func DefaultLanes() map[string]domain.PriorityLane {
	vet := domain.VeterinaryLane()
	return map[string]domain.PriorityLane{vet.Name: vet}
}
