package domain

import (
	"slices"
	"time"

	"ranch-gateway/middleware/rbac"
)

// PriorityLane é uma política alternativa, mais generosa, para papéis urgentes
// (ex.: veterinário em atendimento de emergência).
//
// Quando a requisição pede a lane e o papel é elegível, a lane substitui a política
// da classe e usa a própria chave (PriorityKey).
type PriorityLane struct {
	Name   string
	Roles  []rbac.Role
	Policy Policy
	// DenyCode é o código devolvido quando a lane estoura.
	DenyCode string
}

func (l PriorityLane) Eligible(role rbac.Role) bool {
	return role.Valid() && slices.Contains(l.Roles, role)
}

// VeterinaryLane é a lane padrão para veterinários.
func VeterinaryLane() PriorityLane {
	return PriorityLane{
		Name:     "veterinary",
		Roles:    []rbac.Role{rbac.RoleVeterinarian},
		Policy:   Policy{Window: time.Minute, MaxRequests: 100},
		DenyCode: CodeVeterinaryRateLimitExceeded,
	}
}
