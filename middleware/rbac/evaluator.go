package rbac

import (
	"fmt"
	"net/http"
	"slices"
)

// Code é o código de negação estável exposto para o cliente.
type Code string

const (
	CodeNotAuthenticated             Code = "NOT_AUTHENTICATED"
	CodeInsufficientRole             Code = "INSUFFICIENT_ROLE"
	CodeRoleNotAllowed               Code = "ROLE_NOT_ALLOWED"
	CodeModulePermissionDenied       Code = "MODULE_PERMISSION_DENIED"
	CodeVeterinaryAccessRequired     Code = "VETERINARY_ACCESS_REQUIRED"
	CodeFinancialAccessRequired      Code = "FINANCIAL_ACCESS_REQUIRED"
	CodeUserManagementAccessRequired Code = "USER_MANAGEMENT_ACCESS_REQUIRED"
)

var (
	veterinaryRoles     = []Role{RoleVeterinarian, RoleManager, RoleAdmin, RoleOwner}
	financialRoles      = []Role{RoleManager, RoleAdmin, RoleOwner}
	userManagementRoles = []Role{RoleAdmin, RoleOwner}
)

// Condition agrupa os requisitos de uma rota. Campos vazios/zero não são checados.
type Condition struct {
	MinimumRole Role
	ExactRoles  []Role
	Permissions []Permission

	VeterinaryAccess     bool
	FinancialAccess      bool
	UserManagementAccess bool
}

// Decision é o resultado de Authorize. Negações são valores, nunca panics.
type Decision struct {
	Allowed bool
	Code    Code
	Reason  string
	// Failed é o primeiro par módulo/ação negado (só com CodeModulePermissionDenied).
	Failed *Permission
}

// Permit é a decisão positiva.
func Permit() Decision { return Decision{Allowed: true} }

func deny(code Code, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// Status retorna o status HTTP da decisão.
func (d Decision) Status() int {
	if d.Allowed {
		return http.StatusOK
	}
	return http.StatusForbidden
}

// Err converte uma negação em *DeniedError (nil quando permitido).
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Code: d.Code, Reason: d.Reason}
}

// DeniedError carrega o código de negação para quem prefere fluxo por error.
type DeniedError struct {
	Code   Code
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rbac: %s: %s", e.Code, e.Reason)
}

// Evaluator avalia Conditions contra um papel usando a hierarquia e a matriz.
type Evaluator struct {
	Matrix *PermissionMatrix
}

func NewEvaluator(m *PermissionMatrix) *Evaluator {
	if m == nil {
		m = DefaultMatrix()
	}
	return &Evaluator{Matrix: m}
}

// Authorize aplica c a role. RoleNone (ou papel inválido) significa não autenticado.
func (e *Evaluator) Authorize(role Role, c Condition) Decision {
	if !role.Valid() {
		return deny(CodeNotAuthenticated, "authentication required")
	}

	if c.MinimumRole != RoleNone && !AtLeast(role, c.MinimumRole) {
		return deny(CodeInsufficientRole, fmt.Sprintf("role %s is below required %s", role, c.MinimumRole))
	}

	if len(c.ExactRoles) > 0 && !slices.Contains(c.ExactRoles, role) {
		return deny(CodeRoleNotAllowed, fmt.Sprintf("role %s is not allowed here", role))
	}

	for _, p := range c.Permissions {
		if !e.Matrix.Allows(role, p.Module, p.Action) {
			failed := p
			d := deny(CodeModulePermissionDenied, fmt.Sprintf("role %s cannot %s on %s", role, p.Action, p.Module))
			d.Failed = &failed
			return d
		}
	}

	if c.VeterinaryAccess && !slices.Contains(veterinaryRoles, role) {
		return deny(CodeVeterinaryAccessRequired, "veterinary access required")
	}
	if c.FinancialAccess && !slices.Contains(financialRoles, role) {
		return deny(CodeFinancialAccessRequired, "financial access required")
	}
	if c.UserManagementAccess && !slices.Contains(userManagementRoles, role) {
		return deny(CodeUserManagementAccessRequired, "user management access required")
	}

	return Permit()
}
