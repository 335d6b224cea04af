package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"ranch-gateway/middleware/rbac"
)

var policyValidate = validator.New()

// Policy é {janela, máximo de requisições}. MaxRequests == 0 significa "nunca permitido".
type Policy struct {
	Window      time.Duration `validate:"gt=0"`
	MaxRequests int           `validate:"gte=0"`
}

// Validate checa os invariantes da política.
func (p Policy) Validate() error {
	return policyValidate.Struct(p)
}

// Scaled devolve uma cópia local com MaxRequests multiplicado por factor.
//
// Só fatores em (0, 1] são aplicados; qualquer outro valor devolve p intacta.
// Uma política > 0 nunca cai para 0 por escala (mínimo 1).
func (p Policy) Scaled(factor float64) Policy {
	if math.IsNaN(factor) || factor <= 0 || factor >= 1 || p.MaxRequests == 0 {
		return p
	}
	scaled := int(math.Floor(float64(p.MaxRequests) * factor))
	if scaled < 1 {
		scaled = 1
	}
	p.MaxRequests = scaled
	return p
}

// PolicyConfigError é erro fatal de startup: par (classe, papel) sem política
// ou política inválida.
type PolicyConfigError struct {
	Class EndpointClass
	Role  rbac.Role
	Err   error
}

func (e *PolicyConfigError) Error() string {
	if e.Role == rbac.RoleNone {
		return fmt.Sprintf("ratelimit: anonymous policy: %v", e.Err)
	}
	return fmt.Sprintf("ratelimit: policy %s/%s: %v", e.Class, e.Role, e.Err)
}

func (e *PolicyConfigError) Unwrap() error { return e.Err }

var errMissingPolicy = errors.New("missing policy")

// PolicyTable é a tabela estática (classe x papel) + política anônima por IP.
// Somente leitura depois de construída; não precisa de sincronização.
type PolicyTable struct {
	byClass   [NumClasses][rbac.NumRoles]Policy
	anonymous Policy
}

// NewPolicyTable valida o produto cartesiano completo classes x papéis.
// Qualquer lacuna ou política inválida vira *PolicyConfigError.
func NewPolicyTable(entries map[EndpointClass]map[rbac.Role]Policy, anonymous Policy) (*PolicyTable, error) {
	if err := anonymous.Validate(); err != nil {
		return nil, &PolicyConfigError{Err: err}
	}
	t := &PolicyTable{anonymous: anonymous}
	for _, class := range AllClasses() {
		for _, role := range rbac.AllRoles() {
			p, ok := entries[class][role]
			if !ok {
				return nil, &PolicyConfigError{Class: class, Role: role, Err: errMissingPolicy}
			}
			if err := p.Validate(); err != nil {
				return nil, &PolicyConfigError{Class: class, Role: role, Err: err}
			}
			t.byClass[class][role-1] = p
		}
	}
	return t, nil
}

// Resolve retorna a política da classe para o papel; RoleNone usa a política anônima.
// Classe ou papel fora do enum é violação de contrato: panic.
func (t *PolicyTable) Resolve(class EndpointClass, role rbac.Role) Policy {
	if role == rbac.RoleNone {
		return t.anonymous
	}
	if !class.Valid() {
		panic(fmt.Sprintf("ratelimit: resolve invalid endpoint class %d", int(class)))
	}
	return t.byClass[class][role.Rank()-1]
}

// Anonymous retorna a política de fallback por IP.
func (t *PolicyTable) Anonymous() Policy { return t.anonymous }
