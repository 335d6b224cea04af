package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole indica um nome de papel que não existe na hierarquia.
var ErrUnknownRole = errors.New("rbac: unknown role")

// Role é um papel da fazenda com ordem total.
// O valor zero (RoleNone) significa "sem papel" (não autenticado).
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleWorker
	RoleVeterinarian
	RoleManager
	RoleAdmin
	RoleOwner
)

// NumRoles é a quantidade de papéis válidos (sem contar RoleNone).
const NumRoles = int(RoleOwner)

var roleNames = [...]string{
	RoleNone:         "NONE",
	RoleViewer:       "VIEWER",
	RoleWorker:       "WORKER",
	RoleVeterinarian: "VETERINARIAN",
	RoleManager:      "MANAGER",
	RoleAdmin:        "ADMIN",
	RoleOwner:        "OWNER",
}

// AllRoles retorna os papéis válidos em ordem crescente de rank.
func AllRoles() []Role {
	return []Role{RoleViewer, RoleWorker, RoleVeterinarian, RoleManager, RoleAdmin, RoleOwner}
}

func (r Role) Valid() bool { return r >= RoleViewer && r <= RoleOwner }

func (r Role) String() string {
	if r < RoleNone || int(r) >= len(roleNames) {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// Rank retorna a posição do papel na hierarquia (VIEWER=1 ... OWNER=6).
//
// Um papel fora do enum é violação de contrato de quem chamou: panic.
func (r Role) Rank() int {
	if !r.Valid() {
		panic(fmt.Sprintf("rbac: rank of invalid role %d", int(r)))
	}
	return int(r)
}

// AtLeast informa se role tem rank >= minimum.
func AtLeast(role, minimum Role) bool {
	return role.Rank() >= minimum.Rank()
}

// ParseRole converte um nome (case-insensitive) em Role.
func ParseRole(s string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, r := range AllRoles() {
		if roleNames[r] == name {
			return r, nil
		}
	}
	return RoleNone, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(strings.ToLower(roleNames[r])), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
