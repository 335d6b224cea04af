package domain

import (
	"net/netip"
	"strings"

	"ranch-gateway/middleware/rbac"
)

// Identity é o que o colaborador de autenticação entrega por requisição.
type Identity struct {
	UserID        string
	Role          rbac.Role
	SourceAddress string
}

// Authenticated exige usuário e papel válidos; só um dos dois não basta.
func (i Identity) Authenticated() bool {
	return strings.TrimSpace(i.UserID) != "" && i.Role.Valid()
}

// EffectiveRole é o papel usado para resolver política (RoleNone se anônimo).
func (i Identity) EffectiveRole() rbac.Role {
	if !i.Authenticated() {
		return rbac.RoleNone
	}
	return i.Role
}

// Subject é "user:{id}" para autenticados e "ip:{endereço}" para anônimos.
func (i Identity) Subject() string {
	if i.Authenticated() {
		return "user:" + escapeUserID(i.UserID)
	}
	return "ip:" + NormalizeAddress(i.SourceAddress)
}

// KeyFor monta {scope}:{subject}:{class}. A mesma identidade autenticada na mesma
// classe sempre gera a mesma chave, independente do endereço de origem.
func KeyFor(id Identity, class EndpointClass) Key {
	return Key(id.Subject() + ":" + class.String())
}

// UserKeyPrefix é o prefixo de todas as chaves de um usuário (reset administrativo).
func UserKeyPrefix(userID string) string {
	return "user:" + escapeUserID(userID) + ":"
}

// ":" separa os segmentos da chave; um id com ":" não pode invadir o prefixo de outro.
var userIDEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

func escapeUserID(id string) string {
	return userIDEscaper.Replace(strings.TrimSpace(id))
}

// PriorityKey monta priority:{subject}:{lane}; não compartilha contador com KeyFor.
func PriorityKey(id Identity, lane string) Key {
	return Key("priority:" + id.Subject() + ":" + lane)
}

// NormalizeAddress reduz variações do mesmo endereço a uma forma só:
// remove porta e zona, desfaz IPv4 mapeado em IPv6.
func NormalizeAddress(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return "unknown"
	}
	if ap, err := netip.ParseAddrPort(a); err == nil {
		return ap.Addr().Unmap().WithZone("").String()
	}
	if ip, err := netip.ParseAddr(strings.Trim(a, "[]")); err == nil {
		return ip.Unmap().WithZone("").String()
	}
	return strings.ToLower(a)
}
