package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// SourceAddressFunc extrai o endereço de origem da requisição. O resultado
// alimenta domain.Identity.SourceAddress (chave ip:* do tráfego anônimo).
type SourceAddressFunc func(r *http.Request) string

// DefaultSourceAddress usa o primeiro hop do X-Forwarded-For quando confiável
// (gateway atrás de um load balancer), senão o host de RemoteAddr.
func DefaultSourceAddress(trustXFF bool) SourceAddressFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}
