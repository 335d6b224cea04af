package gate

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ranch-gateway/middleware/identity"
	"ranch-gateway/middleware/ratelimit"
)

type HTTPOptions struct {
	// BypassHeader é o header da credencial de emergência; vazio desliga a leitura.
	BypassHeader string
	// LoadFunc devolve o fator de escala corrente (0 = sem escala).
	LoadFunc func() float64
	// AddHeaders escreve X-RateLimit-* nas respostas admitidas e negadas.
	AddHeaders bool
	// Source completa o endereço quando nenhum middleware de identidade rodou.
	Source ratelimit.SourceAddressFunc
}

// HTTP adapta o gate para net/http.
type HTTP struct {
	gate *Gate
	opts HTTPOptions
}

func NewHTTP(g *Gate, opts HTTPOptions) *HTTP {
	if opts.Source == nil {
		opts.Source = ratelimit.DefaultSourceAddress(false)
	}
	return &HTTP{gate: g, opts: opts}
}

// Require protege o handler com a rota dada.
func (h *HTTP) Require(route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := identity.FromContext(r.Context())
			if id.SourceAddress == "" {
				id.SourceAddress = h.opts.Source(r)
			}

			var token string
			if h.opts.BypassHeader != "" {
				token = r.Header.Get(h.opts.BypassHeader)
				// a credencial não segue para o upstream
				r.Header.Del(h.opts.BypassHeader)
			}

			var load float64
			if h.opts.LoadFunc != nil {
				load = h.opts.LoadFunc()
			}

			out := h.gate.Check(r.Context(), Request{
				Identity:    id,
				Route:       route,
				BypassToken: token,
				LoadFactor:  load,
				Method:      r.Method,
				Path:        r.URL.Path,
				Pattern:     patternOf(route, r),
			})

			if out.Stage == StageAdmission {
				if h.opts.AddHeaders {
					ratelimit.SetHeaders(w.Header(), out.Admission)
				} else if !out.Allowed {
					w.Header().Set(ratelimit.HeaderRetryAfter, strconv.Itoa(out.RetryAfter()))
				}
			}

			if !out.Allowed {
				ratelimit.WriteError(w, out.Status, out.Code, out.Message, out.RetryAfter())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// patternOf prefere o padrão declarado na rota; senão o que o chi casou.
func patternOf(route Route, r *http.Request) string {
	if route.Pattern != "" {
		return route.Pattern
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
