package gate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"ranch-gateway/middleware/ratelimit"
	"ranch-gateway/middleware/ratelimit/application"
	"ranch-gateway/middleware/ratelimit/domain"
	"ranch-gateway/middleware/rbac"
)

const CodeInternalError = "INTERNAL_ERROR"

// Route descreve os requisitos de uma rota.
type Route struct {
	Class     domain.EndpointClass
	Condition rbac.Condition
	// Public pula a autorização (login, probes); a admissão continua valendo.
	Public bool
	// Lane pede uma priority lane; papéis não elegíveis seguem o caminho padrão.
	Lane string
	// Pattern nomeia a rota nos contadores (vazio: o adaptador HTTP usa o do chi).
	Pattern string
}

type Request struct {
	Identity    domain.Identity
	Route       Route
	BypassToken string
	LoadFactor  float64
	Method      string
	Path        string
	Pattern     string
}

// Stage indica onde a decisão foi tomada.
type Stage string

const (
	StageAuthorization Stage = "authorization"
	StageAdmission     Stage = "admission"
	StageInternal      Stage = "internal"
)

// Outcome é o resultado do gate.
type Outcome struct {
	Allowed bool
	Stage   Stage
	Status  int
	Code    string
	Message string

	Authorization rbac.Decision
	Admission     domain.Decision
}

// RetryAfter é a dica em segundos (só para negações de admissão).
func (o Outcome) RetryAfter() int {
	if o.Stage != StageAdmission {
		return 0
	}
	return o.Admission.RetryAfterSeconds()
}

type Gate struct {
	evaluator *rbac.Evaluator
	limiter   application.Service
	stats     domain.StatsStore
	logger    zerolog.Logger
}

// New monta o gate. stats pode ser nil; normalmente é o mesmo Dispatcher do limiter.
func New(evaluator *rbac.Evaluator, limiter application.Service, stats domain.StatsStore, logger zerolog.Logger) *Gate {
	if evaluator == nil {
		evaluator = rbac.NewEvaluator(nil)
	}
	return &Gate{
		evaluator: evaluator,
		limiter:   limiter,
		stats:     stats,
		logger:    logger.With().Str("component", "gate").Logger(),
	}
}

// Check decide a requisição. Nunca entra em pânico para quem chama.
func (g *Gate) Check(ctx context.Context, req Request) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error().
				Str("panic", fmt.Sprint(rec)).
				Str("method", req.Method).
				Str("path", req.Path).
				Msg("gate evaluation panicked, request denied")
			out = Outcome{
				Stage:   StageInternal,
				Status:  http.StatusInternalServerError,
				Code:    CodeInternalError,
				Message: "Internal error",
			}
		}
	}()

	if !req.Route.Public {
		authz := g.evaluator.Authorize(req.Identity.EffectiveRole(), req.Route.Condition)
		if !authz.Allowed {
			g.recordDenied(ctx, req, authz)
			return Outcome{
				Stage:         StageAuthorization,
				Status:        authz.Status(),
				Code:          string(authz.Code),
				Message:       authz.Reason,
				Authorization: authz,
			}
		}
	}

	adm := g.limiter.Admit(ctx, application.AdmitRequest{
		Identity:    req.Identity,
		Class:       req.Route.Class,
		Lane:        req.Route.Lane,
		LoadFactor:  req.LoadFactor,
		BypassToken: req.BypassToken,
		Method:      req.Method,
		Path:        req.Path,
		Pattern:     req.Pattern,
	})

	out = Outcome{
		Allowed:       adm.Allowed,
		Stage:         StageAdmission,
		Status:        ratelimit.Status(adm),
		Code:          adm.Code,
		Authorization: rbac.Permit(),
		Admission:     adm,
	}
	if !adm.Allowed {
		out.Message = ratelimit.Message(adm.Code)
	}
	return out
}

func (g *Gate) recordDenied(ctx context.Context, req Request, authz rbac.Decision) {
	if g.stats == nil {
		return
	}
	_ = g.stats.Record(ctx, domain.StatsEvent{
		Kind:    domain.EventAuthorization,
		Key:     domain.KeyFor(req.Identity, req.Route.Class),
		Class:   req.Route.Class,
		Code:    string(authz.Code),
		UserID:  req.Identity.UserID,
		Role:    req.Identity.EffectiveRole(),
		Source:  domain.NormalizeAddress(req.Identity.SourceAddress),
		Method:  req.Method,
		Path:    req.Path,
		Pattern: req.Pattern,
	})
}
