// Package admin expõe o painel de rate limit: estatísticas das janelas,
// contadores de decisão e reset de usuário.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"ranch-gateway/middleware/gate"
	"ranch-gateway/middleware/ratelimit"
	"ranch-gateway/middleware/ratelimit/application"
	"ranch-gateway/middleware/ratelimit/domain"
	"ranch-gateway/middleware/ratelimit/infra"
	"ranch-gateway/middleware/rbac"
)

// DistributedCounters é implementado por infra.RedisStatsStore.
type DistributedCounters interface {
	Snapshot(ctx context.Context) (infra.CountersSnapshot, error)
}

type Handler struct {
	Limiter application.Service
	// Counters locais desta instância (opcional).
	Counters *infra.MemoryStatsStore
	// Distributed soma todas as instâncias via Redis (opcional).
	Distributed DistributedCounters
	// Dropped devolve eventos descartados pelo dispatcher (opcional).
	Dropped func() uint64
	Logger  zerolog.Logger
}

var (
	statsRoute = gate.Route{Class: domain.ClassRead, Condition: rbac.Condition{MinimumRole: rbac.RoleAdmin}}
	resetRoute = gate.Route{Class: domain.ClassWrite, Condition: rbac.Condition{
		MinimumRole:          rbac.RoleAdmin,
		UserManagementAccess: true,
	}}
)

// Routes monta o sub-router (montar em /admin/ratelimit).
func (h *Handler) Routes(protect *gate.HTTP) chi.Router {
	r := chi.NewRouter()
	r.With(protect.Require(statsRoute)).Get("/stats", h.stats)
	r.With(protect.Require(resetRoute)).Delete("/users/{userID}", h.resetUser)
	return r
}

type statsView struct {
	Windows       domain.Stats            `json:"windows"`
	Counters      *infra.CountersSnapshot `json:"counters,omitempty"`
	Distributed   *infra.CountersSnapshot `json:"distributed,omitempty"`
	DroppedEvents uint64                  `json:"droppedEvents"`
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	windows, err := h.Limiter.WindowStats(ctx)
	if err != nil {
		h.Logger.Error().Err(err).Msg("window stats failed")
		ratelimit.WriteError(w, http.StatusServiceUnavailable, "STATS_UNAVAILABLE", "Window statistics unavailable", 0)
		return
	}

	view := statsView{Windows: windows}
	if h.Counters != nil {
		snap := h.Counters.Snapshot()
		view.Counters = &snap
	}
	if h.Distributed != nil {
		snap, err := h.Distributed.Snapshot(ctx)
		if err != nil {
			// contadores distribuídos são best-effort
			h.Logger.Warn().Err(err).Msg("distributed counters unavailable")
		} else {
			view.Distributed = &snap
		}
	}
	if h.Dropped != nil {
		view.DroppedEvents = h.Dropped()
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) resetUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))

	var class *domain.EndpointClass
	if raw := r.URL.Query().Get("class"); raw != "" {
		c, err := domain.ParseEndpointClass(raw)
		if err != nil {
			ratelimit.WriteError(w, http.StatusBadRequest, "INVALID_CLASS", "Unknown endpoint class", 0)
			return
		}
		class = &c
	}

	if err := h.Limiter.ResetUser(r.Context(), userID, class); err != nil {
		if errors.Is(err, application.ErrEmptyUserID) {
			ratelimit.WriteError(w, http.StatusBadRequest, "INVALID_USER", "User id is required", 0)
			return
		}
		h.Logger.Error().Err(err).Str("user_id", infra.SanitizeUserID(userID)).Msg("rate limit reset failed")
		ratelimit.WriteError(w, http.StatusServiceUnavailable, "RESET_UNAVAILABLE", "Reset failed", 0)
		return
	}

	scope := "all"
	if class != nil {
		scope = class.String()
	}
	h.Logger.Info().Str("user_id", infra.SanitizeUserID(userID)).Str("scope", scope).Msg("rate limit counters reset")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
