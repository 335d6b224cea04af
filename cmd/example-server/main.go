package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"ranch-gateway/internal/config"
	"ranch-gateway/internal/logging"
	"ranch-gateway/internal/server"
	"ranch-gateway/middleware/identity"
	"ranch-gateway/middleware/ratelimit"
	"ranch-gateway/middleware/rbac"
)

// Exemplo: o gate embutido direto no webserver (sem proxy). Os handlers são
// stubs; /api/auth/login emite um JWT de demonstração quando IDENTITY_MODE=jwt.
func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "json", os.Stderr)
		boot.Fatal().Err(err).Msg("config error")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &stubAPI{logger: logger}
	srv, err := server.New(ctx, cfg, logger, app.routes())
	if err != nil {
		logger.Fatal().Err(err).Msg("example server setup failed")
	}
	if jwtRes, ok := srv.Resolver.(*identity.JWTResolver); ok {
		app.issuer = jwtRes
	}

	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

type stubAPI struct {
	logger zerolog.Logger
	issuer *identity.JWTResolver
}

func (a *stubAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/auth/login", a.login)
	r.NotFound(a.echo)
	r.MethodNotAllowed(a.echo)
	return r
}

type loginRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// login não confere senha: serve só para gerar tokens de teste.
func (a *stubAPI) login(w http.ResponseWriter, r *http.Request) {
	if a.issuer == nil {
		ratelimit.WriteError(w, http.StatusNotImplemented, "LOGIN_DISABLED", "Login requires IDENTITY_MODE=jwt", 0)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil || req.UserID == "" {
		ratelimit.WriteError(w, http.StatusBadRequest, "INVALID_LOGIN", "userId and role are required", 0)
		return
	}
	role, err := rbac.ParseRole(req.Role)
	if err != nil {
		ratelimit.WriteError(w, http.StatusBadRequest, "INVALID_LOGIN", "Unknown role", 0)
		return
	}

	token, err := a.issuer.IssueToken(req.UserID, role, time.Hour)
	if err != nil {
		a.logger.Error().Err(err).Msg("token signing failed")
		ratelimit.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expiresIn": 3600})
}

func (a *stubAPI) echo(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"method": r.Method,
		"path":   r.URL.Path,
		"user":   id.UserID,
		"role":   id.EffectiveRole().String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
