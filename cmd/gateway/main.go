package main

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"ranch-gateway/internal/config"
	"ranch-gateway/internal/logging"
	"ranch-gateway/internal/server"
	"ranch-gateway/middleware/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "json", os.Stderr)
		boot.Fatal().Err(err).Msg("config error")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	if err := cfg.RequireUpstream(); err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid UPSTREAM_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := server.New(ctx, cfg, logger, newProxy(target, logger))
	if err != nil {
		// inclui *domain.PolicyConfigError: tabela inválida não sobe
		logger.Fatal().Err(err).Msg("gateway setup failed")
	}

	logger.Info().Str("upstream", target.String()).Msg("proxying admitted requests")
	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func newProxy(target *url.URL, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "proxy").Logger()

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("upstream error")
		ratelimit.WriteError(w, http.StatusBadGateway, "BAD_GATEWAY", "Upstream unavailable", 0)
	}
	return proxy
}
