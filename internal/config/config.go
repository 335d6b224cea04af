// Package config lê a configuração do gateway de variáveis de ambiente.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config é a configuração de runtime dos binários.
type Config struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080" validate:"required"`
	UpstreamURL string `envconfig:"UPSTREAM_URL" validate:"omitempty,url"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json console"`

	RateEnabled bool          `envconfig:"RATE_ENABLED" default:"true"`
	RateStore   string        `envconfig:"RATE_STORE" default:"memory" validate:"oneof=memory redis"`
	RateShards  int           `envconfig:"RATE_SHARDS" default:"32" validate:"gte=1,lte=4096"`
	SweepEvery  time.Duration `envconfig:"RATE_SWEEP_EVERY" default:"5m" validate:"gte=0"`
	TrustXFF    bool          `envconfig:"TRUST_XFF" default:"false"`
	AddHeaders  bool          `envconfig:"ADD_RATELIMIT_HEADERS" default:"true"`

	// BypassSecret vazio desliga o bypass de emergência.
	BypassSecret string `envconfig:"BYPASS_SECRET" validate:"omitempty,min=16"`
	BypassHeader string `envconfig:"BYPASS_HEADER" default:"X-Emergency-Bypass" validate:"required"`

	ScaleAnonymous        bool    `envconfig:"SCALE_ANONYMOUS" default:"false"`
	BackpressureThreshold float64 `envconfig:"BACKPRESSURE_THRESHOLD" default:"0.8" validate:"gte=0,lte=1"`
	BackpressureFactor    float64 `envconfig:"BACKPRESSURE_FACTOR" default:"0.5" validate:"gt=0,lte=1"`

	ConcurrencyMax     int           `envconfig:"CONCURRENCY_MAX" default:"100" validate:"gte=0"`
	ConcurrencyTimeout time.Duration `envconfig:"CONCURRENCY_TIMEOUT" default:"0s" validate:"gte=0"`

	// FloodLimit é o teto grosso por IP/minuto antes de resolver identidade (0 desliga).
	FloodLimit int `envconfig:"FLOOD_LIMIT" default:"1200" validate:"gte=0"`

	IdentityMode string `envconfig:"IDENTITY_MODE" default:"jwt" validate:"oneof=jwt header"`
	JWTSecret    string `envconfig:"JWT_SECRET" validate:"required_if=IdentityMode jwt"`
	JWTIssuer    string `envconfig:"JWT_ISSUER"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379" validate:"required_if=RateStore redis,required_if=StatsEnabled true"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"ratelimit:window"`

	StatsEnabled   bool          `envconfig:"RATE_STATS_ENABLED" default:"false"`
	StatsPrefix    string        `envconfig:"RATE_STATS_PREFIX" default:"ratelimit:stats"`
	StatsTTL       time.Duration `envconfig:"RATE_STATS_TTL" default:"24h"`
	StatsBucket    string        `envconfig:"RATE_STATS_BUCKET" default:"minute" validate:"oneof=minute none"`
	StatsTrackKeys bool          `envconfig:"RATE_STATS_TRACK_KEYS" default:"false"`

	EventBuffer int `envconfig:"EVENT_BUFFER" default:"4096" validate:"gte=1"`
}

var validate = validator.New()

const minJWTSecret = 32

// Load lê as variáveis de ambiente e valida o resultado.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.RateStore = strings.ToLower(strings.TrimSpace(c.RateStore))
	c.IdentityMode = strings.ToLower(strings.TrimSpace(c.IdentityMode))
	c.StatsBucket = strings.ToLower(strings.TrimSpace(c.StatsBucket))
}

// Validate aplica as tags validate e devolve um erro legível por campo.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		if c.IdentityMode == "jwt" && len(c.JWTSecret) < minJWTSecret {
			return fmt.Errorf("config: JWT_SECRET must have at least %d characters", minJWTSecret)
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// RequireUpstream é usado pelo binário de proxy; o example-server não tem upstream.
func (c *Config) RequireUpstream() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("config: UPSTREAM_URL is required")
	}
	return nil
}

// UsesRedis informa se algum componente precisa de cliente Redis.
func (c *Config) UsesRedis() bool {
	return (c.RateEnabled && c.RateStore == "redis") || c.StatsEnabled
}
