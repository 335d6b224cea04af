package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"ranch-gateway/middleware/ratelimit"
	"ranch-gateway/middleware/ratelimit/domain"
	"ranch-gateway/middleware/rbac"
)

var (
	ErrMissingSecret = errors.New("identity: jwt secret is required")
	ErrInvalidToken  = errors.New("identity: invalid bearer token")
)

// Resolver extrai usuário e papel da requisição. Sem credencial devolve
// identidade vazia e erro nil; credencial inválida devolve erro.
type Resolver interface {
	Resolve(r *http.Request) (domain.Identity, error)
}

// Claims são as claims esperadas no token do gateway.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver valida bearer tokens HS256.
type JWTResolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

type JWTOption func(*JWTResolver)

// WithIssuer exige a claim "iss".
func WithIssuer(iss string) JWTOption {
	return func(j *JWTResolver) { j.issuer = strings.TrimSpace(iss) }
}

func WithJWTClock(now func() time.Time) JWTOption {
	return func(j *JWTResolver) {
		if now != nil {
			j.now = now
		}
	}
}

func NewJWTResolver(secret string, opts ...JWTOption) (*JWTResolver, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	j := &JWTResolver{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

func (j *JWTResolver) Resolve(r *http.Request) (domain.Identity, error) {
	raw, ok := bearer(r.Header.Get("Authorization"))
	if !ok {
		return domain.Identity{}, nil
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	role, err := rbac.ParseRole(claims.Role)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return domain.Identity{UserID: claims.Subject, Role: role}, nil
}

// IssueToken assina um token para userID/role. Usado pelo example-server e testes.
func (j *JWTResolver) IssueToken(userID string, role rbac.Role, ttl time.Duration) (string, error) {
	now := j.now()
	claims := &Claims{
		Role: role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

func bearer(h string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// HeaderResolver confia em headers colocados por um proxy de autenticação na frente.
// Nunca use com tráfego que chega direto do cliente.
type HeaderResolver struct {
	UserHeader string
	RoleHeader string
}

func NewHeaderResolver() HeaderResolver {
	return HeaderResolver{UserHeader: "X-User-Id", RoleHeader: "X-User-Role"}
}

func (h HeaderResolver) Resolve(r *http.Request) (domain.Identity, error) {
	user := strings.TrimSpace(r.Header.Get(h.UserHeader))
	if user == "" {
		return domain.Identity{}, nil
	}
	role, err := rbac.ParseRole(r.Header.Get(h.RoleHeader))
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{UserID: user, Role: role}, nil
}

// Middleware resolve a identidade, completa o endereço de origem e guarda no contexto.
func Middleware(res Resolver, source ratelimit.SourceAddressFunc, logger zerolog.Logger) func(http.Handler) http.Handler {
	if source == nil {
		source = ratelimit.DefaultSourceAddress(false)
	}
	logger = logger.With().Str("component", "identity").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := res.Resolve(r)
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Msg("credential rejected, continuing anonymous")
				id = domain.Identity{}
			}
			id.SourceAddress = source(r)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
