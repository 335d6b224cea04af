package identity

import (
	"context"

	"ranch-gateway/middleware/ratelimit/domain"
)

type ctxKey struct{}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext devolve a identidade da requisição; ok=false se nenhum middleware
// de identidade rodou.
func FromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(domain.Identity)
	return id, ok
}
