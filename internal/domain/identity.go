package domain

import "context"

type ctxKey int

const (
	userCtxKey ctxKey = iota
	identityCtxKey
)

// WithUser stores the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey, userID)
}

func UserFromCtx(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(userCtxKey).(string)
	return u, ok && u != ""
}

// WithIdentity stores the rate-limit identity: user id if known, else client address.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

func IdentityFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(identityCtxKey).(string)
	return id
}
