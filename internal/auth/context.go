package auth

import "context"

type ctxKey string

const (
	userContextKey  ctxKey = "reeve.auth.user"
	tokenContextKey ctxKey = "reeve.auth.token"
)

func withUserContext(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func withTokenContext(ctx context.Context, t Token) context.Context {
	return context.WithValue(ctx, tokenContextKey, t)
}

func UserFromContext(ctx context.Context) (User, bool) {
	v := ctx.Value(userContextKey)
	u, ok := v.(User)
	return u, ok
}

func TokenFromContext(ctx context.Context) (Token, bool) {
	v := ctx.Value(tokenContextKey)
	t, ok := v.(Token)
	return t, ok
}
