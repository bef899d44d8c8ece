package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// Identity is the logged-in account attached to a request.
type Identity struct {
	UserID   int64
	Username string
}

type ctxKey string

const identityKey ctxKey = "scripthost.identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the request identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.Username != ""
}

// HashPassword wraps bcrypt with the default cost.
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
