package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject string
	Role    Role
}

// WithIdentity attaches the caller identity to ctx.
func WithIdentity(ctx context.Context, role Role, subject string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{Subject: subject, Role: role})
}

// IdentityFromContext returns the caller identity, if the request was authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// SubjectFromContext returns the caller subject or "".
func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}
