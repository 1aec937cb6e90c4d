// ABOUTME: Identity propagation for authenticated requests
// ABOUTME: Provides WithIdentity/IdentityFrom for carrying the operator through context

package auth

import (
	"context"
)

// Identity holds the authenticated operator extracted from a request token.
// The gateway has a single operator tier, so any verified identity may use
// the admin surface.
type Identity struct {
	Subject string
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom retrieves the Identity from the context, returning nil if not present.
func IdentityFrom(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
