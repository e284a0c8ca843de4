package accounts

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// PrincipalContextKey is the fiber locals key the JWT middleware stores
// the authenticated principal under.
const PrincipalContextKey = "principal"

var principalCtxKey = &contextKey{"principal"}

type contextKey struct {
	name string
}

// Principal is the authenticated caller of a request
type Principal struct {
	Account *Account
	Claims  *Claims
}

// WithPrincipal sets the principal in the given context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFromContext finds the principal in the context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	raw, ok := ctx.Value(principalCtxKey).(*Principal)
	return raw, ok && raw != nil
}

// AccountFromContext returns the authenticated account, if any
func AccountFromContext(ctx context.Context) (*Account, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Account == nil {
		return nil, false
	}
	return p.Account, true
}

// PrincipalFromFiber reads the principal from the request locals.
func PrincipalFromFiber(c *fiber.Ctx) (*Principal, bool) {
	raw, ok := c.Locals(PrincipalContextKey).(*Principal)
	return raw, ok && raw != nil
}
