// Package scope carries the tenant scope through context. Every store query
// and dispatch is tenant-scoped; the scope is set once at the boundary (HTTP
// middleware, job context) and read wherever a tenant ID is needed.
package scope

import "context"

type ctxKey struct{}

// WithTenant returns a context carrying the given tenant ID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// Tenant returns the tenant ID carried by the context, or "" when unset.
func Tenant(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
