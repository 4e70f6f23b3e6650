package server

import "context"

type tenantCtxKey struct{}

func withTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenant)
}

func currentTenant(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(Tenant)
	return t, ok
}

// currentTenantID adapts currentTenant to the controllers' TenantIDGetter.
func currentTenantID(ctx context.Context) (string, bool) {
	t, ok := currentTenant(ctx)
	if !ok || t.ID == "" {
		return "", false
	}
	return t.ID, true
}

// Principal is the caller as forwarded by the upstream auth gateway.
type Principal struct {
	ID       string
	RoleSlug string
}

type principalContextKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func currentPrincipal(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey{})
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
