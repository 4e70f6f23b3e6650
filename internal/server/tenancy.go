package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jacksonlee411/hr-batch-adjust/internal/routing"
)

const (
	headerPrincipalRole = "X-Principal-Role"
	headerPrincipalID   = "X-Principal-ID"
)

type Tenant struct {
	ID     string
	Domain string
}

type TenancyResolver interface {
	ResolveTenant(ctx context.Context, hostname string) (Tenant, bool, error)
}

type staticTenancyResolver struct {
	tenants map[string]Tenant
}

// NewStaticTenancyResolver maps hostnames to tenant UUIDs.
func NewStaticTenancyResolver(hosts map[string]string) (TenancyResolver, error) {
	m := make(map[string]Tenant, len(hosts))
	for host, id := range hosts {
		host = tenantHostname(host)
		parsed, err := uuid.Parse(strings.TrimSpace(id))
		if err != nil {
			return nil, fmt.Errorf("server: tenant id for host %q: %w", host, err)
		}
		m[host] = Tenant{ID: parsed.String(), Domain: host}
	}
	return &staticTenancyResolver{tenants: m}, nil
}

func (r *staticTenancyResolver) ResolveTenant(_ context.Context, hostname string) (Tenant, bool, error) {
	hostname = tenantHostname(hostname)
	if hostname == "" {
		return Tenant{}, false, nil
	}
	t, ok := r.tenants[hostname]
	return t, ok, nil
}

// withTenantAndPrincipal resolves the tenant from the request host and reads
// the principal forwarded by the auth gateway. Ops routes bypass both.
func withTenantAndPrincipal(classifier *routing.Classifier, tenants TenancyResolver, trustProxy bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := routing.RouteClassInternalAPI
		if classifier != nil {
			rc = classifier.Classify(r.URL.Path)
		}
		if rc == routing.RouteClassOps {
			next.ServeHTTP(w, r)
			return
		}

		t, ok, err := tenants.ResolveTenant(r.Context(), requestHostname(r, trustProxy))
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_resolve_error", "tenant resolve error")
			return
		}
		if !ok {
			routing.WriteError(w, r, rc, http.StatusNotFound, "tenant_not_found", "tenant not found")
			return
		}
		ctx := withTenant(r.Context(), t)

		if role := strings.TrimSpace(r.Header.Get(headerPrincipalRole)); role != "" {
			ctx = withPrincipal(ctx, Principal{
				ID:       strings.TrimSpace(r.Header.Get(headerPrincipalID)),
				RoleSlug: strings.ToLower(role),
			})
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestHostname is the lower-cased host without port that selects the
// tenant. With trustProxy the first X-Forwarded-Host entry wins.
func requestHostname(r *http.Request, trustProxy bool) string {
	if trustProxy {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Host"), ",")
		if h := tenantHostname(first); h != "" {
			return h
		}
	}
	return tenantHostname(r.Host)
}

func tenantHostname(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}
