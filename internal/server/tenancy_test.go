package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type errorTenancyResolver struct{}

func (errorTenancyResolver) ResolveTenant(context.Context, string) (Tenant, bool, error) {
	return Tenant{}, false, errors.New("boom")
}

func TestNewStaticTenancyResolver(t *testing.T) {
	r, err := NewStaticTenancyResolver(map[string]string{" HR.Example.com ": tenantA})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	got, ok, err := r.ResolveTenant(context.Background(), "hr.example.com")
	if err != nil || !ok || got.ID != tenantA {
		t.Fatalf("got=%+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := r.ResolveTenant(context.Background(), ""); ok {
		t.Fatal("expected miss for empty host")
	}
	if _, err := NewStaticTenancyResolver(map[string]string{"a": "not-a-uuid"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWithTenantAndPrincipal(t *testing.T) {
	resolver, err := NewStaticTenancyResolver(map[string]string{"localhost": tenantA, "proxy.example": tenantA})
	if err != nil {
		t.Fatalf("err=%v", err)
	}

	var gotTenant Tenant
	var gotPrincipal Principal
	var hasPrincipal bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = currentTenant(r.Context())
		gotPrincipal, hasPrincipal = currentPrincipal(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/payroll/api/batches", nil)
	req.Host = "LOCALHOST:8080"
	req.Header.Set(headerPrincipalRole, "HR-Operator")
	req.Header.Set(headerPrincipalID, "u-1")
	rec := httptest.NewRecorder()
	withTenantAndPrincipal(nil, resolver, false, next).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || gotTenant.ID != tenantA {
		t.Fatalf("status=%d tenant=%+v", rec.Code, gotTenant)
	}
	if !hasPrincipal || gotPrincipal.RoleSlug != "hr-operator" || gotPrincipal.ID != "u-1" {
		t.Fatalf("principal=%+v", gotPrincipal)
	}

	req = httptest.NewRequest(http.MethodGet, "/payroll/api/batches", nil)
	req.Host = "internal:80"
	req.Header.Set("X-Forwarded-Host", "proxy.example, other")
	rec = httptest.NewRecorder()
	withTenantAndPrincipal(nil, resolver, true, next).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || hasPrincipal {
		t.Fatalf("status=%d principal=%v", rec.Code, hasPrincipal)
	}

	rec = httptest.NewRecorder()
	withTenantAndPrincipal(nil, resolver, false, next).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("untrusted proxy status=%d", rec.Code)
	}
}

func TestWithTenantAndPrincipal_ResolveError(t *testing.T) {
	h := withTenantAndPrincipal(nil, errorTenancyResolver{}, false, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("unexpected next")
	}))
	req := httptest.NewRequest(http.MethodGet, "/person/api/persons", nil)
	req.Host = "localhost:8080"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestRequestHostname(t *testing.T) {
	cases := []struct {
		host      string
		forwarded string
		trust     bool
		want      string
	}{
		{host: "LocalHost:8080", want: "localhost"},
		{host: "[::1]:8080", want: "::1"},
		{host: "[::1]", want: "::1"},
		{host: "internal", forwarded: "HR.example.com:443, edge", trust: true, want: "hr.example.com"},
		{host: "internal", forwarded: "hr.example.com", want: "internal"},
		{host: "internal", trust: true, want: "internal"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = tc.host
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-Host", tc.forwarded)
		}
		if got := requestHostname(req, tc.trust); got != tc.want {
			t.Fatalf("host=%q forwarded=%q got=%q want=%q", tc.host, tc.forwarded, got, tc.want)
		}
	}
}
