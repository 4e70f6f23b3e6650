package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jacksonlee411/hr-batch-adjust/internal/config"
	"github.com/jacksonlee411/hr-batch-adjust/internal/routing"
)

const tenantA = "00000000-0000-0000-0000-00000000000a"

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	h, err := NewHandlerWithOptions(HandlerOptions{
		Config: config.Config{
			TenantHosts:        map[string]string{"localhost": tenantA},
			ExecuteRetryBase:   time.Millisecond,
			ExecuteTimeout:     5 * time.Second,
			PreviewParallelism: 2,
		},
		Now: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	return h
}

func do(t *testing.T, h http.Handler, role string, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Host = "localhost:8080"
	if role != "" {
		req.Header.Set(headerPrincipalRole, role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func envelopeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env routing.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("body=%s err=%v", rec.Body.String(), err)
	}
	return env.Code
}

func TestHandler_OpsRoutesBypassTenancy(t *testing.T) {
	h := newTestHandler(t)
	for _, path := range []string{"/health", "/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Host = "unknown.example"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rec.Code)
		}
	}
}

func TestHandler_TenancyAndAuthz(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/payroll/api/batches", nil)
	req.Host = "other.example"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound || envelopeCode(t, rec) != "tenant_not_found" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	cases := []struct {
		name   string
		role   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "anonymous", method: http.MethodGet, path: "/payroll/api/batches", status: http.StatusForbidden},
		{name: "viewer reads", role: "hr-viewer", method: http.MethodGet, path: "/payroll/api/batches", status: http.StatusOK},
		{name: "viewer cannot preview", role: "hr-viewer", method: http.MethodPost, path: "/payroll/api/batch-preview", body: `{}`, status: http.StatusForbidden},
		{name: "operator cannot create persons", role: "hr-operator", method: http.MethodPost, path: "/person/api/persons", body: `{"pernr":"1","display_name":"A"}`, status: http.StatusForbidden},
		{name: "admin creates persons", role: "tenant-admin", method: http.MethodPost, path: "/person/api/persons", body: `{"pernr":"1","display_name":"A"}`, status: http.StatusCreated},
		{name: "unknown route", role: "tenant-admin", method: http.MethodGet, path: "/nope", status: http.StatusNotFound},
		{name: "method not allowed", role: "tenant-admin", method: http.MethodPut, path: "/payroll/api/batches", status: http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.role, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_SocialSecurityWorkflow(t *testing.T) {
	h := newTestHandler(t)
	const admin = "tenant-admin"

	rec := do(t, h, admin, http.MethodPost, "/person/api/persons", `{"pernr":"7","display_name":"Ada"}`)
	var person struct {
		PersonUUID string `json:"person_uuid"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &person); err != nil || person.PersonUUID == "" {
		t.Fatalf("body=%s err=%v", rec.Body.String(), err)
	}
	aspects := "/person/api/persons/" + person.PersonUUID + "/aspects/"
	for aspect, data := range map[string]string{
		"position":        `{"company":"Acme","department":"Eng","employee_type":"full_time"}`,
		"social-security": `{"base_amount":"5000.00","personal_rate":"0.105","company_rate":"0.265"}`,
	} {
		rec = do(t, h, admin, http.MethodPost, aspects+aspect, `{"data":`+data+`}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("%s status=%d body=%s", aspect, rec.Code, rec.Body.String())
		}
	}

	rec = do(t, h, "hr-operator", http.MethodPost, "/social-security/api/batch-preview", `{"effective_date":"2024-04-01","target_company":"Acme"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status=%d body=%s", rec.Code, rec.Body.String())
	}
	var preview struct {
		BatchID       string `json:"batch_id"`
		AffectedCount int    `json:"affected_count"`
		Items         []struct {
			ProposedValues json.RawMessage `json:"proposed_values"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &preview); err != nil || preview.AffectedCount != 1 {
		t.Fatalf("body=%s err=%v", rec.Body.String(), err)
	}
	// 5000 is below the configured minimum base of 6821.
	if !strings.Contains(string(preview.Items[0].ProposedValues), `"base_amount":"6821.00"`) {
		t.Fatalf("proposed=%s", preview.Items[0].ProposedValues)
	}

	rec = do(t, h, "hr-operator", http.MethodPost, "/social-security/api/batch-confirm/"+preview.BatchID, `{"items":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, "hr-operator", http.MethodPost, "/social-security/api/batch-execute/"+preview.BatchID, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"affected_count":1`) {
		t.Fatalf("execute status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, "hr-viewer", http.MethodGet, aspects+"social_security", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"version":2`) {
		t.Fatalf("history status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, "hr-viewer", http.MethodGet, "/person/api/statistics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_persons":1`) {
		t.Fatalf("stats status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, "", http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `adjustment_batches_total{kind="social_security",status="applied"} 1`) {
		t.Fatalf("metrics=%s", rec.Body.String())
	}
}
