package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jacksonlee411/hr-batch-adjust/internal/routing"
	"github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/modules/person/infrastructure/persistence"
	"github.com/jacksonlee411/hr-batch-adjust/modules/person/services"
)

const tenantA = "00000000-0000-0000-0000-00000000000a"

func newController(t *testing.T) (PersonsController, *persistence.MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store := persistence.NewMemoryStore(func() time.Time { return now })
	return PersonsController{
		TenantID: func(context.Context) (string, bool) { return tenantA, true },
		Persons:  store,
		Records:  store,
		Query:    services.NewTemporalQueryService(store, store, nil),
	}, store, &now
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) routing.ErrorEnvelope {
	t.Helper()
	var env routing.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("body=%s err=%v", rec.Body.String(), err)
	}
	return env
}

func TestPersonsController_TenantMissing(t *testing.T) {
	c, _, _ := newController(t)
	c.TenantID = func(context.Context) (string, bool) { return "", false }
	rec := httptest.NewRecorder()
	c.HandlePersonsAPI(rec, httptest.NewRequest(http.MethodGet, "/person/api/persons", nil))
	if rec.Code != http.StatusInternalServerError || decodeEnvelope(t, rec).Code != "tenant_missing" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestPersonsController_CreateAndList(t *testing.T) {
	c, _, _ := newController(t)

	rec := httptest.NewRecorder()
	c.HandlePersonsAPI(rec, httptest.NewRequest(http.MethodPost, "/person/api/persons", strings.NewReader(`{"pernr":"0042","display_name":"Ada"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var p types.Person
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil || p.Pernr != "42" {
		t.Fatalf("p=%+v err=%v", p, err)
	}

	rec = httptest.NewRecorder()
	c.HandlePersonsAPI(rec, httptest.NewRequest(http.MethodPost, "/person/api/persons", strings.NewReader(`{"pernr":"42","display_name":"Dup"}`)))
	if rec.Code != http.StatusConflict || decodeEnvelope(t, rec).Code != "PERNR_ALREADY_EXISTS" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c.HandlePersonsAPI(rec, httptest.NewRequest(http.MethodPost, "/person/api/persons", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c.HandlePersonsAPI(rec, httptest.NewRequest(http.MethodGet, "/person/api/persons", nil))
	var list struct {
		Persons []types.Person `json:"persons"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list.Persons) != 1 {
		t.Fatalf("body=%s err=%v", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	c.HandlePersonsAPI(rec, httptest.NewRequest(http.MethodPut, "/person/api/persons", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestPersonsController_AspectsAndDetail(t *testing.T) {
	c, store, now := newController(t)
	p, err := store.CreatePerson(context.Background(), tenantA, "1", "Ada")
	if err != nil {
		t.Fatalf("err=%v", err)
	}

	post := func(aspect string, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/person/api/persons/"+p.PersonUUID+"/aspects/"+aspect, strings.NewReader(body))
		req.SetPathValue("id", p.PersonUUID)
		req.SetPathValue("aspect", aspect)
		rec := httptest.NewRecorder()
		c.HandlePersonAspectAPI(rec, req)
		return rec
	}

	if rec := post("position", `{"data":{"department":"Eng"}}`); rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	*now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	if rec := post("position", `{"data":{"department":"Ops"},"expected_version":1}`); rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec := post("position", `{"data":{"department":"Law"},"expected_version":1}`)
	if rec.Code != http.StatusConflict || decodeEnvelope(t, rec).Code != "RECORD_STALE_BASE_VERSION" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := post("salary", `{"data":{}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
	if rec := post("position", `{"data":[1]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/person/api/persons/x/aspects/position?as_of=2024-03-01", nil)
	req.SetPathValue("id", p.PersonUUID)
	req.SetPathValue("aspect", "position")
	rec = httptest.NewRecorder()
	c.HandlePersonAspectAPI(rec, req)
	var hist aspectHistoryAPIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(hist.History) != 1 || hist.Current == nil || hist.Current.Version != 1 || hist.AsOf != "2024-03-01" {
		t.Fatalf("hist=%+v", hist)
	}

	req = httptest.NewRequest(http.MethodGet, "/person/api/persons/x?as_of=2024-03-01", nil)
	req.SetPathValue("id", p.PersonUUID)
	rec = httptest.NewRecorder()
	c.HandlePersonDetailAPI(rec, req)
	var detail types.PersonDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("err=%v", err)
	}
	if detail.Position == nil || string(detail.Position.Data) != `{"department":"Eng"}` || len(detail.PositionHistory) != 1 {
		t.Fatalf("detail=%s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/person/api/persons/x?as_of=bad", nil)
	req.SetPathValue("id", p.PersonUUID)
	rec = httptest.NewRecorder()
	c.HandlePersonDetailAPI(rec, req)
	if rec.Code != http.StatusBadRequest || decodeEnvelope(t, rec).Code != "DATE_INVALID" {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/person/api/persons/missing", nil)
	req.SetPathValue("id", "00000000-0000-0000-0000-0000000000ff")
	rec = httptest.NewRecorder()
	c.HandlePersonDetailAPI(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestPersonsController_Statistics(t *testing.T) {
	c, store, _ := newController(t)
	p, err := store.CreatePerson(context.Background(), tenantA, "1", "Ada")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := store.Append(context.Background(), tenantA, types.AppendInput{PersonUUID: p.PersonUUID, Aspect: types.AspectPosition, Data: json.RawMessage(`{"company":"Acme"}`)}); err != nil {
		t.Fatalf("err=%v", err)
	}

	rec := httptest.NewRecorder()
	c.HandleStatisticsAPI(rec, httptest.NewRequest(http.MethodGet, "/person/api/statistics?at_date=2024-01-01", nil))
	var stats types.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("err=%v", err)
	}
	if stats.AsOf != "2024-01-01" || stats.ByCompany["Acme"] != 1 {
		t.Fatalf("stats=%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c.HandleStatisticsAPI(rec, httptest.NewRequest(http.MethodGet, "/person/api/statistics?at_date=2023-12-31", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("err=%v", err)
	}
	if stats.ByCompany["Acme"] != 0 || stats.TotalPersons != 1 {
		t.Fatalf("stats=%s", rec.Body.String())
	}
}
