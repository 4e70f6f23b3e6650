package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jacksonlee411/hr-batch-adjust/internal/routing"
	"github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/ports"
	"github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/modules/person/services"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

type TenantIDGetter func(ctx context.Context) (tenantID string, ok bool)

type PersonsController struct {
	TenantID TenantIDGetter
	Persons  ports.PersonStore
	Records  ports.RecordStore
	Query    *services.TemporalQueryService
}

type createPersonAPIRequest struct {
	Pernr       string `json:"pernr"`
	DisplayName string `json:"display_name"`
}

type appendAspectAPIRequest struct {
	Data            json.RawMessage `json:"data"`
	ExpectedVersion *int64          `json:"expected_version"`
}

type aspectHistoryAPIResponse struct {
	PersonUUID string             `json:"person_uuid"`
	Aspect     types.Aspect       `json:"aspect"`
	AsOf       string             `json:"as_of,omitempty"`
	Current    *types.AspectView  `json:"current"`
	History    []types.AspectView `json:"history"`
}

func (c PersonsController) HandlePersonsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		persons, err := c.Persons.ListPersons(r.Context(), tenantID)
		if err != nil {
			routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
			return
		}
		if persons == nil {
			persons = make([]types.Person, 0)
		}
		writeJSON(w, http.StatusOK, map[string]any{"tenant": tenantID, "persons": persons})

	case http.MethodPost:
		var req createPersonAPIRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := c.Persons.CreatePerson(r.Context(), tenantID, req.Pernr, req.DisplayName)
		if err != nil {
			routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c PersonsController) HandlePersonDetailAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	at, err := types.ParseAsOf("as_of", r.URL.Query().Get("as_of"))
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}
	detail, err := c.Query.PersonDetail(r.Context(), tenantID, strings.TrimSpace(r.PathValue("id")), at)
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandlePersonAspectAPI serves the history of one aspect (GET) and direct
// edits (POST). A direct edit appends a version; it never rewrites one.
func (c PersonsController) HandlePersonAspectAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	personUUID := strings.TrimSpace(r.PathValue("id"))
	aspect, err := types.ParseAspect(r.PathValue("aspect"))
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		at, err := types.ParseAsOf("as_of", r.URL.Query().Get("as_of"))
		if err != nil {
			routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
			return
		}
		hist, err := c.Query.AspectHistory(r.Context(), tenantID, personUUID, aspect, at)
		if err != nil {
			routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
			return
		}
		resp := aspectHistoryAPIResponse{PersonUUID: personUUID, Aspect: aspect, History: types.ViewsOf(hist)}
		if at != nil {
			resp.AsOf = at.Format(types.DateLayout)
		}
		if len(hist) > 0 {
			resp.Current = types.ViewOf(hist[len(hist)-1])
		}
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		var req appendAspectAPIRequest
		if !decodeBody(w, r, &req) {
			return
		}
		rec, err := c.Records.Append(r.Context(), tenantID, types.AppendInput{
			PersonUUID:      personUUID,
			Aspect:          aspect,
			Data:            req.Data,
			ExpectedVersion: req.ExpectedVersion,
		})
		if err != nil {
			routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c PersonsController) HandleStatisticsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	at, err := types.ParseAsOf("at_date", r.URL.Query().Get("at_date"))
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}
	stats, err := c.Query.StatisticsAsOf(r.Context(), tenantID, at)
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, httperr.Wrap(httperr.KindValidation, "bad_json", "bad json", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, message)
}
