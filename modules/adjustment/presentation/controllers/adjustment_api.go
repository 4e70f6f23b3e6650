package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jacksonlee411/hr-batch-adjust/internal/routing"
	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/services"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

type TenantIDGetter func(ctx context.Context) (tenantID string, ok bool)

// AdjustmentController serves one adjustment kind. The server mounts one
// controller per kind under /{kind-slug}/api/.
type AdjustmentController struct {
	TenantID TenantIDGetter
	Kind     types.Kind
	Engine   *services.Engine
}

type previewAPIResponse struct {
	BatchID       string                `json:"batch_id"`
	Status        types.Status          `json:"status"`
	EffectiveDate string                `json:"effective_date"`
	TotalPersons  int                   `json:"total_persons"`
	AffectedCount int                   `json:"affected_count"`
	Skipped       []types.SkippedPerson `json:"skipped"`
	Items         []types.BatchItem     `json:"items"`
}

type confirmAPIRequest struct {
	Items []json.RawMessage `json:"items"`
}

type executeAPIResponse struct {
	AffectedCount int         `json:"affected_count"`
	Batch         types.Batch `json:"batch"`
}

var criteriaKeys = []string{"target_company", "target_department", "target_employee_type", "target_expr"}

func (c AdjustmentController) HandleBatchPreviewAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var body map[string]json.RawMessage
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := c.previewRequest(body)
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}
	pb, err := c.Engine.Preview(r.Context(), tenantID, req)
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}
	writeJSON(w, http.StatusOK, previewAPIResponse{
		BatchID:       pb.Batch.ID,
		Status:        pb.Batch.Status,
		EffectiveDate: pb.Batch.EffectiveDate,
		TotalPersons:  pb.Batch.TotalPersons,
		AffectedCount: pb.Batch.AffectedCount,
		Skipped:       pb.Batch.Skipped,
		Items:         pb.Items,
	})
}

// previewRequest accepts criteria and effective_date at the top level.
// Defaults come from a "defaults" object or, when absent, from every other
// top-level field.
func (c AdjustmentController) previewRequest(body map[string]json.RawMessage) (types.PreviewRequest, error) {
	req := types.PreviewRequest{Kind: c.Kind}
	if raw, ok := body["effective_date"]; ok {
		if err := json.Unmarshal(raw, &req.EffectiveDate); err != nil {
			return req, httperr.Wrap(httperr.KindValidation, "DATE_INVALID", "effective_date must be a string", err)
		}
	}
	targets := []*string{nil, nil, nil, nil}
	for i, k := range criteriaKeys {
		raw, ok := body[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &targets[i]); err != nil {
			return req, httperr.Wrap(httperr.KindValidation, "ADJUST_CRITERIA_INVALID", k+" must be a string or null", err)
		}
	}
	req.Criteria = types.Criteria{
		TargetCompany:      targets[0],
		TargetDepartment:   targets[1],
		TargetEmployeeType: targets[2],
	}
	if targets[3] != nil {
		req.Criteria.TargetExpr = *targets[3]
	}

	if raw, ok := body["defaults"]; ok {
		req.Defaults = raw
		return req, nil
	}
	rest := make(map[string]json.RawMessage)
	for k, v := range body {
		if k == "effective_date" || k == "kind" || isCriteriaKey(k) {
			continue
		}
		rest[k] = v
	}
	if len(rest) == 0 {
		return req, nil
	}
	b, err := json.Marshal(rest)
	if err != nil {
		return req, err
	}
	req.Defaults = b
	return req, nil
}

func (c AdjustmentController) HandleBatchesAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	batches, err := c.Engine.List(r.Context(), tenantID, c.Kind)
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}
	if batches == nil {
		batches = make([]types.Batch, 0)
	}
	writeJSON(w, http.StatusOK, batches)
}

// HandleBatchAPI returns a batch with its items (GET) or discards a batch
// that never reached applied (DELETE).
func (c AdjustmentController) HandleBatchAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return
	}
	batchID := strings.TrimSpace(r.PathValue("id"))

	switch r.Method {
	case http.MethodGet:
		pb, err := c.Engine.Detail(r.Context(), tenantID, c.Kind, batchID)
		if err != nil {
			routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
			return
		}
		writeJSON(w, http.StatusOK, pb)

	case http.MethodDelete:
		if err := c.Engine.Discard(r.Context(), tenantID, c.Kind, batchID); err != nil {
			routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c AdjustmentController) HandleBatchItemsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	pb, err := c.Engine.Detail(r.Context(), tenantID, c.Kind, strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}
	items := pb.Items
	if items == nil {
		items = make([]types.BatchItem, 0)
	}
	writeJSON(w, http.StatusOK, items)
}

func (c AdjustmentController) HandleBatchConfirmAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req confirmAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	overrides := make([]types.ItemOverride, 0, len(req.Items))
	for _, raw := range req.Items {
		o, err := parseOverride(raw)
		if err != nil {
			routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
			return
		}
		overrides = append(overrides, o)
	}
	b, err := c.Engine.Confirm(r.Context(), tenantID, c.Kind, strings.TrimSpace(r.PathValue("id")), overrides)
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// parseOverride accepts {id, proposed_values:{...}} and the flattened
// {id, field: value, ...} form.
func parseOverride(raw json.RawMessage) (types.ItemOverride, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return types.ItemOverride{}, httperr.New(httperr.KindValidation, "ADJUST_ITEM_INVALID", "each item must be a JSON object")
	}
	var o types.ItemOverride
	if err := json.Unmarshal(fields["id"], &o.ItemID); err != nil || strings.TrimSpace(o.ItemID) == "" {
		return types.ItemOverride{}, httperr.New(httperr.KindValidation, "ADJUST_ITEM_ID_REQUIRED", "item id is required")
	}
	if pv, ok := fields["proposed_values"]; ok {
		o.ProposedValues = pv
		return o, nil
	}
	delete(fields, "id")
	b, err := json.Marshal(fields)
	if err != nil {
		return types.ItemOverride{}, err
	}
	o.ProposedValues = b
	return o, nil
}

func (c AdjustmentController) HandleBatchExecuteAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	b, err := c.Engine.Execute(r.Context(), tenantID, c.Kind, strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		routing.WriteAppError(w, r, routing.RouteClassInternalAPI, err)
		return
	}
	writeJSON(w, http.StatusOK, executeAPIResponse{AffectedCount: b.AffectedCount, Batch: b})
}

func (c AdjustmentController) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
	}
	return tenantID, ok
}

func isCriteriaKey(k string) bool {
	for _, ck := range criteriaKeys {
		if k == ck {
			return true
		}
	}
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
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
