package types

import (
	"encoding/json"
	"strings"
	"time"

	persontypes "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

// Kind names an adjustment domain. Each kind adjusts exactly one person aspect.
type Kind string

const (
	KindPayroll        Kind = "payroll"
	KindHousingFund    Kind = "housing_fund"
	KindSocialSecurity Kind = "social_security"
	KindTaxDeduction   Kind = "tax_deduction"
)

var allKinds = []Kind{KindPayroll, KindHousingFund, KindSocialSecurity, KindTaxDeduction}

func AllKinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

// ParseKind accepts the stored form ("housing_fund") and the URL slug ("housing-fund").
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	for _, known := range allKinds {
		if k == known {
			return k, nil
		}
	}
	return "", httperr.New(httperr.KindValidation, "ADJUST_KIND_INVALID", "unknown adjustment kind: "+raw)
}

func (k Kind) Aspect() persontypes.Aspect {
	switch k {
	case KindPayroll:
		return persontypes.AspectPayroll
	case KindHousingFund:
		return persontypes.AspectHousingFund
	case KindSocialSecurity:
		return persontypes.AspectSocialSecurity
	case KindTaxDeduction:
		return persontypes.AspectTaxDeduction
	}
	return ""
}

// Slug is the kind as it appears in URL paths and authz objects.
func (k Kind) Slug() string {
	return strings.ReplaceAll(string(k), "_", "-")
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPreviewed Status = "previewed"
	StatusConfirmed Status = "confirmed"
	StatusApplied   Status = "applied"
)

var statusOrder = map[Status]int{
	StatusDraft:     0,
	StatusPreviewed: 1,
	StatusConfirmed: 2,
	StatusApplied:   3,
}

// CanTransition reports whether to is the immediate successor of s.
func (s Status) CanTransition(to Status) bool {
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	next, ok := statusOrder[to]
	return ok && next == from+1
}

func (s Status) Terminal() bool { return s == StatusApplied }

// Criteria selects candidate persons. A nil filter matches everyone.
type Criteria struct {
	TargetCompany      *string `json:"target_company"`
	TargetDepartment   *string `json:"target_department"`
	TargetEmployeeType *string `json:"target_employee_type"`
	TargetExpr         string  `json:"target_expr,omitempty"`
}

// Normalize trims filters and turns empty strings into "no filter".
func (c Criteria) Normalize() Criteria {
	norm := func(v *string) *string {
		if v == nil {
			return nil
		}
		s := strings.TrimSpace(*v)
		if s == "" {
			return nil
		}
		return &s
	}
	return Criteria{
		TargetCompany:      norm(c.TargetCompany),
		TargetDepartment:   norm(c.TargetDepartment),
		TargetEmployeeType: norm(c.TargetEmployeeType),
		TargetExpr:         strings.TrimSpace(c.TargetExpr),
	}
}

type SkippedPerson struct {
	PersonUUID string `json:"person_uuid"`
	Reason     string `json:"reason"`
}

type Batch struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Status        Status          `json:"status"`
	EffectiveDate string          `json:"effective_date"`
	Criteria      Criteria        `json:"criteria"`
	Defaults      json.RawMessage `json:"defaults"`
	TotalPersons  int             `json:"total_persons"`
	AffectedCount int             `json:"affected_count"`
	Skipped       []SkippedPerson `json:"skipped"`
	CreatedAt     time.Time       `json:"created_at"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	AppliedAt     *time.Time      `json:"applied_at,omitempty"`
}

// BatchItem is one person's staged proposal. BaseVersion is the aspect
// version CurrentSnapshot was read from.
type BatchItem struct {
	ID              string          `json:"id"`
	BatchID         string          `json:"batch_id"`
	Seq             int             `json:"seq"`
	PersonUUID      string          `json:"person_uuid"`
	CurrentSnapshot json.RawMessage `json:"current_snapshot"`
	BaseVersion     int64           `json:"base_version"`
	ProposedValues  json.RawMessage `json:"proposed_values"`
}

// ProposedBatch is the value handed from preview to confirm to execute.
type ProposedBatch struct {
	Batch Batch       `json:"batch"`
	Items []BatchItem `json:"items"`
}

// ItemOverride replaces one item's proposed values at confirm time.
type ItemOverride struct {
	ItemID         string          `json:"id"`
	ProposedValues json.RawMessage `json:"proposed_values"`
}

type PreviewRequest struct {
	Kind          Kind
	EffectiveDate string
	Criteria      Criteria
	Defaults      json.RawMessage
}

func ErrBatchNotFound(id string) error {
	return httperr.NewNotFound("ADJUST_BATCH_NOT_FOUND", "batch not found: "+id)
}

func ErrItemNotFound(id string) error {
	return httperr.NewNotFound("ADJUST_ITEM_NOT_FOUND", "batch item not found: "+id)
}

func ErrInvalidState(op string, status Status) error {
	return httperr.New(httperr.KindInvalidState, "ADJUST_BATCH_INVALID_STATE", op+" not allowed while batch is "+string(status))
}
