package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

type Person struct {
	PersonUUID  string    `json:"person_uuid"`
	Pernr       string    `json:"pernr"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type Aspect string

const (
	AspectBasic          Aspect = "basic"
	AspectPosition       Aspect = "position"
	AspectProject        Aspect = "project"
	AspectPayroll        Aspect = "payroll"
	AspectSocialSecurity Aspect = "social_security"
	AspectHousingFund    Aspect = "housing_fund"
	AspectTaxDeduction   Aspect = "tax_deduction"
)

var allAspects = []Aspect{
	AspectBasic,
	AspectPosition,
	AspectProject,
	AspectPayroll,
	AspectSocialSecurity,
	AspectHousingFund,
	AspectTaxDeduction,
}

func AllAspects() []Aspect {
	return append([]Aspect(nil), allAspects...)
}

// ParseAspect accepts both snake_case and the kebab-case used in URLs.
func ParseAspect(raw string) (Aspect, error) {
	a := Aspect(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	for _, known := range allAspects {
		if a == known {
			return a, nil
		}
	}
	return "", httperr.New(httperr.KindValidation, "ASPECT_INVALID", "unknown aspect: "+raw)
}

// Record is one immutable version of a person aspect.
type Record struct {
	PersonUUID    string          `json:"person_uuid"`
	Aspect        Aspect          `json:"aspect"`
	Version       int64           `json:"version"`
	TS            time.Time       `json:"ts"`
	Data          json.RawMessage `json:"data"`
	SourceBatchID string          `json:"source_batch_id,omitempty"`
}

// AppendInput describes one new version. ExpectedVersion, when set, is the
// version the caller believes is current (0 = no record yet). SourceBatchID
// makes the append idempotent per (batch, person, aspect).
type AppendInput struct {
	PersonUUID      string
	Aspect          Aspect
	Data            json.RawMessage
	ExpectedVersion *int64
	SourceBatchID   string
}

// AppendResult reports the stored record; Existing is set when an earlier
// append under the same SourceBatchID was found and nothing new was written.
type AppendResult struct {
	Record   Record
	Existing bool
}

func (in AppendInput) Validate() error {
	if strings.TrimSpace(in.PersonUUID) == "" {
		return httperr.New(httperr.KindValidation, "PERSON_UUID_REQUIRED", "person_uuid is required")
	}
	if _, err := ParseAspect(string(in.Aspect)); err != nil {
		return err
	}
	if len(in.Data) == 0 || !json.Valid(in.Data) {
		return httperr.New(httperr.KindValidation, "RECORD_DATA_INVALID", "data must be valid JSON")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(in.Data, &obj); err != nil || obj == nil {
		return httperr.New(httperr.KindValidation, "RECORD_DATA_INVALID", "data must be a JSON object")
	}
	if in.ExpectedVersion != nil && *in.ExpectedVersion < 0 {
		return httperr.New(httperr.KindValidation, "RECORD_EXPECTED_VERSION_INVALID", "expected_version must be >= 0")
	}
	return nil
}

func ErrPersonNotFound(personUUID string) error {
	return httperr.NewNotFound("PERSON_NOT_FOUND", "person not found: "+personUUID)
}

func ErrRecordNotFound(personUUID string, aspect Aspect) error {
	return httperr.NewNotFound("RECORD_NOT_FOUND", "no "+string(aspect)+" record for person "+personUUID)
}

func ErrStaleBaseVersion(personUUID string, aspect Aspect) error {
	return httperr.NewConflict("RECORD_STALE_BASE_VERSION", "current "+string(aspect)+" record of person "+personUUID+" changed since it was read", false, nil)
}

// NormalizePernr validates a 1-8 digit personnel number and strips leading
// zeros.
func NormalizePernr(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", httperr.New(httperr.KindValidation, "PERNR_REQUIRED", "pernr is required")
	}
	if len(raw) > 8 {
		return "", httperr.New(httperr.KindValidation, "PERNR_INVALID", "pernr must be 1-8 digits")
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return "", httperr.New(httperr.KindValidation, "PERNR_INVALID", "pernr must be 1-8 digits")
		}
	}
	raw = strings.TrimLeft(raw, "0")
	if raw == "" {
		raw = "0"
	}
	return raw, nil
}

func NormalizeDisplayName(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", httperr.New(httperr.KindValidation, "DISPLAY_NAME_REQUIRED", "display_name is required")
	}
	return raw, nil
}
