// Package calculator holds one AdjustmentCalculator per adjustment kind.
// Calculators are pure: they read a current record and request defaults and
// return proposed values; they never touch storage.
package calculator

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	persontypes "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

type Calculator interface {
	Kind() types.Kind
	// Prepare validates request defaults once per preview.
	Prepare(defaults json.RawMessage) (Proposer, error)
	// Validate checks operator-supplied proposed values and returns their
	// canonical encoding, which is what execute appends.
	Validate(proposed json.RawMessage) (json.RawMessage, error)
}

// Proposer computes one person's proposal. Errors are CorruptRecord and
// exclude only that person.
type Proposer interface {
	Propose(current persontypes.Record) (json.RawMessage, error)
}

type ProposerFunc func(current persontypes.Record) (json.RawMessage, error)

func (f ProposerFunc) Propose(current persontypes.Record) (json.RawMessage, error) {
	return f(current)
}

type Registry struct {
	byKind map[types.Kind]Calculator
}

func NewRegistry(calcs ...Calculator) *Registry {
	r := &Registry{byKind: make(map[types.Kind]Calculator, len(calcs))}
	for _, c := range calcs {
		r.byKind[c.Kind()] = c
	}
	return r
}

// DefaultRegistry registers the four built-in calculators.
func DefaultRegistry(s Settings) *Registry {
	return NewRegistry(
		NewPayroll(s.GradeCoefficients),
		NewContribution(types.KindHousingFund, s.HousingFund),
		NewContribution(types.KindSocialSecurity, s.SocialSecurity),
		NewTaxDeduction(),
	)
}

func (r *Registry) Get(kind types.Kind) (Calculator, error) {
	c, ok := r.byKind[kind]
	if !ok {
		return nil, httperr.New(httperr.KindValidation, "ADJUST_KIND_UNSUPPORTED", "no calculator for kind "+string(kind))
	}
	return c, nil
}

// decodeDefaults rejects unknown fields so a misspelled default is not
// silently ignored. Empty input decodes to the zero value.
func decodeDefaults(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return httperr.Wrap(httperr.KindValidation, "ADJUST_DEFAULTS_INVALID", "invalid defaults: "+err.Error(), err)
	}
	return nil
}

func corrupt(current persontypes.Record, err error) error {
	return httperr.Wrap(httperr.KindCorruptRecord, "RECORD_CORRUPT", string(current.Aspect)+" record is corrupt: "+err.Error(), err)
}

func invalidProposal(err error) error {
	return httperr.Wrap(httperr.KindValidation, "ADJUST_PROPOSED_VALUES_INVALID", "invalid proposed_values: "+err.Error(), err)
}

// rejectUnknown decodes raw into a throwaway dst so fields outside the aspect
// shape never reach history.
func rejectUnknown(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidProposal(err)
	}
	if dec.More() {
		return invalidProposal(errors.New("trailing data after object"))
	}
	return nil
}

func canonical(v any) (json.RawMessage, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, invalidProposal(err)
	}
	return json.RawMessage(body), nil
}
