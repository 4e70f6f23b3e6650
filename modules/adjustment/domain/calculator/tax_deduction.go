package calculator

import (
	"encoding/json"

	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	persontypes "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/money"
)

type TaxDeductionDefaults struct {
	ContinuingEducation *money.Amount `json:"continuing_education"`
	InfantCare          *money.Amount `json:"infant_care"`
	ChildrenEducation   *money.Amount `json:"children_education"`
	HousingLoanInterest *money.Amount `json:"housing_loan_interest"`
	HousingRent         *money.Amount `json:"housing_rent"`
	ElderlySupport      *money.Amount `json:"elderly_support"`
}

// TaxDeduction sets each allowance category independently; a category the
// request leaves unset becomes 0, not the current value.
type TaxDeduction struct{}

func NewTaxDeduction() *TaxDeduction { return &TaxDeduction{} }

func (TaxDeduction) Kind() types.Kind { return types.KindTaxDeduction }

func (TaxDeduction) Prepare(raw json.RawMessage) (Proposer, error) {
	var d TaxDeductionDefaults
	if err := decodeDefaults(raw, &d); err != nil {
		return nil, err
	}
	val := func(a *money.Amount) money.Amount {
		if a == nil {
			return money.AmountFromCents(0)
		}
		return *a
	}
	next := persontypes.TaxDeductionData{
		ContinuingEducation: val(d.ContinuingEducation),
		InfantCare:          val(d.InfantCare),
		ChildrenEducation:   val(d.ChildrenEducation),
		HousingLoanInterest: val(d.HousingLoanInterest),
		HousingRent:         val(d.HousingRent),
		ElderlySupport:      val(d.ElderlySupport),
	}
	for _, a := range next.Categories() {
		if a.IsNegative() {
			return nil, httperr.New(httperr.KindValidation, "ADJUST_DEFAULTS_INVALID", "deduction amounts must be non-negative")
		}
	}
	next.Total = next.SumCategories()
	body, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}

	return ProposerFunc(func(current persontypes.Record) (json.RawMessage, error) {
		if _, err := persontypes.DecodeTaxDeduction(current.Data); err != nil {
			return nil, corrupt(current, err)
		}
		return append(json.RawMessage(nil), body...), nil
	}), nil
}

func (TaxDeduction) Validate(proposed json.RawMessage) (json.RawMessage, error) {
	if err := rejectUnknown(proposed, &persontypes.TaxDeductionData{}); err != nil {
		return nil, err
	}
	v, err := persontypes.DecodeTaxDeduction(proposed)
	if err != nil {
		return nil, invalidProposal(err)
	}
	v.Total = v.SumCategories()
	return canonical(v)
}
