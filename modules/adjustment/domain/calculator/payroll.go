package calculator

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	persontypes "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/money"
)

type PayrollDefaults struct {
	Grade           *string       `json:"grade"`
	BasicSalary     *money.Amount `json:"basic_salary"`
	PerformanceBase *money.Amount `json:"performance_base"`
	Adjustment      *money.Amount `json:"adjustment"`
}

// Payroll recomputes performance and total pay from the grade table:
// performance_pay = performance_base * coefficient, total_pay =
// basic_salary + performance_pay + adjustment, both rounded half-up to cents.
// Unset defaults carry the current value.
type Payroll struct {
	coefficients map[string]decimal.Decimal
}

func NewPayroll(coefficients map[string]decimal.Decimal) *Payroll {
	return &Payroll{coefficients: coefficients}
}

func (p *Payroll) Kind() types.Kind { return types.KindPayroll }

func (p *Payroll) Prepare(raw json.RawMessage) (Proposer, error) {
	var d PayrollDefaults
	if err := decodeDefaults(raw, &d); err != nil {
		return nil, err
	}
	if d.Grade != nil {
		g := strings.ToUpper(strings.TrimSpace(*d.Grade))
		if _, ok := p.coefficients[g]; !ok {
			return nil, httperr.New(httperr.KindValidation, "PAYROLL_GRADE_INVALID", "unknown grade: "+*d.Grade)
		}
		d.Grade = &g
	}
	for _, a := range []*money.Amount{d.BasicSalary, d.PerformanceBase} {
		if a != nil && a.IsNegative() {
			return nil, httperr.New(httperr.KindValidation, "ADJUST_DEFAULTS_INVALID", "salary amounts must be non-negative")
		}
	}

	return ProposerFunc(func(current persontypes.Record) (json.RawMessage, error) {
		cur, err := persontypes.DecodePayroll(current.Data)
		if err != nil {
			return nil, corrupt(current, err)
		}
		next := cur
		if d.Grade != nil {
			next.Grade = *d.Grade
		}
		if d.BasicSalary != nil {
			next.BasicSalary = *d.BasicSalary
		}
		if d.PerformanceBase != nil {
			next.PerformanceBase = *d.PerformanceBase
		}
		if d.Adjustment != nil {
			next.Adjustment = *d.Adjustment
		}
		next, err = p.derive(next)
		if err != nil {
			return nil, corrupt(current, err)
		}
		return json.Marshal(next)
	}), nil
}

// Validate recomputes the derived pay fields, so an operator edit to
// total_pay or coefficient does not survive.
func (p *Payroll) Validate(proposed json.RawMessage) (json.RawMessage, error) {
	if err := rejectUnknown(proposed, &persontypes.PayrollData{}); err != nil {
		return nil, err
	}
	v, err := persontypes.DecodePayroll(proposed)
	if err != nil {
		return nil, invalidProposal(err)
	}
	if v, err = p.derive(v); err != nil {
		return nil, invalidProposal(err)
	}
	return canonical(v)
}

func (p *Payroll) derive(v persontypes.PayrollData) (persontypes.PayrollData, error) {
	coef, ok := p.coefficients[v.Grade]
	if !ok {
		return persontypes.PayrollData{}, errors.New("unknown grade " + v.Grade)
	}
	v.Coefficient = coef
	v.PerformancePay = v.PerformanceBase.Mul(coef)
	v.TotalPay = v.BasicSalary.Add(v.PerformancePay).Add(v.Adjustment)
	return v, nil
}
