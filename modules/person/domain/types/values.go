package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/hr-batch-adjust/pkg/money"
)

// PositionData is the employment facet used for targeting.
type PositionData struct {
	Company      string `json:"company"`
	Department   string `json:"department"`
	EmployeeType string `json:"employee_type"`
	JobTitle     string `json:"job_title,omitempty"`
}

type PayrollData struct {
	Grade           string          `json:"grade"`
	Coefficient     decimal.Decimal `json:"coefficient"`
	BasicSalary     money.Amount    `json:"basic_salary"`
	PerformanceBase money.Amount    `json:"performance_base"`
	PerformancePay  money.Amount    `json:"performance_pay"`
	Adjustment      money.Amount    `json:"adjustment"`
	TotalPay        money.Amount    `json:"total_pay"`
}

// ContributionData is shared by the housing fund and social security aspects.
type ContributionData struct {
	BaseAmount   money.Amount `json:"base_amount"`
	PersonalRate money.Rate   `json:"personal_rate"`
	CompanyRate  money.Rate   `json:"company_rate"`
}

type TaxDeductionData struct {
	ContinuingEducation money.Amount `json:"continuing_education"`
	InfantCare          money.Amount `json:"infant_care"`
	ChildrenEducation   money.Amount `json:"children_education"`
	HousingLoanInterest money.Amount `json:"housing_loan_interest"`
	HousingRent         money.Amount `json:"housing_rent"`
	ElderlySupport      money.Amount `json:"elderly_support"`
	Total               money.Amount `json:"total"`
}

func DecodePosition(raw json.RawMessage) (PositionData, error) {
	var p PositionData
	if err := decodeObject(raw, &p); err != nil {
		return PositionData{}, err
	}
	return p, nil
}

func DecodePayroll(raw json.RawMessage) (PayrollData, error) {
	var p PayrollData
	if err := decodeObject(raw, &p, "grade", "basic_salary", "performance_base"); err != nil {
		return PayrollData{}, err
	}
	p.Grade = strings.ToUpper(strings.TrimSpace(p.Grade))
	if p.Grade == "" {
		return PayrollData{}, errors.New("grade is empty")
	}
	for name, a := range map[string]money.Amount{"basic_salary": p.BasicSalary, "performance_base": p.PerformanceBase} {
		if a.IsNegative() {
			return PayrollData{}, fmt.Errorf("%s is negative", name)
		}
	}
	return p, nil
}

func DecodeContribution(raw json.RawMessage) (ContributionData, error) {
	var c ContributionData
	if err := decodeObject(raw, &c, "base_amount", "personal_rate", "company_rate"); err != nil {
		return ContributionData{}, err
	}
	if c.BaseAmount.IsNegative() {
		return ContributionData{}, errors.New("base_amount is negative")
	}
	if !c.PersonalRate.InUnitInterval() || !c.CompanyRate.InUnitInterval() {
		return ContributionData{}, errors.New("rates must be within [0, 1]")
	}
	return c, nil
}

func DecodeTaxDeduction(raw json.RawMessage) (TaxDeductionData, error) {
	var d TaxDeductionData
	if err := decodeObject(raw, &d); err != nil {
		return TaxDeductionData{}, err
	}
	for _, a := range d.Categories() {
		if a.IsNegative() {
			return TaxDeductionData{}, errors.New("deduction amounts must be non-negative")
		}
	}
	return d, nil
}

// Categories lists the six allowance amounts in a fixed order.
func (d TaxDeductionData) Categories() []money.Amount {
	return []money.Amount{
		d.ContinuingEducation,
		d.InfantCare,
		d.ChildrenEducation,
		d.HousingLoanInterest,
		d.HousingRent,
		d.ElderlySupport,
	}
}

func (d TaxDeductionData) SumCategories() money.Amount {
	total := money.Amount{}
	for _, a := range d.Categories() {
		total = total.Add(a)
	}
	return total
}

func decodeObject(raw json.RawMessage, dst any, required ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("not a JSON object: %w", err)
	}
	if fields == nil {
		return errors.New("record is null")
	}
	for _, k := range required {
		v, ok := fields[k]
		if !ok || string(v) == "null" {
			return fmt.Errorf("missing field %s", k)
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return err
	}
	return nil
}
