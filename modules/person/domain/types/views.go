package types

import (
	"encoding/json"
	"time"

	"github.com/jacksonlee411/hr-batch-adjust/pkg/money"
)

// AspectView is the {data, ts, version} shape the detail view returns.
type AspectView struct {
	Data    json.RawMessage `json:"data"`
	TS      time.Time       `json:"ts"`
	Version int64           `json:"version"`
}

func ViewOf(r Record) *AspectView {
	return &AspectView{Data: r.Data, TS: r.TS, Version: r.Version}
}

func ViewsOf(records []Record) []AspectView {
	out := make([]AspectView, 0, len(records))
	for _, r := range records {
		out = append(out, *ViewOf(r))
	}
	return out
}

type PersonDetail struct {
	Person          Person       `json:"person"`
	AsOf            string       `json:"as_of,omitempty"`
	Basic           *AspectView  `json:"basic"`
	BasicHistory    []AspectView `json:"basic_history"`
	Position        *AspectView  `json:"position"`
	PositionHistory []AspectView `json:"position_history"`
	Project         *AspectView  `json:"project"`
	ProjectHistory  []AspectView `json:"project_history"`
}

type Statistics struct {
	AsOf              string                 `json:"as_of,omitempty"`
	TotalPersons      int                    `json:"total_persons"`
	AspectCoverage    map[Aspect]int         `json:"aspect_coverage"`
	ByCompany         map[string]int         `json:"by_company"`
	ByDepartment      map[string]int         `json:"by_department"`
	ByEmployeeType    map[string]int         `json:"by_employee_type"`
	Payroll           PayrollStatistics      `json:"payroll"`
	HousingFund       ContributionStatistics `json:"housing_fund"`
	SocialSecurity    ContributionStatistics `json:"social_security"`
	TaxDeduction      TaxDeductionStatistics `json:"tax_deduction"`
	EstimatedIITTotal money.Amount           `json:"estimated_iit_total"`
	CorruptRecords    int                    `json:"corrupt_records"`
}

type PayrollStatistics struct {
	Covered             int          `json:"covered"`
	BasicSalaryTotal    money.Amount `json:"basic_salary_total"`
	PerformancePayTotal money.Amount `json:"performance_pay_total"`
	TotalPayTotal       money.Amount `json:"total_pay_total"`
}

type ContributionStatistics struct {
	Covered         int          `json:"covered"`
	BaseAmountTotal money.Amount `json:"base_amount_total"`
}

type TaxDeductionStatistics struct {
	Covered        int          `json:"covered"`
	DeductionTotal money.Amount `json:"deduction_total"`
}

func NewStatistics() Statistics {
	cov := make(map[Aspect]int, len(allAspects))
	for _, a := range allAspects {
		cov[a] = 0
	}
	return Statistics{
		AspectCoverage: cov,
		ByCompany:      map[string]int{},
		ByDepartment:   map[string]int{},
		ByEmployeeType: map[string]int{},
	}
}
