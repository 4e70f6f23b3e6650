package calculator

import (
	"encoding/json"
	"testing"

	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	persontypes "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/money"
)

func record(aspect persontypes.Aspect, data string) persontypes.Record {
	return persontypes.Record{PersonUUID: "p1", Aspect: aspect, Version: 3, Data: json.RawMessage(data)}
}

func propose(t *testing.T, c Calculator, defaults string, current persontypes.Record) (json.RawMessage, error) {
	t.Helper()
	p, err := c.Prepare(json.RawMessage(defaults))
	if err != nil {
		t.Fatalf("prepare err=%v", err)
	}
	return p.Propose(current)
}

func TestPayroll_CoefficientScenario(t *testing.T) {
	reg := DefaultRegistry(DefaultSettings())
	c, err := reg.Get(types.KindPayroll)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	current := record(persontypes.AspectPayroll, `{"grade":"C","basic_salary":"5000","performance_base":"1000","adjustment":"0"}`)
	out, err := propose(t, c, `{"grade":"b"}`, current)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	got, err := persontypes.DecodePayroll(out)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.Grade != "B" || got.PerformancePay.String() != "1200.00" || got.TotalPay.String() != "6200.00" {
		t.Fatalf("got=%s", out)
	}
	if got.BasicSalary.String() != "5000.00" {
		t.Fatalf("basic=%s", got.BasicSalary)
	}
}

func TestPayroll_RoundsHalfUp(t *testing.T) {
	c := NewPayroll(DefaultSettings().GradeCoefficients)
	current := record(persontypes.AspectPayroll, `{"grade":"A","basic_salary":"100.00","performance_base":"0.03","adjustment":"-10.00"}`)
	out, err := propose(t, c, ``, current)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	got, _ := persontypes.DecodePayroll(out)
	// 0.03 * 1.5 = 0.045
	if got.PerformancePay.String() != "0.05" || got.TotalPay.String() != "90.05" {
		t.Fatalf("got=%s", out)
	}
}

func TestPayroll_Errors(t *testing.T) {
	c := NewPayroll(DefaultSettings().GradeCoefficients)
	for _, defaults := range []string{`{"grade":"Z"}`, `{"basic_salary":"-1"}`, `{"bonus":"1"}`, `[1]`} {
		if _, err := c.Prepare(json.RawMessage(defaults)); !httperr.Is(err, httperr.KindValidation) {
			t.Fatalf("defaults=%s err=%v", defaults, err)
		}
	}
	for _, data := range []string{`{"grade":"B"}`, `{"grade":"Q","basic_salary":"1","performance_base":"1"}`, `{"grade":"A","basic_salary":"x","performance_base":"1"}`} {
		_, err := propose(t, c, `{}`, record(persontypes.AspectPayroll, data))
		if !httperr.Is(err, httperr.KindCorruptRecord) {
			t.Fatalf("data=%s err=%v", data, err)
		}
	}
	if _, err := c.Validate(json.RawMessage(`{"grade":"Q","basic_salary":"1","performance_base":"1"}`)); !httperr.Is(err, httperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
	out, err := c.Validate(json.RawMessage("{ \"grade\": \" a \", \"basic_salary\": 1,\n \"performance_base\": \"1.004\", \"total_pay\": \"999\" }"))
	want := `{"grade":"A","coefficient":"1.5","basic_salary":"1.00","performance_base":"1.00","performance_pay":"1.50","adjustment":"0.00","total_pay":"2.50"}`
	if err != nil || string(out) != want {
		t.Fatalf("out=%s err=%v", out, err)
	}
	if _, err := c.Validate(json.RawMessage(`{"grade":"A","basic_salary":"1","performance_base":"1","bonus":"5"}`)); !httperr.Is(err, httperr.KindValidation) {
		t.Fatalf("unknown field err=%v", err)
	}
}

func TestValidate_Canonicalizes(t *testing.T) {
	s := DefaultSettings()
	cases := []struct {
		name     string
		calc     Calculator
		proposed string
		want     string
	}{
		{
			name:     "contribution rounds and quotes",
			calc:     NewContribution(types.KindHousingFund, s.HousingFund),
			proposed: `{"base_amount":8000.129,"personal_rate":0.12345,"company_rate":"0.1"}`,
			want:     `{"base_amount":"8000.13","personal_rate":"0.123","company_rate":"0.100"}`,
		},
		{
			name:     "tax deduction fills categories and recomputes total",
			calc:     NewTaxDeduction(),
			proposed: `{"infant_care":2000,"housing_rent":"1500.005","total":"1"}`,
			want:     `{"continuing_education":"0.00","infant_care":"2000.00","children_education":"0.00","housing_loan_interest":"0.00","housing_rent":"1500.01","elderly_support":"0.00","total":"3500.01"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := tc.calc.Validate(json.RawMessage(tc.proposed))
			if err != nil || string(out) != tc.want {
				t.Fatalf("out=%s err=%v", out, err)
			}
		})
	}

	for _, proposed := range []string{
		`{"base_amount":"1","personal_rate":"0.1","company_rate":"0.1","rogue":{"x":1}}`,
		`{"base_amount":"1","personal_rate":"0.1","company_rate":"0.1"} {}`,
	} {
		if _, err := NewContribution(types.KindSocialSecurity, s.SocialSecurity).Validate(json.RawMessage(proposed)); !httperr.Is(err, httperr.KindValidation) {
			t.Fatalf("proposed=%s err=%v", proposed, err)
		}
	}
	if _, err := NewTaxDeduction().Validate(json.RawMessage(`{"infant_care":"1","pets":"2"}`)); !httperr.Is(err, httperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
}

func TestContribution_ClampAndRates(t *testing.T) {
	s := DefaultSettings()
	c := NewContribution(types.KindHousingFund, s.HousingFund)
	current := record(persontypes.AspectHousingFund, `{"base_amount":"50000.00","personal_rate":"0.070","company_rate":"0.070"}`)

	cases := []struct {
		name     string
		defaults string
		wantBase string
		wantPR   string
	}{
		{name: "current clamped to config max", defaults: `{}`, wantBase: "36549.00", wantPR: "0.120"},
		{name: "new base clamped to request min", defaults: `{"new_base_amount":"100","min_base_amount":"3000","max_base_amount":"9000"}`, wantBase: "3000.00", wantPR: "0.120"},
		{name: "within range", defaults: `{"new_base_amount":"8000.005","min_base_amount":"3000","max_base_amount":"9000","new_personal_rate":"0.05"}`, wantBase: "8000.01", wantPR: "0.050"},
	}
	for _, tc := range cases {
		out, err := propose(t, c, tc.defaults, current)
		if err != nil {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
		got, err := persontypes.DecodeContribution(out)
		if err != nil {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
		if got.BaseAmount.String() != tc.wantBase || got.PersonalRate.String() != tc.wantPR || got.CompanyRate.String() != "0.120" {
			t.Fatalf("%s: got=%s", tc.name, out)
		}
	}
}

func TestContribution_ClampHoldsForAnyBase(t *testing.T) {
	c := NewContribution(types.KindSocialSecurity, DefaultSettings().SocialSecurity)
	lo, hi := money.MustAmount("1000.00"), money.MustAmount("2000.00")
	for _, base := range []string{"0", "999.99", "1000", "1500.5", "2000", "2000.01", "99999999"} {
		p, err := c.Prepare(json.RawMessage(`{"new_base_amount":"` + base + `","min_base_amount":"1000","max_base_amount":"2000"}`))
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		out, err := p.Propose(record(persontypes.AspectSocialSecurity, `{"base_amount":"1","personal_rate":"0.1","company_rate":"0.1"}`))
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		got, _ := persontypes.DecodeContribution(out)
		if got.BaseAmount.Cmp(lo) < 0 || got.BaseAmount.Cmp(hi) > 0 {
			t.Fatalf("base=%s out of range", got.BaseAmount)
		}
	}
}

func TestContribution_Errors(t *testing.T) {
	c := NewContribution(types.KindHousingFund, DefaultSettings().HousingFund)
	for _, defaults := range []string{
		`{"min_base_amount":"5000","max_base_amount":"4000"}`,
		`{"min_base_amount":"0"}`,
		`{"max_base_amount":"-1","min_base_amount":"-5"}`,
		`{"new_personal_rate":"1.5"}`,
		`{"new_base_amount":"-1"}`,
	} {
		if _, err := c.Prepare(json.RawMessage(defaults)); !httperr.Is(err, httperr.KindValidation) {
			t.Fatalf("defaults=%s err=%v", defaults, err)
		}
	}
	_, err := propose(t, c, `{}`, record(persontypes.AspectHousingFund, `{"base_amount":"1"}`))
	if !httperr.Is(err, httperr.KindCorruptRecord) {
		t.Fatalf("err=%v", err)
	}
	if _, err := c.Validate(json.RawMessage(`{"base_amount":"1","personal_rate":"2","company_rate":"0"}`)); !httperr.Is(err, httperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
}

func TestTaxDeduction_UnsetCategoriesAreZero(t *testing.T) {
	c := NewTaxDeduction()
	current := record(persontypes.AspectTaxDeduction, `{"infant_care":"2000.00","housing_rent":"1500.00","total":"3500.00"}`)
	out, err := propose(t, c, `{"children_education":"2000","elderly_support":"1000.5"}`, current)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	got, err := persontypes.DecodeTaxDeduction(out)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !got.InfantCare.IsZero() || !got.HousingRent.IsZero() {
		t.Fatalf("carried current value: %s", out)
	}
	if got.Total.String() != "3000.50" || got.ElderlySupport.String() != "1000.50" {
		t.Fatalf("got=%s", out)
	}

	if _, err := c.Prepare(json.RawMessage(`{"infant_care":"-1"}`)); !httperr.Is(err, httperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
	if _, err := propose(t, c, `{}`, record(persontypes.AspectTaxDeduction, `"x"`)); !httperr.Is(err, httperr.KindCorruptRecord) {
		t.Fatalf("err=%v", err)
	}
}

func TestRegistry_UnknownKind(t *testing.T) {
	reg := NewRegistry(NewTaxDeduction())
	if _, err := reg.Get(types.KindPayroll); !httperr.Is(err, httperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
}

func TestParseSettingsYAML(t *testing.T) {
	s, err := LoadSettings("../../../../config/adjustment/defaults.yaml")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if s.GradeCoefficients["B"].String() != "1.2" || s.HousingFund.MaxBaseAmount.String() != "36549.00" || s.SocialSecurity.CompanyRate.String() != "0.265" {
		t.Fatalf("s=%+v", s)
	}

	s, err = ParseSettingsYAML([]byte("version: 1\nhousing_fund:\n  min_base_amount: \"3000\"\n"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if s.HousingFund.MinBaseAmount.String() != "3000.00" || s.HousingFund.PersonalRate.String() != "0.120" || len(s.GradeCoefficients) != 6 {
		t.Fatalf("s=%+v", s)
	}

	bad := []string{
		"version: 2\n",
		"version: 1\npayroll:\n  grade_coefficients:\n    A: \"x\"\n",
		"version: 1\nsocial_security:\n  personal_rate: \"1.2\"\n",
		"version: 1\nsocial_security:\n  min_base_amount: \"50000\"\n",
		"version: [",
	}
	for _, b := range bad {
		if _, err := ParseSettingsYAML([]byte(b)); err == nil {
			t.Fatalf("expected error for %q", b)
		}
	}

	if s, err := LoadSettings(""); err != nil || len(s.GradeCoefficients) != 6 {
		t.Fatalf("err=%v", err)
	}
}
