package calculator

import (
	"encoding/json"

	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	persontypes "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/money"
)

type ContributionDefaults struct {
	NewBaseAmount   *money.Amount `json:"new_base_amount"`
	MinBaseAmount   *money.Amount `json:"min_base_amount"`
	MaxBaseAmount   *money.Amount `json:"max_base_amount"`
	NewPersonalRate *money.Rate   `json:"new_personal_rate"`
	NewCompanyRate  *money.Rate   `json:"new_company_rate"`
}

// Contribution serves both housing fund and social security. The proposed
// base is new_base_amount (or the current base) clamped to the range. Rates
// never carry forward: an unset new_*_rate takes the configured domain rate.
type Contribution struct {
	kind     types.Kind
	settings ContributionSettings
}

func NewContribution(kind types.Kind, s ContributionSettings) *Contribution {
	return &Contribution{kind: kind, settings: s}
}

func (c *Contribution) Kind() types.Kind { return c.kind }

func (c *Contribution) Prepare(raw json.RawMessage) (Proposer, error) {
	var d ContributionDefaults
	if err := decodeDefaults(raw, &d); err != nil {
		return nil, err
	}
	lo, hi := c.settings.MinBaseAmount, c.settings.MaxBaseAmount
	if d.MinBaseAmount != nil {
		lo = *d.MinBaseAmount
	}
	if d.MaxBaseAmount != nil {
		hi = *d.MaxBaseAmount
	}
	if !lo.IsPositive() || !hi.IsPositive() || lo.Cmp(hi) > 0 {
		return nil, httperr.New(httperr.KindValidation, "ADJUST_BASE_RANGE_INVALID", "min_base_amount and max_base_amount must be positive with min <= max")
	}
	if d.NewBaseAmount != nil && d.NewBaseAmount.IsNegative() {
		return nil, httperr.New(httperr.KindValidation, "ADJUST_DEFAULTS_INVALID", "new_base_amount must be non-negative")
	}
	personal, company := c.settings.PersonalRate, c.settings.CompanyRate
	if d.NewPersonalRate != nil {
		personal = *d.NewPersonalRate
	}
	if d.NewCompanyRate != nil {
		company = *d.NewCompanyRate
	}
	if !personal.InUnitInterval() || !company.InUnitInterval() {
		return nil, httperr.New(httperr.KindValidation, "ADJUST_RATE_INVALID", "rates must be within [0, 1]")
	}

	return ProposerFunc(func(current persontypes.Record) (json.RawMessage, error) {
		cur, err := persontypes.DecodeContribution(current.Data)
		if err != nil {
			return nil, corrupt(current, err)
		}
		base := cur.BaseAmount
		if d.NewBaseAmount != nil {
			base = *d.NewBaseAmount
		}
		return json.Marshal(persontypes.ContributionData{
			BaseAmount:   base.Clamp(lo, hi),
			PersonalRate: personal,
			CompanyRate:  company,
		})
	}), nil
}

func (c *Contribution) Validate(proposed json.RawMessage) (json.RawMessage, error) {
	if err := rejectUnknown(proposed, &persontypes.ContributionData{}); err != nil {
		return nil, err
	}
	v, err := persontypes.DecodeContribution(proposed)
	if err != nil {
		return nil, invalidProposal(err)
	}
	return canonical(v)
}
