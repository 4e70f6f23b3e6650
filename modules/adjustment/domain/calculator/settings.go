package calculator

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/hr-batch-adjust/pkg/money"
)

// Settings are the domain defaults the calculators fall back to when a
// preview request leaves a value unset.
type Settings struct {
	GradeCoefficients map[string]decimal.Decimal
	HousingFund       ContributionSettings
	SocialSecurity    ContributionSettings
}

type ContributionSettings struct {
	PersonalRate  money.Rate
	CompanyRate   money.Rate
	MinBaseAmount money.Amount
	MaxBaseAmount money.Amount
}

type settingsFile struct {
	Version int `yaml:"version"`
	Payroll struct {
		GradeCoefficients map[string]string `yaml:"grade_coefficients"`
	} `yaml:"payroll"`
	HousingFund    *contributionFile `yaml:"housing_fund"`
	SocialSecurity *contributionFile `yaml:"social_security"`
}

type contributionFile struct {
	PersonalRate  string `yaml:"personal_rate"`
	CompanyRate   string `yaml:"company_rate"`
	MinBaseAmount string `yaml:"min_base_amount"`
	MaxBaseAmount string `yaml:"max_base_amount"`
}

func DefaultSettings() Settings {
	return Settings{
		GradeCoefficients: map[string]decimal.Decimal{
			"A":    decimal.RequireFromString("1.5"),
			"B":    decimal.RequireFromString("1.2"),
			"C":    decimal.RequireFromString("1.0"),
			"D":    decimal.RequireFromString("0.8"),
			"E":    decimal.RequireFromString("0.6"),
			"NONE": decimal.Zero,
		},
		HousingFund: ContributionSettings{
			PersonalRate:  money.MustRate("0.120"),
			CompanyRate:   money.MustRate("0.120"),
			MinBaseAmount: money.MustAmount("2590.00"),
			MaxBaseAmount: money.MustAmount("36549.00"),
		},
		SocialSecurity: ContributionSettings{
			PersonalRate:  money.MustRate("0.105"),
			CompanyRate:   money.MustRate("0.265"),
			MinBaseAmount: money.MustAmount("6821.00"),
			MaxBaseAmount: money.MustAmount("36549.00"),
		},
	}
}

// LoadSettings reads a defaults file; an empty path yields DefaultSettings.
func LoadSettings(path string) (Settings, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSettings(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	return ParseSettingsYAML(b)
}

// ParseSettingsYAML overlays the file onto DefaultSettings. A grade table in
// the file replaces the default table entirely.
func ParseSettingsYAML(b []byte) (Settings, error) {
	var f settingsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Settings{}, err
	}
	if f.Version != 1 {
		return Settings{}, errors.New("adjustment defaults: unsupported version")
	}

	s := DefaultSettings()
	if len(f.Payroll.GradeCoefficients) > 0 {
		s.GradeCoefficients = make(map[string]decimal.Decimal, len(f.Payroll.GradeCoefficients))
		for grade, raw := range f.Payroll.GradeCoefficients {
			d, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil || d.IsNegative() {
				return Settings{}, fmt.Errorf("adjustment defaults: invalid coefficient for grade %s", grade)
			}
			s.GradeCoefficients[strings.ToUpper(strings.TrimSpace(grade))] = d
		}
	}
	var err error
	if s.HousingFund, err = overlayContribution("housing_fund", s.HousingFund, f.HousingFund); err != nil {
		return Settings{}, err
	}
	if s.SocialSecurity, err = overlayContribution("social_security", s.SocialSecurity, f.SocialSecurity); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func overlayContribution(name string, base ContributionSettings, f *contributionFile) (ContributionSettings, error) {
	if f == nil {
		return base, nil
	}
	out := base
	for _, r := range []struct {
		raw string
		dst *money.Rate
	}{{f.PersonalRate, &out.PersonalRate}, {f.CompanyRate, &out.CompanyRate}} {
		if strings.TrimSpace(r.raw) == "" {
			continue
		}
		v, err := money.ParseRate(r.raw)
		if err != nil || !v.InUnitInterval() {
			return ContributionSettings{}, fmt.Errorf("adjustment defaults: %s rate %q invalid", name, r.raw)
		}
		*r.dst = v
	}
	for _, a := range []struct {
		raw string
		dst *money.Amount
	}{{f.MinBaseAmount, &out.MinBaseAmount}, {f.MaxBaseAmount, &out.MaxBaseAmount}} {
		if strings.TrimSpace(a.raw) == "" {
			continue
		}
		v, err := money.ParseAmount(a.raw)
		if err != nil {
			return ContributionSettings{}, fmt.Errorf("adjustment defaults: %s amount %q invalid", name, a.raw)
		}
		*a.dst = v
	}
	if !out.MinBaseAmount.IsPositive() || out.MinBaseAmount.Cmp(out.MaxBaseAmount) > 0 {
		return ContributionSettings{}, fmt.Errorf("adjustment defaults: %s base range invalid", name)
	}
	return out, nil
}
