// Package iit estimates individual income tax withholding using the
// cumulative withholding method. All amounts are integer cents.
package iit

import "fmt"

const (
	standardDeductionMonthlyCents int64 = 5000 * 100
)

type bracket struct {
	upToCents           int64
	ratePercent         int64
	quickDeductionCents int64
}

// annual cumulative table; the last bracket has no upper bound.
var brackets = []bracket{
	{upToCents: 36_000 * 100, ratePercent: 3, quickDeductionCents: 0},
	{upToCents: 144_000 * 100, ratePercent: 10, quickDeductionCents: 2_520 * 100},
	{upToCents: 300_000 * 100, ratePercent: 20, quickDeductionCents: 16_920 * 100},
	{upToCents: 420_000 * 100, ratePercent: 25, quickDeductionCents: 31_920 * 100},
	{upToCents: 660_000 * 100, ratePercent: 30, quickDeductionCents: 52_920 * 100},
	{upToCents: 960_000 * 100, ratePercent: 35, quickDeductionCents: 85_920 * 100},
	{upToCents: -1, ratePercent: 45, quickDeductionCents: 181_920 * 100},
}

type CumulativeInput struct {
	IncomeCents                     int64
	TaxExemptIncomeCents            int64
	StandardDeductionCents          int64
	SpecialDeductionCents           int64
	SpecialAdditionalDeductionCents int64
	WithheldCents                   int64
}

type CumulativeResult struct {
	TaxableIncomeCents     int64
	TaxLiabilityCents      int64
	WithholdThisMonthCents int64
	CreditCents            int64
	RatePercent            int64
	QuickDeductionCents    int64
}

// MonthlyInput describes one person's month as seen by the statistics
// report: gross pay, the personal share of social insurance and housing fund,
// and the declared special additional deductions.
type MonthlyInput struct {
	GrossCents             int64
	SocialInsuranceCents   int64
	SpecialAdditionalCents int64
}

func StandardDeductionCents(firstTaxMonth, taxMonth int) (int64, error) {
	if firstTaxMonth < 1 || firstTaxMonth > 12 {
		return 0, fmt.Errorf("firstTaxMonth out of range: %d", firstTaxMonth)
	}
	if taxMonth < 1 || taxMonth > 12 {
		return 0, fmt.Errorf("taxMonth out of range: %d", taxMonth)
	}
	if taxMonth < firstTaxMonth {
		return 0, fmt.Errorf("taxMonth must be >= firstTaxMonth: taxMonth=%d firstTaxMonth=%d", taxMonth, firstTaxMonth)
	}
	return standardDeductionMonthlyCents * int64(taxMonth-firstTaxMonth+1), nil
}

func ComputeCumulativeWithholding(in CumulativeInput) (CumulativeResult, error) {
	if in.IncomeCents < 0 ||
		in.TaxExemptIncomeCents < 0 ||
		in.StandardDeductionCents < 0 ||
		in.SpecialDeductionCents < 0 ||
		in.SpecialAdditionalDeductionCents < 0 ||
		in.WithheldCents < 0 {
		return CumulativeResult{}, fmt.Errorf("all inputs must be non-negative")
	}

	taxable := max(0,
		in.IncomeCents-
			in.TaxExemptIncomeCents-
			in.StandardDeductionCents-
			in.SpecialDeductionCents-
			in.SpecialAdditionalDeductionCents,
	)
	b := bracketFor(taxable)
	liability := max(0, mulPercentRoundHalfUpCents(taxable, b.ratePercent)-b.quickDeductionCents)

	out := CumulativeResult{
		TaxableIncomeCents:  taxable,
		TaxLiabilityCents:   liability,
		RatePercent:         b.ratePercent,
		QuickDeductionCents: b.quickDeductionCents,
	}
	if delta := liability - in.WithheldCents; delta > 0 {
		out.WithholdThisMonthCents = delta
	} else {
		out.CreditCents = -delta
	}
	return out, nil
}

// EstimateFirstMonth returns the withholding for a month that is the first
// tax month of the year, i.e. nothing has been withheld yet.
func EstimateFirstMonth(in MonthlyInput) (int64, error) {
	res, err := ComputeCumulativeWithholding(CumulativeInput{
		IncomeCents:                     in.GrossCents,
		StandardDeductionCents:          standardDeductionMonthlyCents,
		SpecialDeductionCents:           in.SocialInsuranceCents,
		SpecialAdditionalDeductionCents: in.SpecialAdditionalCents,
	})
	if err != nil {
		return 0, err
	}
	return res.WithholdThisMonthCents, nil
}

func bracketFor(taxableIncomeCents int64) bracket {
	for _, b := range brackets {
		if b.upToCents < 0 || taxableIncomeCents <= b.upToCents {
			return b
		}
	}
	return brackets[len(brackets)-1]
}

func mulPercentRoundHalfUpCents(amountCents int64, percent int64) int64 {
	if amountCents <= 0 || percent <= 0 {
		return 0
	}
	n := amountCents * percent
	q, r := n/100, n%100
	if r >= 50 {
		return q + 1
	}
	return q
}
