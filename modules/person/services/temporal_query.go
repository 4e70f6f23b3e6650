package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/ports"
	"github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/money"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/payroll/iit"
)

// TemporalQueryService reads person state as of a point in time. A nil
// instant means "current"; reads never see a version with ts after it.
type TemporalQueryService struct {
	Persons ports.PersonStore
	Records ports.RecordStore
	Logger  *zap.Logger
}

func NewTemporalQueryService(persons ports.PersonStore, records ports.RecordStore, logger *zap.Logger) *TemporalQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemporalQueryService{Persons: persons, Records: records, Logger: logger}
}

func (s *TemporalQueryService) StatisticsAsOf(ctx context.Context, tenantID string, at *time.Time) (types.Statistics, error) {
	persons, err := s.Persons.ListPersons(ctx, tenantID)
	if err != nil {
		return types.Statistics{}, err
	}

	aspects := types.AllAspects()
	snapshots := make(map[types.Aspect]map[string]types.Record, len(aspects))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range aspects {
		g.Go(func() error {
			snap, err := s.Records.Snapshot(gctx, tenantID, a, at)
			if err != nil {
				return err
			}
			mu.Lock()
			snapshots[a] = snap
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.Statistics{}, err
	}

	stats := types.NewStatistics()
	if at != nil {
		stats.AsOf = at.UTC().Format(types.DateLayout)
	}
	stats.TotalPersons = len(persons)
	iitCents := int64(0)

	for _, p := range persons {
		for _, a := range aspects {
			if _, ok := snapshots[a][p.PersonUUID]; ok {
				stats.AspectCoverage[a]++
			}
		}

		if rec, ok := snapshots[types.AspectPosition][p.PersonUUID]; ok {
			if pos, err := types.DecodePosition(rec.Data); err == nil {
				countNonEmpty(stats.ByCompany, pos.Company)
				countNonEmpty(stats.ByDepartment, pos.Department)
				countNonEmpty(stats.ByEmployeeType, pos.EmployeeType)
			} else {
				s.corrupt(&stats, rec, err)
			}
		}

		socialPersonal := money.Amount{}
		for _, a := range []types.Aspect{types.AspectHousingFund, types.AspectSocialSecurity} {
			rec, ok := snapshots[a][p.PersonUUID]
			if !ok {
				continue
			}
			c, err := types.DecodeContribution(rec.Data)
			if err != nil {
				s.corrupt(&stats, rec, err)
				continue
			}
			agg := &stats.HousingFund
			if a == types.AspectSocialSecurity {
				agg = &stats.SocialSecurity
			}
			agg.Covered++
			agg.BaseAmountTotal = agg.BaseAmountTotal.Add(c.BaseAmount)
			socialPersonal = socialPersonal.Add(c.BaseAmount.MulRate(c.PersonalRate))
		}

		deductions := money.Amount{}
		if rec, ok := snapshots[types.AspectTaxDeduction][p.PersonUUID]; ok {
			if d, err := types.DecodeTaxDeduction(rec.Data); err == nil {
				deductions = d.SumCategories()
				stats.TaxDeduction.Covered++
				stats.TaxDeduction.DeductionTotal = stats.TaxDeduction.DeductionTotal.Add(deductions)
			} else {
				s.corrupt(&stats, rec, err)
			}
		}

		rec, ok := snapshots[types.AspectPayroll][p.PersonUUID]
		if !ok {
			continue
		}
		pay, err := types.DecodePayroll(rec.Data)
		if err != nil {
			s.corrupt(&stats, rec, err)
			continue
		}
		stats.Payroll.Covered++
		stats.Payroll.BasicSalaryTotal = stats.Payroll.BasicSalaryTotal.Add(pay.BasicSalary)
		stats.Payroll.PerformancePayTotal = stats.Payroll.PerformancePayTotal.Add(pay.PerformancePay)
		stats.Payroll.TotalPayTotal = stats.Payroll.TotalPayTotal.Add(pay.TotalPay)

		tax, err := iit.EstimateFirstMonth(iit.MonthlyInput{
			GrossCents:             max(0, pay.TotalPay.Cents()),
			SocialInsuranceCents:   socialPersonal.Cents(),
			SpecialAdditionalCents: deductions.Cents(),
		})
		if err != nil {
			s.corrupt(&stats, rec, err)
			continue
		}
		iitCents += tax
	}
	stats.EstimatedIITTotal = money.AmountFromCents(iitCents)
	return stats, nil
}

func (s *TemporalQueryService) PersonDetail(ctx context.Context, tenantID string, personUUID string, at *time.Time) (types.PersonDetail, error) {
	p, err := s.Persons.GetPerson(ctx, tenantID, personUUID)
	if err != nil {
		return types.PersonDetail{}, err
	}
	detail := types.PersonDetail{Person: p}
	if at != nil {
		detail.AsOf = at.UTC().Format(types.DateLayout)
	}

	type slot struct {
		current **types.AspectView
		history *[]types.AspectView
	}
	slots := map[types.Aspect]slot{
		types.AspectBasic:    {&detail.Basic, &detail.BasicHistory},
		types.AspectPosition: {&detail.Position, &detail.PositionHistory},
		types.AspectProject:  {&detail.Project, &detail.ProjectHistory},
	}

	g, gctx := errgroup.WithContext(ctx)
	for aspect, sl := range slots {
		g.Go(func() error {
			hist, err := s.Records.History(gctx, tenantID, personUUID, aspect)
			if err != nil {
				return err
			}
			visible := hist
			if at != nil {
				visible = visible[:0:0]
				for _, r := range hist {
					if !r.TS.After(*at) {
						visible = append(visible, r)
					}
				}
			}
			*sl.history = types.ViewsOf(visible)
			if len(visible) > 0 {
				*sl.current = types.ViewOf(visible[len(visible)-1])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.PersonDetail{}, err
	}
	return detail, nil
}

// AspectHistory returns one aspect's history, filtered to ts <= at when set.
func (s *TemporalQueryService) AspectHistory(ctx context.Context, tenantID string, personUUID string, aspect types.Aspect, at *time.Time) ([]types.Record, error) {
	hist, err := s.Records.History(ctx, tenantID, personUUID, aspect)
	if err != nil {
		return nil, err
	}
	if at == nil {
		return hist, nil
	}
	out := hist[:0:0]
	for _, r := range hist {
		if !r.TS.After(*at) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *TemporalQueryService) corrupt(stats *types.Statistics, rec types.Record, err error) {
	stats.CorruptRecords++
	s.Logger.Warn("statistics skipped corrupt record",
		zap.String("person_uuid", rec.PersonUUID),
		zap.String("aspect", string(rec.Aspect)),
		zap.Int64("version", rec.Version),
		zap.Error(httperr.Wrap(httperr.KindCorruptRecord, "RECORD_CORRUPT", "corrupt record", err)),
	)
}

func countNonEmpty(m map[string]int, key string) {
	if key == "" {
		return
	}
	m[key]++
}
