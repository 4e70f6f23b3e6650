package types

import (
	"strings"
	"time"

	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

const DateLayout = "2006-01-02"

func ParseDate(field string, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, httperr.New(httperr.KindValidation, "DATE_REQUIRED", field+" is required")
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, httperr.Wrap(httperr.KindValidation, "DATE_INVALID", "invalid "+field+" (expected YYYY-MM-DD)", err)
	}
	return d, nil
}

// EndOfDay is the last instant of the UTC day containing d; an asOf date
// includes every version written on that day.
func EndOfDay(d time.Time) time.Time {
	y, m, day := d.UTC().Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// ParseAsOf parses an optional date; empty means "current".
func ParseAsOf(field string, raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := ParseDate(field, raw)
	if err != nil {
		return nil, err
	}
	at := EndOfDay(d)
	return &at, nil
}
