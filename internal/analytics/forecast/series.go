// Package forecast predicts monthly spending and net cash flow with a random
// forest over cyclical, trend and autoregressive features.
package forecast

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/domain"
)

// Series is a contiguous run of monthly totals starting at Start.
type Series struct {
	Start  time.Time
	Values []float64
}

// BuildSeries aggregates records into monthly totals for target. Every month
// between the first and the last transaction is present; months without
// activity are zero.
func BuildSeries(records []domain.TransactionRecord, target domain.ForecastTarget) (Series, error) {
	if len(records) == 0 {
		return Series{}, errs.EmptyInput("BuildSeries")
	}

	first, last := monthStart(records[0].Date), monthStart(records[0].Date)
	for _, r := range records[1:] {
		m := monthStart(r.Date)
		if m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}

	s := Series{Start: first, Values: make([]float64, monthsBetween(first, last)+1)}
	for _, r := range records {
		i := monthsBetween(first, monthStart(r.Date))
		switch target {
		case domain.TargetSpending:
			if r.IsOutflow() {
				s.Values[i] += r.Magnitude()
			}
		case domain.TargetNetCashFlow:
			s.Values[i] += r.AmountFloat()
		default:
			return Series{}, errs.InvalidParameter("BuildSeries", "unknown forecast target %q", target)
		}
	}
	if err := errs.CheckFinite("BuildSeries", s.Values...); err != nil {
		return Series{}, err
	}
	return s, nil
}

// Len returns the number of months in the series.
func (s Series) Len() int {
	return len(s.Values)
}

// Month returns the first day of the i-th month of the series. i may run past
// the end of the series.
func (s Series) Month(i int) time.Time {
	return s.Start.AddDate(0, i, 0)
}

// Fingerprint identifies the series contents for model caching.
func (s Series) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(s.Start.Unix()))
	_, _ = h.Write(buf[:])
	for _, v := range s.Values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}
