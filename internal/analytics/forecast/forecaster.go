package forecast

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/analytics/features"
	"github.com/dvloznov/finance-analytics/internal/domain"
)

const (
	DefaultTrees = 100
	DefaultSeed  = 42

	MinSpendingMonths = 6
	MinCashFlowMonths = 12
	MaxMonthsAhead    = 24

	lags = 3

	// Exponential smoothing of the cash-flow rolling window during recursion.
	smoothingKeep = 0.7
	stdDecay      = 0.9
)

// Config controls the regression forest.
type Config struct {
	Trees int
	Seed  int64
}

// DefaultConfig returns the forest settings used when none are given.
func DefaultConfig() Config {
	return Config{Trees: DefaultTrees, Seed: DefaultSeed}
}

// Model is a fitted forecaster for one target series.
type Model struct {
	Target  domain.ForecastTarget `json:"target"`
	Forest  *Forest               `json:"forest"`
	YearMin int                   `json:"year_min"`
	YearMax int                   `json:"year_max"`
}

// ModelType implements modelcache.Model.
func (m *Model) ModelType() string {
	return ModelType(m.Target)
}

// ModelType is the registry model type for forecasts of target.
func ModelType(target domain.ForecastTarget) string {
	return "forecast_" + string(target)
}

// ModelProvider returns a fitted model for the series, calling fit when none
// is cached. A nil provider always calls fit.
type ModelProvider func(target domain.ForecastTarget, s Series, fit func() (*Model, error)) (*Model, error)

// Spending forecasts total monthly outflows for the next monthsAhead months.
func Spending(records []domain.TransactionRecord, monthsAhead int, cfg Config, provide ModelProvider) ([]domain.ForecastPoint, error) {
	return run(records, domain.TargetSpending, monthsAhead, cfg, provide)
}

// CashFlow forecasts monthly net cash flow (income minus expenses).
func CashFlow(records []domain.TransactionRecord, monthsAhead int, cfg Config, provide ModelProvider) ([]domain.ForecastPoint, error) {
	return run(records, domain.TargetNetCashFlow, monthsAhead, cfg, provide)
}

func run(records []domain.TransactionRecord, target domain.ForecastTarget, monthsAhead int, cfg Config, provide ModelProvider) ([]domain.ForecastPoint, error) {
	op := "Forecast" + opSuffix(target)
	if monthsAhead < 1 || monthsAhead > MaxMonthsAhead {
		return nil, errs.InvalidParameter(op, "months_ahead must be between 1 and %d, got %d", MaxMonthsAhead, monthsAhead)
	}
	if len(records) == 0 {
		return nil, errs.EmptyInput(op)
	}
	series, err := BuildSeries(records, target)
	if err != nil {
		return nil, err
	}
	if need := minMonths(target); series.Len() < need {
		return nil, errs.InsufficientData(op, "need at least %d months of history, got %d", need, series.Len())
	}

	fit := func() (*Model, error) {
		return Fit(series, target, cfg)
	}
	var model *Model
	if provide == nil {
		model, err = fit()
	} else {
		model, err = provide(target, series, fit)
	}
	if err != nil {
		return nil, err
	}
	return model.Forecast(series, monthsAhead)
}

// Fit trains a model on every month of s that has three months of history.
func Fit(s Series, target domain.ForecastTarget, cfg Config) (*Model, error) {
	if s.Len() <= lags {
		return nil, errs.InsufficientData("Fit", "need more than %d months of history, got %d", lags, s.Len())
	}
	m := &Model{
		Target:  target,
		YearMin: s.Start.Year(),
		YearMax: s.Month(s.Len() - 1).Year(),
	}

	var x features.Matrix
	var y []float64
	for t := lags; t < s.Len(); t++ {
		w := window{lag1: s.Values[t-1], lag2: s.Values[t-2], lag3: s.Values[t-3]}
		if target == domain.TargetNetCashFlow {
			w.mean, w.std = rolling(s.Values[t-lags : t])
		}
		x = append(x, m.row(s.Month(t).Year(), int(s.Month(t).Month()), w))
		y = append(y, s.Values[t])
	}

	forest, err := FitForest(x, y, cfg.Trees, cfg.Seed)
	if err != nil {
		return nil, err
	}
	m.Forest = forest
	return m, nil
}

// Forecast predicts monthsAhead months past the end of s. Each prediction is
// fed back as the next month's first lag.
func (m *Model) Forecast(s Series, monthsAhead int) ([]domain.ForecastPoint, error) {
	return m.forecast(s, monthsAhead, m.Forest.Predict)
}

func (m *Model) forecast(s Series, monthsAhead int, predict func(row []float64) (float64, error)) ([]domain.ForecastPoint, error) {
	n := s.Len()
	if n < lags {
		return nil, errs.InsufficientData("Forecast", "need at least %d months of history, got %d", lags, n)
	}
	w := window{lag1: s.Values[n-1], lag2: s.Values[n-2], lag3: s.Values[n-3]}
	if m.Target == domain.TargetNetCashFlow {
		w.mean, w.std = rolling(s.Values[n-lags:])
	}

	step := confidenceStep(m.Target)
	points := make([]domain.ForecastPoint, 0, monthsAhead)
	for i := 0; i < monthsAhead; i++ {
		month := s.Month(n + i)
		pred, err := predict(m.row(month.Year(), int(month.Month()), w))
		if err != nil {
			return nil, err
		}
		pred = math.Max(0, pred)

		points = append(points, domain.ForecastPoint{
			Year:       month.Year(),
			Month:      month.Month(),
			Period:     month.Format("2006-01-02"),
			Target:     m.Target,
			Value:      pred,
			Confidence: math.Max(0.1, 1-step*float64(i)),
		})

		w.lag1, w.lag2, w.lag3 = pred, w.lag1, w.lag2
		w.mean = smoothingKeep*w.mean + (1-smoothingKeep)*pred
		w.std *= stdDecay
	}
	return points, nil
}

// window is the autoregressive state for one month.
type window struct {
	lag1, lag2, lag3 float64
	mean, std        float64
}

func (m *Model) row(year, month int, w window) []float64 {
	angle := 2 * math.Pi * float64(month) / 12
	yearNorm := 0.0
	if m.YearMax > m.YearMin {
		yearNorm = float64(year-m.YearMin) / float64(m.YearMax-m.YearMin)
	}
	r := []float64{math.Sin(angle), math.Cos(angle), yearNorm, w.lag1, w.lag2, w.lag3}
	if m.Target == domain.TargetNetCashFlow {
		r = append(r, w.mean, w.std)
	}
	return r
}

// rolling returns the mean and sample standard deviation of the window.
func rolling(values []float64) (float64, float64) {
	mean, err := stats.Mean(values)
	if err != nil {
		return 0, 0
	}
	std, err := stats.StandardDeviationSample(values)
	if err != nil || math.IsNaN(std) {
		return mean, 0
	}
	return mean, std
}

func minMonths(target domain.ForecastTarget) int {
	if target == domain.TargetNetCashFlow {
		return MinCashFlowMonths
	}
	return MinSpendingMonths
}

func confidenceStep(target domain.ForecastTarget) float64 {
	if target == domain.TargetNetCashFlow {
		return 0.15
	}
	return 0.1
}

func opSuffix(target domain.ForecastTarget) string {
	if target == domain.TargetNetCashFlow {
		return "CashFlow"
	}
	return "Spending"
}
