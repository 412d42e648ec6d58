package anomaly

import (
	"sort"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/analytics/features"
	"github.com/dvloznov/finance-analytics/internal/domain"
)

// Severity cut-points for density scores. They are independent of the
// statistical detector's z-score scale.
const (
	HighDensityScore   = -0.5
	MediumDensityScore = -0.2

	MaxContamination = 0.5
)

// ForestProvider returns a fitted forest for m. The engine supplies one that
// consults the model registry; nil means fit a fresh forest.
type ForestProvider func(m features.Matrix, cfg ForestConfig) (*IsolationForest, error)

// ValidateContamination checks that c lies in (0, MaxContamination].
func ValidateContamination(c float64) error {
	if !(c > 0 && c <= MaxContamination) {
		return errs.InvalidParameter("DetectMultivariate", "contamination must be in (0, %.1f], got %v", MaxContamination, c)
	}
	return nil
}

// DetectMultivariate scores every transaction over the full feature vector
// and returns those the forest labels as outliers.
func DetectMultivariate(records []domain.TransactionRecord, cfg ForestConfig, provide ForestProvider) ([]domain.AnomalyFinding, error) {
	if err := ValidateContamination(cfg.Contamination); err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errs.InsufficientData("DetectMultivariate", "need at least 2 transactions, got %d", len(records))
	}
	batch, err := features.Extract(records)
	if err != nil {
		return nil, err
	}
	m := batch.Matrix()

	if provide == nil {
		provide = FitIsolationForest
	}
	forest, err := provide(m, cfg)
	if err != nil {
		return nil, err
	}
	scores, err := forest.DecisionFunction(m)
	if err != nil {
		return nil, err
	}

	var findings []domain.AnomalyFinding
	seen := make(map[string]bool)
	for i, score := range scores {
		if score >= 0 || seen[records[i].ID] {
			continue
		}
		seen[records[i].ID] = true
		f := newFinding(records[i], batch.Vectors[i])
		f.Type = domain.DetectionMultivariate
		f.Dimensions = []domain.DetectionType{domain.DetectionMultivariate}
		f.Score = score
		f.Severity = densitySeverity(score)
		f.Context.ZScores = nil
		findings = append(findings, *f)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity > findings[j].Severity
		}
		return findings[i].Score < findings[j].Score
	})
	return findings, nil
}

func densitySeverity(score float64) domain.Severity {
	switch {
	case score < HighDensityScore:
		return domain.SeverityHigh
	case score < MediumDensityScore:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
