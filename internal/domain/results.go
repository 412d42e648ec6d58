package domain

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks how unusual a finding is. Higher values are more severe.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity as its lowercase name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a lowercase severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	default:
		return fmt.Errorf("unknown severity %q", string(text))
	}
	return nil
}

// DetectionType names the dimension that flagged a transaction.
type DetectionType string

const (
	DetectionAmount       DetectionType = "amount"
	DetectionCategory     DetectionType = "category"
	DetectionTiming       DetectionType = "timing"
	DetectionMerchant     DetectionType = "merchant"
	DetectionMultivariate DetectionType = "multivariate"
)

// AnomalyFinding is a single flagged transaction. Findings are created by the
// detectors and never modified afterwards.
type AnomalyFinding struct {
	TransactionID string          `json:"transaction_id"`
	Amount        float64         `json:"amount"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description,omitempty"`
	Type          DetectionType   `json:"type"`
	Score         float64         `json:"score"`
	Severity      Severity        `json:"severity"`
	Dimensions    []DetectionType `json:"dimensions"`
	Context       FindingContext  `json:"context"`
}

// FindingContext carries what triggered a finding.
type FindingContext struct {
	Category       string                    `json:"category,omitempty"`
	CategoryName   string                    `json:"category_name,omitempty"`
	Merchant       string                    `json:"merchant,omitempty"`
	DayOfWeek      string                    `json:"day_of_week,omitempty"`
	ExpectedAmount float64                   `json:"expected_amount,omitempty"`
	ZScores        map[DetectionType]float64 `json:"z_scores,omitempty"`
}

// ForecastTarget identifies which monthly series a forecast predicts.
type ForecastTarget string

const (
	TargetSpending    ForecastTarget = "spending"
	TargetNetCashFlow ForecastTarget = "net_cash_flow"
)

// ForecastPoint is the prediction for one future month.
type ForecastPoint struct {
	Year       int            `json:"year"`
	Month      time.Month     `json:"month"`
	Period     string         `json:"period"` // ISO-8601 date of the first day of the month
	Target     ForecastTarget `json:"target"`
	Value      float64        `json:"value"`
	Confidence float64        `json:"confidence"`
}

// Cluster summarizes one group of behaviorally similar transactions.
type Cluster struct {
	ID              int                 `json:"id"`
	Count           int                 `json:"count"`
	Percentage      float64             `json:"percentage"`
	AmountMean      float64             `json:"amount_mean"`
	AmountMedian    float64             `json:"amount_median"`
	AmountStd       float64             `json:"amount_std"`
	DominantWeekday string              `json:"dominant_weekday"`
	DominantMonth   string              `json:"dominant_month"`
	TopCategories   []LabelCount        `json:"top_categories"`
	TopMerchants    []LabelCount        `json:"top_merchants"`
	Sample          []TransactionRecord `json:"sample"`
	MemberIDs       []string            `json:"member_ids"`
}

// LabelCount is a value with its frequency inside a cluster.
type LabelCount struct {
	Label string `json:"label"`
	Name  string `json:"name,omitempty"`
	Count int    `json:"count"`
}
