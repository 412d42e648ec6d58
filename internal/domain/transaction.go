package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is one transaction as handed to the analytics engine.
// Records come from the transaction store and are never mutated during a run.
type TransactionRecord struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"` // IN = positive, OUT = negative
	Date        time.Time       `json:"date"`
	CategoryID  string          `json:"category_id,omitempty"` // empty when uncategorized
	Merchant    string          `json:"merchant,omitempty"`    // empty when unknown
	Description string          `json:"description"`
}

// AmountFloat returns the signed amount as a float64.
func (t TransactionRecord) AmountFloat() float64 {
	f, _ := t.Amount.Float64()
	return f
}

// Magnitude returns the absolute amount as a float64.
func (t TransactionRecord) Magnitude() float64 {
	f, _ := t.Amount.Abs().Float64()
	return f
}

// IsOutflow reports whether the transaction moves money out of the account.
func (t TransactionRecord) IsOutflow() bool {
	return t.Amount.IsNegative()
}

// Scope narrows the set of transactions fetched for one analysis run.
// Only OrganizationID is required.
type Scope struct {
	OrganizationID string     `json:"organization_id"`
	UserID         string     `json:"user_id,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	CategoryID     string     `json:"category_id,omitempty"`
	AccountID      string     `json:"account_id,omitempty"`
}
