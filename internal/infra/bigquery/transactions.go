package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-analytics/internal/domain"
)

// TransactionRow is the analytics projection of finance.transactions joined
// with finance.merchants.
type TransactionRow struct {
	TransactionID  string `bigquery:"transaction_id"`  // REQUIRED
	OrganizationID string `bigquery:"organization_id"` // REQUIRED

	UserID    bigquery.NullString `bigquery:"user_id"`    // NULLABLE
	AccountID bigquery.NullString `bigquery:"account_id"` // NULLABLE

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC, IN positive / OUT negative
	Currency string   `bigquery:"currency"` // REQUIRED

	RawDescription        string              `bigquery:"raw_description"`        // REQUIRED
	NormalizedDescription bigquery.NullString `bigquery:"normalized_description"` // NULLABLE

	CategoryID   bigquery.NullString `bigquery:"category_id"`   // NULLABLE
	MerchantName bigquery.NullString `bigquery:"merchant_name"` // NULLABLE, from the merchants join
}

// numericScale is the number of fractional digits of a BigQuery NUMERIC.
const numericScale = 9

// ToRecord converts the row into the engine's transaction type.
func (r *TransactionRow) ToRecord() (domain.TransactionRecord, error) {
	if r.Amount == nil {
		return domain.TransactionRecord{}, fmt.Errorf("ToRecord: transaction %s has no amount", r.TransactionID)
	}
	amount, err := decimal.NewFromString(r.Amount.FloatString(numericScale))
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("ToRecord: parsing amount of %s: %w", r.TransactionID, err)
	}

	description := r.RawDescription
	if r.NormalizedDescription.Valid && r.NormalizedDescription.StringVal != "" {
		description = r.NormalizedDescription.StringVal
	}

	return domain.TransactionRecord{
		ID:          r.TransactionID,
		Amount:      amount,
		Date:        r.TransactionDate.In(time.UTC),
		CategoryID:  r.CategoryID.StringVal,
		Merchant:    r.MerchantName.StringVal,
		Description: description,
	}, nil
}
