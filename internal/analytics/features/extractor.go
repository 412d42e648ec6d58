// Package features turns transaction batches into numeric feature vectors.
package features

import (
	"time"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
	"github.com/dvloznov/finance-analytics/internal/domain"
)

// UnknownCode is the code assigned to a missing category or merchant.
const UnknownCode = 0

// Column indexes of a Vector inside a Matrix.
const (
	ColAmount = iota
	ColDayOfWeek
	ColMonth
	ColDayOfMonth
	ColCategory
	ColMerchant
	NumColumns
)

// ColumnNames lists the feature columns in Matrix order.
var ColumnNames = [NumColumns]string{
	"amount", "day_of_week", "month", "day_of_month", "category_code", "merchant_code",
}

// Vector is the feature representation of one transaction.
type Vector struct {
	Amount       float64 // magnitude
	DayOfWeek    int     // Monday = 0
	Month        int     // 1-12
	DayOfMonth   int
	CategoryCode int
	MerchantCode int
}

// Row returns the vector as a float slice in column order.
func (v Vector) Row() []float64 {
	return []float64{
		v.Amount,
		float64(v.DayOfWeek),
		float64(v.Month),
		float64(v.DayOfMonth),
		float64(v.CategoryCode),
		float64(v.MerchantCode),
	}
}

// Encoder assigns stable integer codes to string values in first-seen order.
// Code 0 is reserved for the empty value.
type Encoder struct {
	codes  map[string]int
	values []string
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{codes: make(map[string]int)}
}

// Encode returns the code for value, assigning the next code on first sight.
func (e *Encoder) Encode(value string) int {
	if value == "" {
		return UnknownCode
	}
	if code, ok := e.codes[value]; ok {
		return code
	}
	e.values = append(e.values, value)
	code := len(e.values)
	e.codes[value] = code
	return code
}

// Decode returns the value for code, or "" for the unknown code.
func (e *Encoder) Decode(code int) string {
	if code <= UnknownCode || code > len(e.values) {
		return ""
	}
	return e.values[code-1]
}

// Len returns the number of distinct known values.
func (e *Encoder) Len() int {
	return len(e.values)
}

// Batch is the extracted feature set of one analysis run.
type Batch struct {
	Vectors    []Vector
	Categories *Encoder
	Merchants  *Encoder
}

// Matrix returns the vectors as a row-major matrix.
func (b *Batch) Matrix() Matrix {
	m := make(Matrix, len(b.Vectors))
	for i, v := range b.Vectors {
		m[i] = v.Row()
	}
	return m
}

// Amounts returns the amount column.
func (b *Batch) Amounts() []float64 {
	out := make([]float64, len(b.Vectors))
	for i, v := range b.Vectors {
		out[i] = v.Amount
	}
	return out
}

// Extract builds one Vector per record, preserving order and count.
func Extract(records []domain.TransactionRecord) (*Batch, error) {
	if len(records) == 0 {
		return nil, errs.EmptyInput("Extract")
	}

	b := &Batch{
		Vectors:    make([]Vector, len(records)),
		Categories: NewEncoder(),
		Merchants:  NewEncoder(),
	}
	for i, r := range records {
		b.Vectors[i] = Vector{
			Amount:       r.Magnitude(),
			DayOfWeek:    Weekday(r.Date),
			Month:        int(r.Date.Month()),
			DayOfMonth:   r.Date.Day(),
			CategoryCode: b.Categories.Encode(r.CategoryID),
			MerchantCode: b.Merchants.Encode(r.Merchant),
		}
	}
	return b, nil
}

// Weekday returns the day of week with Monday = 0 and Sunday = 6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// WeekdayName returns the English name for a Monday-based weekday index.
func WeekdayName(day int) string {
	return time.Weekday((day + 1) % 7).String()
}
