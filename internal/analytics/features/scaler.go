package features

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/montanaflynn/stats"

	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
)

// Matrix is a row-major numeric matrix, one row per sample.
type Matrix [][]float64

// Column returns a copy of column j.
func (m Matrix) Column(j int) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		out[i] = row[j]
	}
	return out
}

// Fingerprint hashes the matrix contents. Identical matrices give identical
// fingerprints; it is used to key fitted models.
func (m Matrix) Fingerprint() uint64 {
	h := xxhash.New()
	buf := make([]byte, 8)
	for _, row := range m {
		for _, v := range row {
			bits := math.Float64bits(v)
			for k := 0; k < 8; k++ {
				buf[k] = byte(bits >> (8 * k))
			}
			_, _ = h.Write(buf)
		}
	}
	return h.Sum64()
}

// Scaler holds per-column means and standard deviations.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes column means and population standard deviations.
// A zero-variance column gets scale 1 so it is only centered.
func FitScaler(m Matrix) (*Scaler, error) {
	if len(m) == 0 {
		return nil, errs.EmptyInput("FitScaler")
	}
	cols := len(m[0])
	s := &Scaler{Mean: make([]float64, cols), Scale: make([]float64, cols)}
	for j := 0; j < cols; j++ {
		col := stats.Float64Data(m.Column(j))
		mean, err := col.Mean()
		if err != nil {
			return nil, errs.Computation("FitScaler", fmt.Errorf("mean of column %d: %w", j, err))
		}
		std, err := col.StandardDeviationPopulation()
		if err != nil {
			return nil, errs.Computation("FitScaler", fmt.Errorf("std of column %d: %w", j, err))
		}
		if err := errs.CheckFinite("FitScaler", mean, std); err != nil {
			return nil, err
		}
		s.Mean[j] = mean
		s.Scale[j] = std
		if std == 0 {
			s.Scale[j] = 1
		}
	}
	return s, nil
}

// Transform returns a standardized copy of m.
func (s *Scaler) Transform(m Matrix) Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = r
	}
	return out
}

// Standardize fits a scaler on m and returns the transformed matrix.
func Standardize(m Matrix) (Matrix, *Scaler, error) {
	s, err := FitScaler(m)
	if err != nil {
		return nil, nil, err
	}
	return s.Transform(m), s, nil
}
