// Package training owns the cumulative set of labeled feature vectors the
// classifier is fitted on.
package training

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"cellseg/internal/models"
)

// Accumulator is an append-only (vector, label) store. Rows are never
// deduplicated or rebalanced: every labeled pixel of every training call
// contributes one row. The vector width is fixed by the first Extend and can
// only change after Clear.
//
// Accumulator is not safe for concurrent use.
type Accumulator struct {
	width  int
	data   []float64 // row-major, len == len(labels)*width
	labels []models.Label

	// fingerprint of the feature configuration the rows were produced under
	fingerprint string
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Extend appends vectors with their labels. vectors and labels must have
// the same length, every vector must have the accumulator's width, and
// label 0 is rejected. On failure nothing is appended.
func (a *Accumulator) Extend(vectors [][]float64, labels []models.Label) error {
	if len(vectors) != len(labels) {
		return fmt.Errorf("%d vectors, %d labels: %w", len(vectors), len(labels), models.ErrLengthMismatch)
	}
	if len(vectors) == 0 {
		return nil
	}
	width := a.width
	if len(a.labels) == 0 {
		width = len(vectors[0])
	}
	if width == 0 {
		return fmt.Errorf("vectors must not be empty: %w", models.ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != width {
			return fmt.Errorf("vector %d has width %d, expected %d: %w", i, len(v), width, models.ErrDimensionMismatch)
		}
		if labels[i] == models.Unlabeled {
			return fmt.Errorf("vector %d carries the unlabeled value", i)
		}
	}

	a.width = width
	for _, v := range vectors {
		a.data = append(a.data, v...)
	}
	a.labels = append(a.labels, labels...)
	return nil
}

// ExtendDense appends the rows of m, as produced by features.Vectors.
// fingerprint identifies the feature configuration of the rows; mixing rows
// from different configurations fails with models.ErrConfigurationMismatch.
func (a *Accumulator) ExtendDense(m *mat.Dense, labels []models.Label, fingerprint string) error {
	if a.Len() > 0 && a.fingerprint != "" && fingerprint != a.fingerprint {
		return fmt.Errorf("accumulated rows use another configuration: %w", models.ErrConfigurationMismatch)
	}
	rows, _ := m.Dims()
	vectors := make([][]float64, rows)
	for i := range vectors {
		vectors[i] = mat.Row(nil, i, m)
	}
	if err := a.Extend(vectors, labels); err != nil {
		return err
	}
	if rows > 0 {
		a.fingerprint = fingerprint
	}
	return nil
}

// Clear discards every sample. It is required before switching to another
// feature configuration.
func (a *Accumulator) Clear() {
	a.width = 0
	a.data = nil
	a.labels = nil
	a.fingerprint = ""
}

// Len is the number of rows.
func (a *Accumulator) Len() int { return len(a.labels) }

// Width is the vector width, 0 while empty.
func (a *Accumulator) Width() int { return a.width }

// Fingerprint returns the configuration fingerprint recorded by ExtendDense.
func (a *Accumulator) Fingerprint() string { return a.fingerprint }

// Row returns row i. The slice aliases internal storage and must not be modified.
func (a *Accumulator) Row(i int) []float64 {
	return a.data[i*a.width : (i+1)*a.width : (i+1)*a.width]
}

// Label returns the label of row i.
func (a *Accumulator) Label(i int) models.Label { return a.labels[i] }

// Labels returns a copy of all labels.
func (a *Accumulator) Labels() []models.Label {
	return append([]models.Label(nil), a.labels...)
}

// Dense returns the rows as a matrix sharing the accumulator's storage.
// It returns nil while empty.
func (a *Accumulator) Dense() *mat.Dense {
	if a.Len() == 0 {
		return nil
	}
	return mat.NewDense(a.Len(), a.width, a.data[:a.Len()*a.width:a.Len()*a.width])
}

// Classes lists the distinct labels present, in ascending order.
func (a *Accumulator) Classes() []models.Label {
	seen := make(map[models.Label]bool)
	var out []models.Label
	for _, l := range a.labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClassCounts returns the number of rows per label.
func (a *Accumulator) ClassCounts() map[models.Label]int {
	counts := make(map[models.Label]int)
	for _, l := range a.labels {
		counts[l]++
	}
	return counts
}
