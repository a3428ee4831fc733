package training

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"

	"cellseg/internal/models"
)

// TestExtendAppends verifies that the second batch is appended after the first
// and that the prefix is left untouched
func TestExtendAppends(t *testing.T) {
	a := NewAccumulator()
	v1 := [][]float64{{1, 2}, {3, 4}}
	l1 := []models.Label{1, 2}
	v2 := [][]float64{{5, 6}, {7, 8}, {9, 10}}
	l2 := []models.Label{2, 2, 3}

	if err := a.Extend(v1, l1); err != nil {
		t.Fatalf("First extend failed: %v", err)
	}
	if err := a.Extend(v2, l2); err != nil {
		t.Fatalf("Second extend failed: %v", err)
	}

	if a.Len() != len(v1)+len(v2) {
		t.Fatalf("Expected %d rows, got %d", len(v1)+len(v2), a.Len())
	}
	for i := range v1 {
		row := a.Row(i)
		if row[0] != v1[i][0] || row[1] != v1[i][1] || a.Label(i) != l1[i] {
			t.Errorf("Row %d changed: %v/%d", i, row, a.Label(i))
		}
	}
	for i := range v2 {
		row := a.Row(len(v1) + i)
		if row[0] != v2[i][0] || a.Label(len(v1)+i) != l2[i] {
			t.Errorf("Row %d not appended correctly: %v", len(v1)+i, row)
		}
	}
}

// TestExtendSameSamplesGrows checks that repeating a batch grows the set
func TestExtendSameSamplesGrows(t *testing.T) {
	a := NewAccumulator()
	v := [][]float64{{1}, {2}}
	l := []models.Label{1, 2}
	for i := 0; i < 3; i++ {
		if err := a.Extend(v, l); err != nil {
			t.Fatalf("Extend failed: %v", err)
		}
	}
	if a.Len() != 6 {
		t.Errorf("Expected 6 rows, got %d", a.Len())
	}
}

func TestExtendValidation(t *testing.T) {
	a := NewAccumulator()

	err := a.Extend([][]float64{{1, 2}}, []models.Label{1, 2})
	if !errors.Is(err, models.ErrLengthMismatch) {
		t.Errorf("Expected length mismatch, got %v", err)
	}
	if a.Len() != 0 {
		t.Errorf("Failed extend should not append")
	}

	if err := a.Extend([][]float64{{1, 2}}, []models.Label{1}); err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	err = a.Extend([][]float64{{1, 2, 3}}, []models.Label{1})
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("Expected dimension mismatch, got %v", err)
	}

	if err := a.Extend([][]float64{{1, 2}}, []models.Label{0}); err == nil {
		t.Errorf("Expected error for unlabeled sample")
	}
	if a.Len() != 1 {
		t.Errorf("Expected 1 row after rejected extends, got %d", a.Len())
	}
}

func TestClearAllowsNewWidth(t *testing.T) {
	a := NewAccumulator()
	_ = a.Extend([][]float64{{1, 2}}, []models.Label{1})
	a.Clear()
	if a.Len() != 0 || a.Width() != 0 || a.Dense() != nil {
		t.Fatalf("Clear should empty the accumulator")
	}
	if err := a.Extend([][]float64{{1, 2, 3}}, []models.Label{2}); err != nil {
		t.Errorf("Extend after clear failed: %v", err)
	}
	if a.Width() != 3 {
		t.Errorf("Expected width 3, got %d", a.Width())
	}
}

func TestExtendDenseFingerprint(t *testing.T) {
	a := NewAccumulator()
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	if err := a.ExtendDense(m, []models.Label{1, 2}, "abc"); err != nil {
		t.Fatalf("ExtendDense failed: %v", err)
	}
	err := a.ExtendDense(m, []models.Label{1, 2}, "def")
	if !errors.Is(err, models.ErrConfigurationMismatch) {
		t.Errorf("Expected configuration mismatch, got %v", err)
	}

	d := a.Dense()
	if r, c := d.Dims(); r != 2 || c != 2 || d.At(1, 0) != 3 {
		t.Errorf("Unexpected dense view %dx%d", r, c)
	}
}

func TestClasses(t *testing.T) {
	a := NewAccumulator()
	_ = a.Extend([][]float64{{0}, {0}, {0}, {0}}, []models.Label{4, 1, 4, 2})
	classes := a.Classes()
	if len(classes) != 3 || classes[0] != 1 || classes[1] != 2 || classes[2] != 4 {
		t.Errorf("Unexpected classes %v", classes)
	}
	if a.ClassCounts()[4] != 2 {
		t.Errorf("Expected two rows of class 4")
	}
}
