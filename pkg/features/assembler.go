package features

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"cellseg/internal/models"
)

// Matrix flattens the whole collection into a pixel x feature matrix. Row
// y*width+x holds the vector of pixel (x, y); columns follow map order, with
// the components of a vector map kept in their plane order. The matrix is
// filled one column at a time straight from the planes, which yields exactly
// the values a per-pixel loop would.
func Matrix(c *Collection) (*mat.Dense, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	n := c.Shape.Len()
	width := c.Width()
	if width == 0 {
		return nil, fmt.Errorf("collection has no feature maps")
	}
	data := make([]float64, n*width)
	col := 0
	for _, m := range c.Maps {
		for _, plane := range planes(m) {
			for p, v := range plane.Data {
				data[p*width+col] = v
			}
			col++
		}
	}
	return mat.NewDense(n, width, data), nil
}

// Vectors extracts the feature vectors at the given pixels, one row per
// coordinate in the order given.
func Vectors(c *Collection, coords []models.Point) (*mat.Dense, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	width := c.Width()
	if width == 0 {
		return nil, fmt.Errorf("collection has no feature maps")
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("no coordinates to sample")
	}
	for _, p := range coords {
		if p.X < 0 || p.Y < 0 || p.X >= c.Shape.Width || p.Y >= c.Shape.Height {
			return nil, fmt.Errorf("pixel (%d,%d) outside %v grid: %w", p.X, p.Y, c.Shape, models.ErrShapeMismatch)
		}
	}

	data := make([]float64, len(coords)*width)
	col := 0
	for _, m := range c.Maps {
		for _, plane := range planes(m) {
			for r, p := range coords {
				data[r*width+col] = plane.Data[p.Y*c.Shape.Width+p.X]
			}
			col++
		}
	}
	return mat.NewDense(len(coords), width, data), nil
}

// planes lists the component planes of a map in assembly order.
func planes(m Map) []*models.Grid {
	switch v := m.(type) {
	case Scalar:
		return []*models.Grid{v.Grid}
	case Vector:
		return v.Planes
	}
	panic(fmt.Sprintf("features: unknown map type %T", m))
}

// Columns names every column of the assembled matrix, e.g. "Edge[1]" for the
// second component of the edge map.
func Columns(c *Collection) []string {
	var names []string
	for _, m := range c.Maps {
		if m.Components() == 1 {
			names = append(names, m.ID())
			continue
		}
		for k := 0; k < m.Components(); k++ {
			names = append(names, fmt.Sprintf("%s[%d]", m.ID(), k))
		}
	}
	return names
}
