package features

import (
	"fmt"

	"cellseg/internal/models"
)

// Map is a feature map aligned with the source image's pixel grid.
// It is either a Scalar (one value per pixel) or a Vector (a fixed number
// of values per pixel); no other implementations exist.
type Map interface {
	ID() string
	Components() int
	shape() models.Shape
	isMap()
}

// Scalar holds one value per pixel.
type Scalar struct {
	Name string
	Grid *models.Grid
}

func (s Scalar) ID() string          { return s.Name }
func (s Scalar) Components() int     { return 1 }
func (s Scalar) shape() models.Shape { return s.Grid.Shape }
func (Scalar) isMap()                {}

// Vector holds Width values per pixel, stored as one plane per component.
// Component k of every pixel lives in Planes[k].
type Vector struct {
	Name   string
	Planes []*models.Grid
}

func (v Vector) ID() string      { return v.Name }
func (v Vector) Components() int { return len(v.Planes) }
func (v Vector) shape() models.Shape {
	if len(v.Planes) == 0 {
		return models.Shape{}
	}
	return v.Planes[0].Shape
}
func (Vector) isMap() {}

// Collection is the ordered result of running the bank over one image.
type Collection struct {
	Shape models.Shape

	// Fingerprint of the configuration that produced the maps.
	Fingerprint string

	Maps []Map
}

// Width is the sum of the component counts of all maps.
func (c *Collection) Width() int {
	w := 0
	for _, m := range c.Maps {
		w += m.Components()
	}
	return w
}

// IDs returns map identifiers in assembly order.
func (c *Collection) IDs() []string {
	ids := make([]string, len(c.Maps))
	for i, m := range c.Maps {
		ids[i] = m.ID()
	}
	return ids
}

// Get returns the map with the given identifier.
func (c *Collection) Get(id string) (Map, bool) {
	for _, m := range c.Maps {
		if m.ID() == id {
			return m, true
		}
	}
	return nil, false
}

// Validate checks that every map matches the collection grid.
func (c *Collection) Validate() error {
	for _, m := range c.Maps {
		if s := m.shape(); s != c.Shape {
			return fmt.Errorf("map %s is %v, grid is %v: %w", m.ID(), s, c.Shape, models.ErrShapeMismatch)
		}
	}
	return nil
}
