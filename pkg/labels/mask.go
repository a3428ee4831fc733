// Package labels holds the sparse per-pixel annotation painted by the user
// and the catalog that names and colors label identifiers.
package labels

import (
	"fmt"

	"cellseg/internal/models"
)

// Mask is the annotation grid of one image. A zero cell is unlabeled.
// Mask is not safe for concurrent use; it belongs to the interactive session.
type Mask struct {
	m *models.LabelMap
}

// NewMask creates an all-unlabeled mask of the given shape.
func NewMask(shape models.Shape) *Mask {
	return &Mask{m: models.NewLabelMap(shape)}
}

// FromLabelMap wraps an existing label grid, e.g. one decoded from a file.
func FromLabelMap(lm *models.LabelMap) *Mask {
	return &Mask{m: lm}
}

// Shape returns the mask grid size.
func (k *Mask) Shape() models.Shape { return k.m.Shape }

// At returns the label at pixel (x, y).
func (k *Mask) At(x, y int) models.Label { return k.m.At(x, y) }

// LabelMap exposes the backing grid read-only by convention.
func (k *Mask) LabelMap() *models.LabelMap { return k.m }

// Paint sets every cell whose Euclidean distance from center is at most
// radius to label. Painting with models.Unlabeled erases. The center is
// clamped to the grid first; cells of the disc outside the grid are ignored.
func (k *Mask) Paint(center models.Point, radius float64, label models.Label) {
	if radius < 0 {
		return
	}
	r := int(radius)
	w, h := k.m.Width, k.m.Height
	center.X = min(max(center.X, 0), w-1)
	center.Y = min(max(center.Y, 0), h-1)
	r2 := radius * radius
	for y := max(0, center.Y-r); y <= min(h-1, center.Y+r); y++ {
		for x := max(0, center.X-r); x <= min(w-1, center.X+r); x++ {
			dx := float64(x - center.X)
			dy := float64(y - center.Y)
			if dx*dx+dy*dy <= r2 {
				k.m.Labels[y*w+x] = label
			}
		}
	}
}

// Erase clears a disc; it is Paint with the unlabeled value.
func (k *Mask) Erase(center models.Point, radius float64) {
	k.Paint(center, radius, models.Unlabeled)
}

// Clear resets every cell to unlabeled.
func (k *Mask) Clear() {
	clear(k.m.Labels)
}

// Labeled returns every labeled pixel in row-major order.
func (k *Mask) Labeled() []models.Point {
	var pts []models.Point
	w := k.m.Width
	for i, l := range k.m.Labels {
		if l != models.Unlabeled {
			pts = append(pts, models.Point{X: i % w, Y: i / w})
		}
	}
	return pts
}

// LabelsAt returns the labels of the given pixels, in the same order.
func (k *Mask) LabelsAt(pts []models.Point) []models.Label {
	out := make([]models.Label, len(pts))
	for i, p := range pts {
		out[i] = k.m.At(p.X, p.Y)
	}
	return out
}

// Count returns the number of labeled pixels per label.
func (k *Mask) Count() map[models.Label]int {
	counts := make(map[models.Label]int)
	for _, l := range k.m.Labels {
		if l != models.Unlabeled {
			counts[l]++
		}
	}
	return counts
}

// Empty reports whether no pixel is labeled.
func (k *Mask) Empty() bool {
	for _, l := range k.m.Labels {
		if l != models.Unlabeled {
			return false
		}
	}
	return true
}

// Equal reports whether both masks have the same shape and cells.
func (k *Mask) Equal(other *Mask) bool {
	if k.m.Shape != other.m.Shape {
		return false
	}
	for i := range k.m.Labels {
		if k.m.Labels[i] != other.m.Labels[i] {
			return false
		}
	}
	return true
}

// CheckShape fails with models.ErrShapeMismatch when the mask does not cover
// exactly the given grid.
func (k *Mask) CheckShape(shape models.Shape) error {
	if k.m.Shape != shape {
		return fmt.Errorf("mask %v, image %v: %w", k.m.Shape, shape, models.ErrShapeMismatch)
	}
	return nil
}

// BrushRadius converts a brush size in pixels to the disc radius Paint uses.
func BrushRadius(size int) float64 {
	return float64(size / 2)
}
