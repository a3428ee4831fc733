// Package visualization renders label maps, binary masks and probability
// maps as images, and overlays labels on the source image.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"

	"github.com/disintegration/imaging"

	"cellseg/internal/models"
	"cellseg/pkg/imageio"
	"cellseg/pkg/labels"
)

// DefaultOpacity is the label opacity used for overlays.
const DefaultOpacity = 0.5

// Viewer turns classifier output into displayable images using the colors
// of a label catalog.
type Viewer struct {
	catalog *labels.Catalog

	// Opacity of labels drawn over the source image, in [0, 1].
	Opacity float64
}

// NewViewer creates a viewer. A nil catalog uses the built-in classes.
func NewViewer(catalog *labels.Catalog) *Viewer {
	if catalog == nil {
		catalog = labels.NewCatalog()
	}
	return &Viewer{catalog: catalog, Opacity: DefaultOpacity}
}

// LabelImage paints every labeled pixel in its class color. Unlabeled pixels
// stay fully transparent.
func (v *Viewer) LabelImage(lm *models.LabelMap) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, lm.Width, lm.Height))
	for y := 0; y < lm.Height; y++ {
		for x := 0; x < lm.Width; x++ {
			l := lm.At(x, y)
			if l == models.Unlabeled {
				continue
			}
			c := v.catalog.Color(l)
			img.SetNRGBA(x, y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	return img
}

// Overlay blends the label colors of lm over img. The two must share a shape.
func (v *Viewer) Overlay(img image.Image, lm *models.LabelMap) (*image.NRGBA, error) {
	if s := models.ShapeOf(img); s != lm.Shape {
		return nil, fmt.Errorf("image %v, labels %v: %w", s, lm.Shape, models.ErrShapeMismatch)
	}
	opacity := math.Max(0, math.Min(1, v.Opacity))
	base := imaging.Clone(img)
	return imaging.Overlay(base, v.LabelImage(lm), image.Point{}, opacity), nil
}

// BinaryImage converts a binary mask to an 8-bit gray image.
func BinaryImage(b *models.Binary) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+b.Width], b.Pix[y*b.Width:(y+1)*b.Width])
	}
	return img
}

// GridImage maps a grid of values in [0, 1] to 16-bit gray, clamping values
// outside the range.
func GridImage(g *models.Grid) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			value := uint16(math.Max(0, math.Min(65535, g.At(x, y)*65535)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

// Legend lists the classes present in lm with their names, in identifier
// order. Unknown identifiers are reported by number.
func (v *Viewer) Legend(lm *models.LabelMap) []string {
	present := make(map[models.Label]bool)
	for _, l := range lm.Labels {
		present[l] = true
	}
	var out []string
	for _, cls := range v.catalog.Classes() {
		if present[cls.ID] {
			out = append(out, fmt.Sprintf("%d %s", cls.ID, cls.Name))
			delete(present, cls.ID)
		}
	}
	delete(present, models.Unlabeled)
	for id := models.Label(1); len(present) > 0; id++ {
		if present[id] {
			out = append(out, fmt.Sprintf("%d label %d", id, id))
			delete(present, id)
		}
	}
	return out
}

// SaveSequence writes images to dir as prefix_0000.ext, prefix_0001.ext and
// so on, returning the written paths.
func SaveSequence(images []image.Image, dir, prefix, ext string) ([]string, error) {
	paths := make([]string, 0, len(images))
	for i, img := range images {
		path := filepath.Join(dir, fmt.Sprintf("%s_%04d.%s", prefix, i, ext))
		if err := imageio.Save(img, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
