package models

import (
	"fmt"
	"image"
)

// Shape is the pixel grid size of an image, mask or feature map.
type Shape struct {
	Height int
	Width  int
}

// Len returns the number of pixels in the grid.
func (s Shape) Len() int { return s.Height * s.Width }

// Valid reports whether both dimensions are positive.
func (s Shape) Valid() bool { return s.Height > 0 && s.Width > 0 }

func (s Shape) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// ShapeOf returns the grid shape of an image.
func ShapeOf(img image.Image) Shape {
	b := img.Bounds()
	return Shape{Height: b.Dy(), Width: b.Dx()}
}

// Point is a pixel coordinate, X along columns and Y along rows.
type Point struct {
	X, Y int
}

// Label identifies a class. 0 means unlabeled.
type Label uint16

// Unlabeled is the value of a mask cell that carries no annotation.
const Unlabeled Label = 0

// Grid is a single-channel float64 image in row-major order.
type Grid struct {
	Shape
	Data []float64
}

// NewGrid allocates a zeroed grid.
func NewGrid(shape Shape) *Grid {
	return &Grid{Shape: shape, Data: make([]float64, shape.Len())}
}

// At returns the value at row y, column x.
func (g *Grid) At(x, y int) float64 { return g.Data[y*g.Width+x] }

// Set stores v at row y, column x.
func (g *Grid) Set(x, y int, v float64) { g.Data[y*g.Width+x] = v }

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	out := NewGrid(g.Shape)
	copy(out.Data, g.Data)
	return out
}

// LabelMap is a dense grid of label identifiers, used both for
// segmentation results and as the backing store of label masks.
type LabelMap struct {
	Shape
	Labels []Label
}

// NewLabelMap allocates an all-unlabeled map.
func NewLabelMap(shape Shape) *LabelMap {
	return &LabelMap{Shape: shape, Labels: make([]Label, shape.Len())}
}

// At returns the label at row y, column x.
func (m *LabelMap) At(x, y int) Label { return m.Labels[y*m.Width+x] }

// Set stores l at row y, column x.
func (m *LabelMap) Set(x, y int, l Label) { m.Labels[y*m.Width+x] = l }

// Binary is an 8-bit single-channel result (0 background, 255 foreground).
type Binary struct {
	Shape
	Pix []uint8
}

// NewBinary allocates a zeroed binary map.
func NewBinary(shape Shape) *Binary {
	return &Binary{Shape: shape, Pix: make([]uint8, shape.Len())}
}

// At returns the value at row y, column x.
func (b *Binary) At(x, y int) uint8 { return b.Pix[y*b.Width+x] }

// ToGray converts an image into its luminance grid with samples in [0, 1].
// The weights are the ITU-R 601 ones used by the usual RGB to gray conversion.
func ToGray(img image.Image) *Grid {
	bounds := img.Bounds()
	g := NewGrid(ShapeOf(img))

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < g.Height; y++ {
			off := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			row := src.Pix[off : off+g.Width]
			for x, v := range row {
				g.Data[y*g.Width+x] = float64(v) / 255.0
			}
		}
		return g
	}

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			r, gr, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// Convert from 16-bit to 8-bit before weighting
			r8 := float64(r >> 8)
			g8 := float64(gr >> 8)
			b8 := float64(b >> 8)
			g.Data[y*g.Width+x] = (0.299*r8 + 0.587*g8 + 0.114*b8) / 255.0
		}
	}
	return g
}
