// Package preprocess applies the optional image enhancements offered before
// feature extraction, and cropping.
package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/disintegration/imaging"
)

// MinCropSide is the smallest accepted crop width or height, exclusive.
const MinCropSide = 10

// Options are multiplicative enhancement factors; 1 leaves the image
// unchanged. Denoise applies a 3x3 median filter.
type Options struct {
	Brightness float64 `yaml:"brightness"`
	Contrast   float64 `yaml:"contrast"`
	Sharpness  float64 `yaml:"sharpness"`
	Denoise    bool    `yaml:"denoise"`
}

// DefaultOptions leaves images untouched.
func DefaultOptions() Options {
	return Options{Brightness: 1, Contrast: 1, Sharpness: 1}
}

// Identity reports whether o would leave every image unchanged.
func (o Options) Identity() bool {
	return o.Brightness == 1 && o.Contrast == 1 && o.Sharpness == 1 && !o.Denoise
}

// Validate rejects negative factors.
func (o Options) Validate() error {
	if o.Brightness < 0 || o.Contrast < 0 || o.Sharpness < 0 {
		return fmt.Errorf("enhancement factors must be non-negative: %+v", o)
	}
	return nil
}

// Enhance applies brightness, contrast, sharpness and denoising in that order
// and returns a new image with bounds starting at the origin.
func Enhance(img image.Image, o Options) (*image.NRGBA, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	out := imaging.Clone(img)
	if o.Brightness != 1 {
		out = imaging.AdjustBrightness(out, percent(o.Brightness))
	}
	if o.Contrast != 1 {
		out = imaging.AdjustContrast(out, percent(o.Contrast))
	}
	switch {
	case o.Sharpness > 1:
		out = imaging.Sharpen(out, o.Sharpness-1)
	case o.Sharpness < 1:
		out = imaging.Blur(out, 1-o.Sharpness)
	}
	if o.Denoise {
		out = Median3x3(out)
	}
	return out, nil
}

// percent maps a factor to imaging's [-100, 100] percentage range.
func percent(factor float64) float64 {
	p := (factor - 1) * 100
	return min(max(p, -100), 100)
}

// Median3x3 replaces every channel value with the median of its 3x3
// neighborhood, replicating edge pixels.
func Median3x3(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	var window [9]uint8
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			var px [4]uint8
			for ch := 0; ch < 4; ch++ {
				n := 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						sx := min(max(x+dx, 0), b.Dx()-1)
						sy := min(max(y+dy, 0), b.Dy()-1)
						c := img.NRGBAAt(b.Min.X+sx, b.Min.Y+sy)
						window[n] = [4]uint8{c.R, c.G, c.B, c.A}[ch]
						n++
					}
				}
				w := window[:]
				sort.Slice(w, func(i, j int) bool { return w[i] < w[j] })
				px[ch] = w[4]
			}
			out.SetNRGBA(x, y, color.NRGBA{R: px[0], G: px[1], B: px[2], A: px[3]})
		}
	}
	return out
}

// Crop returns the part of img inside rect, which is given in img's
// coordinates and must lie fully inside it with both sides larger than
// MinCropSide.
func Crop(img image.Image, rect image.Rectangle) (*image.NRGBA, error) {
	rect = rect.Canon()
	if !rect.In(img.Bounds()) {
		return nil, fmt.Errorf("crop %v outside image bounds %v", rect, img.Bounds())
	}
	if rect.Dx() <= MinCropSide || rect.Dy() <= MinCropSide {
		return nil, fmt.Errorf("crop %dx%d too small, both sides must exceed %d", rect.Dx(), rect.Dy(), MinCropSide)
	}
	return imaging.Crop(img, rect), nil
}
