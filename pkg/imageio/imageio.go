// Package imageio reads and writes the images handled by the pipeline and
// lists the image files of an input folder in acquisition order.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"cellseg/internal/models"
)

// Extensions lists the file extensions recognised as images, lower case.
var Extensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp"}

// IsImage reports whether name has one of the supported extensions.
func IsImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load decodes the image at path. Decode failures wrap models.ErrIOFailure.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", filepath.Base(path), models.ErrIOFailure, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", filepath.Base(path), models.ErrIOFailure, err)
	}
	return img, nil
}

// Save encodes img to path in the format named by its extension, creating
// the parent directory when needed.
func Save(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ListImages returns the image files directly inside dir, ordered by the
// number embedded in their names so that frame_2 precedes frame_10. Names
// without digits sort as 0; ties are broken by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	for i, f := range files {
		files[i] = filepath.Join(dir, f)
	}
	return files, nil
}

// extractNumber concatenates the digits of the base name.
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

// LoadLabelMap reads a label image written by SaveLabelMap: the gray value of
// each pixel is its label.
func LoadLabelMap(path string) (*models.LabelMap, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	lm := models.NewLabelMap(models.ShapeOf(img))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			if img.ColorModel() == color.Gray16Model {
				lm.Set(x, y, models.Label(g.Y))
			} else {
				lm.Set(x, y, models.Label(g.Y>>8))
			}
		}
	}
	return lm, nil
}

// SaveLabelMap writes lm losslessly with one gray level per label. Label
// values above 255 need a 16-bit format such as PNG.
func SaveLabelMap(lm *models.LabelMap, path string) error {
	img := image.NewGray16(image.Rect(0, 0, lm.Width, lm.Height))
	for y := 0; y < lm.Height; y++ {
		for x := 0; x < lm.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(lm.At(x, y))})
		}
	}
	return Save(img, path)
}
