package preprocess

import (
	"image"
	"image/color"
	"testing"
)

// createTestImage creates a horizontal gray ramp.
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(x * 255 / max(width-1, 1))
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestEnhanceIdentity(t *testing.T) {
	img := createTestImage(16, 8)
	out, err := Enhance(img, DefaultOptions())
	if err != nil {
		t.Fatalf("Enhance failed: %v", err)
	}
	for i := range img.Pix {
		if img.Pix[i] != out.Pix[i] {
			t.Fatalf("Default options changed byte %d", i)
		}
	}
}

func TestEnhanceBrightness(t *testing.T) {
	img := createTestImage(16, 8)
	out, err := Enhance(img, Options{Brightness: 1.5, Contrast: 1, Sharpness: 1})
	if err != nil {
		t.Fatalf("Enhance failed: %v", err)
	}
	if out.NRGBAAt(4, 4).R <= img.NRGBAAt(4, 4).R {
		t.Errorf("Expected brighter pixel, got %d from %d", out.NRGBAAt(4, 4).R, img.NRGBAAt(4, 4).R)
	}

	if _, err := Enhance(img, Options{Brightness: -1}); err == nil {
		t.Errorf("Expected error for negative factor")
	}
}

func TestMedianRemovesSpeck(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 5))
	for i := range img.Pix {
		img.Pix[i] = 50
	}
	img.SetNRGBA(2, 2, color.NRGBA{R: 255, G: 255, B: 255, A: 50})

	out := Median3x3(img)
	if c := out.NRGBAAt(2, 2); c.R != 50 {
		t.Errorf("Expected speck removed, got %v", c)
	}
}

func TestCrop(t *testing.T) {
	img := createTestImage(40, 30)

	out, err := Crop(img, image.Rect(5, 5, 25, 20))
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 20, 15) {
		t.Errorf("Unexpected bounds %v", out.Bounds())
	}
	if out.NRGBAAt(0, 0) != img.NRGBAAt(5, 5) {
		t.Errorf("Crop origin does not match source")
	}

	if _, err := Crop(img, image.Rect(0, 0, 10, 20)); err == nil {
		t.Errorf("Expected error for 10 pixel wide crop")
	}
	if _, err := Crop(img, image.Rect(30, 0, 50, 20)); err == nil {
		t.Errorf("Expected error for crop outside image")
	}
}
