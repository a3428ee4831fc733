package video

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

// fakeSource yields n solid frames whose gray value is their index.
type fakeSource struct {
	n, read int
	failAt  int
}

func (f *fakeSource) Read() (image.Image, bool, error) {
	if f.read == f.failAt {
		return nil, false, errors.New("decode error")
	}
	if f.read >= f.n {
		return nil, false, nil
	}
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(f.read)
	}
	f.read++
	return img, true, nil
}

func (f *fakeSource) Close() error { return nil }

func TestSampleInterval(t *testing.T) {
	src := &fakeSource{n: 10, failAt: -1}
	frames, err := Sample(src, Options{FrameInterval: 3, MaxFrames: 0})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	expected := []int{0, 3, 6, 9}
	if len(frames) != len(expected) {
		t.Fatalf("Expected %d frames, got %d", len(expected), len(frames))
	}
	for i, f := range frames {
		if f.Index != expected[i] {
			t.Errorf("Frame %d: expected index %d, got %d", i, expected[i], f.Index)
		}
		if g := f.Image.(*image.Gray).GrayAt(0, 0); g != (color.Gray{Y: uint8(expected[i])}) {
			t.Errorf("Frame %d has wrong content %v", i, g)
		}
	}
}

// TestSampleStopsAtMax checks that reading stops once enough frames are kept
func TestSampleStopsAtMax(t *testing.T) {
	src := &fakeSource{n: 100, failAt: -1}
	frames, err := Sample(src, Options{FrameInterval: 2, MaxFrames: 3})
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(frames) != 3 || frames[2].Index != 4 {
		t.Errorf("Unexpected frames %+v", frames)
	}
	if src.read != 5 {
		t.Errorf("Expected 5 frames read, got %d", src.read)
	}
}

func TestSampleErrors(t *testing.T) {
	if _, err := Sample(&fakeSource{n: 0, failAt: -1}, DefaultOptions()); !errors.Is(err, ErrNoFrames) {
		t.Errorf("Expected ErrNoFrames, got %v", err)
	}
	if _, err := Sample(&fakeSource{n: 5, failAt: 2}, DefaultOptions()); err == nil {
		t.Errorf("Expected decode error")
	}
	if _, err := Sample(&fakeSource{n: 5, failAt: -1}, Options{FrameInterval: 0}); err == nil {
		t.Errorf("Expected validation error")
	}
}

func TestSaveFrames(t *testing.T) {
	dir := t.TempDir()
	frames, _ := Sample(&fakeSource{n: 2, failAt: -1}, DefaultOptions())
	paths, err := SaveFrames(frames, dir)
	if err != nil {
		t.Fatalf("SaveFrames failed: %v", err)
	}
	if len(paths) != 2 || filepath.Base(paths[1]) != "frame_0001.png" {
		t.Errorf("Unexpected paths %v", paths)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Missing %s", p)
		}
	}
}
