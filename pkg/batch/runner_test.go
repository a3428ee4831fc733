package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cellseg/internal/logging"
	"cellseg/internal/models"
	"cellseg/pkg/features"
	"cellseg/pkg/forest"
	"cellseg/pkg/labels"
	"cellseg/pkg/training"
)

// createTestImage draws a bright disc of radius r on a dark background.
func createTestImage(size, r int) image.Image {
	img := image.NewGray(image.Rect(0, 0, size, size))
	c := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(30)
			if (x-c)*(x-c)+(y-c)*(y-c) <= r*r {
				v = 220
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func testConfig() features.Config {
	cfg := features.DefaultConfig()
	cfg.Sigmas = []float64{0.7, 1.6}
	return cfg
}

func trainedModel(t *testing.T, cfg features.Config) *forest.Forest {
	t.Helper()
	col, err := features.Extract(createTestImage(24, 7), cfg)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	mask := labels.NewMask(col.Shape)
	mask.Paint(models.Point{X: 12, Y: 12}, 3, labels.Cell)
	mask.Paint(models.Point{X: 3, Y: 3}, 2, labels.Background)
	coords := mask.Labeled()
	vectors, err := features.Vectors(col, coords)
	if err != nil {
		t.Fatalf("Vectors failed: %v", err)
	}
	acc := training.NewAccumulator()
	if err := acc.ExtendDense(vectors, mask.LabelsAt(coords), col.Fingerprint); err != nil {
		t.Fatalf("ExtendDense failed: %v", err)
	}
	params := forest.DefaultParams()
	params.Trees = 8
	f := forest.New(params)
	if err := f.Train(acc); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	return f
}

func newRunner(t *testing.T, mutate func(*Params)) *Runner {
	t.Helper()
	cfg := testConfig()
	p := Params{
		Model:    trainedModel(t, cfg),
		Features: cfg,
		Logger:   logging.Discard(),
	}
	if mutate != nil {
		mutate(&p)
	}
	r, err := NewRunner(p)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

// items returns n in-memory images; the one at failAt fails to open.
func items(n, failAt int) []Item {
	out := make([]Item, n)
	for i := range out {
		name := fmt.Sprintf("img_%d", i+1)
		if i == failAt {
			out[i] = Item{Name: name, Open: func() (image.Image, error) {
				return nil, fmt.Errorf("corrupt file: %w", models.ErrIOFailure)
			}}
			continue
		}
		out[i] = ImageItem(name, createTestImage(24, 5+i))
	}
	return out
}

// TestFailingItemDoesNotStopBatch checks that a broken third image is reported
// and the remaining images are still processed
func TestFailingItemDoesNotStopBatch(t *testing.T) {
	r := newRunner(t, nil)
	r.Enqueue(items(5, 2)...)

	sum := r.Run(context.Background())
	if len(sum.Results) != 4 || len(sum.Failures) != 1 {
		t.Fatalf("Expected 4 results and 1 failure, got %d and %d", len(sum.Results), len(sum.Failures))
	}
	if sum.Failures[0].Index != 2 || sum.Failures[0].Name != "img_3" {
		t.Errorf("Unexpected failure %+v", sum.Failures[0])
	}
	if !errors.Is(sum.Failures[0].Err, models.ErrIOFailure) {
		t.Errorf("Expected read failure, got %v", sum.Failures[0].Err)
	}
	if last := sum.Results[len(sum.Results)-1]; last.Name != "img_5" {
		t.Errorf("Expected processing to reach img_5, stopped at %s", last.Name)
	}
	if sum.Canceled {
		t.Errorf("Run should not be marked canceled")
	}
	if !strings.Contains(sum.String(), "completed with 1 failures") {
		t.Errorf("Unexpected summary %q", sum.String())
	}
	if !errors.Is(sum.Err(), models.ErrIOFailure) {
		t.Errorf("Summary error should wrap the item failure")
	}

	for _, res := range sum.Results {
		if res.Labels.Shape != (models.Shape{Height: 24, Width: 24}) {
			t.Errorf("%s: unexpected label shape %v", res.Name, res.Labels.Shape)
		}
		if res.Binary.At(12, 12) != 255 {
			t.Errorf("%s: expected disc center in the foreground", res.Name)
		}
	}
}

// TestCancelStopsBeforeNextItem cancels from the per-item hook
func TestCancelStopsBeforeNextItem(t *testing.T) {
	var r *Runner
	r = newRunner(t, func(p *Params) {
		p.OnItem = func(Result) { r.Cancel() }
	})
	r.Enqueue(items(5, -1)...)

	sum := r.Run(context.Background())
	if sum.Processed() != 1 || !sum.Canceled {
		t.Errorf("Expected one item and a canceled run, got %d processed, canceled=%v", sum.Processed(), sum.Canceled)
	}
	if r.Pending() != 4 {
		t.Errorf("Expected 4 pending items, got %d", r.Pending())
	}

	// A new run resumes with the remaining items.
	r.params.OnItem = nil
	sum = r.Run(context.Background())
	if sum.Processed() != 4 || sum.Canceled {
		t.Errorf("Expected the remaining 4 items, got %d", sum.Processed())
	}
}

func TestContextCancel(t *testing.T) {
	r := newRunner(t, nil)
	r.Enqueue(items(3, -1)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := <-r.Start(ctx)
	if sum.Processed() != 0 || !sum.Canceled {
		t.Errorf("Expected nothing processed, got %d", sum.Processed())
	}
}

func TestOutputsWritten(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, func(p *Params) {
		p.OutputDir = dir
		p.Binary = true
		p.Format = "tiff"
		p.SaveProbabilities = true
		p.SaveOverlay = true
	})
	r.Enqueue(items(1, -1)...)

	sum := r.Run(context.Background())
	if len(sum.Failures) != 0 {
		t.Fatalf("Unexpected failures: %v", sum.Err())
	}
	for _, name := range []string{"img_1_labels.png", "img_1_mask.tiff", "img_1_prob.png", "img_1_overlay.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Missing output %s", name)
		}
	}
	if len(sum.Results[0].Outputs) != 4 {
		t.Errorf("Expected 4 outputs, got %v", sum.Results[0].Outputs)
	}

	// Without overwrite the second run skips the existing item.
	r.Enqueue(items(1, -1)...)
	sum = r.Run(context.Background())
	if len(sum.Results) != 1 || !sum.Results[0].Skipped {
		t.Errorf("Expected the existing item to be skipped")
	}
}

func TestEnqueueDir(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int{10, 2} {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%d.png", n)))
		if err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	r := newRunner(t, nil)
	n, err := r.EnqueueDir(dir)
	if err != nil || n != 2 {
		t.Fatalf("EnqueueDir = %d, %v", n, err)
	}
	if r.queue[0].Name != "frame_2" || r.queue[1].Name != "frame_10" {
		t.Errorf("Unexpected order %s, %s", r.queue[0].Name, r.queue[1].Name)
	}
	// Empty files cannot be decoded, so both items fail without stopping the run.
	sum := r.Run(context.Background())
	if len(sum.Failures) != 2 {
		t.Errorf("Expected 2 failures, got %d", len(sum.Failures))
	}
}

func TestNewRunnerValidation(t *testing.T) {
	cfg := testConfig()
	if _, err := NewRunner(Params{Model: forest.New(forest.DefaultParams()), Features: cfg}); !errors.Is(err, models.ErrUntrainedModel) {
		t.Errorf("Expected not trained error, got %v", err)
	}

	model := trainedModel(t, cfg)
	other := cfg.Clone()
	other.SetEnabled(features.Edge, false)
	if _, err := NewRunner(Params{Model: model, Features: other}); !errors.Is(err, models.ErrConfigurationMismatch) {
		t.Errorf("Expected configuration mismatch, got %v", err)
	}
	if _, err := NewRunner(Params{Model: model, Features: cfg, Format: "gif"}); err == nil {
		t.Errorf("Expected error for unsupported format")
	}
}
