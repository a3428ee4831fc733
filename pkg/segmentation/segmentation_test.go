package segmentation

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"cellseg/internal/logging"
	"cellseg/internal/models"
	"cellseg/pkg/features"
	"cellseg/pkg/labels"
)

func TestBinarizeDefaultPolicy(t *testing.T) {
	lm := models.NewLabelMap(models.Shape{Height: 2, Width: 2})
	copy(lm.Labels, []models.Label{1, 2, 3, 4})

	b := Binarize(lm, DefaultPolicy())
	expected := []uint8{255, 0, 255, 255}
	for i := range expected {
		if b.Pix[i] != expected[i] {
			t.Errorf("Pixel %d: expected %d, got %d", i, expected[i], b.Pix[i])
		}
	}
	if b.Shape != lm.Shape {
		t.Errorf("Binary shape %v differs from label map %v", b.Shape, lm.Shape)
	}
}

func TestBinarizeUserLabels(t *testing.T) {
	lm := models.NewLabelMap(models.Shape{Height: 1, Width: 3})
	copy(lm.Labels, []models.Label{5, 6, 0})

	b := Binarize(lm, DefaultPolicy())
	if b.Pix[0] != 255 || b.Pix[1] != 255 || b.Pix[2] != 0 {
		t.Errorf("Unexpected default output %v", b.Pix)
	}

	p := Policy{Background: []models.Label{labels.Background, 6}}
	b = Binarize(lm, p)
	if b.Pix[0] != 255 || b.Pix[1] != 0 {
		t.Errorf("Label 6 should be background under custom policy, got %v", b.Pix)
	}
}

// discImage draws a bright disc on a dark background.
func discImage(size, r int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	c := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(25)
			if (x-c)*(x-c)+(y-c)*(y-c) <= r*r {
				v = 210
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func testOptions(events *[]Stage) Options {
	opts := DefaultOptions()
	opts.Features.Sigmas = []float64{0.7, 1.6}
	opts.Forest.Trees = 10
	opts.Logger = logging.Discard()
	if events != nil {
		opts.OnStage = func(e Event) { *events = append(*events, e.Stage) }
	}
	return opts
}

func newSession(t *testing.T, events *[]Stage) *Session {
	t.Helper()
	s, err := NewSession(testOptions(events))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

// paintStrokes labels the disc center as Cell and two corners as Background.
func paintStrokes(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Paint(models.Point{X: 16, Y: 16}, 8, labels.Cell); err != nil {
		t.Fatal(err)
	}
	if err := s.Paint(models.Point{X: 4, Y: 4}, 6, labels.Background); err != nil {
		t.Fatal(err)
	}
	if err := s.Paint(models.Point{X: 27, Y: 27}, 6, labels.Background); err != nil {
		t.Fatal(err)
	}
}

func TestSessionTrainAndSegment(t *testing.T) {
	var events []Stage
	s := newSession(t, &events)
	if err := s.SetImage(discImage(32, 9)); err != nil {
		t.Fatalf("SetImage failed: %v", err)
	}
	paintStrokes(t, s)

	if err := s.Train(); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	res, err := s.Segment()
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if res.Labels.At(16, 16) != labels.Cell || res.Labels.At(2, 2) != labels.Background {
		t.Errorf("Unexpected labels: center=%d corner=%d", res.Labels.At(16, 16), res.Labels.At(2, 2))
	}
	if res.Binary.At(16, 16) != Foreground || res.Binary.At(2, 2) != BackgroundValue {
		t.Errorf("Unexpected binary output")
	}

	expected := []Stage{StageExtracted, StageTrained, StagePredicted}
	if len(events) != len(expected) {
		t.Fatalf("Expected stages %v, got %v", expected, events)
	}
	for i := range expected {
		if events[i] != expected[i] {
			t.Errorf("Stage %d: expected %v, got %v", i, expected[i], events[i])
		}
	}
}

func TestSessionNeedsTwoClasses(t *testing.T) {
	s := newSession(t, nil)
	_ = s.SetImage(discImage(32, 9))

	if err := s.Train(); !errors.Is(err, models.ErrEmptyTrainingSet) {
		t.Errorf("Expected empty training set error, got %v", err)
	}
	if _, err := s.Segment(); !errors.Is(err, models.ErrUntrainedModel) {
		t.Errorf("Expected not trained error, got %v", err)
	}

	_ = s.Paint(models.Point{X: 16, Y: 16}, 6, labels.Cell)
	if err := s.Train(); !errors.Is(err, models.ErrInsufficientClasses) {
		t.Errorf("Expected too few classes error, got %v", err)
	}
}

// TestTrainingAccumulatesAcrossImages checks that a new image resets the
// mask but not the training set
func TestTrainingAccumulatesAcrossImages(t *testing.T) {
	s := newSession(t, nil)
	_ = s.SetImage(discImage(32, 9))
	paintStrokes(t, s)
	first := len(s.Mask().Labeled())
	if err := s.Train(); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if err := s.SetImage(discImage(32, 7)); err != nil {
		t.Fatalf("SetImage failed: %v", err)
	}
	if !s.Mask().Empty() {
		t.Errorf("Mask should be reset by a new image")
	}
	paintStrokes(t, s)
	second := len(s.Mask().Labeled())
	if err := s.Train(); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if s.TrainingSize() != first+second {
		t.Errorf("Expected %d rows, got %d", first+second, s.TrainingSize())
	}

	s.ClearTraining()
	if s.TrainingSize() != 0 || s.Model().Trained() {
		t.Errorf("ClearTraining should drop samples and model")
	}
}

func TestSetConfigRequiresRetraining(t *testing.T) {
	s := newSession(t, nil)
	_ = s.SetImage(discImage(32, 9))
	paintStrokes(t, s)
	if err := s.Train(); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	cfg := s.Config()
	cfg.SetEnabled(features.Edge, false)
	if err := s.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if s.TrainingSize() != 0 {
		t.Errorf("Changing the feature space should clear the training set")
	}
	if _, err := s.Segment(); !errors.Is(err, models.ErrConfigurationMismatch) {
		t.Errorf("Expected configuration mismatch, got %v", err)
	}

	if err := s.Train(); err != nil {
		t.Fatalf("Retraining failed: %v", err)
	}
	if _, err := s.Segment(); err != nil {
		t.Errorf("Segment after retraining failed: %v", err)
	}
}

func TestSessionModelRoundTrip(t *testing.T) {
	s := newSession(t, nil)
	_ = s.SetImage(discImage(32, 9))
	paintStrokes(t, s)
	if err := s.Train(); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	before, _ := s.Segment()

	var buf bytes.Buffer
	if err := s.SaveModel(&buf); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	other := newSession(t, nil)
	_ = other.SetImage(discImage(32, 9))
	if err := other.LoadModel(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	after, err := other.Segment()
	if err != nil {
		t.Fatalf("Segment with loaded model failed: %v", err)
	}
	for i := range before.Labels.Labels {
		if before.Labels.Labels[i] != after.Labels.Labels[i] {
			t.Fatalf("Loaded model disagrees at pixel %d", i)
		}
	}

	mismatched := newSession(t, nil)
	cfg := mismatched.Config()
	cfg.Sigmas = []float64{1, 2, 4}
	_ = mismatched.SetConfig(cfg)
	if err := mismatched.LoadModel(bytes.NewReader(buf.Bytes())); !errors.Is(err, models.ErrConfigurationMismatch) {
		t.Errorf("Expected configuration mismatch, got %v", err)
	}
}

func TestCropResetsMask(t *testing.T) {
	s := newSession(t, nil)
	if err := s.Crop(image.Rect(0, 0, 20, 20)); !errors.Is(err, ErrNoImage) {
		t.Errorf("Expected ErrNoImage, got %v", err)
	}
	_ = s.SetImage(discImage(32, 9))
	paintStrokes(t, s)

	if err := s.Crop(image.Rect(4, 4, 28, 24)); err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if got := s.Mask().Shape(); got != (models.Shape{Height: 20, Width: 24}) {
		t.Errorf("Unexpected mask shape %v", got)
	}
	if !s.Mask().Empty() {
		t.Errorf("Crop should reset the mask")
	}
	if err := s.Crop(image.Rect(0, 0, 5, 5)); err == nil {
		t.Errorf("Expected error for tiny crop")
	}
}

func TestSetMaskShapeMismatch(t *testing.T) {
	s := newSession(t, nil)
	_ = s.SetImage(discImage(32, 9))
	err := s.SetMask(labels.NewMask(models.Shape{Height: 10, Width: 10}))
	if !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected shape mismatch, got %v", err)
	}
}

// TestPaintOffImageStroke checks that a brush centered left of the image
// still labels the edge pixels next to it
func TestPaintOffImageStroke(t *testing.T) {
	s := newSession(t, nil)
	if err := s.SetImage(discImage(20, 5)); err != nil {
		t.Fatalf("SetImage failed: %v", err)
	}
	if err := s.Paint(models.Point{X: -5, Y: 10}, 6, labels.Cell); err != nil {
		t.Fatalf("Paint failed: %v", err)
	}
	if len(s.Mask().Labeled()) == 0 {
		t.Fatalf("Off-image stroke labeled nothing")
	}
	if s.Mask().At(0, 10) != labels.Cell {
		t.Errorf("Expected (0,10) to be labeled")
	}
}
