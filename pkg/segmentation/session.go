package segmentation

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"cellseg/internal/logging"
	"cellseg/internal/models"
	"cellseg/internal/progress"
	"cellseg/pkg/features"
	"cellseg/pkg/forest"
	"cellseg/pkg/labels"
	"cellseg/pkg/preprocess"
	"cellseg/pkg/training"
)

// Stage identifies a step of the workflow reported to the stage callback.
type Stage int

const (
	StageExtracted Stage = iota
	StageTrained
	StagePredicted
)

func (s Stage) String() string {
	switch s {
	case StageExtracted:
		return "extracted"
	case StageTrained:
		return "trained"
	case StagePredicted:
		return "predicted"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Event describes a finished stage.
type Event struct {
	Stage    Stage
	Duration time.Duration
	Samples  int // training rows after StageTrained
}

// StageCallback receives stage events synchronously.
type StageCallback func(Event)

// Options configure a Session.
type Options struct {
	Features   features.Config
	Forest     forest.Params
	Policy     Policy
	Preprocess preprocess.Options
	Logger     *slog.Logger
	OnStage    StageCallback
}

// DefaultOptions returns the default bank, forest and policy.
func DefaultOptions() Options {
	return Options{
		Features:   features.DefaultConfig(),
		Forest:     forest.DefaultParams(),
		Policy:     DefaultPolicy(),
		Preprocess: preprocess.DefaultOptions(),
	}
}

// Result is the output of Segment.
type Result struct {
	Labels *models.LabelMap
	Binary *models.Binary
}

// ErrNoImage is returned by operations that need a current image.
var ErrNoImage = errors.New("no image loaded")

// Session holds one user's working state: the current image and its label
// mask, the training set accumulated across images, and the classifier.
//
// The training set survives image changes; the mask does not. A Session is
// not safe for concurrent use.
type Session struct {
	cfg    features.Config
	params forest.Params
	policy Policy
	enh    preprocess.Options
	logger *slog.Logger
	notify StageCallback
	prog   *progress.Reporter

	original image.Image // as loaded or cropped, before enhancement
	current  image.Image // what features are extracted from
	feats    *features.Collection
	mask     *labels.Mask

	acc     *training.Accumulator
	model   *forest.Forest
	catalog *labels.Catalog
	last    *Result
}

// NewSession validates opts and returns an empty session.
func NewSession(opts Options) (*Session, error) {
	if err := opts.Features.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature configuration: %w", err)
	}
	if err := opts.Preprocess.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:     opts.Features.Clone(),
		params:  opts.Forest,
		policy:  opts.Policy,
		enh:     opts.Preprocess,
		logger:  logger,
		notify:  opts.OnStage,
		acc:     training.NewAccumulator(),
		catalog: labels.NewCatalog(),
	}
	s.model = s.newForest()
	return s, nil
}

func (s *Session) newForest() *forest.Forest {
	f := forest.New(s.params)
	f.SetLogger(s.logger)
	f.SetProgress(s.prog)
	return f
}

// SetProgress installs a reporter for forest training.
func (s *Session) SetProgress(r *progress.Reporter) {
	s.prog = r
	s.model.SetProgress(r)
}

// Config returns a copy of the active feature configuration.
func (s *Session) Config() features.Config { return s.cfg.Clone() }

// Catalog is the label catalog used for display.
func (s *Session) Catalog() *labels.Catalog { return s.catalog }

// Mask is the label mask of the current image, nil before SetImage.
func (s *Session) Mask() *labels.Mask { return s.mask }

// Image is the current, enhanced image.
func (s *Session) Image() image.Image { return s.current }

// Model returns the classifier.
func (s *Session) Model() *forest.Forest { return s.model }

// TrainingSize is the number of accumulated training rows.
func (s *Session) TrainingSize() int { return s.acc.Len() }

// Last returns the result of the most recent Segment on the current image.
func (s *Session) Last() *Result { return s.last }

// SetImage makes img current and resets the mask. The training set and the
// classifier are kept.
func (s *Session) SetImage(img image.Image) error {
	if img == nil || !models.ShapeOf(img).Valid() {
		return fmt.Errorf("image must be non-empty: %w", models.ErrShapeMismatch)
	}
	s.original = img
	return s.refresh(true)
}

// SetPreprocess changes the enhancement applied to the current image. The
// mask is kept because the grid does not change.
func (s *Session) SetPreprocess(o preprocess.Options) error {
	if err := o.Validate(); err != nil {
		return err
	}
	s.enh = o
	if s.original == nil {
		return nil
	}
	return s.refresh(false)
}

// Crop replaces the current image by a sub-rectangle of it and resets the mask.
func (s *Session) Crop(rect image.Rectangle) error {
	if s.original == nil {
		return ErrNoImage
	}
	cropped, err := preprocess.Crop(s.original, rect.Add(s.original.Bounds().Min))
	if err != nil {
		return err
	}
	s.original = cropped
	return s.refresh(true)
}

// refresh re-derives the current image and drops cached features.
func (s *Session) refresh(resetMask bool) error {
	s.current = s.original
	if !s.enh.Identity() {
		img, err := preprocess.Enhance(s.original, s.enh)
		if err != nil {
			return err
		}
		s.current = img
	}
	s.feats = nil
	s.last = nil
	if resetMask || s.mask == nil {
		s.mask = labels.NewMask(models.ShapeOf(s.current))
	}
	return nil
}

// Paint labels a disc for a brush of the given size.
func (s *Session) Paint(center models.Point, brushSize int, label models.Label) error {
	if s.mask == nil {
		return ErrNoImage
	}
	if label == models.Unlabeled {
		return fmt.Errorf("cannot paint the unlabeled value, use Erase")
	}
	s.mask.Paint(center, labels.BrushRadius(brushSize), label)
	return nil
}

// Erase unlabels a disc for a brush of the given size.
func (s *Session) Erase(center models.Point, brushSize int) error {
	if s.mask == nil {
		return ErrNoImage
	}
	s.mask.Erase(center, labels.BrushRadius(brushSize))
	return nil
}

// SetMask replaces the mask, for example with one loaded from disk.
func (s *Session) SetMask(m *labels.Mask) error {
	if s.current == nil {
		return ErrNoImage
	}
	if err := m.CheckShape(models.ShapeOf(s.current)); err != nil {
		return err
	}
	s.mask = m
	return nil
}

// ClearLabels resets the mask of the current image.
func (s *Session) ClearLabels() {
	if s.mask != nil {
		s.mask.Clear()
	}
}

// extract returns the feature maps of the current image, extracting them
// on first use.
func (s *Session) extract() (*features.Collection, error) {
	if s.current == nil {
		return nil, ErrNoImage
	}
	if s.feats != nil && s.feats.Fingerprint == s.cfg.Fingerprint() {
		return s.feats, nil
	}
	start := time.Now()
	col, err := features.Extract(s.current, s.cfg)
	if err != nil {
		return nil, err
	}
	s.feats = col
	s.emit(Event{Stage: StageExtracted, Duration: time.Since(start)})
	s.logger.Debug("features extracted",
		slog.String(logging.KeyOperation, "extract"),
		slog.Int(logging.KeyFeatures, col.Width()),
		slog.Int64(logging.KeyDuration, time.Since(start).Milliseconds()),
		slog.Any("columns", features.Columns(col)),
	)
	return col, nil
}

// Train appends the labeled pixels of the current image to the training set
// and refits the classifier on the whole set. Rows are appended before
// fitting, so they stay in the set even when fitting fails for lack of a
// second class.
func (s *Session) Train() error {
	if _, err := s.AddSamples(); err != nil {
		return err
	}
	return s.Fit()
}

// AddSamples appends the labeled pixels of the current image to the
// training set without refitting, and returns the number of rows added.
func (s *Session) AddSamples() (int, error) {
	if s.mask == nil {
		return 0, ErrNoImage
	}
	coords := s.mask.Labeled()
	if len(coords) == 0 {
		return 0, nil
	}
	col, err := s.extract()
	if err != nil {
		return 0, err
	}
	vectors, err := features.Vectors(col, coords)
	if err != nil {
		return 0, err
	}
	if err := s.acc.ExtendDense(vectors, s.mask.LabelsAt(coords), col.Fingerprint); err != nil {
		return 0, err
	}
	return len(coords), nil
}

// Fit trains a new classifier on the whole training set. The previous
// classifier is kept if fitting fails.
func (s *Session) Fit() error {
	start := time.Now()
	model := s.newForest()
	if err := model.Train(s.acc); err != nil {
		return err
	}
	s.model = model
	s.last = nil
	s.emit(Event{Stage: StageTrained, Duration: time.Since(start), Samples: s.acc.Len()})
	return nil
}

// Segment classifies every pixel of the current image.
func (s *Session) Segment() (*Result, error) {
	if !s.model.Trained() {
		return nil, models.ErrUntrainedModel
	}
	if err := s.model.CheckFingerprint(s.cfg.Fingerprint()); err != nil {
		return nil, err
	}
	col, err := s.extract()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	lm, err := s.model.PredictImage(col)
	if err != nil {
		return nil, err
	}
	s.last = &Result{Labels: lm, Binary: Binarize(lm, s.policy)}
	s.emit(Event{Stage: StagePredicted, Duration: time.Since(start)})
	s.logger.Info("image segmented",
		slog.String(logging.KeyOperation, "predict"),
		slog.String("shape", lm.Shape.String()),
		slog.Float64("foreground", ForegroundFraction(s.last.Binary)),
		slog.Int64(logging.KeyDuration, time.Since(start).Milliseconds()),
	)
	return s.last, nil
}

// Probability returns the per-pixel probability of label on the current image.
func (s *Session) Probability(label models.Label) (*models.Grid, error) {
	if !s.model.Trained() {
		return nil, models.ErrUntrainedModel
	}
	col, err := s.extract()
	if err != nil {
		return nil, err
	}
	return s.model.ProbabilityImage(col, label)
}

// ClearTraining discards the training set and the classifier.
func (s *Session) ClearTraining() {
	s.acc.Clear()
	s.model = s.newForest()
	s.last = nil
}

// SetConfig switches the feature configuration. A configuration producing a
// different feature space clears the training set; the classifier is kept,
// so segmenting fails with models.ErrConfigurationMismatch until the user
// retrains or loads a matching model.
func (s *Session) SetConfig(cfg features.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid feature configuration: %w", err)
	}
	if !cfg.Equal(s.cfg) {
		s.acc.Clear()
		s.feats = nil
		s.last = nil
	}
	s.cfg = cfg.Clone()
	return nil
}

// SetPolicy changes the binary output policy.
func (s *Session) SetPolicy(p Policy) { s.policy = p }

// SaveModel writes the classifier together with the active configuration.
func (s *Session) SaveModel(w io.Writer) error {
	return s.model.Save(w, s.cfg)
}

// LoadModel replaces the classifier by one read from r. The model must have
// been trained under the active configuration.
func (s *Session) LoadModel(r io.Reader) error {
	f, err := forest.Load(r, s.cfg)
	if err != nil {
		return err
	}
	f.SetLogger(s.logger)
	f.SetProgress(s.prog)
	s.model = f
	s.last = nil
	return nil
}

func (s *Session) emit(e Event) {
	if s.notify != nil {
		s.notify(e)
	}
	s.logger.Debug("stage finished", slog.String(logging.KeyStage, e.Stage.String()))
}
