// Package batch applies a trained classifier to a queue of images on a
// single background worker, with cooperative cancellation and per-item
// failure reporting.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"cellseg/internal/logging"
	"cellseg/internal/models"
	"cellseg/internal/progress"
	"cellseg/pkg/features"
	"cellseg/pkg/forest"
	"cellseg/pkg/imageio"
	"cellseg/pkg/labels"
	"cellseg/pkg/preprocess"
	"cellseg/pkg/segmentation"
	"cellseg/pkg/visualization"
)

// Item is one image to process. Open is called on the worker goroutine.
type Item struct {
	Name string
	Open func() (image.Image, error)
}

// FileItem reads the image at path when processed.
func FileItem(path string) Item {
	return Item{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Open: func() (image.Image, error) { return imageio.Load(path) },
	}
}

// ImageItem wraps an image already in memory, such as a video frame.
func ImageItem(name string, img image.Image) Item {
	return Item{Name: name, Open: func() (image.Image, error) { return img, nil }}
}

// Params holds the batch configuration. Model and Features are required.
type Params struct {
	Model    *forest.Forest
	Features features.Config

	// OutputDir receives the outputs; empty keeps results in memory only.
	OutputDir string

	// Format is the extension of the binary mask output: png, tiff or jpg.
	Format string

	Overwrite         bool
	Binary            bool
	SaveProbabilities bool
	SaveOverlay       bool

	// ProbabilityLabel selects the class whose probability map is saved.
	ProbabilityLabel models.Label

	Policy     segmentation.Policy
	Preprocess preprocess.Options
	Catalog    *labels.Catalog
	Logger     *slog.Logger
	Progress   *progress.Reporter

	// OnItem, when set, is called on the worker after every item.
	OnItem func(Result)
}

// Result is the outcome of one successfully processed item.
type Result struct {
	Index   int
	Name    string
	Labels  *models.LabelMap
	Binary  *models.Binary
	Outputs []string
	Skipped bool // outputs already existed and Overwrite was false
}

// Failure records an item that could not be processed.
type Failure struct {
	Index int
	Name  string
	Err   error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.Name, f.Err) }

// Summary is returned by Run.
type Summary struct {
	Results  []Result
	Failures []Failure
	Canceled bool
	Duration time.Duration
}

// Processed counts items that were attempted, successful or not.
func (s Summary) Processed() int { return len(s.Results) + len(s.Failures) }

func (s Summary) String() string {
	if s.Canceled {
		return fmt.Sprintf("canceled after %d items, %d failures", s.Processed(), len(s.Failures))
	}
	return fmt.Sprintf("processed %d items, completed with %d failures", s.Processed(), len(s.Failures))
}

// Err joins the failures, or returns nil when there are none.
func (s Summary) Err() error {
	errs := make([]error, len(s.Failures))
	for i, f := range s.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Runner owns the queue. Enqueue and Cancel may be called from any
// goroutine; Run processes the queue on the calling goroutine.
type Runner struct {
	params Params
	viewer *visualization.Viewer

	mu       sync.Mutex
	queue    []Item
	next     int
	running  bool
	canceled atomic.Bool
}

// NewRunner checks that the model is trained and matches the feature
// configuration.
func NewRunner(params Params) (*Runner, error) {
	if params.Model == nil || !params.Model.Trained() {
		return nil, models.ErrUntrainedModel
	}
	if err := params.Features.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature configuration: %w", err)
	}
	if err := params.Model.CheckFingerprint(params.Features.Fingerprint()); err != nil {
		return nil, err
	}
	if features.VectorWidth(params.Features) != params.Model.Width() {
		return nil, fmt.Errorf("configuration yields width %d, model expects %d: %w",
			features.VectorWidth(params.Features), params.Model.Width(), models.ErrConfigurationMismatch)
	}
	if params.Format == "" {
		params.Format = "png"
	}
	switch params.Format {
	case "png", "tiff", "tif", "jpg", "jpeg":
	default:
		return nil, fmt.Errorf("unsupported output format %q", params.Format)
	}
	if params.Policy.Background == nil {
		params.Policy = segmentation.DefaultPolicy()
	}
	if params.ProbabilityLabel == models.Unlabeled {
		params.ProbabilityLabel = labels.Cell
	}
	if params.Preprocess == (preprocess.Options{}) {
		params.Preprocess = preprocess.DefaultOptions()
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	return &Runner{params: params, viewer: visualization.NewViewer(params.Catalog)}, nil
}

// Enqueue appends items to the queue. Items enqueued while Run is active
// are processed in the same run.
func (r *Runner) Enqueue(items ...Item) {
	r.mu.Lock()
	r.queue = append(r.queue, items...)
	r.mu.Unlock()
}

// EnqueueDir enqueues every image of dir in numeric file order.
func (r *Runner) EnqueueDir(dir string) (int, error) {
	files, err := imageio.ListImages(dir)
	if err != nil {
		return 0, err
	}
	items := make([]Item, len(files))
	for i, f := range files {
		items[i] = FileItem(f)
	}
	r.Enqueue(items...)
	return len(items), nil
}

// Pending is the number of queued items not yet started.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) - r.next
}

// Cancel asks the worker to stop. The item in progress completes; no
// further item starts. A Cancel issued while no run is active stops the
// next run before its first item.
func (r *Runner) Cancel() { r.canceled.Store(true) }

func (r *Runner) pop() (Item, int, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.queue) {
		return Item{}, 0, len(r.queue), false
	}
	i := r.next
	r.next++
	return r.queue[i], i, len(r.queue), true
}

// Run processes queued items in order until the queue is empty, Cancel is
// called, or ctx is done. A failing item is recorded and the run continues
// with the next one. Only one Run may be active at a time.
func (r *Runner) Run(ctx context.Context) Summary {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Summary{Failures: []Failure{{Index: -1, Name: "run", Err: errors.New("batch already running")}}}
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.canceled.Store(false)
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := time.Now()
	r.params.Progress.ResetTimer()
	var sum Summary
	for {
		if r.canceled.Load() || ctx.Err() != nil {
			sum.Canceled = r.Pending() > 0
			break
		}
		item, index, total, ok := r.pop()
		if !ok {
			break
		}

		res, err := r.process(item, index)
		if err != nil {
			sum.Failures = append(sum.Failures, Failure{Index: index, Name: item.Name, Err: err})
			r.params.Logger.Warn("batch item failed",
				slog.String(logging.KeyItem, item.Name),
				slog.Any("error", err),
			)
		} else {
			sum.Results = append(sum.Results, res)
			if r.params.OnItem != nil {
				r.params.OnItem(res)
			}
		}
		r.params.Progress.Report(index+1, total, item.Name)
	}
	sum.Duration = time.Since(start)

	r.params.Logger.Info("batch finished",
		slog.Int("processed", sum.Processed()),
		slog.Int("failures", len(sum.Failures)),
		slog.Bool("canceled", sum.Canceled),
		slog.Int64(logging.KeyDuration, sum.Duration.Milliseconds()),
	)
	return sum
}

// Start runs the batch on a new goroutine and delivers the summary on the
// returned channel.
func (r *Runner) Start(ctx context.Context) <-chan Summary {
	done := make(chan Summary, 1)
	go func() {
		done <- r.Run(ctx)
	}()
	return done
}

// process segments one item and writes its outputs.
func (r *Runner) process(item Item, index int) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while processing: %v", p)
		}
	}()

	res = Result{Index: index, Name: item.Name}
	if r.params.OutputDir != "" && !r.params.Overwrite && r.outputsExist(item.Name) {
		res.Skipped = true
		return res, nil
	}

	if item.Open == nil {
		return res, fmt.Errorf("item has no image source")
	}
	img, err := item.Open()
	if err != nil {
		return res, err
	}
	if !r.params.Preprocess.Identity() {
		if img, err = preprocess.Enhance(img, r.params.Preprocess); err != nil {
			return res, err
		}
	}

	col, err := features.Extract(img, r.params.Features)
	if err != nil {
		return res, err
	}
	lm, proba, err := r.params.Model.Classify(col)
	if err != nil {
		return res, err
	}
	res.Labels = lm
	res.Binary = segmentation.Binarize(lm, r.params.Policy)

	if r.params.OutputDir == "" {
		return res, nil
	}
	outputs, err := r.save(item.Name, img, proba, res)
	res.Outputs = outputs
	return res, err
}

func (r *Runner) outputPath(name, suffix, ext string) string {
	return filepath.Join(r.params.OutputDir, fmt.Sprintf("%s_%s.%s", name, suffix, ext))
}

// outputsExist reports whether the primary output of name is on disk.
func (r *Runner) outputsExist(name string) bool {
	path := r.outputPath(name, "labels", "png")
	if r.params.Binary {
		path = r.outputPath(name, "mask", r.params.Format)
	}
	_, err := os.Stat(path)
	return err == nil
}

// save writes the label map, and optionally the binary mask, probability
// map and overlay.
func (r *Runner) save(name string, img image.Image, proba *mat.Dense, res Result) ([]string, error) {
	var written []string

	path := r.outputPath(name, "labels", "png")
	if err := imageio.SaveLabelMap(res.Labels, path); err != nil {
		return written, err
	}
	written = append(written, path)

	if r.params.Binary {
		path := r.outputPath(name, "mask", r.params.Format)
		if err := imageio.Save(visualization.BinaryImage(res.Binary), path); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if r.params.SaveProbabilities {
		g, err := r.params.Model.ProbabilityPlane(proba, res.Labels.Shape, r.params.ProbabilityLabel)
		if err != nil {
			return written, err
		}
		path := r.outputPath(name, "prob", "png")
		if err := imageio.Save(visualization.GridImage(g), path); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if r.params.SaveOverlay {
		overlay, err := r.viewer.Overlay(img, res.Labels)
		if err != nil {
			return written, err
		}
		path := r.outputPath(name, "overlay", "png")
		if err := imageio.Save(overlay, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
