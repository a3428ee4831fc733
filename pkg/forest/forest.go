// Package forest implements the pixel classifier: a bagged ensemble of
// randomized CART trees trained on the accumulated training set.
package forest

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"cellseg/internal/logging"
	"cellseg/internal/models"
	"cellseg/internal/progress"
	"cellseg/pkg/features"
	"cellseg/pkg/training"
)

// Params controls forest training.
type Params struct {
	Trees           int   `yaml:"trees" json:"trees"`
	Seed            int64 `yaml:"seed" json:"seed"`
	MaxDepth        int   `yaml:"maxDepth" json:"max_depth"` // 0 = unlimited
	MinSamplesSplit int   `yaml:"minSamplesSplit" json:"min_samples_split"`

	// MaxFeatures is the number of features tried per split; 0 means ceil(sqrt(width)).
	MaxFeatures int  `yaml:"maxFeatures" json:"max_features"`
	Bootstrap   bool `yaml:"bootstrap" json:"bootstrap"`
	NumCores    int  `yaml:"numCores" json:"-"`
}

// DefaultParams returns 100 bootstrapped trees seeded with 42.
func DefaultParams() Params {
	return Params{
		Trees:           100,
		Seed:            42,
		MinSamplesSplit: 2,
		Bootstrap:       true,
		NumCores:        runtime.NumCPU(),
	}
}

func (p Params) featuresPerSplit(width int) int {
	if p.MaxFeatures > 0 {
		return min(p.MaxFeatures, width)
	}
	return max(1, int(math.Ceil(math.Sqrt(float64(width)))))
}

func (p Params) cores() int {
	if p.NumCores > 0 {
		return p.NumCores
	}
	return runtime.NumCPU()
}

// Forest is the trained classifier. The zero state after New is untrained;
// Train replaces any previous model. A Forest is safe for concurrent
// prediction once trained, but Train must not run concurrently with anything.
type Forest struct {
	params Params
	logger *slog.Logger
	prog   *progress.Reporter

	classes     []models.Label
	width       int
	trees       []*tree
	fingerprint string
}

// New returns an untrained forest.
func New(params Params) *Forest {
	if params.Trees <= 0 {
		params.Trees = DefaultParams().Trees
	}
	return &Forest{params: params, logger: slog.Default()}
}

// SetLogger replaces the logger used for training summaries.
func (f *Forest) SetLogger(logger *slog.Logger) {
	if logger != nil {
		f.logger = logger
	}
}

// SetProgress installs a reporter that receives one update per finished tree.
func (f *Forest) SetProgress(r *progress.Reporter) { f.prog = r }

// Params returns the training parameters.
func (f *Forest) Params() Params { return f.params }

// Trained reports whether a model is available.
func (f *Forest) Trained() bool { return len(f.trees) > 0 }

// Classes returns the labels the model can predict, ascending.
func (f *Forest) Classes() []models.Label { return append([]models.Label(nil), f.classes...) }

// Width is the feature vector width the model was trained on.
func (f *Forest) Width() int { return f.width }

// Fingerprint identifies the feature configuration of the training rows.
func (f *Forest) Fingerprint() string { return f.fingerprint }

// Train fits a fresh ensemble on every row of acc. Identical training sets
// and parameters give identical models: tree i draws from its own generator
// seeded with Seed+i, whatever the scheduling of the workers.
func (f *Forest) Train(acc *training.Accumulator) error {
	if acc == nil || acc.Len() == 0 {
		return models.ErrEmptyTrainingSet
	}
	classes := acc.Classes()
	if len(classes) < 2 {
		return fmt.Errorf("%d distinct label(s): %w", len(classes), models.ErrInsufficientClasses)
	}

	start := time.Now()
	classIndex := make(map[models.Label]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}
	n := acc.Len()
	data := sample{
		rows:    acc.Row,
		classes: make([]int, n),
		k:       len(classes),
		width:   acc.Width(),
	}
	for i := 0; i < n; i++ {
		data.classes[i] = classIndex[acc.Label(i)]
	}

	trees := make([]*tree, f.params.Trees)
	jobs := make(chan int)
	var wg sync.WaitGroup
	var doneMu sync.Mutex
	done := 0
	f.prog.ResetTimer()

	workers := min(f.params.cores(), len(trees))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := newGrower(data, f.params, nil)
			for t := range jobs {
				rng := rand.New(rand.NewSource(f.params.Seed + int64(t)))
				g.rng = rng
				trees[t] = g.grow(f.bootstrap(rng, n))

				doneMu.Lock()
				done++
				f.prog.Report(done, len(trees), "growing trees")
				doneMu.Unlock()
			}
		}()
	}
	for t := range trees {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	f.classes = classes
	f.width = data.width
	f.trees = trees
	f.fingerprint = acc.Fingerprint()

	meanDepth, sdDepth := stat.MeanStdDev(f.Depths(), nil)
	f.logger.Info("forest trained",
		slog.String(logging.KeyOperation, "train"),
		slog.Int(logging.KeySamples, n),
		slog.Int(logging.KeyFeatures, data.width),
		slog.Int("classes", len(classes)),
		slog.Int("trees", len(trees)),
		slog.Float64("depth.mean", meanDepth),
		slog.Float64("depth.sd", sdDepth),
		slog.Int64(logging.KeyDuration, time.Since(start).Milliseconds()),
	)
	return nil
}

// Depths returns the depth of every tree in ensemble order.
func (f *Forest) Depths() []float64 {
	d := make([]float64, len(f.trees))
	for i, t := range f.trees {
		d[i] = float64(t.depth())
	}
	return d
}

// bootstrap draws the row indices a tree is grown on.
func (f *Forest) bootstrap(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	if !f.params.Bootstrap {
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

// PredictProba returns one row per input vector with the mean class
// distribution over all trees; column j corresponds to Classes()[j].
func (f *Forest) PredictProba(vectors mat.Matrix) (*mat.Dense, error) {
	if !f.Trained() {
		return nil, models.ErrUntrainedModel
	}
	rows, cols := vectors.Dims()
	if cols != f.width {
		return nil, fmt.Errorf("vector width %d, model expects %d: %w", cols, f.width, models.ErrDimensionMismatch)
	}

	k := len(f.classes)
	out := make([]float64, rows*k)
	f.parallelRows(rows, func(lo, hi int) {
		x := make([]float64, cols)
		for r := lo; r < hi; r++ {
			mat.Row(x, r, vectors)
			acc := out[r*k : (r+1)*k]
			for _, t := range f.trees {
				floats.Add(acc, t.distribution(x))
			}
			floats.Scale(1/float64(len(f.trees)), acc)
		}
	})
	return mat.NewDense(rows, k, out), nil
}

// Predict returns the most probable label per input vector. Equal
// probabilities resolve to the smallest label.
func (f *Forest) Predict(vectors mat.Matrix) ([]models.Label, error) {
	proba, err := f.PredictProba(vectors)
	if err != nil {
		return nil, err
	}
	return f.argmax(proba), nil
}

func (f *Forest) argmax(proba *mat.Dense) []models.Label {
	rows, _ := proba.Dims()
	out := make([]models.Label, rows)
	for r := range out {
		out[r] = f.classes[floats.MaxIdx(proba.RawRowView(r))]
	}
	return out
}

// Classify runs the ensemble once over every pixel of the collection and
// returns the label map together with the probability matrix it was derived
// from: row y*width+x, column j for Classes()[j]. The collection must have
// been extracted under the configuration the model was trained with.
func (f *Forest) Classify(c *features.Collection) (*models.LabelMap, *mat.Dense, error) {
	if !f.Trained() {
		return nil, nil, models.ErrUntrainedModel
	}
	if err := f.CheckFingerprint(c.Fingerprint); err != nil {
		return nil, nil, err
	}
	m, err := features.Matrix(c)
	if err != nil {
		return nil, nil, err
	}
	proba, err := f.PredictProba(m)
	if err != nil {
		return nil, nil, err
	}
	lm := models.NewLabelMap(c.Shape)
	copy(lm.Labels, f.argmax(proba))
	return lm, proba, nil
}

// PredictImage classifies every pixel of the collection.
func (f *Forest) PredictImage(c *features.Collection) (*models.LabelMap, error) {
	lm, _, err := f.Classify(c)
	return lm, err
}

// ProbabilityImage returns the per-pixel probability of class label as a grid.
func (f *Forest) ProbabilityImage(c *features.Collection, label models.Label) (*models.Grid, error) {
	if _, err := f.classColumn(label); err != nil {
		return nil, err
	}
	_, proba, err := f.Classify(c)
	if err != nil {
		return nil, err
	}
	return f.ProbabilityPlane(proba, c.Shape, label)
}

// ProbabilityPlane cuts the grid of class label out of a probability matrix
// returned by Classify.
func (f *Forest) ProbabilityPlane(proba *mat.Dense, shape models.Shape, label models.Label) (*models.Grid, error) {
	col, err := f.classColumn(label)
	if err != nil {
		return nil, err
	}
	rows, cols := proba.Dims()
	if rows != shape.Len() || cols != len(f.classes) {
		return nil, fmt.Errorf("probabilities %dx%d do not cover %v with %d classes: %w",
			rows, cols, shape, len(f.classes), models.ErrShapeMismatch)
	}
	g := models.NewGrid(shape)
	mat.Col(g.Data, col, proba)
	return g, nil
}

func (f *Forest) classColumn(label models.Label) (int, error) {
	if !f.Trained() {
		return 0, models.ErrUntrainedModel
	}
	for i, l := range f.classes {
		if l == label {
			return i, nil
		}
	}
	return 0, fmt.Errorf("label %d not known to the model", label)
}

// CheckFingerprint fails with models.ErrConfigurationMismatch when fp names
// another feature configuration than the training one. Models trained on
// rows without a recorded configuration accept anything of the right width.
func (f *Forest) CheckFingerprint(fp string) error {
	if f.fingerprint == "" || fp == "" || fp == f.fingerprint {
		return nil
	}
	return fmt.Errorf("model trained under %.12s, features extracted under %.12s: %w",
		f.fingerprint, fp, models.ErrConfigurationMismatch)
}

// parallelRows splits [0, n) into one contiguous chunk per core.
func (f *Forest) parallelRows(n int, fn func(lo, hi int)) {
	workers := f.params.cores()
	per := (n + workers - 1) / workers
	if per < 256 {
		per = 256
	}
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += per {
		hi := min(lo+per, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
