package forest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"cellseg/internal/models"
	"cellseg/pkg/features"
)

// modelVersion is bumped whenever the document layout changes.
const modelVersion = 1

// document is the serialized form of a trained forest together with the
// feature configuration it was trained under.
type document struct {
	Version     int             `json:"version"`
	Config      features.Config `json:"config"`
	Fingerprint string          `json:"fingerprint"`
	Params      Params          `json:"params"`
	Classes     []models.Label  `json:"classes"`
	Width       int             `json:"width"`
	Trees       []*tree         `json:"trees"`
}

// Save writes the model and cfg as JSON. cfg must be the configuration the
// training rows were extracted under.
func (f *Forest) Save(w io.Writer, cfg features.Config) error {
	if !f.Trained() {
		return models.ErrUntrainedModel
	}
	fp := cfg.Fingerprint()
	if err := f.CheckFingerprint(fp); err != nil {
		return err
	}
	if got := features.VectorWidth(cfg); got != f.width {
		return fmt.Errorf("configuration yields width %d, model has %d: %w", got, f.width, models.ErrConfigurationMismatch)
	}
	doc := document{
		Version:     modelVersion,
		Config:      cfg,
		Fingerprint: fp,
		Params:      f.params,
		Classes:     f.classes,
		Width:       f.width,
		Trees:       f.trees,
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return nil
}

// Load reads a model written by Save and checks it against the active
// configuration. A model trained under any other configuration is rejected
// with models.ErrConfigurationMismatch.
func Load(r io.Reader, active features.Config) (*Forest, error) {
	f, cfg, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if !cfg.Equal(active) {
		return nil, fmt.Errorf("model configuration differs from the active one: %w", models.ErrConfigurationMismatch)
	}
	return f, nil
}

// Decode reads a model and returns the configuration stored with it, so
// callers can adopt it instead of checking against their own.
func Decode(r io.Reader) (*Forest, features.Config, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, features.Config{}, fmt.Errorf("failed to decode model: %w", err)
	}
	if doc.Version != modelVersion {
		return nil, features.Config{}, fmt.Errorf("unsupported model version %d", doc.Version)
	}
	if err := doc.validate(); err != nil {
		return nil, features.Config{}, err
	}
	if doc.Config.Fingerprint() != doc.Fingerprint {
		return nil, features.Config{}, fmt.Errorf("stored fingerprint does not match stored configuration: %w", models.ErrConfigurationMismatch)
	}

	params := doc.Params
	params.NumCores = DefaultParams().NumCores
	f := New(params)
	f.classes = doc.Classes
	f.width = doc.Width
	f.trees = doc.Trees
	f.fingerprint = doc.Fingerprint
	return f, doc.Config, nil
}

func (d *document) validate() error {
	if len(d.Trees) == 0 {
		return errors.New("model has no trees")
	}
	if len(d.Classes) < 2 {
		return fmt.Errorf("model has %d classes: %w", len(d.Classes), models.ErrInsufficientClasses)
	}
	if d.Width != features.VectorWidth(d.Config) {
		return fmt.Errorf("model width %d, configuration yields %d: %w", d.Width, features.VectorWidth(d.Config), models.ErrConfigurationMismatch)
	}
	for ti, t := range d.Trees {
		if t == nil || len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.leaf() {
				if len(n.Value) != len(d.Classes) {
					return fmt.Errorf("tree %d node %d: %d class weights, expected %d", ti, ni, len(n.Value), len(d.Classes))
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= d.Width ||
				n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d is malformed", ti, ni)
			}
		}
	}
	return nil
}

// SaveFile writes the model to path.
func (f *Forest) SaveFile(path string, cfg features.Config) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	if err := f.Save(file, cfg); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadFile reads a model from path and checks it against active.
func LoadFile(path string, active features.Config) (*Forest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer file.Close()
	return Load(file, active)
}
