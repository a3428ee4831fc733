// Package features implements the per-pixel filter bank used to describe
// microscopy images for pixel classification, and the assembler that turns
// the resulting feature maps into fixed-order numeric vectors.
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// FilterKind names one family of filters in the bank.
type FilterKind string

const (
	Gaussian          FilterKind = "gaussian"
	Edge              FilterKind = "edge"
	LaplacianOfGauss  FilterKind = "log"
	GradientMagnitude FilterKind = "ggm"
	DiffOfGaussians   FilterKind = "dog"
	Texture           FilterKind = "texture"
	StructureTensor   FilterKind = "structure"
	HessianEigenvalue FilterKind = "hessian"
)

// AllKinds lists every supported filter kind in the default bank order.
var AllKinds = []FilterKind{
	Gaussian, Edge, LaplacianOfGauss, GradientMagnitude,
	DiffOfGaussians, Texture, StructureTensor, HessianEigenvalue,
}

// prefix is the identifier stem used for the maps a kind produces.
func (k FilterKind) prefix() string {
	switch k {
	case Gaussian:
		return "Gaussian"
	case Edge:
		return "Edge"
	case LaplacianOfGauss:
		return "LoG"
	case GradientMagnitude:
		return "GGM"
	case DiffOfGaussians:
		return "DoG"
	case Texture:
		return "Gabor"
	case StructureTensor:
		return "StructureTensor"
	case HessianEigenvalue:
		return "Hessian"
	}
	return string(k)
}

// multiScale reports whether the kind produces one map per configured scale.
func (k FilterKind) multiScale() bool {
	switch k {
	case Edge, StructureTensor:
		return false
	}
	return true
}

// components is the number of values a single map of this kind holds per pixel.
func (k FilterKind) components() int {
	switch k {
	case Edge, StructureTensor:
		return 2
	}
	return 1
}

// Valid reports whether k is a known filter kind.
func (k FilterKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Filter is one entry of a feature configuration.
type Filter struct {
	Kind    FilterKind `yaml:"kind" json:"kind"`
	Enabled bool       `yaml:"enabled" json:"enabled"`

	// Scales overrides Config.Sigmas for this filter when non-empty.
	Scales []float64 `yaml:"scales,omitempty" json:"scales,omitempty"`
}

// Config is an ordered feature configuration. The order of Filters is the
// order in which feature maps are produced and assembled into vectors, so two
// vectors are only comparable when produced under an equal Config.
type Config struct {
	Sigmas  []float64 `yaml:"sigmas" json:"sigmas"`
	Filters []Filter  `yaml:"filters" json:"filters"`

	// TextureFrequency is the band-pass frequency (cycles/pixel) of the texture filter.
	TextureFrequency float64 `yaml:"textureFrequency" json:"texture_frequency"`

	// StructureSigma smooths the gradient outer product of the structure tensor.
	StructureSigma float64 `yaml:"structureSigma" json:"structure_sigma"`
}

// DefaultSigmas are the scale values offered when nothing is configured.
var DefaultSigmas = []float64{0.3, 0.7, 1.0, 1.6, 3.5, 5.0, 10.0}

// DefaultConfig returns the bank with the cheap filters enabled and the
// expensive texture, structure and Hessian filters disabled.
func DefaultConfig() Config {
	cfg := Config{
		Sigmas:           append([]float64(nil), DefaultSigmas...),
		TextureFrequency: 0.6,
		StructureSigma:   1.0,
	}
	for _, k := range AllKinds {
		enabled := true
		switch k {
		case Texture, StructureTensor, HessianEigenvalue:
			enabled = false
		}
		cfg.Filters = append(cfg.Filters, Filter{Kind: k, Enabled: enabled})
	}
	return cfg
}

// Clone returns a deep copy so callers can mutate the result freely.
func (c Config) Clone() Config {
	out := c
	out.Sigmas = append([]float64(nil), c.Sigmas...)
	out.Filters = make([]Filter, len(c.Filters))
	for i, f := range c.Filters {
		f.Scales = append([]float64(nil), f.Scales...)
		out.Filters[i] = f
	}
	return out
}

// SetEnabled toggles every entry of the given kind. It returns false if the
// configuration has no entry for kind.
func (c *Config) SetEnabled(kind FilterKind, enabled bool) bool {
	found := false
	for i := range c.Filters {
		if c.Filters[i].Kind == kind {
			c.Filters[i].Enabled = enabled
			found = true
		}
	}
	return found
}

// Validate checks that every filter kind is known and listed once.
func (c Config) Validate() error {
	seen := make(map[FilterKind]bool, len(c.Filters))
	for i, f := range c.Filters {
		if !f.Kind.Valid() {
			return fmt.Errorf("filter %d: unknown kind %q", i, f.Kind)
		}
		if seen[f.Kind] {
			return fmt.Errorf("filter %d: kind %q listed twice", i, f.Kind)
		}
		seen[f.Kind] = true
	}
	if c.TextureFrequency <= 0 {
		return fmt.Errorf("texture frequency must be positive, got %g", c.TextureFrequency)
	}
	if c.StructureSigma <= 0 {
		return fmt.Errorf("structure sigma must be positive, got %g", c.StructureSigma)
	}
	return nil
}

// scales returns the effective scale list of f.
func (c Config) scales(f Filter) []float64 {
	if len(f.Scales) > 0 {
		return f.Scales
	}
	return c.Sigmas
}

// Fingerprint is a stable digest of everything that shapes the feature vector
// layout and values: enabled kinds in order, their effective scales and the
// fixed filter parameters. Disabled entries do not contribute.
func (c Config) Fingerprint() string {
	var b strings.Builder
	for _, f := range c.Filters {
		if !f.Enabled {
			continue
		}
		b.WriteString(string(f.Kind))
		if f.Kind.multiScale() {
			b.WriteByte('[')
			for i, s := range c.scales(f) {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteString(strconv.FormatFloat(s, 'g', -1, 64))
			}
			b.WriteByte(']')
		}
		switch f.Kind {
		case Texture:
			b.WriteString("f=" + strconv.FormatFloat(c.TextureFrequency, 'g', -1, 64))
		case StructureTensor:
			b.WriteString("s=" + strconv.FormatFloat(c.StructureSigma, 'g', -1, 64))
		}
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two configurations produce the same feature space.
func (c Config) Equal(other Config) bool {
	return c.Fingerprint() == other.Fingerprint()
}

// Layout describes one feature map the configuration produces.
type Layout struct {
	ID         string
	Kind       FilterKind
	Sigma      float64 // second sigma for DoG is Sigma2
	Sigma2     float64
	Components int
}

// Plan expands the configuration into the ordered list of maps Extract will
// produce. Scale-dependent entries skip any sigma <= 0 but keep the index of
// the sigma in the identifier, so "Gaussian_3" always refers to the fourth
// configured scale.
func (c Config) Plan() []Layout {
	var plan []Layout
	for _, f := range c.Filters {
		if !f.Enabled {
			continue
		}
		scales := c.scales(f)
		switch {
		case f.Kind == DiffOfGaussians:
			// Adjacent pairs by position: (s[i], s[i+1]).
			for i := 0; i+1 < len(scales); i++ {
				if scales[i] <= 0 || scales[i+1] <= 0 {
					continue
				}
				plan = append(plan, Layout{
					ID:         fmt.Sprintf("%s_%d", f.Kind.prefix(), i),
					Kind:       f.Kind,
					Sigma:      scales[i],
					Sigma2:     scales[i+1],
					Components: 1,
				})
			}
		case f.Kind.multiScale():
			for i, s := range scales {
				if s <= 0 {
					continue
				}
				plan = append(plan, Layout{
					ID:         fmt.Sprintf("%s_%d", f.Kind.prefix(), i),
					Kind:       f.Kind,
					Sigma:      s,
					Components: 1,
				})
			}
		default:
			l := Layout{ID: f.Kind.prefix(), Kind: f.Kind, Components: f.Kind.components()}
			if f.Kind == StructureTensor {
				l.Sigma = c.StructureSigma
			}
			plan = append(plan, l)
		}
	}
	return plan
}

// VectorWidth is the number of values per pixel the configuration produces.
// It depends only on the configuration, never on the pixels sampled.
func VectorWidth(c Config) int {
	width := 0
	for _, l := range c.Plan() {
		width += l.Components
	}
	return width
}
