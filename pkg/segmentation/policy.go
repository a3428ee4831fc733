// Package segmentation turns classifier output into binary masks and drives
// the interactive label, train and segment workflow.
package segmentation

import (
	"cellseg/internal/models"
	"cellseg/pkg/labels"
)

// Foreground and BackgroundValue are the pixel values of a binary mask.
const (
	Foreground      uint8 = 255
	BackgroundValue uint8 = 0
)

// Policy decides which labels are background in binary output. Every label
// not listed, including user-added ones, is foreground. The unlabeled value
// is always background.
type Policy struct {
	Background []models.Label `yaml:"background"`
}

// DefaultPolicy treats only the built-in Background label as background, so
// Cell, Nucleus and Membrane are foreground.
func DefaultPolicy() Policy {
	return Policy{Background: []models.Label{labels.Background}}
}

// IsForeground reports how l is rendered.
func (p Policy) IsForeground(l models.Label) bool {
	if l == models.Unlabeled {
		return false
	}
	for _, b := range p.Background {
		if l == b {
			return false
		}
	}
	return true
}

// Binarize maps every label of lm to Foreground or BackgroundValue. It is a
// pure function of its arguments.
func Binarize(lm *models.LabelMap, p Policy) *models.Binary {
	lut := make(map[models.Label]uint8)
	out := models.NewBinary(lm.Shape)
	for i, l := range lm.Labels {
		v, ok := lut[l]
		if !ok {
			v = BackgroundValue
			if p.IsForeground(l) {
				v = Foreground
			}
			lut[l] = v
		}
		out.Pix[i] = v
	}
	return out
}

// ForegroundFraction is the share of foreground pixels in b.
func ForegroundFraction(b *models.Binary) float64 {
	if len(b.Pix) == 0 {
		return 0
	}
	n := 0
	for _, v := range b.Pix {
		if v == Foreground {
			n++
		}
	}
	return float64(n) / float64(len(b.Pix))
}
