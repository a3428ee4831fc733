package labels

import (
	"fmt"
	"image/color"
	"math"
	"sort"

	colorful "github.com/lucasb-eyer/go-colorful"

	"cellseg/internal/models"
)

// Built-in label identifiers.
const (
	Cell       models.Label = 1
	Background models.Label = 2
	Nucleus    models.Label = 3
	Membrane   models.Label = 4
)

// Class is one named label.
type Class struct {
	ID    models.Label
	Name  string
	Color color.RGBA
}

// Catalog maps label identifiers to display names and colors. Identifiers
// handed out by Add start after the built-in ones and are never reused.
type Catalog struct {
	classes map[models.Label]Class
	next    models.Label
}

// NewCatalog returns a catalog holding the four built-in classes.
func NewCatalog() *Catalog {
	c := &Catalog{classes: make(map[models.Label]Class), next: Membrane + 1}
	c.classes[Cell] = Class{ID: Cell, Name: "Cell", Color: color.RGBA{R: 255, A: 255}}
	c.classes[Background] = Class{ID: Background, Name: "Background", Color: color.RGBA{A: 255}}
	c.classes[Nucleus] = Class{ID: Nucleus, Name: "Nucleus", Color: color.RGBA{G: 255, A: 255}}
	c.classes[Membrane] = Class{ID: Membrane, Name: "Membrane", Color: color.RGBA{B: 255, A: 255}}
	return c
}

// Add registers a user-defined class. Its color walks the hue circle by the
// golden ratio so consecutive classes stay distinguishable.
func (c *Catalog) Add(name string) (Class, error) {
	if name == "" {
		return Class{}, fmt.Errorf("label name must not be empty")
	}
	if c.next == math.MaxUint16 {
		return Class{}, fmt.Errorf("label identifiers exhausted")
	}
	id := c.next
	c.next++

	hue := math.Mod(float64(id)*0.618, 1.0)
	r, g, b := colorful.Hsv(hue*360, 0.8, 0.8).RGB255()
	cls := Class{ID: id, Name: name, Color: color.RGBA{R: r, G: g, B: b, A: 255}}
	c.classes[id] = cls
	return cls, nil
}

// Get returns the class registered for id.
func (c *Catalog) Get(id models.Label) (Class, bool) {
	cls, ok := c.classes[id]
	return cls, ok
}

// Color returns the display color of id, gray for unknown identifiers.
func (c *Catalog) Color(id models.Label) color.RGBA {
	if cls, ok := c.classes[id]; ok {
		return cls.Color
	}
	return color.RGBA{R: 128, G: 128, B: 128, A: 255}
}

// Classes lists all classes ordered by identifier.
func (c *Catalog) Classes() []Class {
	out := make([]Class, 0, len(c.classes))
	for _, cls := range c.classes {
		out = append(out, cls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Rename changes the display name of an existing class.
func (c *Catalog) Rename(id models.Label, name string) error {
	cls, ok := c.classes[id]
	if !ok {
		return fmt.Errorf("unknown label %d", id)
	}
	cls.Name = name
	c.classes[id] = cls
	return nil
}
