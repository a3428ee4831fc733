package features

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"cellseg/internal/models"
)

// Extract computes the feature maps of img under cfg from its luminance.
func Extract(img image.Image, cfg Config) (*Collection, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	return ExtractGray(models.ToGray(img), cfg)
}

// ExtractGray runs the bank over an already converted grayscale grid. Maps
// are computed concurrently but each lands in its planned slot, so the
// result is identical from call to call.
func ExtractGray(gray *models.Grid, cfg Config) (*Collection, error) {
	if gray == nil || !gray.Valid() {
		return nil, fmt.Errorf("image must be non-empty: %w", models.ErrShapeMismatch)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature configuration: %w", err)
	}

	plan := cfg.Plan()
	col := &Collection{
		Shape:       gray.Shape,
		Fingerprint: cfg.Fingerprint(),
		Maps:        make([]Map, len(plan)),
	}

	blurs := newBlurCache(gray)
	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := runtime.NumCPU()
	if workers > len(plan) {
		workers = len(plan)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				col.Maps[i] = compute(gray, blurs, plan[i], cfg)
			}
		}()
	}
	for i := range plan {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return col, nil
}

// compute produces the single map described by l.
func compute(gray *models.Grid, blurs *blurCache, l Layout, cfg Config) Map {
	switch l.Kind {
	case Gaussian:
		return Scalar{Name: l.ID, Grid: blurs.get(l.Sigma)}
	case Edge:
		dy, dx := sobel(gray)
		return Vector{Name: l.ID, Planes: []*models.Grid{dy, dx}}
	case LaplacianOfGauss:
		return Scalar{Name: l.ID, Grid: laplace(blurs.get(l.Sigma))}
	case GradientMagnitude:
		return Scalar{Name: l.ID, Grid: gradientMagnitude(gray, l.Sigma)}
	case DiffOfGaussians:
		return Scalar{Name: l.ID, Grid: difference(blurs.get(l.Sigma), blurs.get(l.Sigma2))}
	case Texture:
		return Scalar{Name: l.ID, Grid: textureResponse(gray, cfg.TextureFrequency, l.Sigma)}
	case StructureTensor:
		l1, l2 := structureTensor(gray, l.Sigma)
		return Vector{Name: l.ID, Planes: []*models.Grid{l1, l2}}
	case HessianEigenvalue:
		return Scalar{Name: l.ID, Grid: hessianLargest(gray, l.Sigma)}
	}
	panic(fmt.Sprintf("features: unhandled filter kind %q", l.Kind))
}

// blurCache shares Gaussian-smoothed copies between the smoothing, LoG and
// DoG filters. Cached grids are never mutated after creation.
type blurCache struct {
	src     *models.Grid
	mu      sync.Mutex
	entries map[float64]*blurEntry
}

type blurEntry struct {
	once sync.Once
	grid *models.Grid
}

func newBlurCache(src *models.Grid) *blurCache {
	return &blurCache{src: src, entries: make(map[float64]*blurEntry)}
}

func (c *blurCache) get(sigma float64) *models.Grid {
	c.mu.Lock()
	e, ok := c.entries[sigma]
	if !ok {
		e = &blurEntry{}
		c.entries[sigma] = e
	}
	c.mu.Unlock()

	e.once.Do(func() { e.grid = gaussianBlur(c.src, sigma) })
	return e.grid
}
