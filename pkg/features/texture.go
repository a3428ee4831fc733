package features

import (
	"math"
	"math/cmplx"

	"cellseg/internal/models"
)

// gaborKernel builds a complex Gabor band-pass kernel tuned to frequency
// (cycles per pixel) along the x axis, with an isotropic Gaussian envelope of
// width sigma. The kernel extends three standard deviations (at least one
// pixel) around its center.
func gaborKernel(frequency, sigma float64) ([]complex128, int) {
	radius := int(math.Ceil(math.Max(3*sigma, 1)))
	side := 2*radius + 1
	kernel := make([]complex128, side*side)
	norm := 1 / (2 * math.Pi * sigma * sigma)
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			fx, fy := float64(x), float64(y)
			envelope := norm * math.Exp(-0.5*(fx*fx+fy*fy)/(sigma*sigma))
			carrier := cmplx.Exp(complex(0, 2*math.Pi*frequency*fx))
			kernel[(y+radius)*side+(x+radius)] = complex(envelope, 0) * carrier
		}
	}
	return kernel, radius
}

// textureResponse is the magnitude of the Gabor response at every pixel.
func textureResponse(g *models.Grid, frequency, sigma float64) *models.Grid {
	kernel, radius := gaborKernel(frequency, sigma)
	resp := convolveFFT(&gridView{data: g.Data, h: g.Height, w: g.Width}, kernel, radius)
	out := models.NewGrid(g.Shape)
	for i, c := range resp {
		out.Data[i] = cmplx.Abs(c)
	}
	return out
}
