package features

import (
	"math"

	"cellseg/internal/models"
)

// truncate is the kernel half-width in standard deviations.
const truncate = 4.0

// gaussianKernel samples the order-th derivative of a normalised 1-D Gaussian
// over [-r, r] with r = int(truncate*sigma + 0.5). Index j holds offset j-r.
func gaussianKernel(sigma float64, order int) []float64 {
	radius := int(truncate*sigma + 0.5)
	if radius < 1 {
		radius = 1
	}
	size := 2*radius + 1
	phi := make([]float64, size)
	sum := 0.0
	s2 := sigma * sigma
	for j := 0; j < size; j++ {
		x := float64(j - radius)
		phi[j] = math.Exp(-0.5 * x * x / s2)
		sum += phi[j]
	}
	for j := range phi {
		phi[j] /= sum
	}

	switch order {
	case 0:
		return phi
	case 1:
		k := make([]float64, size)
		for j := range k {
			x := float64(j - radius)
			k[j] = -x / s2 * phi[j]
		}
		return k
	case 2:
		k := make([]float64, size)
		for j := range k {
			x := float64(j - radius)
			k[j] = (x*x/(s2*s2) - 1/s2) * phi[j]
		}
		return k
	}
	panic("features: gaussian derivative order must be 0, 1 or 2")
}

// clampIndex maps an out-of-range index to the nearest edge sample.
func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// reflectIndex mirrors an out-of-range index about the edges, repeating the
// edge sample (d c b a | a b c d | d c b a).
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// convolveRows convolves every row with kernel (true convolution, edges
// extended with the nearest sample).
func convolveRows(src *models.Grid, kernel []float64) *models.Grid {
	dst := models.NewGrid(src.Shape)
	radius := len(kernel) / 2
	w := src.Width
	for y := 0; y < src.Height; y++ {
		row := src.Data[y*w : (y+1)*w]
		out := dst.Data[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			acc := 0.0
			for j, k := range kernel {
				acc += k * row[clampIndex(x-(j-radius), w)]
			}
			out[x] = acc
		}
	}
	return dst
}

// convolveCols convolves every column with kernel.
func convolveCols(src *models.Grid, kernel []float64) *models.Grid {
	dst := models.NewGrid(src.Shape)
	radius := len(kernel) / 2
	w, h := src.Width, src.Height
	for y := 0; y < h; y++ {
		out := dst.Data[y*w : (y+1)*w]
		for j, k := range kernel {
			row := src.Data[clampIndex(y-(j-radius), h)*w:]
			for x := 0; x < w; x++ {
				out[x] += k * row[x]
			}
		}
	}
	return dst
}

// gaussianDerivative filters g with a separable Gaussian whose derivative
// order is orderY along rows (vertical axis) and orderX along columns.
func gaussianDerivative(g *models.Grid, sigma float64, orderY, orderX int) *models.Grid {
	tmp := convolveRows(g, gaussianKernel(sigma, orderX))
	return convolveCols(tmp, gaussianKernel(sigma, orderY))
}

// gaussianBlur is the zero-order Gaussian smoothing of g.
func gaussianBlur(g *models.Grid, sigma float64) *models.Grid {
	return gaussianDerivative(g, sigma, 0, 0)
}

// sobel returns the normalised Sobel derivative of g along rows (dy, axis 0)
// and along columns (dx, axis 1).
func sobel(g *models.Grid) (dy, dx *models.Grid) {
	w, h := g.Width, g.Height
	dy = models.NewGrid(g.Shape)
	dx = models.NewGrid(g.Shape)
	at := func(x, y int) float64 {
		return g.Data[clampIndex(y, h)*w+clampIndex(x, w)]
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := (at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)) -
				(at(x-1, y-1) + 2*at(x-1, y) + at(x-1, y+1))
			gy := (at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)) -
				(at(x-1, y-1) + 2*at(x, y-1) + at(x+1, y-1))
			dx.Data[y*w+x] = gx / 8
			dy.Data[y*w+x] = gy / 8
		}
	}
	return dy, dx
}

// laplace applies the 3x3 discrete Laplace operator (center 4, four
// neighbours -1).
func laplace(g *models.Grid) *models.Grid {
	w, h := g.Width, g.Height
	out := models.NewGrid(g.Shape)
	at := func(x, y int) float64 {
		return g.Data[clampIndex(y, h)*w+clampIndex(x, w)]
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Data[y*w+x] = 4*at(x, y) - at(x-1, y) - at(x+1, y) - at(x, y-1) - at(x, y+1)
		}
	}
	return out
}

// symEigen2 returns the eigenvalues (l1 >= l2) of the symmetric matrix
// [[a, b], [b, c]].
func symEigen2(a, b, c float64) (l1, l2 float64) {
	mean := 0.5 * (a + c)
	root := math.Sqrt(0.25*(a-c)*(a-c) + b*b)
	return mean + root, mean - root
}

func structureTensor(g *models.Grid, sigma float64) (l1, l2 *models.Grid) {
	dy, dx := sobel(g)
	n := g.Len()
	xx := models.NewGrid(g.Shape)
	xy := models.NewGrid(g.Shape)
	yy := models.NewGrid(g.Shape)
	for i := 0; i < n; i++ {
		xx.Data[i] = dy.Data[i] * dy.Data[i]
		xy.Data[i] = dy.Data[i] * dx.Data[i]
		yy.Data[i] = dx.Data[i] * dx.Data[i]
	}
	xx = gaussianBlur(xx, sigma)
	xy = gaussianBlur(xy, sigma)
	yy = gaussianBlur(yy, sigma)

	l1 = models.NewGrid(g.Shape)
	l2 = models.NewGrid(g.Shape)
	for i := 0; i < n; i++ {
		l1.Data[i], l2.Data[i] = symEigen2(xx.Data[i], xy.Data[i], yy.Data[i])
	}
	return l1, l2
}

// hessianLargest returns the largest eigenvalue of the Hessian of the
// Gaussian-smoothed image at every pixel.
func hessianLargest(g *models.Grid, sigma float64) *models.Grid {
	hrr := gaussianDerivative(g, sigma, 2, 0)
	hrc := gaussianDerivative(g, sigma, 1, 1)
	hcc := gaussianDerivative(g, sigma, 0, 2)
	out := models.NewGrid(g.Shape)
	for i := range out.Data {
		out.Data[i], _ = symEigen2(hrr.Data[i], hrc.Data[i], hcc.Data[i])
	}
	return out
}

func gradientMagnitude(g *models.Grid, sigma float64) *models.Grid {
	gy := gaussianDerivative(g, sigma, 1, 0)
	gx := gaussianDerivative(g, sigma, 0, 1)
	out := models.NewGrid(g.Shape)
	for i := range out.Data {
		out.Data[i] = math.Hypot(gx.Data[i], gy.Data[i])
	}
	return out
}

func difference(a, b *models.Grid) *models.Grid {
	out := models.NewGrid(a.Shape)
	for i := range out.Data {
		out.Data[i] = a.Data[i] - b.Data[i]
	}
	return out
}
