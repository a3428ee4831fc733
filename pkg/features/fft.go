package features

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2D performs an in-place 2D Fast Fourier Transform on a row-major
// complex grid of h rows and w columns. Rows are transformed first, then
// columns. With inverse set the result is divided by h*w, so a forward
// transform followed by an inverse one returns the input.
//
// Parameters:
//   - data: grid samples, len(data) == h*w
//   - h, w: grid dimensions (any positive size, not only powers of two)
//   - inverse: compute the inverse transform
func fft2D(data []complex128, h, w int, inverse bool) {
	rowFFT := fourier.NewCmplxFFT(w)
	row := make([]complex128, w)
	for i := 0; i < h; i++ {
		seg := data[i*w : (i+1)*w]
		if inverse {
			rowFFT.Sequence(row, seg)
		} else {
			rowFFT.Coefficients(row, seg)
		}
		copy(seg, row)
	}

	colFFT := fourier.NewCmplxFFT(h)
	colIn := make([]complex128, h)
	colOut := make([]complex128, h)
	for j := 0; j < w; j++ {
		for i := 0; i < h; i++ {
			colIn[i] = data[i*w+j]
		}
		if inverse {
			colFFT.Sequence(colOut, colIn)
		} else {
			colFFT.Coefficients(colOut, colIn)
		}
		for i := 0; i < h; i++ {
			data[i*w+j] = colOut[i]
		}
	}

	if inverse {
		// gonum transforms are unnormalized
		scale := complex(1/float64(h*w), 0)
		for i := range data {
			data[i] *= scale
		}
	}
}

// convolveFFT convolves g with a complex kernel of odd side 2*radius+1
// (kernel[(dy+radius)*side+(dx+radius)] holds offset (dx, dy)). The image is
// padded by radius on every side with mirrored samples so that the circular
// convolution computed in the frequency domain never wraps into the result.
func convolveFFT(g *gridView, kernel []complex128, radius int) []complex128 {
	ph := g.h + 2*radius
	pw := g.w + 2*radius
	side := 2*radius + 1

	img := make([]complex128, ph*pw)
	for y := 0; y < ph; y++ {
		sy := reflectIndex(y-radius, g.h)
		for x := 0; x < pw; x++ {
			sx := reflectIndex(x-radius, g.w)
			img[y*pw+x] = complex(g.data[sy*g.w+sx], 0)
		}
	}

	ker := make([]complex128, ph*pw)
	for dy := -radius; dy <= radius; dy++ {
		ky := (dy + ph) % ph
		for dx := -radius; dx <= radius; dx++ {
			kx := (dx + pw) % pw
			ker[ky*pw+kx] = kernel[(dy+radius)*side+(dx+radius)]
		}
	}

	fft2D(img, ph, pw, false)
	fft2D(ker, ph, pw, false)
	for i := range img {
		img[i] *= ker[i]
	}
	fft2D(img, ph, pw, true)

	out := make([]complex128, g.h*g.w)
	for y := 0; y < g.h; y++ {
		copy(out[y*g.w:(y+1)*g.w], img[(y+radius)*pw+radius:(y+radius)*pw+radius+g.w])
	}
	return out
}

// gridView is the minimal read-only view convolveFFT needs.
type gridView struct {
	data []float64
	h, w int
}
