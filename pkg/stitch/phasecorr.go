package stitch

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// phaseResult is the outcome of one overlap alignment: the estimated
// sub-pixel translation taking patch A onto patch B, and a confidence
// score in [0,1] from the normalized correlation of the aligned patches.
type phaseResult struct {
	ShiftX     float64
	ShiftY     float64
	Confidence float64
}

// phaseCorrelate estimates the translational offset between two equally
// sized patches using frequency-domain phase correlation. The patches
// are zero-padded to power-of-two dimensions, the normalized cross-power
// spectrum is inverted, and the correlation peak is refined to sub-pixel
// precision with a parabolic fit. shift is defined so that
// b(x, y) ~= a(x+shiftX, y+shiftY).
func phaseCorrelate(a, b []float64, width, height int) phaseResult {
	pw := nextPow2(width)
	ph := nextPow2(height)

	fa := fft2D(pad2D(a, width, height, pw, ph), pw, ph, false)
	fb := fft2D(pad2D(b, width, height, pw, ph), pw, ph, false)

	// Normalized cross-power spectrum FA*conj(FB). Its inverse
	// transform peaks at the translation between the patches.
	r := make([]complex128, pw*ph)
	for i := range r {
		v := fa[i] * cmplx.Conj(fb[i])
		mag := cmplx.Abs(v)
		if mag > 1e-12 {
			r[i] = v / complex(mag, 0)
		}
	}

	corr := fft2D(r, pw, ph, true)

	// Locate the peak of the real correlation surface.
	peakIdx := 0
	peakVal := math.Inf(-1)
	for i, v := range corr {
		if re := real(v); re > peakVal {
			peakVal = re
			peakIdx = i
		}
	}
	px := peakIdx % pw
	py := peakIdx / pw

	sx := float64(px) + parabolicOffset(
		real(corr[py*pw+wrap(px-1, pw)]),
		real(corr[py*pw+px]),
		real(corr[py*pw+wrap(px+1, pw)]))
	sy := float64(py) + parabolicOffset(
		real(corr[wrap(py-1, ph)*pw+px]),
		real(corr[py*pw+px]),
		real(corr[wrap(py+1, ph)*pw+px]))

	// Peaks past the midpoint are negative shifts that wrapped around.
	if sx > float64(pw)/2 {
		sx -= float64(pw)
	}
	if sy > float64(ph)/2 {
		sy -= float64(ph)
	}

	return phaseResult{
		ShiftX:     sx,
		ShiftY:     sy,
		Confidence: alignedCorrelation(a, b, width, height, int(math.Round(sx)), int(math.Round(sy))),
	}
}

// alignedCorrelation computes the Pearson correlation of the two patches
// after shifting b back by the measured integer offset. It is the
// confidence score that gates the quality fallback: a sharp, genuine
// correlation peak aligns the patches almost perfectly, so the score
// sits near 1, while a noise peak leaves them decorrelated.
func alignedCorrelation(a, b []float64, width, height, shiftX, shiftY int) float64 {
	var va, vb []float64
	for y := 0; y < height; y++ {
		by := y + shiftY
		if by < 0 || by >= height {
			continue
		}
		for x := 0; x < width; x++ {
			bx := x + shiftX
			if bx < 0 || bx >= width {
				continue
			}
			va = append(va, a[by*width+bx])
			vb = append(vb, b[y*width+x])
		}
	}
	if len(va) < 2 {
		return 0
	}
	c := stat.Correlation(va, vb, nil)
	if math.IsNaN(c) {
		// Flat patches carry no alignment information either way;
		// treat a perfect flat-on-flat match as full confidence.
		if meansClose(va, vb) {
			return 1
		}
		return 0
	}
	return c
}

func meansClose(a, b []float64) bool {
	return math.Abs(stat.Mean(a, nil)-stat.Mean(b, nil)) < 1e-6
}

// fft2D computes the forward or inverse 2D FFT of row-major data by
// transforming rows then columns with gonum's complex FFT. The inverse
// transform is normalized.
func fft2D(data []complex128, width, height int, inverse bool) []complex128 {
	out := make([]complex128, width*height)

	rowFFT := fourier.NewCmplxFFT(width)
	rowIn := make([]complex128, width)
	rowOut := make([]complex128, width)
	for y := 0; y < height; y++ {
		copy(rowIn, data[y*width:(y+1)*width])
		if inverse {
			rowFFT.Sequence(rowOut, rowIn)
		} else {
			rowFFT.Coefficients(rowOut, rowIn)
		}
		copy(out[y*width:(y+1)*width], rowOut)
	}

	colFFT := fourier.NewCmplxFFT(height)
	colIn := make([]complex128, height)
	colOut := make([]complex128, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			colIn[y] = out[y*width+x]
		}
		if inverse {
			colFFT.Sequence(colOut, colIn)
		} else {
			colFFT.Coefficients(colOut, colIn)
		}
		for y := 0; y < height; y++ {
			out[y*width+x] = colOut[y]
		}
	}

	if inverse {
		n := complex(float64(width*height), 0)
		for i := range out {
			out[i] /= n
		}
	}
	return out
}

// pad2D embeds a width x height patch in the top-left corner of a
// padW x padH zero grid.
func pad2D(data []float64, width, height, padW, padH int) []complex128 {
	out := make([]complex128, padW*padH)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out[y*padW+x] = complex(data[y*width+x], 0)
		}
	}
	return out
}

// parabolicOffset fits a parabola through three samples around a peak
// and returns the sub-pixel offset of the vertex from the center sample.
func parabolicOffset(left, center, right float64) float64 {
	denom := left - 2*center + right
	if math.Abs(denom) < 1e-12 {
		return 0
	}
	off := 0.5 * (left - right) / denom
	if off > 0.5 {
		off = 0.5
	} else if off < -0.5 {
		off = -0.5
	}
	return off
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func wrap(i, n int) int {
	return ((i % n) + n) % n
}
