// Package field implements the dense deformation field shared by the
// registration, correction and warping stages. A field stores one
// backward/pull displacement vector per grid cell: the displacement is
// added to a target image coordinate to find the source coordinate
// that should be sampled.
package field

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidField reports a field whose declared resolution is zero
	// or inconsistent with its own grid storage. This is an integration
	// error, distinct from degraded-quality conditions.
	ErrInvalidField = errors.New("invalid deformation field")

	// ErrInvalidResolution reports a zero or negative target resolution.
	ErrInvalidResolution = errors.New("invalid target resolution")
)

// Field is a dense grid of 2D displacement vectors in pixel units,
// defined at a specific native resolution. Displacements are only
// meaningful at that resolution; consumers needing another resolution
// must go through Rescale.
type Field struct {
	// DX and DY hold the per-cell displacement components in row-major
	// order, in pixels at the native resolution.
	DX []float64
	DY []float64

	// Width and Height are the native resolution the field is defined at.
	Width  int
	Height int
}

// New returns a zero-displacement field at the given native resolution.
func New(width, height int) (*Field, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidResolution, width, height)
	}
	return &Field{
		DX:     make([]float64, width*height),
		DY:     make([]float64, width*height),
		Width:  width,
		Height: height,
	}, nil
}

// Validate checks the field's structural invariants: nonzero declared
// resolution and grid storage matching it.
func (f *Field) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil field", ErrInvalidField)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: declared resolution %dx%d", ErrInvalidField, f.Width, f.Height)
	}
	if len(f.DX) != f.Width*f.Height || len(f.DY) != f.Width*f.Height {
		return fmt.Errorf("%w: grid storage %d/%d does not match %dx%d",
			ErrInvalidField, len(f.DX), len(f.DY), f.Width, f.Height)
	}
	return nil
}

// At returns the displacement stored at integer cell (x, y).
// Out-of-range cells return zero displacement.
func (f *Field) At(x, y int) (dx, dy float64) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0, 0
	}
	i := y*f.Width + x
	return f.DX[i], f.DY[i]
}

// Set stores a displacement at integer cell (x, y). Out-of-range cells
// are ignored.
func (f *Field) Set(x, y int, dx, dy float64) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	i := y*f.Width + x
	f.DX[i] = dx
	f.DY[i] = dy
}

// Sample returns the displacement at a continuous grid position using
// bilinear interpolation between the four surrounding cells.
// Coordinates outside the grid are clamped to the edge cells.
func (f *Field) Sample(x, y float64) (dx, dy float64) {
	x = clamp(x, 0, float64(f.Width-1))
	y = clamp(y, 0, float64(f.Height-1))

	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= f.Width {
		x1 = f.Width - 1
	}
	if y1 >= f.Height {
		y1 = f.Height - 1
	}

	fx := x - float64(x0)
	fy := y - float64(y0)

	i00 := y0*f.Width + x0
	i01 := y0*f.Width + x1
	i10 := y1*f.Width + x0
	i11 := y1*f.Width + x1

	top := f.DX[i00]*(1-fx) + f.DX[i01]*fx
	bot := f.DX[i10]*(1-fx) + f.DX[i11]*fx
	dx = top*(1-fy) + bot*fy

	top = f.DY[i00]*(1-fx) + f.DY[i01]*fx
	bot = f.DY[i10]*(1-fx) + f.DY[i11]*fx
	dy = top*(1-fy) + bot*fy

	return dx, dy
}

// Clone returns a deep copy of the field.
func (f *Field) Clone() *Field {
	out := &Field{
		DX:     make([]float64, len(f.DX)),
		DY:     make([]float64, len(f.DY)),
		Width:  f.Width,
		Height: f.Height,
	}
	copy(out.DX, f.DX)
	copy(out.DY, f.DY)
	return out
}

// Rescale returns a new field defined at the target resolution. Both the
// grid sample positions and the displacement magnitudes scale by the same
// per-axis ratio: a displacement of N pixels at the native resolution is
// N * targetWidth/nativeWidth pixels at the target resolution. The input
// field is not mutated.
func (f *Field) Rescale(targetWidth, targetHeight int) (*Field, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if targetWidth <= 0 || targetHeight <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidResolution, targetWidth, targetHeight)
	}
	if targetWidth == f.Width && targetHeight == f.Height {
		return f.Clone(), nil
	}

	sx := float64(targetWidth) / float64(f.Width)
	sy := float64(targetHeight) / float64(f.Height)

	out, _ := New(targetWidth, targetHeight)
	for y := 0; y < targetHeight; y++ {
		// Pixel-center mapping back into the native grid.
		srcY := (float64(y)+0.5)/sy - 0.5
		for x := 0; x < targetWidth; x++ {
			srcX := (float64(x)+0.5)/sx - 0.5
			dx, dy := f.Sample(srcX, srcY)
			i := y*targetWidth + x
			out.DX[i] = dx * sx
			out.DY[i] = dy * sy
		}
	}
	return out, nil
}

// RescaleRegion rescales only the portion of the field that covers the
// given rectangle [x0,x1)x[y0,y1) expressed at the target resolution
// (the resolution the whole field would have after Rescale to
// targetWidth x targetHeight). The returned field's grid is
// (x1-x0)x(y1-y0) cells; displacement magnitudes are scaled exactly as
// Rescale does. This is what lets the tiled warper keep only a
// tile-sized field slice resident.
func (f *Field) RescaleRegion(targetWidth, targetHeight, x0, y0, x1, y1 int) (*Field, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if targetWidth <= 0 || targetHeight <= 0 || x1 <= x0 || y1 <= y0 {
		return nil, fmt.Errorf("%w: region (%d,%d)-(%d,%d) at %dx%d",
			ErrInvalidResolution, x0, y0, x1, y1, targetWidth, targetHeight)
	}

	sx := float64(targetWidth) / float64(f.Width)
	sy := float64(targetHeight) / float64(f.Height)

	out, err := New(x1-x0, y1-y0)
	if err != nil {
		return nil, err
	}
	for y := y0; y < y1; y++ {
		srcY := (float64(y)+0.5)/sy - 0.5
		for x := x0; x < x1; x++ {
			srcX := (float64(x)+0.5)/sx - 0.5
			dx, dy := f.Sample(srcX, srcY)
			i := (y-y0)*out.Width + (x - x0)
			out.DX[i] = dx * sx
			out.DY[i] = dy * sy
		}
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
