package correction

import (
	"fmt"
	"math"

	"alinify/pkg/field"
)

// Blender folds operator corrections into a deformation field with
// Gaussian spatial falloff. Apply never mutates its input: callers hold
// on to the original pre-correction field and re-apply the full point
// list after every edit, so corrections never compound.
type Blender struct {
	// Radius is the nominal control-point influence radius, in pixels
	// at the field's resolution.
	Radius float64

	// Sigma is the Gaussian falloff. Zero means derive it from Radius
	// the way the registration backend does (radius / 2.5).
	Sigma float64

	// CutoffSigmas bounds the affected neighborhood: cells farther than
	// CutoffSigmas * sigma are skipped, their weight being negligible.
	CutoffSigmas float64
}

// DefaultBlender returns a blender with the scanner's stock influence
// settings.
func DefaultBlender() Blender {
	return Blender{Radius: 250, CutoffSigmas: 4}
}

func (b Blender) sigma() float64 {
	if b.Sigma > 0 {
		return b.Sigma
	}
	r := b.Radius
	if r <= 0 {
		r = 250
	}
	return r / 2.5
}

// Apply blends every completed pair from list into f and returns the
// corrected field together with the indices of pending half-pairs. The
// input field is left untouched. Point coordinates and offsets are
// converted from the list's preview resolution to the field's native
// resolution using the per-axis ratio rule, the same convention Rescale
// uses for displacements.
func (b Blender) Apply(f *field.Field, list *PointList) (*field.Field, []int, error) {
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	if list == nil {
		return f.Clone(), nil, nil
	}
	if list.PreviewWidth <= 0 || list.PreviewHeight <= 0 {
		return nil, nil, fmt.Errorf("%w: preview %dx%d",
			field.ErrInvalidResolution, list.PreviewWidth, list.PreviewHeight)
	}

	sx := float64(f.Width) / float64(list.PreviewWidth)
	sy := float64(f.Height) / float64(list.PreviewHeight)

	out := f.Clone()
	sigma := b.sigma()
	cutoff := b.CutoffSigmas
	if cutoff <= 0 {
		cutoff = 4
	}
	reach := cutoff * sigma

	for _, pair := range list.Pairs() {
		dx, dy := pair.Offset()
		cx := pair.Reference.X * sx
		cy := pair.Reference.Y * sy
		dx *= sx
		dy *= sy

		x0 := int(math.Floor(cx - reach))
		x1 := int(math.Ceil(cx + reach))
		y0 := int(math.Floor(cy - reach))
		y1 := int(math.Ceil(cy + reach))
		if x0 < 0 {
			x0 = 0
		}
		if y0 < 0 {
			y0 = 0
		}
		if x1 >= out.Width {
			x1 = out.Width - 1
		}
		if y1 >= out.Height {
			y1 = out.Height - 1
		}

		inv := 1.0 / (2 * sigma * sigma)
		for y := y0; y <= y1; y++ {
			py := float64(y) - cy
			for x := x0; x <= x1; x++ {
				px := float64(x) - cx
				w := math.Exp(-(px*px + py*py) * inv)
				i := y*out.Width + x
				// Corrections accumulate additively, so overlapping
				// pairs blend instead of overwriting each other.
				out.DX[i] += w * dx
				out.DY[i] += w * dy
			}
		}
	}

	return out, list.Pending(), nil
}
