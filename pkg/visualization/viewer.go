// Package visualization renders deformation fields into inspection
// images: a displacement-magnitude heatmap and a decimated vector
// overlay. Operators use these to sanity-check a field before
// committing to a full-resolution warp.
package visualization

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"alinify/pkg/field"
)

// Viewer renders a single deformation field at its native resolution.
type Viewer struct {
	field *field.Field

	// maxMagnitude saturates the heatmap ramp. Zero means auto-scale to
	// the field's own maximum.
	maxMagnitude float64

	// arrowStep is the grid decimation interval for the vector overlay.
	arrowStep int
}

// NewViewer creates a viewer for the given field. The field must have
// passed Validate; rendering a malformed field returns an error.
func NewViewer(f *field.Field) *Viewer {
	return &Viewer{field: f, arrowStep: 16}
}

// SetMaxMagnitude pins the heatmap saturation point in pixels. Values
// at or above it render at the hot end of the ramp.
func (v *Viewer) SetMaxMagnitude(m float64) { v.maxMagnitude = m }

// SetArrowStep sets the cell interval between overlay arrows.
func (v *Viewer) SetArrowStep(step int) {
	if step > 0 {
		v.arrowStep = step
	}
}

// rampColor maps a normalized magnitude in [0,1] onto a cold-to-hot
// perceptual ramp, blending in HCL so the midpoints stay legible.
func rampColor(t float64) colorful.Color {
	cold := colorful.Hcl(250, 0.2, 0.25)
	hot := colorful.Hcl(20, 0.9, 0.75)
	return cold.BlendHcl(hot, math.Max(0, math.Min(1, t))).Clamped()
}

// Heatmap renders the per-cell displacement magnitude as a colored
// image at the field's native resolution.
func (v *Viewer) Heatmap() (image.Image, error) {
	if err := v.field.Validate(); err != nil {
		return nil, err
	}

	maxMag := v.maxMagnitude
	if maxMag <= 0 {
		for i := range v.field.DX {
			m := math.Hypot(v.field.DX[i], v.field.DY[i])
			if m > maxMag {
				maxMag = m
			}
		}
		if maxMag == 0 {
			maxMag = 1
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, v.field.Width, v.field.Height))
	for y := 0; y < v.field.Height; y++ {
		for x := 0; x < v.field.Width; x++ {
			dx, dy := v.field.At(x, y)
			c := rampColor(math.Hypot(dx, dy) / maxMag)
			r, g, b := c.RGB255()
			i := img.PixOffset(x, y)
			img.Pix[i] = r
			img.Pix[i+1] = g
			img.Pix[i+2] = b
			img.Pix[i+3] = 0xff
		}
	}
	return img, nil
}

// VectorOverlay renders the heatmap with displacement arrows drawn on a
// decimated grid. Arrow length is the actual displacement in field
// pixels, so a flat field shows bare dots.
func (v *Viewer) VectorOverlay() (image.Image, error) {
	base, err := v.Heatmap()
	if err != nil {
		return nil, err
	}

	dc := gg.NewContextForImage(base)
	dc.SetRGB(1, 1, 1)
	dc.SetLineWidth(1)

	for y := v.arrowStep / 2; y < v.field.Height; y += v.arrowStep {
		for x := v.arrowStep / 2; x < v.field.Width; x += v.arrowStep {
			dx, dy := v.field.At(x, y)
			v.drawArrow(dc, float64(x), float64(y), dx, dy)
		}
	}
	return dc.Image(), nil
}

// drawArrow draws one displacement vector with a small head, or a dot
// for near-zero displacements.
func (v *Viewer) drawArrow(dc *gg.Context, x, y, dx, dy float64) {
	mag := math.Hypot(dx, dy)
	if mag < 0.25 {
		dc.DrawPoint(x, y, 1)
		dc.Fill()
		return
	}

	tipX := x + dx
	tipY := y + dy
	dc.DrawLine(x, y, tipX, tipY)
	dc.Stroke()

	head := math.Min(4, mag*0.4)
	ang := math.Atan2(dy, dx)
	for _, side := range []float64{-1, 1} {
		a := ang + side*2.6
		dc.DrawLine(tipX, tipY, tipX+head*math.Cos(a), tipY+head*math.Sin(a))
		dc.Stroke()
	}
}

// SavePNG writes an image to disk, creating the directory if needed.
func SavePNG(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveAll renders and writes both diagnostic images into outputDir as
// field_heatmap.png and field_vectors.png.
func (v *Viewer) SaveAll(outputDir string) error {
	heat, err := v.Heatmap()
	if err != nil {
		return fmt.Errorf("rendering heatmap: %w", err)
	}
	if err := SavePNG(heat, filepath.Join(outputDir, "field_heatmap.png")); err != nil {
		return err
	}

	overlay, err := v.VectorOverlay()
	if err != nil {
		return fmt.Errorf("rendering vector overlay: %w", err)
	}
	return SavePNG(overlay, filepath.Join(outputDir, "field_vectors.png"))
}
