package warp

import (
	"context"
	"image"

	"alinify/pkg/field"
)

// singlePass warps the whole output in one sweep. It rescales the field
// to the full target resolution, so its memory footprint grows with the
// output; the engine only selects it below the configured pixel ceiling.
type singlePass struct{}

func (singlePass) name() string { return "single-pass" }

func (singlePass) warp(ctx context.Context, src *image.RGBA, f *field.Field, width, height int) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scaled, err := f.Rescale(width, height)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	warpRegion(src, scaled, out, 0, 0)
	return out, nil
}

// warpRegion fills dst by backward-mapping through rf, whose grid is
// one cell per dst pixel. (offX, offY) locate dst's origin in global
// output coordinates; the field cell index is local to the region.
func warpRegion(src *image.RGBA, rf *field.Field, dst *image.RGBA, offX, offY int) {
	w := dst.Rect.Dx()
	h := dst.Rect.Dy()
	for y := 0; y < h; y++ {
		row := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			dx, dy := rf.At(x, y)
			sx := float64(offX+x) + dx
			sy := float64(offY+y) + dy
			r, g, b := sampleBilinear(src, sx, sy)
			i := row + x*4
			dst.Pix[i] = r
			dst.Pix[i+1] = g
			dst.Pix[i+2] = b
			dst.Pix[i+3] = 0xff
		}
	}
}
