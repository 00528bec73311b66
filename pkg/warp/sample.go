package warp

import "image"

// sampleBilinear reads src at fractional coordinates, interpolating the
// four surrounding pixels. Coordinates outside the image resolve to
// opaque black, which fills regions the deformation pulls in from
// beyond the scanned surface.
func sampleBilinear(src *image.RGBA, fx, fy float64) (r, g, b uint8) {
	w := src.Rect.Dx()
	h := src.Rect.Dy()
	if fx < 0 || fy < 0 || fx > float64(w-1) || fy > float64(h-1) {
		return 0, 0, 0
	}

	x0 := int(fx)
	y0 := int(fy)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= w {
		x1 = w - 1
	}
	if y1 >= h {
		y1 = h - 1
	}
	tx := fx - float64(x0)
	ty := fy - float64(y0)

	i00 := src.PixOffset(src.Rect.Min.X+x0, src.Rect.Min.Y+y0)
	i10 := src.PixOffset(src.Rect.Min.X+x1, src.Rect.Min.Y+y0)
	i01 := src.PixOffset(src.Rect.Min.X+x0, src.Rect.Min.Y+y1)
	i11 := src.PixOffset(src.Rect.Min.X+x1, src.Rect.Min.Y+y1)

	lerp := func(c int) uint8 {
		top := float64(src.Pix[i00+c])*(1-tx) + float64(src.Pix[i10+c])*tx
		bot := float64(src.Pix[i01+c])*(1-tx) + float64(src.Pix[i11+c])*tx
		return uint8(top*(1-ty) + bot*ty + 0.5)
	}
	return lerp(0), lerp(1), lerp(2)
}
