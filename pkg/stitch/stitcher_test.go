package stitch

import (
	"bytes"
	"math"
	"testing"

	"alinify/internal/models"
)

// gradientStrip cuts a strip out of a wide synthetic surface whose
// intensity varies smoothly in both axes, starting at surface column x0.
func gradientStrip(seq, x0, width, height int, dir models.Direction) *models.ScanStrip {
	pix := make([]uint8, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sx := float64(x0 + x)
			v := 90 + 80*math.Sin(sx/37.0) + 40*math.Sin(float64(y)/23.0) + 0.04*sx
			pix[y*width+x] = uint8(math.Max(0, math.Min(255, v)))
		}
	}
	return &models.ScanStrip{
		Pix:       pix,
		Width:     width,
		Height:    height,
		Seq:       seq,
		Direction: dir,
	}
}

func TestStitchEmptySequence(t *testing.T) {
	if _, err := Stitch(DefaultConfig(), nil); err != ErrEmptySequence {
		t.Errorf("expected ErrEmptySequence, got %v", err)
	}
}

func TestStitchSingleStrip(t *testing.T) {
	strip := gradientStrip(0, 0, 200, 64, models.Forward)
	res, err := Stitch(DefaultConfig(), []*models.ScanStrip{strip})
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	if got := res.Image.Width(); got != 200 {
		t.Errorf("width = %d, expected 200", got)
	}
	if got := res.Image.Height(); got != 64 {
		t.Errorf("height = %d, expected 64", got)
	}
	for y := 0; y < 64; y++ {
		for x := 0; x < 200; x++ {
			if res.Image.Gray.GrayAt(x, y).Y != strip.Pix[y*200+x] {
				t.Fatalf("pixel (%d,%d) differs from input strip", x, y)
			}
		}
	}
}

// TestStitchGradientScenario is the reference scenario: three strips of
// width 500 with a 50 px overlap, each advanced by exactly
// width-overlap, must align with near-perfect confidence and produce a
// continuous surface with no step at either junction.
func TestStitchGradientScenario(t *testing.T) {
	const width, height, overlap = 500, 200, 50
	cfg := DefaultConfig()
	cfg.OverlapPixels = overlap

	strips := []*models.ScanStrip{
		gradientStrip(0, 0, width, height, models.Forward),
		gradientStrip(1, width-overlap, width, height, models.Forward),
		gradientStrip(2, 2*(width-overlap), width, height, models.Forward),
	}

	res, err := Stitch(cfg, strips)
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}

	wantWidth := 3*width - 2*overlap
	if got := res.Image.Width(); got != wantWidth {
		t.Fatalf("stitched width = %d, expected %d", got, wantWidth)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
	for _, a := range res.Alignments {
		if a.Fallback {
			t.Errorf("strip %d fell back to nominal offset", a.Seq)
		}
		if a.Confidence < 0.98 {
			t.Errorf("strip %d confidence %.3f, expected near 1.0", a.Seq, a.Confidence)
		}
	}

	// The stitched output must reproduce the continuous surface: no
	// visible step at either junction.
	reference := gradientStrip(0, 0, wantWidth, height, models.Forward)
	for y := 0; y < height; y++ {
		for x := 1; x < wantWidth; x++ {
			got := int(res.Image.Gray.GrayAt(x, y).Y)
			prev := int(res.Image.Gray.GrayAt(x-1, y).Y)
			refStep := int(reference.Pix[y*wantWidth+x]) - int(reference.Pix[y*wantWidth+x-1])
			step := got - prev
			if abs(step-refStep) > 3 {
				t.Fatalf("step of %d at (%d,%d), surface step %d", step, x, y, refStep)
			}
		}
	}
}

// TestStitchDeterminism: identical input sequences must produce
// byte-identical output.
func TestStitchDeterminism(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OverlapPixels = 40

	build := func() []*models.ScanStrip {
		return []*models.ScanStrip{
			gradientStrip(0, 0, 300, 80, models.Forward),
			gradientStrip(1, 260, 300, 80, models.Reverse),
			gradientStrip(2, 520, 300, 80, models.Forward),
		}
	}

	first, err := Stitch(cfg, build())
	if err != nil {
		t.Fatalf("first stitch failed: %v", err)
	}
	second, err := Stitch(cfg, build())
	if err != nil {
		t.Fatalf("second stitch failed: %v", err)
	}
	if !bytes.Equal(first.Image.Gray.Pix, second.Image.Gray.Pix) {
		t.Error("repeated stitch runs differ")
	}
}

// TestStitchBlendMidpoint: with a zero measured offset, the pixel at the
// center of the overlap is the average of the two contributing strips.
func TestStitchBlendMidpoint(t *testing.T) {
	const width, height, overlap = 120, 32, 40
	cfg := DefaultConfig()
	cfg.OverlapPixels = overlap
	cfg.MinCorrelation = 2 // force the nominal-offset path: zero measured offset

	flat := func(seq int, value uint8) *models.ScanStrip {
		pix := make([]uint8, width*height)
		for i := range pix {
			pix[i] = value
		}
		return &models.ScanStrip{Pix: pix, Width: width, Height: height, Seq: seq}
	}

	res, err := Stitch(cfg, []*models.ScanStrip{flat(0, 200), flat(1, 100)})
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}

	// Overlap spans canvas columns [width-overlap, width); its center
	// has alpha 0.5.
	center := width - overlap + overlap/2
	got := res.Image.Gray.GrayAt(center, height/2).Y
	if abs(int(got)-150) > 1 {
		t.Errorf("overlap center = %d, expected 150 +-1", got)
	}
}

func TestStitchOutOfOrderStrips(t *testing.T) {
	const width, height, overlap = 300, 80, 40
	cfg := DefaultConfig()
	cfg.OverlapPixels = overlap

	ordered := []*models.ScanStrip{
		gradientStrip(0, 0, width, height, models.Forward),
		gradientStrip(1, width-overlap, width, height, models.Forward),
		gradientStrip(2, 2*(width-overlap), width, height, models.Forward),
	}
	shuffled := []*models.ScanStrip{
		gradientStrip(2, 2*(width-overlap), width, height, models.Forward),
		gradientStrip(0, 0, width, height, models.Forward),
		gradientStrip(1, width-overlap, width, height, models.Forward),
	}

	want, err := Stitch(cfg, ordered)
	if err != nil {
		t.Fatalf("ordered stitch failed: %v", err)
	}

	st := NewStitcher(cfg)
	for _, strip := range shuffled {
		st.Add(strip)
	}
	got, err := st.Finish()
	if err != nil {
		t.Fatalf("shuffled stitch failed: %v", err)
	}
	if !bytes.Equal(want.Image.Gray.Pix, got.Image.Gray.Pix) {
		t.Error("out-of-order delivery changed the stitched output")
	}
}

// TestStitchSkipsFailedStrip: an undecodable strip is skipped with a
// recorded warning and the pass still completes.
func TestStitchSkipsFailedStrip(t *testing.T) {
	const width, height, overlap = 300, 80, 40
	cfg := DefaultConfig()
	cfg.OverlapPixels = overlap

	strips := []*models.ScanStrip{
		gradientStrip(0, 0, width, height, models.Forward),
		{Seq: 1, Width: width, Height: height}, // nil Pix: failed decode
		gradientStrip(2, 2*(width-overlap), width, height, models.Forward),
	}

	res, err := Stitch(cfg, strips)
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if w.Seq == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a warning for the skipped strip, got %v", res.Warnings)
	}
	if res.Image.Width() <= width {
		t.Errorf("stitched width %d, expected the pass to continue past the gap", res.Image.Width())
	}
}

func TestStitchLowConfidenceFallsBack(t *testing.T) {
	const width, height, overlap = 200, 64, 40
	cfg := DefaultConfig()
	cfg.OverlapPixels = overlap
	cfg.MinCorrelation = 0.9

	noise := func(seq int) *models.ScanStrip {
		pix := make([]uint8, width*height)
		state := uint32(seq*2654435761 + 12345)
		for i := range pix {
			state = state*1664525 + 1013904223
			pix[i] = uint8(state >> 24)
		}
		return &models.ScanStrip{Pix: pix, Width: width, Height: height, Seq: seq}
	}

	res, err := Stitch(cfg, []*models.ScanStrip{noise(0), noise(1)})
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	if len(res.Alignments) != 1 {
		t.Fatalf("expected 1 alignment, got %d", len(res.Alignments))
	}
	a := res.Alignments[0]
	if !a.Fallback {
		t.Skip("uncorrelated noise happened to align; fallback not exercised")
	}
	// Fallback places the strip at the nominal geometric advance.
	if math.Abs(a.OffsetX-float64(width-overlap)) > 0.5 {
		t.Errorf("fallback offset %.2f, expected nominal %d", a.OffsetX, width-overlap)
	}
	if len(res.Warnings) == 0 {
		t.Error("low-confidence fallback should record a warning")
	}
}

// TestStitchReversalCompensation: reverse-direction strips get the
// mechanical compensation added to their nominal placement; forward
// strips do not. The correlation gate is set unreachably high so the
// nominal path is isolated.
func TestStitchReversalCompensation(t *testing.T) {
	const width, height, overlap = 200, 64, 50
	cfg := DefaultConfig()
	cfg.OverlapPixels = overlap
	cfg.MinCorrelation = 2
	cfg.ReversalCompensationPx = 5

	build := func() []*models.ScanStrip {
		return []*models.ScanStrip{
			gradientStrip(0, 0, width, height, models.Forward),
			gradientStrip(1, width-overlap, width, height, models.Reverse),
			gradientStrip(2, 2*(width-overlap), width, height, models.Forward),
		}
	}

	res, err := Stitch(cfg, build())
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	if len(res.Alignments) != 2 {
		t.Fatalf("expected 2 alignments, got %d", len(res.Alignments))
	}

	const nominal = width - overlap
	rev := res.Alignments[0]
	if !rev.Fallback {
		t.Fatal("expected the forced nominal-offset path")
	}
	if math.Abs(rev.OffsetX-(nominal+5)) > 1e-9 {
		t.Errorf("reverse strip offset %.2f, expected nominal %d + compensation 5", rev.OffsetX, nominal)
	}
	fwd := res.Alignments[1]
	if math.Abs(fwd.OffsetX-nominal) > 1e-9 {
		t.Errorf("forward strip offset %.2f, expected plain nominal %d", fwd.OffsetX, nominal)
	}

	// With bidirectional scanning off the compensation must not apply.
	cfg.Bidirectional = false
	res, err = Stitch(cfg, build())
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	if got := res.Alignments[0].OffsetX; math.Abs(got-nominal) > 1e-9 {
		t.Errorf("unidirectional reverse strip offset %.2f, expected %d", got, nominal)
	}
}

// TestStitchTracksVerticalDrift: with each strip's content sitting 3 px
// higher than its predecessor's, every measured vertical shift must be
// the 3 px increment, not the accumulated drift, and confidence must
// stay high because the overlap is compared at the drifted rows.
func TestStitchTracksVerticalDrift(t *testing.T) {
	const width, height, overlap = 300, 100, 40
	cfg := DefaultConfig()
	cfg.OverlapPixels = overlap

	surface := func(gx, gy int) uint8 {
		fx, fy := float64(gx), float64(gy)
		v := 100 + 60*math.Sin(fx/29.0)*math.Cos(fy/17.0) + 40*math.Sin(fx/11.0+fy/13.0)
		return uint8(math.Max(0, math.Min(255, v)))
	}
	strip := func(seq, x0, drift int) *models.ScanStrip {
		pix := make([]uint8, width*height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				pix[y*width+x] = surface(x0+x, y+drift)
			}
		}
		return &models.ScanStrip{Pix: pix, Width: width, Height: height, Seq: seq}
	}

	res, err := Stitch(cfg, []*models.ScanStrip{
		strip(0, 0, 0),
		strip(1, width-overlap, 3),
		strip(2, 2*(width-overlap), 6),
	})
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	if len(res.Alignments) != 2 {
		t.Fatalf("expected 2 alignments, got %d", len(res.Alignments))
	}
	for _, a := range res.Alignments {
		if a.Fallback {
			t.Fatalf("strip %d fell back, confidence %.3f", a.Seq, a.Confidence)
		}
		if a.Confidence < 0.9 {
			t.Errorf("strip %d confidence %.3f, expected near 1", a.Seq, a.Confidence)
		}
		if math.Abs(a.OffsetY-3) > 0.5 {
			t.Errorf("strip %d vertical shift %.2f, expected the 3 px increment", a.Seq, a.OffsetY)
		}
	}
}

func TestPhaseCorrelateKnownShift(t *testing.T) {
	const w, h = 64, 64
	surface := func(x, y, shiftX, shiftY int) float64 {
		fx := float64(x + shiftX)
		fy := float64(y + shiftY)
		return 100 + 50*math.Sin(fx/5.0)*math.Cos(fy/7.0) + 30*math.Sin(fx/11.0+fy/13.0)
	}

	for _, shift := range []struct{ x, y int }{{0, 0}, {3, 0}, {0, 2}, {-4, 3}} {
		a := make([]float64, w*h)
		b := make([]float64, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				a[y*w+x] = surface(x, y, 0, 0)
				// b is a translated so that b(x,y) = a(x+shift).
				b[y*w+x] = surface(x, y, shift.x, shift.y)
			}
		}
		res := phaseCorrelate(a, b, w, h)
		if math.Abs(res.ShiftX-float64(shift.x)) > 0.5 || math.Abs(res.ShiftY-float64(shift.y)) > 0.5 {
			t.Errorf("shift (%d,%d): measured (%.2f,%.2f)", shift.x, shift.y, res.ShiftX, res.ShiftY)
		}
		if res.Confidence < 0.9 {
			t.Errorf("shift (%d,%d): confidence %.3f, expected near 1", shift.x, shift.y, res.Confidence)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
