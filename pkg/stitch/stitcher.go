// Package stitch merges a bidirectional sequence of overlapping line-scan
// strips into one continuous grayscale surface image. Adjacent strips are
// aligned by phase correlation over their shared overlap region, with a
// quality gate that falls back to the nominal offset from encoder
// metadata when the correlation peak is not trustworthy, so a single bad
// overlap degrades local alignment instead of corrupting the whole pass.
package stitch

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"alinify/internal/models"
)

// ErrEmptySequence reports a stitch call with no usable strips.
var ErrEmptySequence = errors.New("no strips to stitch")

// Config holds the stitching parameters. All values are plain numbers
// passed in explicitly; nothing is read from ambient state.
type Config struct {
	// OverlapPixels is the width of the overlap region shared by
	// adjacent strips.
	OverlapPixels int

	// MinCorrelation is the confidence threshold below which a measured
	// offset is rejected in favor of the nominal one.
	MinCorrelation float64

	// ReversalCompensationPx is the mechanical compensation applied to
	// the nominal advance of reverse-direction strips, correcting for
	// carriage reversal lag.
	ReversalCompensationPx float64

	// Bidirectional enables the reversal compensation.
	Bidirectional bool

	// PixelsPerMM converts physical position metadata to pixels. Zero
	// means positions are unavailable and nominal offsets fall back to
	// strip geometry.
	PixelsPerMM float64
}

// DefaultConfig returns the stitching defaults used by the scanner.
func DefaultConfig() Config {
	return Config{
		OverlapPixels:  100,
		MinCorrelation: 0.7,
		Bidirectional:  true,
	}
}

// Warning records a per-strip quality problem that degraded the result
// without aborting the pass.
type Warning struct {
	Seq    int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("strip %d: %s", w.Seq, w.Reason)
}

// Alignment reports how one strip was placed relative to its predecessor.
type Alignment struct {
	Seq        int
	OffsetX    float64
	OffsetY    float64
	Confidence float64
	Fallback   bool
}

// Result is the output of a completed stitch pass.
type Result struct {
	Image      *models.StitchedImage
	Warnings   []Warning
	Alignments []Alignment
}

// Stitcher incrementally merges strips in acquisition-sequence order.
// Out-of-order strips are buffered and consumed once their predecessors
// have arrived; they are never stitched out of order.
type Stitcher struct {
	cfg Config

	canvas []uint8
	width  int
	height int

	pending map[int]*models.ScanStrip
	nextSeq int
	started bool

	prevStart float64 // canvas x of the previous strip's left edge
	prevWidth int
	prevPos   float64 // physical position of the previous strip
	yOff      float64 // accumulated vertical drift
	gapAdv    float64 // nominal advance carried over skipped strips

	warnings   []Warning
	alignments []Alignment
}

// NewStitcher creates a stitcher for one scan pass.
func NewStitcher(cfg Config) *Stitcher {
	if cfg.OverlapPixels <= 0 {
		cfg.OverlapPixels = DefaultConfig().OverlapPixels
	}
	return &Stitcher{
		cfg:     cfg,
		pending: map[int]*models.ScanStrip{},
	}
}

// Add feeds one strip into the pass. Strips may arrive out of order;
// they are held until the sequence is contiguous.
func (s *Stitcher) Add(strip *models.ScanStrip) {
	if strip == nil {
		return
	}
	if !s.started {
		// The first strip seen anchors the sequence numbering.
		s.nextSeq = strip.Seq
		s.started = true
	}
	if strip.Seq < s.nextSeq {
		s.warnings = append(s.warnings, Warning{strip.Seq, "duplicate or stale sequence index, dropped"})
		return
	}
	s.pending[strip.Seq] = strip
	for {
		next, ok := s.pending[s.nextSeq]
		if !ok {
			return
		}
		delete(s.pending, s.nextSeq)
		s.consume(next)
		s.nextSeq++
	}
}

// Finish completes the pass and returns the stitched image. Strips still
// waiting on a missing predecessor are consumed in sequence order with a
// recorded warning for each hole.
func (s *Stitcher) Finish() (*Result, error) {
	if len(s.pending) > 0 {
		seqs := make([]int, 0, len(s.pending))
		for seq := range s.pending {
			seqs = append(seqs, seq)
		}
		sort.Ints(seqs)
		for _, seq := range seqs {
			for hole := s.nextSeq; hole < seq; hole++ {
				s.warnings = append(s.warnings, Warning{hole, "strip never arrived, gap left"})
				s.gapAdv += float64(s.prevWidth - s.cfg.OverlapPixels)
			}
			s.consume(s.pending[seq])
			s.nextSeq = seq + 1
			delete(s.pending, seq)
		}
	}
	if s.width == 0 {
		return nil, ErrEmptySequence
	}

	img := image.NewGray(image.Rect(0, 0, s.width, s.height))
	for y := 0; y < s.height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+s.width], s.canvas[y*s.width:(y+1)*s.width])
	}
	return &Result{
		Image:      &models.StitchedImage{Gray: img, PixelsPerMM: s.cfg.PixelsPerMM},
		Warnings:   s.warnings,
		Alignments: s.alignments,
	}, nil
}

// Stitch is the one-shot form: it orders the strips by sequence index,
// consumes them all and finishes the pass.
func Stitch(cfg Config, strips []*models.ScanStrip) (*Result, error) {
	ordered := make([]*models.ScanStrip, 0, len(strips))
	for _, st := range strips {
		if st != nil {
			ordered = append(ordered, st)
		}
	}
	if len(ordered) == 0 {
		return nil, ErrEmptySequence
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	st := NewStitcher(cfg)
	for _, strip := range ordered {
		st.Add(strip)
	}
	return st.Finish()
}

func (s *Stitcher) consume(strip *models.ScanStrip) {
	if strip.Pix == nil || strip.Width <= 0 || strip.Height <= 0 {
		s.warnings = append(s.warnings, Warning{strip.Seq, "strip failed to decode, skipped"})
		// Carry the advance the missing strip would have contributed so
		// the next good strip lands near its true position.
		adv := float64(strip.Width - s.cfg.OverlapPixels)
		if adv <= 0 {
			adv = float64(s.cfg.OverlapPixels)
		}
		s.gapAdv += adv
		return
	}

	if s.width == 0 {
		s.height = strip.Height
		s.width = strip.Width
		s.canvas = make([]uint8, s.width*s.height)
		for y := 0; y < strip.Height; y++ {
			copy(s.canvas[y*s.width:], strip.Pix[y*strip.Width:(y+1)*strip.Width])
		}
		s.prevStart = 0
		s.prevWidth = strip.Width
		s.prevPos = strip.Position
		return
	}

	overlap := s.cfg.OverlapPixels
	if overlap > strip.Width {
		overlap = strip.Width
	}

	// Nominal placement of the new strip's left edge: encoder metadata
	// when available, strip geometry (advance by width minus overlap)
	// otherwise.
	var nominal float64
	if s.cfg.PixelsPerMM > 0 && strip.Position != s.prevPos {
		nominal = s.prevStart + (strip.Position-s.prevPos)*s.cfg.PixelsPerMM
	} else {
		nominal = s.prevStart + float64(s.prevWidth-overlap)
	}
	nominal += s.gapAdv
	s.gapAdv = 0

	// Direction-dependent mechanical compensation, applied before the
	// correlation so reversal lag does not bias the measurement window.
	if s.cfg.Bidirectional && strip.Direction == models.Reverse {
		nominal += s.cfg.ReversalCompensationPx
	}

	res, ok := s.measureOverlap(strip, nominal, overlap)
	placement := nominal
	vshift := 0.0
	fallback := true
	if ok && res.Confidence >= s.cfg.MinCorrelation {
		placement = nominal + res.ShiftX
		vshift = res.ShiftY
		fallback = false
	} else if ok {
		s.warnings = append(s.warnings, Warning{strip.Seq,
			fmt.Sprintf("overlap confidence %.3f below %.3f, using nominal offset",
				res.Confidence, s.cfg.MinCorrelation)})
	} else {
		s.warnings = append(s.warnings, Warning{strip.Seq, "overlap region unavailable, using nominal offset"})
	}

	s.alignments = append(s.alignments, Alignment{
		Seq:        strip.Seq,
		OffsetX:    placement - s.prevStart,
		OffsetY:    vshift,
		Confidence: res.Confidence,
		Fallback:   fallback,
	})

	s.yOff += vshift
	s.paste(strip, placement, overlap)

	s.prevStart = placement
	s.prevWidth = strip.Width
	s.prevPos = strip.Position
}

// measureOverlap runs phase correlation between the canvas columns the
// new strip is expected to cover and the strip's leading edge. The
// canvas rows are offset by the accumulated vertical drift, so the
// measurement is relative to where the previous strip actually landed
// and each strip contributes only its own incremental shift.
func (s *Stitcher) measureOverlap(strip *models.ScanStrip, nominal float64, overlap int) (phaseResult, bool) {
	x0 := int(math.Round(nominal))
	if x0 < 0 {
		x0 = 0
	}
	if x0+overlap > s.width || overlap < 4 {
		return phaseResult{}, false
	}
	oy := int(math.Round(s.yOff))
	y0 := 0
	if oy < 0 {
		y0 = -oy
	}
	y1 := strip.Height
	if y1 > s.height-oy {
		y1 = s.height - oy
	}
	h := y1 - y0
	if h < 4 {
		return phaseResult{}, false
	}

	patchA := make([]float64, overlap*h)
	patchB := make([]float64, overlap*h)
	for y := y0; y < y1; y++ {
		for x := 0; x < overlap; x++ {
			patchA[(y-y0)*overlap+x] = float64(s.canvas[(y+oy)*s.width+x0+x])
			patchB[(y-y0)*overlap+x] = float64(strip.Pix[y*strip.Width+x])
		}
	}
	return phaseCorrelate(patchA, patchB, overlap, h), true
}

// paste blends the strip into the canvas at the given placement. The
// overlap columns cross-fade linearly from the existing canvas content
// to the new strip so the seam is invisible; columns past the current
// canvas edge are copied and extend the image.
func (s *Stitcher) paste(strip *models.ScanStrip, placement float64, overlap int) {
	ox := int(math.Round(placement))
	oy := int(math.Round(s.yOff))

	oldWidth := s.width
	newWidth := ox + strip.Width
	if newWidth > s.width {
		s.grow(newWidth)
	}

	for y := 0; y < strip.Height; y++ {
		cy := y + oy
		if cy < 0 || cy >= s.height {
			continue
		}
		for x := 0; x < strip.Width; x++ {
			cx := ox + x
			if cx < 0 || cx >= s.width {
				continue
			}
			src := strip.Pix[y*strip.Width+x]
			if x < overlap && cx < oldWidth {
				// Weight ramps linearly from 100% existing canvas to
				// 100% new strip across the overlap width.
				alpha := float64(x) / float64(overlap)
				old := s.canvas[cy*s.width+cx]
				s.canvas[cy*s.width+cx] = uint8(alpha*float64(src) + (1-alpha)*float64(old) + 0.5)
			} else {
				s.canvas[cy*s.width+cx] = src
			}
		}
	}
}

func (s *Stitcher) grow(newWidth int) {
	grown := make([]uint8, newWidth*s.height)
	for y := 0; y < s.height; y++ {
		copy(grown[y*newWidth:], s.canvas[y*s.width:(y+1)*s.width])
	}
	s.canvas = grown
	s.width = newWidth
}
