package models

import (
	"image"
	"time"
)

// Direction is the carriage travel direction a strip was captured in.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "L->R"
	case Reverse:
		return "R->L"
	default:
		return "unknown"
	}
}

// ScanStrip is one captured slice of the scanned surface.
//
// Strips are immutable once captured: the acquisition layer hands them
// to the stitcher, which consumes them in sequence order and drops the
// pixel buffer once the strip has been merged.
type ScanStrip struct {
	// Pix holds single-channel intensity samples in row-major order.
	// A nil Pix marks a strip that failed to decode; the stitcher skips
	// it and records a gap.
	Pix []uint8

	// Width and Height are the strip dimensions in pixels.
	Width  int
	Height int

	// Seq is the monotonically increasing acquisition sequence index.
	Seq int

	// Direction is the carriage travel direction for this strip.
	Direction Direction

	// Position is the physical position estimate along the scan axis,
	// in mm from the start of the pass (encoder derived).
	Position float64

	// Captured is the acquisition timestamp.
	Captured time.Time
}

// At returns the intensity at (x, y). Out-of-range coordinates return 0.
func (s *ScanStrip) At(x, y int) uint8 {
	if s.Pix == nil || x < 0 || y < 0 || x >= s.Width || y >= s.Height {
		return 0
	}
	return s.Pix[y*s.Width+x]
}

// StitchedImage is the continuous surface image produced by one scan
// pass. It is created once and read-only afterward; the registration
// collaborator consumes it together with the physical scale.
type StitchedImage struct {
	// Gray is the single-channel surface image.
	Gray *image.Gray

	// PixelsPerMM is the physical scale of the image.
	PixelsPerMM float64
}

// Width returns the image width in pixels.
func (s *StitchedImage) Width() int {
	if s.Gray == nil {
		return 0
	}
	return s.Gray.Bounds().Dx()
}

// Height returns the image height in pixels.
func (s *StitchedImage) Height() int {
	if s.Gray == nil {
		return 0
	}
	return s.Gray.Bounds().Dy()
}
