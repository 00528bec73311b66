// Package warp applies a deformation field to an RGB image, producing
// the final corrected output. Small targets are warped in a single
// full-image pass; large targets are partitioned into overlapping tiles
// that are warped independently by a worker pool and composited with a
// seam-hiding cross-fade, which bounds peak memory regardless of the
// total output size.
package warp

import (
	"context"
	"fmt"
	"image"
	"runtime"

	"alinify/pkg/field"
)

// Config holds the warping policy parameters. All values are passed in
// explicitly; the engine reads no ambient state.
type Config struct {
	// SinglePassMaxPixels is the largest output, in pixels, warped in
	// one full-image pass. Above it the tiled strategy is used.
	SinglePassMaxPixels int

	// TileSize is the nominal tile edge length in pixels.
	TileSize int

	// TileOverlap is the padding margin added around each tile and
	// cross-faded during compositing so tile boundaries stay invisible.
	TileOverlap int

	// Workers is the tile worker pool size. Zero means one worker per
	// available CPU.
	Workers int
}

// DefaultConfig returns the stock warping policy: 50 MP single-pass
// ceiling, 4096 px tiles with a 128 px overlap margin.
func DefaultConfig() Config {
	return Config{
		SinglePassMaxPixels: 50_000_000,
		TileSize:            4096,
		TileOverlap:         128,
	}
}

// Engine warps images through a deformation field.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given policy. Zero config values
// fall back to the defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.SinglePassMaxPixels <= 0 {
		cfg.SinglePassMaxPixels = def.SinglePassMaxPixels
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = def.TileSize
	}
	if cfg.TileOverlap <= 0 {
		cfg.TileOverlap = def.TileOverlap
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Engine{cfg: cfg}
}

// strategy is one way of executing a warp. Both implementations must
// agree within interpolation tolerance; the choice is purely a memory
// policy.
type strategy interface {
	name() string
	warp(ctx context.Context, src *image.RGBA, f *field.Field, width, height int) (*image.RGBA, error)
}

// chooseStrategy picks the execution strategy from the output size
// alone. It is a pure function so both branches stay independently
// testable.
func chooseStrategy(cfg Config, pixels int) strategy {
	if pixels <= cfg.SinglePassMaxPixels {
		return singlePass{}
	}
	return tiled{cfg: cfg}
}

// Warp applies f to src, producing a width x height RGBA image. The
// field is rescaled to the target resolution internally; src and f are
// treated as immutable for the duration of the call. Source coordinates
// that land outside src resolve to opaque black. Cancellation is
// honored between tiles in tiled mode; a cancelled warp returns
// ctx.Err() and no partial output.
func (e *Engine) Warp(ctx context.Context, src *image.RGBA, f *field.Field, width, height int) (*image.RGBA, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source image", field.ErrInvalidResolution)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: target %dx%d", field.ErrInvalidResolution, width, height)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return chooseStrategy(e.cfg, width*height).warp(ctx, src, f, width, height)
}
