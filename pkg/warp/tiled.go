package warp

import (
	"context"
	"image"
	"sync"

	"alinify/pkg/field"
)

// tiled partitions the output into a grid of tiles, warps each padded
// tile on a worker pool, and composites the results with a linear
// cross-fade over the overlap margins. Peak memory is a bounded number
// of tile-sized buffers plus the output itself, independent of how many
// tiles the target splits into.
type tiled struct {
	cfg Config
}

func (tiled) name() string { return "tiled" }

// tileJob describes one padded tile to warp. Inner bounds are the
// pixels this tile owns; padded bounds extend them by the overlap
// margin, clamped to the output.
type tileJob struct {
	idx                int
	ix0, iy0, ix1, iy1 int
	px0, py0, px1, py1 int
}

type tileResult struct {
	job tileJob
	img *image.RGBA
	err error
}

// window caps how far tile dispatch may run ahead of ordered
// compositing. Without it a single slow tile lets every other worker
// finish and park its padded-tile buffer in the compositor's reorder
// map, growing residency with the tile count instead of the pool size.
type window struct {
	slots chan struct{}
}

func newWindow(n int) *window {
	return &window{slots: make(chan struct{}, n)}
}

func (w *window) acquire(ctx context.Context) error {
	select {
	case w.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *window) release() { <-w.slots }

func (t tiled) warp(ctx context.Context, src *image.RGBA, f *field.Field, width, height int) (*image.RGBA, error) {
	jobs := t.layout(width, height)

	jobCh := make(chan tileJob)
	resCh := make(chan tileResult)
	var wg sync.WaitGroup

	workers := t.cfg.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := ctx.Err(); err != nil {
					resCh <- tileResult{job: job, err: err}
					continue
				}
				img, err := t.warpTile(src, f, width, height, job)
				resCh <- tileResult{job: job, img: img, err: err}
			}
		}()
	}

	// Dispatch at most 2*workers tiles ahead of the compositor, so
	// buffers held in workers plus the reorder map stay bounded by the
	// pool size, not the tile count.
	win := newWindow(2 * workers)
	go func() {
		defer close(jobCh)
		for _, job := range jobs {
			if win.acquire(ctx) != nil {
				return
			}
			select {
			case jobCh <- job:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(resCh)
	}()

	// Composite strictly in tile order so overlapping blends are
	// deterministic regardless of which worker finishes first.
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	pending := make(map[int]tileResult)
	next := 0
	var firstErr error
	for res := range resCh {
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
		pending[res.job.idx] = res
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if firstErr == nil {
				t.composite(out, r)
			}
			win.release()
			next++
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// layout splits a width x height output into row-major tiles.
func (t tiled) layout(width, height int) []tileJob {
	var jobs []tileJob
	idx := 0
	for iy0 := 0; iy0 < height; iy0 += t.cfg.TileSize {
		iy1 := min(iy0+t.cfg.TileSize, height)
		for ix0 := 0; ix0 < width; ix0 += t.cfg.TileSize {
			ix1 := min(ix0+t.cfg.TileSize, width)
			jobs = append(jobs, tileJob{
				idx: idx,
				ix0: ix0, iy0: iy0, ix1: ix1, iy1: iy1,
				px0: max(ix0-t.cfg.TileOverlap, 0),
				py0: max(iy0-t.cfg.TileOverlap, 0),
				px1: min(ix1+t.cfg.TileOverlap, width),
				py1: min(iy1+t.cfg.TileOverlap, height),
			})
			idx++
		}
	}
	return jobs
}

// warpTile rescales only the slice of the field covering the padded
// tile and backward-maps that region of the output.
func (t tiled) warpTile(src *image.RGBA, f *field.Field, width, height int, job tileJob) (*image.RGBA, error) {
	rf, err := f.RescaleRegion(width, height, job.px0, job.py0, job.px1, job.py1)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, job.px1-job.px0, job.py1-job.py0))
	warpRegion(src, rf, img, job.px0, job.py0)
	return img, nil
}

// composite blends a warped padded tile into the output. A tile's
// weight ramps from 0 to 1 across the doubled overlap band shared with
// the tile to its left (and above); the previously composited neighbor
// keeps the complement, so the pair cross-fades linearly. Trailing
// edges are written at full weight and faded over by the next tile.
func (t tiled) composite(out *image.RGBA, res tileResult) {
	job := res.job
	span := float64(2 * t.cfg.TileOverlap)
	for y := job.py0; y < job.py1; y++ {
		wy := 1.0
		if job.iy0 > 0 {
			wy = clamp01(float64(y-job.py0) / span)
		}
		srcRow := res.img.PixOffset(0, y-job.py0)
		dstRow := out.PixOffset(0, y)
		for x := job.px0; x < job.px1; x++ {
			wx := 1.0
			if job.ix0 > 0 {
				wx = clamp01(float64(x-job.px0) / span)
			}
			w := wx * wy
			si := srcRow + (x-job.px0)*4
			di := dstRow + x*4
			if w >= 1 {
				copy(out.Pix[di:di+4], res.img.Pix[si:si+4])
				continue
			}
			for c := 0; c < 3; c++ {
				v := float64(out.Pix[di+c])*(1-w) + float64(res.img.Pix[si+c])*w
				out.Pix[di+c] = uint8(v + 0.5)
			}
			out.Pix[di+3] = 0xff
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
