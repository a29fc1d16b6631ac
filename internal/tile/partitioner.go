// Package tile implements the tile partitioner and delta detector
// (C2): compares the current frame to the prior one and emits the set
// of changed tiles, or a single full-frame tile on cold start,
// resolution change, or a forced keyframe.
package tile

import (
	"bytes"
	"context"
	"sync"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/workpool"
)

// PixelFormat mirrors the frame pixel layout (spec.md §3).
type PixelFormat int

const (
	FormatRGB PixelFormat = iota
	FormatBGRA
)

// BytesPerPixel returns the stride multiplier for the format.
func (f PixelFormat) BytesPerPixel() int {
	if f == FormatBGRA {
		return 4
	}
	return 3
}

// Frame is a raw pixel buffer with uniform row stride == w*bpp.
type Frame struct {
	Width, Height int
	Format        PixelFormat
	Pix           []byte
}

// Tile is {x,y,w,h,pixels}; x+w<=frame.w and y+h<=frame.h always hold
// for every tile this package emits.
type Tile struct {
	X, Y, W, H int
	Pix        []byte
}

// DeltaFrame is the partitioner's output: either a set of disjoint
// changed tiles, or — on full_frame_fallback — exactly one tile
// covering the whole frame.
type DeltaFrame struct {
	FrameNumber       uint64
	Tiles             []Tile
	FullFrameFallback bool
}

// Partitioner holds the previous frame buffer and the current tile
// size, grounded on core/tile_partitioner.py's TilePartitioner.
type Partitioner struct {
	mu           sync.Mutex
	tileSize     int
	lastFrame    *Frame
	frameNumber  uint64
	pool         *workpool.Pool
}

// New creates a partitioner with the given initial tile size.
func New(tileSize int) *Partitioner {
	if tileSize <= 0 {
		tileSize = 128
	}
	return &Partitioner{tileSize: tileSize, pool: workpool.New(0)}
}

// SetTileSize mutates the grid size applied to the next frame. The
// "reference replaced every call" invariant holds regardless of when
// this is called (spec.md §4.2).
func (p *Partitioner) SetTileSize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tileSize = n
}

// TileSize returns the currently configured tile size.
func (p *Partitioner) TileSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tileSize
}

// Reset clears the reference frame, forcing the next call to emit a
// full-frame fallback.
func (p *Partitioner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFrame = nil
}

// PartitionAndDetectChanges compares current against the held
// reference and returns the changed tiles, or a full-frame fallback on
// cold start or resolution mismatch. The reference is always replaced
// with current before returning, even when no tiles changed.
func (p *Partitioner) PartitionAndDetectChanges(ctx context.Context, current *Frame, forceKeyframe bool) (*DeltaFrame, error) {
	p.mu.Lock()
	tileSize := p.tileSize
	last := p.lastFrame
	p.frameNumber++
	fn := p.frameNumber
	p.mu.Unlock()

	if forceKeyframe || last == nil || last.Width != current.Width || last.Height != current.Height {
		df := fullFrameDelta(fn, current)
		p.mu.Lock()
		p.lastFrame = current
		p.mu.Unlock()
		return df, nil
	}

	bpp := current.Format.BytesPerPixel()
	type band struct {
		y0, y1 int
	}
	var bands []band
	for y := 0; y < current.Height; y += tileSize {
		h := min(tileSize, current.Height-y)
		bands = append(bands, band{y0: y, y1: y + h})
	}

	results := make([][]Tile, len(bands))
	err := p.pool.Run(ctx, len(bands), func(_ context.Context, i int) error {
		b := bands[i]
		var rowTiles []Tile
		for x := 0; x < current.Width; x += tileSize {
			w := min(tileSize, current.Width-x)
			h := b.y1 - b.y0
			curRegion := extractRegion(current, x, b.y0, w, h, bpp)
			prevRegion := extractRegion(last, x, b.y0, w, h, bpp)
			if !bytes.Equal(curRegion, prevRegion) {
				rowTiles = append(rowTiles, Tile{X: x, Y: b.y0, W: w, H: h, Pix: curRegion})
			}
		}
		results[i] = rowTiles
		return nil
	})
	if err != nil {
		return nil, err
	}

	var tiles []Tile
	for _, r := range results {
		tiles = append(tiles, r...)
	}

	p.mu.Lock()
	p.lastFrame = current
	p.mu.Unlock()

	return &DeltaFrame{FrameNumber: fn, Tiles: tiles, FullFrameFallback: false}, nil
}

// CreateFullFrameDelta forces a full-frame tile, bypassing change
// detection; it still advances the frame counter and replaces the
// reference frame. Used by keyframe_payload() (C5), grounded on
// core/tile_partitioner.py's
// create_full_frame_delta.
func (p *Partitioner) CreateFullFrameDelta(current *Frame) *DeltaFrame {
	p.mu.Lock()
	p.frameNumber++
	fn := p.frameNumber
	p.mu.Unlock()

	df := fullFrameDelta(fn, current)

	p.mu.Lock()
	p.lastFrame = current
	p.mu.Unlock()

	return df
}

func fullFrameDelta(frameNumber uint64, f *Frame) *DeltaFrame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &DeltaFrame{
		FrameNumber:       frameNumber,
		FullFrameFallback: true,
		Tiles: []Tile{{
			X: 0, Y: 0, W: f.Width, H: f.Height, Pix: pix,
		}},
	}
}

func extractRegion(f *Frame, x, y, w, h, bpp int) []byte {
	stride := f.Width * bpp
	out := make([]byte, w*h*bpp)
	for row := 0; row < h; row++ {
		srcOff := (y+row)*stride + x*bpp
		dstOff := row * w * bpp
		copy(out[dstOff:dstOff+w*bpp], f.Pix[srcOff:srcOff+w*bpp])
	}
	return out
}
