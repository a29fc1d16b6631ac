// Package encode implements the tile encoder (C3): compresses each
// changed tile independently to JPEG at a configured quality, in
// parallel across a worker pool, preserving the partitioner's scan
// order in the output table.
//
// JPEG via the standard library mirrors the teacher's own still-image
// path (screenshot.go's convertPNGtoJPEG) — no third-party still-image
// codec appears anywhere in the retrieved corpus.
package encode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/tile"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/velerr"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/wire"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/workpool"
)

// Encoder holds no mutable state: per spec.md §4.3, "encoder state is
// immutable between calls".
type Encoder struct {
	pool *workpool.Pool
}

// New returns an encoder whose worker pool is sized NumCPU+2.
func New() *Encoder {
	return &Encoder{pool: workpool.New(2)}
}

// EncodeTile compresses a single tile's raw pixels to JPEG at quality
// in [1,100]. Quality is clamped defensively since governor-sourced
// values could in principle drift out of range between ticks.
func (e *Encoder) EncodeTile(t tile.Tile, format tile.PixelFormat, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	img := toImage(t, format)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", velerr.ErrEncodeError, err)
	}
	return buf.Bytes(), nil
}

// EncodeDelta encodes every tile in df concurrently and returns a
// wire.EncodedDelta with tiles in the original scan order. A tile that
// fails to encode (EncodeError) is dropped from the delta; the others
// still ship, per spec.md §7's EncodeError policy.
func (e *Encoder) EncodeDelta(ctx context.Context, df *tile.DeltaFrame, format tile.PixelFormat, quality int) (*wire.EncodedDelta, error) {
	out := make([]*wire.EncodedTile, len(df.Tiles))

	err := e.pool.Run(ctx, len(df.Tiles), func(_ context.Context, i int) error {
		t := df.Tiles[i]
		img, encErr := e.EncodeTile(t, format, quality)
		if encErr != nil {
			// EncodeError: drop this tile, don't fail the whole delta.
			return nil
		}
		out[i] = &wire.EncodedTile{X: t.X, Y: t.Y, W: t.W, H: t.H, Image: img}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ed := &wire.EncodedDelta{
		FrameNumber:       df.FrameNumber,
		FullFrameFallback: df.FullFrameFallback,
	}
	if df.FullFrameFallback && len(df.Tiles) == 1 {
		ed.FullW, ed.FullH = df.Tiles[0].W, df.Tiles[0].H
	}

	for _, t := range out {
		if t != nil {
			ed.Tiles = append(ed.Tiles, *t)
		}
	}
	return ed, nil
}

func toImage(t tile.Tile, format tile.PixelFormat) image.Image {
	switch format {
	case tile.FormatBGRA:
		img := image.NewRGBA(image.Rect(0, 0, t.W, t.H))
		for i := 0; i+3 < len(t.Pix); i += 4 {
			b, g, r, a := t.Pix[i], t.Pix[i+1], t.Pix[i+2], t.Pix[i+3]
			img.Pix[i] = r
			img.Pix[i+1] = g
			img.Pix[i+2] = b
			img.Pix[i+3] = a
		}
		return img
	default: // RGB
		img := image.NewRGBA(image.Rect(0, 0, t.W, t.H))
		srcStride := t.W * 3
		for y := 0; y < t.H; y++ {
			for x := 0; x < t.W; x++ {
				srcOff := y*srcStride + x*3
				dstOff := img.PixOffset(x, y)
				if srcOff+2 >= len(t.Pix) {
					continue
				}
				img.Pix[dstOff] = t.Pix[srcOff]
				img.Pix[dstOff+1] = t.Pix[srcOff+1]
				img.Pix[dstOff+2] = t.Pix[srcOff+2]
				img.Pix[dstOff+3] = 0xFF
			}
		}
		return img
	}
}
