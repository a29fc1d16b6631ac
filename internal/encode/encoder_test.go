package encode

import (
	"bytes"
	"context"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/tile"
)

func rgbTile(w, h int, v byte) tile.Tile {
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = v
	}
	return tile.Tile{X: 0, Y: 0, W: w, H: h, Pix: pix}
}

func TestEncodeTile_ProducesDecodableJPEG(t *testing.T) {
	e := New()
	data, err := e.EncodeTile(rgbTile(16, 16, 128), tile.FormatRGB, 80)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestEncodeTile_ClampsOutOfRangeQuality(t *testing.T) {
	e := New()
	_, err := e.EncodeTile(rgbTile(8, 8, 1), tile.FormatRGB, 500)
	assert.NoError(t, err)
	_, err = e.EncodeTile(rgbTile(8, 8, 1), tile.FormatRGB, -5)
	assert.NoError(t, err)
}

func TestEncodeDelta_PreservesScanOrder(t *testing.T) {
	e := New()
	df := &tile.DeltaFrame{
		FrameNumber: 1,
		Tiles: []tile.Tile{
			rgbTile(8, 8, 1),
			{X: 8, Y: 0, W: 4, H: 4, Pix: make([]byte, 4*4*3)},
			{X: 12, Y: 0, W: 2, H: 2, Pix: make([]byte, 2*2*3)},
		},
	}

	ed, err := e.EncodeDelta(context.Background(), df, tile.FormatRGB, 70)
	require.NoError(t, err)
	require.Len(t, ed.Tiles, 3)
	assert.Equal(t, 0, ed.Tiles[0].X)
	assert.Equal(t, 8, ed.Tiles[1].X)
	assert.Equal(t, 12, ed.Tiles[2].X)
}

func TestEncodeDelta_FullFrameSetsFullDimensions(t *testing.T) {
	e := New()
	df := &tile.DeltaFrame{
		FrameNumber:       1,
		FullFrameFallback: true,
		Tiles:             []tile.Tile{rgbTile(32, 24, 9)},
	}

	ed, err := e.EncodeDelta(context.Background(), df, tile.FormatRGB, 70)
	require.NoError(t, err)
	assert.Equal(t, 32, ed.FullW)
	assert.Equal(t, 24, ed.FullH)
	require.Len(t, ed.Tiles, 1)
}
