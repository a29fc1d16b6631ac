package tile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(w, h int, v byte) *Frame {
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = v
	}
	return &Frame{Width: w, Height: h, Format: FormatRGB, Pix: pix}
}

func TestPartitionAndDetectChanges_ColdStartIsFullFrame(t *testing.T) {
	p := New(64)
	f := solidFrame(128, 128, 10)

	df, err := p.PartitionAndDetectChanges(context.Background(), f, false)
	require.NoError(t, err)

	assert.True(t, df.FullFrameFallback)
	require.Len(t, df.Tiles, 1)
	assert.Equal(t, 0, df.Tiles[0].X)
	assert.Equal(t, 0, df.Tiles[0].Y)
	assert.Equal(t, 128, df.Tiles[0].W)
	assert.Equal(t, 128, df.Tiles[0].H)
}

func TestPartitionAndDetectChanges_NoChangeYieldsNoTiles(t *testing.T) {
	p := New(64)
	f1 := solidFrame(128, 128, 10)
	_, err := p.PartitionAndDetectChanges(context.Background(), f1, false)
	require.NoError(t, err)

	f2 := solidFrame(128, 128, 10)
	df, err := p.PartitionAndDetectChanges(context.Background(), f2, false)
	require.NoError(t, err)

	assert.False(t, df.FullFrameFallback)
	assert.Empty(t, df.Tiles)
}

func TestPartitionAndDetectChanges_TileBoundsStayWithinFrame(t *testing.T) {
	p := New(64)
	f1 := solidFrame(100, 90, 0)
	_, err := p.PartitionAndDetectChanges(context.Background(), f1, false)
	require.NoError(t, err)

	f2 := solidFrame(100, 90, 0)
	// flip every byte so every tile changes
	for i := range f2.Pix {
		f2.Pix[i] = 0xFF
	}
	df, err := p.PartitionAndDetectChanges(context.Background(), f2, false)
	require.NoError(t, err)
	require.NotEmpty(t, df.Tiles)

	for _, tl := range df.Tiles {
		assert.LessOrEqual(t, tl.X+tl.W, f2.Width)
		assert.LessOrEqual(t, tl.Y+tl.H, f2.Height)
		assert.Len(t, tl.Pix, tl.W*tl.H*3)
	}
}

func TestPartitionAndDetectChanges_ForceKeyframeIsFullFrame(t *testing.T) {
	p := New(64)
	f1 := solidFrame(64, 64, 1)
	_, err := p.PartitionAndDetectChanges(context.Background(), f1, false)
	require.NoError(t, err)

	f2 := solidFrame(64, 64, 1)
	df, err := p.PartitionAndDetectChanges(context.Background(), f2, true)
	require.NoError(t, err)
	assert.True(t, df.FullFrameFallback)
}

func TestPartitionAndDetectChanges_ResolutionChangeIsFullFrame(t *testing.T) {
	p := New(64)
	f1 := solidFrame(64, 64, 1)
	_, err := p.PartitionAndDetectChanges(context.Background(), f1, false)
	require.NoError(t, err)

	f2 := solidFrame(128, 64, 1)
	df, err := p.PartitionAndDetectChanges(context.Background(), f2, false)
	require.NoError(t, err)
	assert.True(t, df.FullFrameFallback)
}

func TestCreateFullFrameDelta(t *testing.T) {
	p := New(32)
	f := solidFrame(40, 20, 5)
	df := p.CreateFullFrameDelta(f)
	assert.True(t, df.FullFrameFallback)
	require.Len(t, df.Tiles, 1)
	assert.Equal(t, 40, df.Tiles[0].W)
	assert.Equal(t, 20, df.Tiles[0].H)
}
