package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeDelta_RoundTrip(t *testing.T) {
	d := &EncodedDelta{
		FrameNumber: 7,
		Tiles: []EncodedTile{
			{X: 0, Y: 0, W: 16, H: 16, Image: []byte{1, 2, 3}},
			{X: 16, Y: 0, W: 8, H: 8, Image: []byte{4, 5}},
		},
	}
	ts := time.UnixMilli(1700000000123)

	payload, err := EncodeDelta(d, ts)
	require.NoError(t, err)

	decoded, err := Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, TypeDelta, decoded.Type)
	assert.Equal(t, ts.UnixMilli(), decoded.TimestampMs)
	assert.False(t, decoded.FullFrameFallback)
	require.Len(t, decoded.Tiles, 2)
	assert.Equal(t, []byte{1, 2, 3}, decoded.Tiles[0].Image)
	assert.Equal(t, 16, decoded.Tiles[1].X)
	assert.Equal(t, []byte{4, 5}, decoded.Tiles[1].Image)
}

func TestEncodeDecodeDelta_FullFrameForm(t *testing.T) {
	d := &EncodedDelta{
		FrameNumber:       1,
		FullFrameFallback: true,
		FullW:             640,
		FullH:             480,
		Tiles:             []EncodedTile{{Image: []byte{9, 9, 9, 9}}},
	}

	payload, err := EncodeDelta(d, time.UnixMilli(5000))
	require.NoError(t, err)

	decoded, err := Decode(payload)
	require.NoError(t, err)

	assert.True(t, decoded.FullFrameFallback)
	assert.Equal(t, 640, decoded.FullW)
	assert.Equal(t, 480, decoded.FullH)
	require.Len(t, decoded.Tiles, 1)
	assert.Equal(t, []byte{9, 9, 9, 9}, decoded.Tiles[0].Image)
}

func TestEncodeDelta_FullFrameRequiresExactlyOneTile(t *testing.T) {
	d := &EncodedDelta{FullFrameFallback: true, Tiles: []EncodedTile{}}
	_, err := EncodeDelta(d, time.UnixMilli(0))
	assert.Error(t, err)
}

func TestKeyframe_OnlyRewritesTypeByte(t *testing.T) {
	d := &EncodedDelta{
		Tiles: []EncodedTile{{X: 1, Y: 2, W: 3, H: 4, Image: []byte{0xAA}}},
	}
	payload, err := EncodeDelta(d, time.UnixMilli(42))
	require.NoError(t, err)

	kf := Keyframe(payload)
	require.Len(t, kf, len(payload))
	assert.Equal(t, TypeKeyframe, kf[0])
	assert.Equal(t, payload[1:], kf[1:])

	decoded, err := Decode(kf)
	require.NoError(t, err)
	assert.Equal(t, TypeKeyframe, decoded.Type)
	assert.Equal(t, int64(42), decoded.TimestampMs)
}

func TestEncodeAudio_Envelope(t *testing.T) {
	packet := []byte{1, 2, 3, 4, 5}
	out := EncodeAudio(packet)

	require.Len(t, out, 1+4+len(packet))
	assert.Equal(t, TypeAudio, out[0])
	assert.Equal(t, packet, out[5:])
}
