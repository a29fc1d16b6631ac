// Package wire implements the payload framer (C4): serializes a
// DeltaFrame into the binary envelope normative in spec.md §4.4/§6.2.
// Byte order is little-endian throughout, grounded on the teacher's
// own manual binary.LittleEndian wire-building in session_registry.go.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Type tags (spec.md §6.1/§6.2).
const (
	TypeDelta    byte = 0x01
	TypeKeyframe byte = 0x02
	TypeAudio    byte = 0x05
)

// EncodedTile is a tile whose pixels have already been compressed by
// C3; the framer only knows byte lengths, not the codec.
type EncodedTile struct {
	X, Y, W, H int
	Image      []byte
}

// EncodedDelta is the framer's input: a DeltaFrame whose tiles have
// been replaced by their encoded bytes, in the partitioner's original
// scan order.
type EncodedDelta struct {
	FrameNumber       uint64
	FullFrameFallback bool
	FullW, FullH      int
	Tiles             []EncodedTile
}

// EncodeDelta serializes an EncodedDelta as a 0x01 delta payload (or a
// full-frame-fallback payload with num_tiles=0) with the given
// timestamp.
func EncodeDelta(d *EncodedDelta, ts time.Time) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(TypeDelta)

	if err := binary.Write(&buf, binary.LittleEndian, int64(ts.UnixMilli())); err != nil {
		return nil, err
	}

	if d.FullFrameFallback {
		if len(d.Tiles) != 1 {
			return nil, fmt.Errorf("wire: full_frame_fallback requires exactly one tile, got %d", len(d.Tiles))
		}
		if err := binary.Write(&buf, binary.LittleEndian, int32(0)); err != nil {
			return nil, err
		}
		t := d.Tiles[0]
		for _, v := range []int32{int32(d.FullW), int32(d.FullH), int32(len(t.Image))} {
			if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
				return nil, err
			}
		}
		buf.Write(t.Image)
		return buf.Bytes(), nil
	}

	if err := binary.Write(&buf, binary.LittleEndian, int32(len(d.Tiles))); err != nil {
		return nil, err
	}
	for _, t := range d.Tiles {
		for _, v := range []int32{int32(t.X), int32(t.Y), int32(t.W), int32(t.H), int32(len(t.Image))} {
			if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
				return nil, err
			}
		}
		buf.Write(t.Image)
	}
	return buf.Bytes(), nil
}

// Keyframe rewrites an already-serialized delta payload's type tag to
// 0x02, per spec.md §4.4: "all other bytes identical". It does not
// re-encode.
func Keyframe(deltaPayload []byte) []byte {
	out := make([]byte, len(deltaPayload))
	copy(out, deltaPayload)
	if len(out) > 0 {
		out[0] = TypeKeyframe
	}
	return out
}

// EncodeAudio wraps a pre-encoded audio packet in the 0x05 envelope:
// u8 type, u32 length, bytes payload. Only the envelope is normative
// (spec.md §9); the codec inside is opaque to this package.
func EncodeAudio(packet []byte) []byte {
	out := make([]byte, 0, 1+4+len(packet))
	out = append(out, TypeAudio)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(packet)))
	out = append(out, lenBuf...)
	out = append(out, packet...)
	return out
}

// DecodedTile mirrors EncodedTile for parsing, kept distinct so
// encode/decode code paths stay independently testable.
type DecodedTile struct {
	X, Y, W, H int
	Image      []byte
}

// Decoded is the parsed form of a payload, used by tests asserting the
// round-trip and full-frame-form invariants.
type Decoded struct {
	Type              byte
	TimestampMs       int64
	FullFrameFallback bool
	FullW, FullH      int
	Tiles             []DecodedTile
}

// Decode parses a payload produced by EncodeDelta/Keyframe.
func Decode(payload []byte) (*Decoded, error) {
	r := bytes.NewReader(payload)

	typeTag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("wire: read type tag: %w", err)
	}

	var ts int64
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return nil, fmt.Errorf("wire: read timestamp: %w", err)
	}

	var numTiles int32
	if err := binary.Read(r, binary.LittleEndian, &numTiles); err != nil {
		return nil, fmt.Errorf("wire: read num_tiles: %w", err)
	}

	d := &Decoded{Type: typeTag, TimestampMs: ts}

	if numTiles == 0 {
		var fullW, fullH, length int32
		for _, p := range []*int32{&fullW, &fullH, &length} {
			if err := binary.Read(r, binary.LittleEndian, p); err != nil {
				return nil, fmt.Errorf("wire: read full-frame header: %w", err)
			}
		}
		img := make([]byte, length)
		if _, err := r.Read(img); err != nil {
			return nil, fmt.Errorf("wire: read full-frame image: %w", err)
		}
		d.FullFrameFallback = true
		d.FullW, d.FullH = int(fullW), int(fullH)
		d.Tiles = []DecodedTile{{X: 0, Y: 0, W: int(fullW), H: int(fullH), Image: img}}
		return d, nil
	}

	d.Tiles = make([]DecodedTile, 0, numTiles)
	for i := int32(0); i < numTiles; i++ {
		var x, y, w, h, length int32
		for _, p := range []*int32{&x, &y, &w, &h, &length} {
			if err := binary.Read(r, binary.LittleEndian, p); err != nil {
				return nil, fmt.Errorf("wire: read tile header %d: %w", i, err)
			}
		}
		img := make([]byte, length)
		if _, err := r.Read(img); err != nil {
			return nil, fmt.Errorf("wire: read tile image %d: %w", i, err)
		}
		d.Tiles = append(d.Tiles, DecodedTile{X: int(x), Y: int(y), W: int(w), H: int(h), Image: img})
	}
	return d, nil
}
