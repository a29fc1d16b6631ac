package capture

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// glyphRadius is the on-screen size of the synthetic cursor glyph
// composited when draw_cursor is requested. The teacher's original
// cursor overlay reads the real OS cursor pixmap (core/capture.py);
// this module draws a simple filled circle in its place since cursor
// pixmap acquisition is an OS-portal concern this spec places outside
// the core (spec.md §1).
const glyphRadius = 8

// drawCursorGlyph paints a small white disc with a black rim centered
// at (cx, cy) directly into dst via x/image/draw, at the glyph's native
// size; the glyph is not scaled.
func drawCursorGlyph(dst *image.RGBA, cx, cy int) {
	glyph := image.NewRGBA(image.Rect(0, 0, glyphRadius*2, glyphRadius*2))
	center := glyphRadius
	for y := 0; y < glyphRadius*2; y++ {
		for x := 0; x < glyphRadius*2; x++ {
			dx, dy := x-center, y-center
			distSq := dx*dx + dy*dy
			switch {
			case distSq <= (glyphRadius-2)*(glyphRadius-2):
				glyph.Set(x, y, color.White)
			case distSq <= glyphRadius*glyphRadius:
				glyph.Set(x, y, color.Black)
			}
		}
	}

	dstRect := image.Rect(cx-glyphRadius, cy-glyphRadius, cx+glyphRadius, cy+glyphRadius)
	draw.Draw(dst, dstRect, glyph, image.Point{}, draw.Over)
}
