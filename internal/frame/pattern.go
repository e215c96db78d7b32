package frame

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

// QVGA frame size, matching the sensor default.
const (
	PatternWidth  = 320
	PatternHeight = 240
)

// Pattern renders a synthetic test card: colour bars with a sweeping white bar
// and a frame counter strip, JPEG encoded. It stands in for a camera sensor.
type Pattern struct {
	quality int
	count   uint64
}

// NewPattern creates a pattern source encoding at the given JPEG quality.
func NewPattern(quality int) *Pattern {
	if quality < 1 || quality > 100 {
		quality = 35
	}
	return &Pattern{quality: quality}
}

var bars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// Acquire renders and encodes the next frame.
func (p *Pattern) Acquire(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := p.count
	p.count++

	img := image.NewRGBA(image.Rect(0, 0, PatternWidth, PatternHeight))
	barWidth := PatternWidth / len(bars)
	sweep := sweepOffset(n)

	for y := 0; y < PatternHeight; y++ {
		for x := 0; x < PatternWidth; x++ {
			c := bars[min(x/barWidth, len(bars)-1)]
			if x >= sweep && x < sweep+6 {
				c = color.RGBA{255, 255, 255, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	// Bottom strip: the low 32 bits of the counter, one cell per bit.
	cell := PatternWidth / 32
	for bit := 0; bit < 32; bit++ {
		c := color.RGBA{0, 0, 0, 255}
		if n&(1<<uint(31-bit)) != 0 {
			c = color.RGBA{255, 255, 255, 255}
		}
		for y := PatternHeight - 16; y < PatternHeight; y++ {
			for x := bit * cell; x < (bit+1)*cell; x++ {
				img.SetRGBA(x, y, c)
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encoding frame %d: %w", n, err)
	}
	return buf.Bytes(), nil
}

// sweepOffset is the x position of the sweep bar for frame n.
func sweepOffset(n uint64) int {
	return int((n * 4) % PatternWidth)
}
