// Package canvas is the shared 360-column image sampled by every arm.
//
// Column x holds the image content for absolute angle x degrees; each row is
// one LED position along an arm. The canvas has no lock: only the producer
// active for the current mode writes it, on the same loop that renders it.
package canvas

import (
	"github.com/coreman2200/arcaluminis-pov/internal/config"
	"github.com/coreman2200/arcaluminis-pov/internal/led"
)

// Width is one column per degree.
const Width = 360

type Pixel struct {
	R, G, B uint8
}

type Canvas struct {
	height int
	pix    []Pixel
}

// New allocates a cleared canvas of the given height (the longest strip).
func New(height int) *Canvas {
	if height < 0 {
		height = 0
	}
	return &Canvas{
		height: height,
		pix:    make([]Pixel, Width*height),
	}
}

func (c *Canvas) Height() int { return c.height }

func (c *Canvas) index(x, y int) int { return y*Width + x }

func (c *Canvas) inBounds(x, y int) bool {
	return x >= 0 && x < Width && y >= 0 && y < c.height
}

func (c *Canvas) Clear() {
	for i := range c.pix {
		c.pix[i] = Pixel{}
	}
}

// SetPixel writes one pixel. Out-of-bounds writes are ignored so frame
// rectangles spilling past the canvas never fault.
func (c *Canvas) SetPixel(x, y int, p Pixel) {
	if !c.inBounds(x, y) {
		return
	}
	c.pix[c.index(x, y)] = p
}

// At reads one pixel; out of bounds reads are black.
func (c *Canvas) At(x, y int) Pixel {
	if !c.inBounds(x, y) {
		return Pixel{}
	}
	return c.pix[c.index(x, y)]
}

// Column is the canvas column an arm shows when the wheel is at angle.
func Column(arm config.Arm, angle int) int {
	x := (arm.MountAngle - angle + Width) % Width
	if x < 0 {
		x += Width
	}
	return x
}

// Render projects the arm's column onto its strip and refreshes it. Rows past
// the canvas height are left untouched. Strip errors are returned as-is.
func (c *Canvas) Render(strip led.Strip, arm config.Arm, angle int) error {
	x := Column(arm, angle)
	n := arm.NumLEDs
	if n > c.height {
		n = c.height
	}
	for y := 0; y < n; y++ {
		p := c.pix[c.index(x, y)]
		strip.SetPixel(y, p.R, p.G, p.B)
	}
	return strip.Refresh()
}
