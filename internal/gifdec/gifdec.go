// Package gifdec decodes GIF sources into composited RGBA frames for the
// animation player.
package gifdec

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"

	"golang.org/x/image/draw"

	"github.com/coreman2200/arcaluminis-pov/internal/anim"
)

// Bitmaps allocates the frame buffers a decoder composites into. Hosts with
// special memory (DMA-capable, pooled) supply their own.
type Bitmaps interface {
	Create(w, h int) *image.RGBA
	Release(b *image.RGBA)
}

// Heap is the default Bitmaps, backed by the Go heap.
type Heap struct{}

func (Heap) Create(w, h int) *image.RGBA { return image.NewRGBA(image.Rect(0, 0, w, h)) }
func (Heap) Release(*image.RGBA)         {}

// Opener opens GIF data. The zero value uses Heap.
type Opener struct {
	Bitmaps Bitmaps
}

var _ anim.Opener = Opener{}

func (o Opener) Open(data []byte) (anim.Decoder, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("gif: %w", anim.ErrEmptySource)
	}
	b := o.Bitmaps
	if b == nil {
		b = Heap{}
	}
	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		// Some encoders leave the logical screen unset; fall back to the union
		// of frame bounds.
		var r image.Rectangle
		for _, f := range g.Image {
			r = r.Union(f.Bounds())
		}
		w, h = r.Max.X, r.Max.Y
	}
	d := &Decoder{
		g:       g,
		bitmaps: b,
		width:   w,
		height:  h,
		drawn:   -1,
	}
	d.dst = b.Create(w, h)
	return d, nil
}

// Decoder walks the frames of one GIF and composites them with the GIF
// disposal rules.
type Decoder struct {
	g       *gif.GIF
	bitmaps Bitmaps
	width   int
	height  int

	next  int // frame PrepareNextFrame hands out next
	drawn int // last frame composited into dst
	dst   *image.RGBA
	saved *image.RGBA
}

func (d *Decoder) Info() anim.Info {
	return anim.Info{FrameCount: len(d.g.Image), Width: d.width, Height: d.height}
}

// PrepareNextFrame hands out frames in order along with the area that changed
// since the previous one. Past the last frame, and for a still image, the
// delay is anim.HoldForever.
func (d *Decoder) PrepareNextFrame() (image.Rectangle, uint32, int, error) {
	n := len(d.g.Image)
	if d.next >= n {
		return image.Rectangle{}, anim.HoldForever, n - 1, nil
	}
	i := d.next
	d.next++
	rect := d.dirty(i)
	if n == 1 {
		return rect, anim.HoldForever, i, nil
	}
	delay := 0
	if i < len(d.g.Delay) {
		delay = d.g.Delay[i]
	}
	if delay < 0 {
		delay = 0
	}
	return rect, uint32(delay), i, nil
}

// dirty is the area DecodeFrame(i) changes when frames are played in order:
// the frame itself plus whatever disposing of the previous frame clears. The
// first frame repaints the whole screen, since it may follow a restart.
func (d *Decoder) dirty(i int) image.Rectangle {
	if i == 0 {
		return image.Rect(0, 0, d.width, d.height)
	}
	r := d.g.Image[i].Bounds()
	switch d.disposal(i - 1) {
	case gif.DisposalBackground, gif.DisposalPrevious:
		r = r.Union(d.g.Image[i-1].Bounds())
	}
	return r
}

// DecodeFrame composites frames up to index and returns the shared frame
// buffer. The buffer is only valid until the next call.
func (d *Decoder) DecodeFrame(index int) (*image.RGBA, error) {
	if index < 0 || index >= len(d.g.Image) {
		return nil, fmt.Errorf("gif: frame %d out of range [0,%d)", index, len(d.g.Image))
	}
	if index < d.drawn {
		d.restart()
	}
	for d.drawn < index {
		d.composite(d.drawn + 1)
	}
	return d.dst, nil
}

func (d *Decoder) restart() {
	clear(d.dst.Pix)
	d.drawn = -1
	d.releaseSaved()
}

func (d *Decoder) composite(i int) {
	if d.drawn >= 0 {
		d.dispose(d.drawn)
	}
	frame := d.g.Image[i]
	if d.disposal(i) == gif.DisposalPrevious {
		if d.saved == nil {
			d.saved = d.bitmaps.Create(d.width, d.height)
		}
		copy(d.saved.Pix, d.dst.Pix)
	}
	draw.Draw(d.dst, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
	d.drawn = i
}

func (d *Decoder) dispose(i int) {
	switch d.disposal(i) {
	case gif.DisposalBackground:
		draw.Draw(d.dst, d.g.Image[i].Bounds(), image.Transparent, image.Point{}, draw.Src)
	case gif.DisposalPrevious:
		if d.saved != nil {
			copy(d.dst.Pix, d.saved.Pix)
		}
	}
}

func (d *Decoder) disposal(i int) byte {
	if i < len(d.g.Disposal) {
		return d.g.Disposal[i]
	}
	return gif.DisposalNone
}

func (d *Decoder) Reset() {
	d.next = 0
}

func (d *Decoder) releaseSaved() {
	if d.saved != nil {
		d.bitmaps.Release(d.saved)
		d.saved = nil
	}
}

func (d *Decoder) Close() {
	d.releaseSaved()
	if d.dst != nil {
		d.bitmaps.Release(d.dst)
		d.dst = nil
	}
}
