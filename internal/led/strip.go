// Package led holds the LED strip outputs: one radial strip per arm.
package led

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
)

// DefaultFreq is the SPI clock for WS2812 NRZ encoding, as the cube driver used.
const DefaultFreq = ((800 * 3) + 100) * physic.KiloHertz

// Strip is the per-arm output sink: pixels are staged with SetPixel and pushed
// to the hardware with Refresh.
type Strip interface {
	SetPixel(i int, r, g, b uint8)
	Refresh() error
	Len() int
}

// DrawerStrip stages pixels in a 1xN image and draws it onto a periph
// display.Drawer on Refresh. nrzled.Dev is such a drawer.
type DrawerStrip struct {
	mu     sync.Mutex
	drawer display.Drawer
	img    *image.NRGBA
	closer func() error
}

func NewDrawerStrip(d display.Drawer, n int) *DrawerStrip {
	return &DrawerStrip{
		drawer: d,
		img:    image.NewNRGBA(image.Rect(0, 0, n, 1)),
	}
}

// OpenNRZ opens a WS2812-style strip of n pixels on the named SPI port.
func OpenNRZ(port string, n int, freq physic.Frequency) (*DrawerStrip, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid LED count: %d", n)
	}
	if freq == 0 {
		freq = DefaultFreq
	}
	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", port, err)
	}
	d, err := newNRZ(p, n, freq)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	s := NewDrawerStrip(d, n)
	s.closer = func() error {
		return errors.Join(d.Halt(), p.Close())
	}
	return s, nil
}

func newNRZ(p spi.Port, n int, freq physic.Frequency) (*nrzled.Dev, error) {
	d, err := nrzled.NewSPI(p, &nrzled.Opts{
		NumPixels: n,
		Channels:  3,
		Freq:      freq,
	})
	if err != nil {
		return nil, fmt.Errorf("nrzled: %w", err)
	}
	if err := d.Halt(); err != nil {
		return nil, fmt.Errorf("nrzled halt: %w", err)
	}
	return d, nil
}

func (s *DrawerStrip) SetPixel(i int, r, g, b uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= s.img.Rect.Max.X {
		return
	}
	s.img.SetNRGBA(i, 0, color.NRGBA{R: r, G: g, B: b, A: 255})
}

func (s *DrawerStrip) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawer.Draw(s.drawer.Bounds(), s.img, image.Point{})
}

func (s *DrawerStrip) Len() int { return s.img.Rect.Max.X }

// Pixel reads back a staged pixel.
func (s *DrawerStrip) Pixel(i int) color.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img.NRGBAAt(i, 0)
}

// Clear blanks the staged pixels and refreshes.
func (s *DrawerStrip) Clear() error {
	s.mu.Lock()
	for i := range s.img.Pix {
		s.img.Pix[i] = 0
	}
	s.mu.Unlock()
	return s.Refresh()
}

func (s *DrawerStrip) Close() error {
	if s.closer == nil {
		return s.drawer.Halt()
	}
	return s.closer()
}

// Multi fans one logical strip out to several sinks, e.g. hardware plus the
// web preview. Refresh reports the first error but refreshes every sink.
type Multi []Strip

func (m Multi) SetPixel(i int, r, g, b uint8) {
	for _, s := range m {
		s.SetPixel(i, r, g, b)
	}
}

func (m Multi) Refresh() error {
	var errs []error
	for _, s := range m {
		if err := s.Refresh(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Len() int {
	n := 0
	for _, s := range m {
		if l := s.Len(); l > n {
			n = l
		}
	}
	return n
}

// Fill sets every pixel of s to one colour without refreshing.
func Fill(s Strip, r, g, b uint8) {
	for i := 0; i < s.Len(); i++ {
		s.SetPixel(i, r, g, b)
	}
}
