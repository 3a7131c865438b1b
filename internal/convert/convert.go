// Package convert resamples ordinary GIFs into the polar layout the wheel
// plays: one column per degree, one row per LED from hub to tip.
package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"io"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/coreman2200/arcaluminis-pov/internal/anim"
	"github.com/coreman2200/arcaluminis-pov/internal/canvas"
	"github.com/coreman2200/arcaluminis-pov/internal/gifdec"
)

type Options struct {
	// Rows is the LED count per arm.
	Rows int
	// CenterOffset is how many LED positions are missing at the hub.
	CenterOffset int
	// Oversample is the number of sub-degree rays averaged per column.
	Oversample int
	// Size, when set, crops the source to a centred square and scales it to
	// Size x Size before sampling.
	Size int
	// Dither uses Floyd-Steinberg when reducing to the output palette.
	Dither bool
}

func DefaultOptions() Options {
	return Options{Rows: 32, CenterOffset: 3, Oversample: 10}
}

func (o Options) validate() error {
	if o.Rows <= 0 || o.CenterOffset < 0 || o.Oversample <= 0 || o.Size < 0 {
		return fmt.Errorf("invalid options %+v", o)
	}
	return nil
}

// Polar samples src along 360 rays from its centre. Each output pixel
// averages the source pixels its ray segment crosses.
func Polar(src image.Image, o Options) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, canvas.Width, o.Rows))
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	cx, cy := w/2, h/2
	length := min(cx, cy)
	steps := float64(o.Rows + o.CenterOffset)

	for deg := 0; deg < canvas.Width; deg++ {
		var r, g, bl, n uint32
		row := 0
		for i := 0; i < length; i++ {
			for sub := 0; sub < o.Oversample; sub++ {
				a := (float64(deg) + float64(sub)/float64(o.Oversample)) * math.Pi / 180
				x := clampInt(int(math.Round(float64(cx)+float64(i)*math.Cos(a))), 0, w-1)
				y := clampInt(int(math.Round(float64(cy)+float64(i)*math.Sin(a))), 0, h-1)
				c := color.RGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				r += uint32(c.R)
				g += uint32(c.G)
				bl += uint32(c.B)
				n++
			}

			if float64(i) <= float64(length)/steps*float64(row) {
				continue
			}
			row++
			y := row - o.CenterOffset - 1
			if y >= 0 && y < o.Rows && n > 0 {
				out.SetRGBA(deg, y, color.RGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: 255})
			}
			r, g, bl, n = 0, 0, 0, 0
		}
	}
	return out
}

// square crops src to its centred square and scales it to size x size.
func square(src image.Image, size int) image.Image {
	b := src.Bounds()
	side := min(b.Dx(), b.Dy())
	crop := image.Rect(0, 0, side, side).Add(b.Min).Add(image.Pt((b.Dx()-side)/2, (b.Dy()-side)/2))
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}

// Convert reads a GIF from r and writes its polar form to w, keeping frame
// delays. It returns the number of frames written.
func Convert(r io.Reader, w io.Writer, o Options, log zerolog.Logger) (int, error) {
	if err := o.validate(); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read input: %w", err)
	}
	dec, err := gifdec.Opener{}.Open(data)
	if err != nil {
		return 0, fmt.Errorf("open input: %w", err)
	}
	defer dec.Close()

	info := dec.Info()
	log.Info().Int("frames", info.FrameCount).Int("width", info.Width).Int("height", info.Height).Msg("converting")

	out := &gif.GIF{Config: image.Config{ColorModel: color.Palette(palette.WebSafe), Width: canvas.Width, Height: o.Rows}}
	quant := draw.Drawer(draw.Src)
	if o.Dither {
		quant = draw.FloydSteinberg
	}

	for n := 0; n < info.FrameCount; n++ {
		_, delay, index, err := dec.PrepareNextFrame()
		if err != nil {
			return n, fmt.Errorf("frame %d: %w", n, err)
		}
		if delay == anim.HoldForever {
			delay = 0
		}
		frame, err := dec.DecodeFrame(index)
		if err != nil {
			return n, fmt.Errorf("frame %d: %w", n, err)
		}
		var src image.Image = frame
		if o.Size > 0 {
			src = square(frame, o.Size)
		}
		polar := Polar(src, o)
		pm := image.NewPaletted(polar.Bounds(), palette.WebSafe)
		quant.Draw(pm, pm.Bounds(), polar, image.Point{})

		out.Image = append(out.Image, pm)
		out.Delay = append(out.Delay, int(delay))
		out.Disposal = append(out.Disposal, gif.DisposalNone)
		log.Debug().Int("frame", n).Uint32("delay", delay).Msg("frame converted")
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		return len(out.Image), fmt.Errorf("encode: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return len(out.Image), fmt.Errorf("write output: %w", err)
	}
	return len(out.Image), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
