// Package anim plays a frame-timed animation onto the canvas.
//
// A Player owns at most one decoder session. Loads come from the playlist
// goroutine and ticks from the render loop, so every session access goes
// through one mutex.
package anim

import (
	"fmt"
	"image"
	"io/fs"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coreman2200/arcaluminis-pov/internal/canvas"
)

type Player struct {
	opener Opener
	canvas *canvas.Canvas
	log    zerolog.Logger

	mu      sync.Mutex
	dec     Decoder
	info    Info
	state   State
	nextDue Tick
	buf     []byte
	source  string
}

func NewPlayer(opener Opener, c *canvas.Canvas, log zerolog.Logger) *Player {
	return &Player{
		opener: opener,
		canvas: c,
		log:    log.With().Str("component", "anim").Logger(),
		state:  Idle,
	}
}

// Load replaces the current session with one opened from data. The previous
// session is destroyed first, so a failed load leaves the player Idle.
func (p *Player) Load(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(data, "")
}

// LoadFile reads path from fsys and loads it. Read failures return before the
// current session is touched.
func (p *Player) LoadFile(fsys fs.FS, path string) error {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("read %s: %w", path, ErrEmptySource)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(data, path)
}

func (p *Player) loadLocked(data []byte, source string) error {
	p.closeLocked()
	p.buf = data
	p.source = source

	if len(data) == 0 {
		return ErrEmptySource
	}
	dec, err := p.opener.Open(data)
	if err != nil {
		p.log.Warn().Err(err).Str("source", source).Msg("open failed")
		return fmt.Errorf("open animation: %w", err)
	}
	p.dec = dec
	p.info = dec.Info()
	p.nextDue = 0
	p.state = Loaded
	p.log.Info().
		Str("source", source).
		Int("frames", p.info.FrameCount).
		Int("width", p.info.Width).
		Int("height", p.info.Height).
		Msg("animation loaded")
	return nil
}

func (p *Player) closeLocked() {
	if p.dec != nil {
		p.dec.Close()
		p.dec = nil
	}
	p.info = Info{}
	p.state = Idle
	p.nextDue = 0
}

// Close destroys the current session.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

// Tick advances the animation if a frame is due at now and copies it onto the
// canvas. A prepare or decode error abandons the cycle with the canvas
// untouched.
func (p *Player) Tick(now Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Frozen decides, not nextDue: a clock pinned at MaxTick is never before it.
	if p.dec == nil || p.state == Frozen || now < p.nextDue {
		return nil
	}

	rect, delay, index, err := p.dec.PrepareNextFrame()
	if err != nil {
		return fmt.Errorf("prepare frame: %w", err)
	}

	next := Playing
	if delay == HoldForever {
		if p.info.FrameCount > 1 {
			p.dec.Reset()
			p.nextDue = now
			p.state = LoopPending
			return nil
		}
		p.nextDue = MaxTick
		next = Frozen
	} else {
		p.nextDue = dueAfter(now, delay)
	}

	frame, err := p.dec.DecodeFrame(index)
	if err != nil {
		return fmt.Errorf("decode frame %d: %w", index, err)
	}
	if frame == nil {
		return fmt.Errorf("decode frame %d: %w", index, ErrNoBitmap)
	}
	p.blit(frame, rect)
	p.state = next
	return nil
}

// dueAfter is now+delay-1, saturating at MaxTick. A zero delay is due now.
func dueAfter(now Tick, delay uint32) Tick {
	if delay == 0 {
		return now
	}
	v := uint64(now) + uint64(delay) - 1
	if v > uint64(MaxTick) {
		return MaxTick
	}
	return Tick(v)
}

func (p *Player) blit(frame *image.RGBA, rect image.Rectangle) {
	bounds := image.Rect(0, 0, canvas.Width, p.canvas.Height())
	r := rect.Intersect(frame.Rect).Intersect(bounds)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := frame.PixOffset(x, y)
			px := frame.Pix[i : i+4 : i+4]
			p.canvas.SetPixel(x, y, canvas.Pixel{R: px[0], G: px[1], B: px[2]})
		}
	}
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

func (p *Player) NextDue() Tick {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextDue
}

// Source is the path of the last load attempt; empty for in-memory loads.
func (p *Player) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// Buffer is the last buffer handed to Load, kept even if opening it failed.
func (p *Player) Buffer() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf
}
