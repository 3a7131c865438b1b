package anim

import (
	"errors"
	"image"
	"math"
	"time"
)

// Tick is the coarse frame-timing unit: 10ms, the GIF delay unit.
type Tick uint32

const (
	TickDuration = 10 * time.Millisecond
	MaxTick      = Tick(math.MaxUint32)

	// HoldForever is the delay a decoder reports when a frame should stay up
	// indefinitely (a still image, or the end of one animation pass).
	HoldForever = uint32(math.MaxUint32)
)

// TickOf converts elapsed monotonic time into ticks.
func TickOf(d time.Duration) Tick {
	if d <= 0 {
		return 0
	}
	return Tick(d / TickDuration)
}

var (
	ErrEmptySource = errors.New("empty animation source")
	ErrNoBitmap    = errors.New("decoder returned no bitmap")
)

// Info is the frame metadata captured at load time.
type Info struct {
	FrameCount int
	Width      int
	Height     int
}

// Decoder is one opened animation source.
type Decoder interface {
	Info() Info
	// PrepareNextFrame advances to the next frame and reports the area it
	// changes, how long it stays up (in ticks) and its index.
	PrepareNextFrame() (rect image.Rectangle, delay uint32, index int, err error)
	// DecodeFrame renders frame index fully composited, as RGBA.
	DecodeFrame(index int) (*image.RGBA, error)
	// Reset rewinds decoding to the first frame.
	Reset()
	Close()
}

// Opener opens and scans a complete in-memory source.
type Opener interface {
	Open(data []byte) (Decoder, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(data []byte) (Decoder, error)

func (f OpenerFunc) Open(data []byte) (Decoder, error) { return f(data) }

// State is the session state machine.
type State string

const (
	Idle        State = "idle"
	Loaded      State = "loaded"
	Playing     State = "playing"
	LoopPending State = "loop_pending"
	Frozen      State = "frozen"
)
