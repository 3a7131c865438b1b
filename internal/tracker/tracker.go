// Package tracker estimates the wheel's angular position and rotation
// frequency from hall-sensor trigger timestamps.
//
// Triggers are posted from edge-handling context through RecordTrigger, which
// never blocks; a single worker (Run) folds them into the rotation state in
// arrival order. Readers get copies under the state lock.
package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// Unknown is returned by CurrentAngle when the wheel is not (reliably) turning.
	Unknown = -1

	// WindowSize is the length of the frequency moving average.
	WindowSize = 10

	// MinFrequency is the lowest estimate (mHz) considered spinning.
	MinFrequency = 1000
	// MaxTimeDelta is how long an angle fix stays usable for extrapolation.
	MaxTimeDelta = 500 * time.Millisecond

	DefaultQueueSize = 10
)

// Event is one sensor trigger: the arm's mount angle and when it fired.
type Event struct {
	Timestamp time.Time
	Angle     int
}

// State is a copy of the tracker's rotation state.
type State struct {
	LastAngle      int
	LastTimestamp  time.Time
	LastAngleDelta int
	FrequencyMHz   int
	Window         [WindowSize]int
	WindowIndex    int
}

type Tracker struct {
	clock  clockwork.Clock
	log    zerolog.Logger
	events chan Event

	dropped  atomic.Uint64
	received atomic.Uint64

	mu    sync.Mutex
	state State
}

func New(clock clockwork.Clock, queueSize int, log zerolog.Logger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Tracker{
		clock:  clock,
		log:    log.With().Str("component", "tracker").Logger(),
		events: make(chan Event, queueSize),
	}
}

// RecordTrigger posts a trigger without blocking. When the queue is full the
// event is dropped and false is returned; tracking then decays toward Unknown.
func (t *Tracker) RecordTrigger(angle int, ts time.Time) bool {
	select {
	case t.events <- Event{Timestamp: ts, Angle: angle}:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

// Trigger records a trigger stamped with the tracker's clock.
func (t *Tracker) Trigger(angle int) bool {
	return t.RecordTrigger(angle, t.clock.Now())
}

// Run is the single consumer of the event queue. It returns when ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	t.log.Info().Int("queue", cap(t.events)).Msg("tracker worker started")
	for {
		select {
		case <-ctx.Done():
			t.log.Info().Uint64("received", t.received.Load()).Uint64("dropped", t.dropped.Load()).Msg("tracker worker stopped")
			return
		case ev := <-t.events:
			t.handle(ev)
		}
	}
}

func (t *Tracker) handle(ev Event) {
	t.received.Add(1)

	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.state
	if ev.Angle == s.LastAngle {
		return
	}

	delta := (ev.Angle - s.LastAngle + 360) % 360
	// Half-turn residual: kept as the wheel firmware computes it.
	if delta > 180 {
		delta -= 180
	}

	dtMs := ev.Timestamp.Sub(s.LastTimestamp).Milliseconds()
	if !s.LastTimestamp.IsZero() && dtMs > 0 {
		f := int(int64(delta) * 1000000 / (360 * dtMs))

		s.Window[s.WindowIndex] = f
		s.WindowIndex = (s.WindowIndex + 1) % WindowSize

		sum := 0
		for _, v := range s.Window {
			sum += v
		}
		s.FrequencyMHz = sum / WindowSize
	}

	s.LastAngle = ev.Angle
	s.LastTimestamp = ev.Timestamp
	s.LastAngleDelta = delta
}

// CurrentAngle extrapolates the wheel position in degrees [0,360), or returns
// Unknown if the last fix is stale or the wheel turns too slowly.
// The sensor angle runs backwards relative to rotation, so the projected
// travel is subtracted.
func (t *Tracker) CurrentAngle() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state
	if s.LastTimestamp.IsZero() {
		return Unknown
	}
	dt := t.clock.Since(s.LastTimestamp)
	if dt >= MaxTimeDelta || s.FrequencyMHz <= MinFrequency {
		return Unknown
	}
	travel := int(360 * int64(s.FrequencyMHz) * dt.Milliseconds() / 1000000)
	return Normalize(s.LastAngle - travel)
}

func (t *Tracker) CurrentFrequency() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.FrequencyMHz
}

func (t *Tracker) LastAngleDelta() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.LastAngleDelta
}

// Snapshot returns a copy of the full rotation state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Dropped counts triggers lost to a full queue.
func (t *Tracker) Dropped() uint64 {
	return t.dropped.Load()
}

// Normalize folds any angle into [0,360).
func Normalize(angle int) int {
	a := angle % 360
	if a < 0 {
		a += 360
	}
	return a
}
