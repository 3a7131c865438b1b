// Package sensor turns hall-sensor edges, real or simulated, into rotation
// events for the tracker.
package sensor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/coreman2200/arcaluminis-pov/internal/config"
)

// DefaultPoll bounds how long a watcher blocks on one edge wait, and so how
// quickly it notices cancellation.
const DefaultPoll = 100 * time.Millisecond

// Recorder accepts a trigger from an edge handler. It must not block.
type Recorder interface {
	RecordTrigger(angle int, ts time.Time) bool
}

// Triggerer records a trigger stamped with the current time.
type Triggerer interface {
	Trigger(angle int) bool
}

// OpenPin looks up a GPIO by its periph name (GPIO17, P1_11, ...).
func OpenPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return p, nil
}

// Watcher waits for falling edges on one arm's sensor pin. The magnet pulls
// the sensor output low as it passes.
type Watcher struct {
	pin   gpio.PinIn
	angle int
	rec   Recorder
	clock clockwork.Clock
	log   zerolog.Logger
	poll  time.Duration
	edges atomic.Uint64
}

func NewWatcher(pin gpio.PinIn, angle int, rec Recorder, clock clockwork.Clock, log zerolog.Logger) *Watcher {
	return &Watcher{
		pin:   pin,
		angle: angle,
		rec:   rec,
		clock: clock,
		log:   log.With().Str("component", "sensor").Str("pin", pin.Name()).Int("angle", angle).Logger(),
		poll:  DefaultPoll,
	}
}

// Edges is the number of edges seen so far.
func (w *Watcher) Edges() uint64 { return w.edges.Load() }

// Run configures the pin and records an event per edge until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("configure %s: %w", w.pin, err)
	}
	w.log.Info().Msg("watching hall sensor")
	defer w.log.Info().Uint64("edges", w.edges.Load()).Msg("sensor watcher stopped")
	for ctx.Err() == nil {
		if !w.pin.WaitForEdge(w.poll) {
			continue
		}
		w.edges.Add(1)
		w.rec.RecordTrigger(w.angle, w.clock.Now())
	}
	return nil
}

// Simulator stands in for the sensors on the bench: it triggers each arm's
// mount angle in turn at a fixed interval, like a wheel turning a quarter
// per step.
type Simulator struct {
	angles   []int
	trig     Triggerer
	interval time.Duration
	clock    clockwork.Clock
	log      zerolog.Logger
}

func NewSimulator(arms []config.Arm, trig Triggerer, interval time.Duration, clock clockwork.Clock, log zerolog.Logger) *Simulator {
	angles := make([]int, 0, len(arms))
	for _, a := range arms {
		angles = append(angles, a.MountAngle)
	}
	return &Simulator{
		angles:   angles,
		trig:     trig,
		interval: interval,
		clock:    clock,
		log:      log.With().Str("component", "simulator").Logger(),
	}
}

func (s *Simulator) Run(ctx context.Context) error {
	if len(s.angles) == 0 || s.interval <= 0 {
		return fmt.Errorf("simulator: need arms and a positive interval")
	}
	t := s.clock.NewTicker(s.interval)
	defer t.Stop()
	s.log.Info().Dur("interval", s.interval).Ints("angles", s.angles).Msg("simulating rotation")
	i := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			s.trig.Trigger(s.angles[i])
			i = (i + 1) % len(s.angles)
		}
	}
}
