// Package coordinator runs the render loop: it decides between ambient
// patterns and angle-synchronised playback, and drives the arms each cycle.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/coreman2200/arcaluminis-pov/internal/anim"
	"github.com/coreman2200/arcaluminis-pov/internal/config"
	"github.com/coreman2200/arcaluminis-pov/internal/diagnostics"
	"github.com/coreman2200/arcaluminis-pov/internal/led"
	"github.com/coreman2200/arcaluminis-pov/internal/pattern"
	"github.com/coreman2200/arcaluminis-pov/internal/tracker"
)

type Mode int

const (
	Pattern Mode = iota
	Playback
)

func (m Mode) String() string {
	if m == Playback {
		return "playback"
	}
	return "pattern"
}

type AngleSource interface {
	CurrentAngle() int
}

type Animator interface {
	Tick(now anim.Tick) error
}

// Advancer asks for the next playlist entry. Request must not block.
type Advancer interface {
	Request()
}

type Patterns interface {
	Next()
	Tick(outputs []pattern.Output)
}

type Renderer interface {
	Render(strip led.Strip, arm config.Arm, angle int) error
}

// Deps are the collaborators of one render loop.
type Deps struct {
	Angles   AngleSource
	Animator Animator
	Playlist Advancer
	Patterns Patterns
	Canvas   Renderer
	Outputs  []pattern.Output
	Sink     diagnostics.Sink
}

// Status is a point-in-time view of the loop for the preview and health
// endpoints.
type Status struct {
	Mode         string    `json:"mode"`
	Angle        int       `json:"angle"`
	FrequencyMHz int       `json:"frequency_mhz"`
	Pattern      string    `json:"pattern,omitempty"`
	Anim         string    `json:"anim,omitempty"`
	Source       string    `json:"source,omitempty"`
	Dropped      uint64    `json:"dropped"`
	LastChange   time.Time `json:"last_change"`
	Cycles       uint64    `json:"cycles"`
}

type Coordinator struct {
	deps           Deps
	clock          clockwork.Clock
	log            zerolog.Logger
	interval       time.Duration
	offset         int
	renderInterval time.Duration

	epoch  time.Time
	failed []bool

	mu          sync.Mutex
	mode        Mode
	lastChange  time.Time
	angle       int
	cycles      uint64
	lastDropped uint64
}

func New(cfg *config.Config, deps Deps, clock clockwork.Clock, log zerolog.Logger) *Coordinator {
	now := clock.Now()
	return &Coordinator{
		deps:           deps,
		clock:          clock,
		log:            log.With().Str("component", "coordinator").Logger(),
		interval:       cfg.PatternChangeInterval(),
		offset:         cfg.AngleOffset,
		renderInterval: cfg.RenderInterval(),
		epoch:          now,
		failed:         make([]bool, len(deps.Outputs)),
		mode:           Pattern,
		lastChange:     now,
		angle:          tracker.Unknown,
	}
}

// Step runs one render cycle at now.
func (c *Coordinator) Step(now time.Time) {
	angle := c.deps.Angles.CurrentAngle()

	c.mu.Lock()
	c.angle = angle
	c.cycles++
	prev := c.mode
	reason := ""
	lost := false

	if c.mode == Playback && angle == tracker.Unknown {
		c.mode = Pattern
		lost = true
		reason = "angle lost"
	} else if now.Sub(c.lastChange) >= c.interval {
		if c.mode == Pattern && angle != tracker.Unknown {
			c.mode = Playback
			reason = "interval elapsed, wheel spinning"
			c.deps.Playlist.Request()
		} else {
			c.mode = Pattern
			reason = "interval elapsed"
			c.deps.Patterns.Next()
		}
		c.lastChange = now
	}
	mode := c.mode
	c.mu.Unlock()

	if mode != prev {
		c.log.Info().Stringer("from", prev).Stringer("to", mode).Int("angle", angle).Str("reason", reason).Msg("mode change")
		c.push(diagnostics.ModeChange(now, prev.String(), mode.String(), angle, reason))
		if lost {
			c.push(diagnostics.AngleLost(now, c.frequency()))
		}
	}
	c.checkDropped(now)

	switch mode {
	case Pattern:
		c.deps.Patterns.Tick(c.deps.Outputs)
	case Playback:
		if err := c.deps.Animator.Tick(anim.TickOf(now.Sub(c.epoch))); err != nil {
			c.log.Warn().Err(err).Msg("animation tick failed")
		}
		display := tracker.Normalize(angle + c.offset)
		for i, o := range c.deps.Outputs {
			if o.Strip == nil {
				continue
			}
			c.renderArm(now, i, o, display)
		}
	}
}

// renderArm reports a failing strip once, when it starts failing.
func (c *Coordinator) renderArm(now time.Time, i int, o pattern.Output, angle int) {
	err := c.deps.Canvas.Render(o.Strip, o.Arm, angle)
	if err == nil {
		c.failed[i] = false
		return
	}
	if c.failed[i] {
		return
	}
	c.failed[i] = true
	c.log.Error().Err(err).Int("arm", i).Msg("render failed")
	c.push(diagnostics.RenderFailed(now, i, err))
}

func (c *Coordinator) checkDropped(now time.Time) {
	d, ok := c.deps.Angles.(interface{ Dropped() uint64 })
	if !ok {
		return
	}
	total := d.Dropped()
	c.mu.Lock()
	grew := total > c.lastDropped
	c.lastDropped = total
	c.mu.Unlock()
	if grew {
		c.push(diagnostics.EventsDropped(now, total))
	}
}

func (c *Coordinator) push(d diagnostics.Diagnostic) {
	if c.deps.Sink != nil {
		c.deps.Sink.Push(d)
	}
}

func (c *Coordinator) frequency() int {
	if f, ok := c.deps.Angles.(interface{ CurrentFrequency() int }); ok {
		return f.CurrentFrequency()
	}
	return 0
}

// Run steps the loop every render interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	t := c.clock.NewTicker(c.renderInterval)
	defer t.Stop()
	c.log.Info().Dur("interval", c.renderInterval).Int("arms", len(c.deps.Outputs)).Msg("render loop started")
	defer c.log.Info().Msg("render loop stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			c.Step(c.clock.Now())
		}
	}
}

func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		Mode:       c.mode.String(),
		Angle:      c.angle,
		Dropped:    c.lastDropped,
		LastChange: c.lastChange,
		Cycles:     c.cycles,
	}
	c.mu.Unlock()

	st.FrequencyMHz = c.frequency()
	if k, ok := c.deps.Patterns.(interface{ Kind() pattern.Kind }); ok {
		st.Pattern = k.Kind().String()
	}
	if a, ok := c.deps.Animator.(interface{ State() anim.State }); ok {
		st.Anim = string(a.State())
	}
	if s, ok := c.deps.Animator.(interface{ Source() string }); ok {
		st.Source = s.Source()
	}
	return st
}

func (s Status) String() string {
	return fmt.Sprintf("%s angle=%d f=%dmHz anim=%s", s.Mode, s.Angle, s.FrequencyMHz, s.Anim)
}
