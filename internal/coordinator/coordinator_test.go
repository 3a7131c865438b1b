package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/arcaluminis-pov/internal/anim"
	"github.com/coreman2200/arcaluminis-pov/internal/config"
	"github.com/coreman2200/arcaluminis-pov/internal/diagnostics"
	"github.com/coreman2200/arcaluminis-pov/internal/led"
	"github.com/coreman2200/arcaluminis-pov/internal/pattern"
	"github.com/coreman2200/arcaluminis-pov/internal/tracker"
)

type fakeAngles struct {
	angle   atomic.Int64
	dropped atomic.Uint64
}

func (f *fakeAngles) CurrentAngle() int     { return int(f.angle.Load()) }
func (f *fakeAngles) CurrentFrequency() int { return 3333 }
func (f *fakeAngles) Dropped() uint64       { return f.dropped.Load() }

type fakeAnimator struct {
	ticks []anim.Tick
	err   error
}

func (f *fakeAnimator) Tick(now anim.Tick) error {
	f.ticks = append(f.ticks, now)
	return f.err
}

func (f *fakeAnimator) State() anim.State { return anim.Playing }
func (f *fakeAnimator) Source() string    { return "sdcard/a.rgif" }

type fakeAdvancer struct{ requests int }

func (f *fakeAdvancer) Request() { f.requests++ }

type fakePatterns struct {
	next, ticks int
}

func (f *fakePatterns) Next()                 { f.next++ }
func (f *fakePatterns) Tick([]pattern.Output) { f.ticks++ }

type renderCall struct {
	arm   int
	angle int
}

type fakeRenderer struct {
	calls []renderCall
	err   error
}

func (f *fakeRenderer) Render(_ led.Strip, arm config.Arm, angle int) error {
	f.calls = append(f.calls, renderCall{arm.MountAngle, angle})
	return f.err
}

type nopStrip struct{}

func (nopStrip) SetPixel(int, uint8, uint8, uint8) {}
func (nopStrip) Refresh() error                    { return nil }
func (nopStrip) Len() int                          { return 32 }

type recSink struct {
	mu    sync.Mutex
	codes []string
}

func (r *recSink) Push(d diagnostics.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, d.Code)
}

type rig struct {
	clock    clockwork.FakeClock
	angles   *fakeAngles
	animator *fakeAnimator
	adv      *fakeAdvancer
	patterns *fakePatterns
	canvas   *fakeRenderer
	sink     *recSink
	c        *Coordinator
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		angles:   &fakeAngles{},
		animator: &fakeAnimator{},
		adv:      &fakeAdvancer{},
		patterns: &fakePatterns{},
		canvas:   &fakeRenderer{},
		sink:     &recSink{},
	}
	r.angles.angle.Store(tracker.Unknown)
	cfg := config.Default()
	r.c = New(cfg, Deps{
		Angles:   r.angles,
		Animator: r.animator,
		Playlist: r.adv,
		Patterns: r.patterns,
		Canvas:   r.canvas,
		Outputs: []pattern.Output{
			{Arm: cfg.Arms[0], Strip: nopStrip{}},
			{Arm: cfg.Arms[1]},
			{Arm: cfg.Arms[2], Strip: nopStrip{}},
		},
		Sink: r.sink,
	}, r.clock, zerolog.Nop())
	return r
}

func (r *rig) step(d time.Duration) {
	r.clock.Advance(d)
	r.c.Step(r.clock.Now())
}

func TestStartsInPatternMode(t *testing.T) {
	r := newRig(t)
	r.angles.angle.Store(45)
	r.step(time.Second)
	r.step(time.Second)

	assert.Equal(t, Pattern, r.c.Mode())
	assert.Equal(t, 2, r.patterns.ticks)
	assert.Zero(t, r.adv.requests)
	assert.Empty(t, r.canvas.calls)
}

func TestPatternToPlaybackRequestsOnce(t *testing.T) {
	r := newRig(t)
	r.angles.angle.Store(0)

	r.step(10 * time.Second)
	require.Equal(t, Playback, r.c.Mode())
	assert.Equal(t, 1, r.adv.requests)
	assert.Zero(t, r.patterns.next)

	for i := 0; i < 20; i++ {
		r.step(100 * time.Millisecond)
	}
	assert.Equal(t, 1, r.adv.requests, "no further requests within the interval")
	assert.Equal(t, Playback, r.c.Mode())
	assert.Contains(t, r.sink.codes, diagnostics.CodeModeChange)
}

func TestPlaybackRendersOffsetAngle(t *testing.T) {
	r := newRig(t)
	r.angles.angle.Store(300)
	r.step(10 * time.Second)
	require.Equal(t, Playback, r.c.Mode())

	// 300 + 120 offset wraps to 60; arm 1 has no strip.
	assert.Equal(t, []renderCall{{0, 60}, {180, 60}}, r.canvas.calls)
	require.Len(t, r.animator.ticks, 1)
	assert.Equal(t, anim.Tick(1000), r.animator.ticks[0])
}

func TestUnknownAngleDropsPlaybackImmediately(t *testing.T) {
	r := newRig(t)
	r.angles.angle.Store(90)
	r.step(10 * time.Second)
	require.Equal(t, Playback, r.c.Mode())
	lastChange := r.c.Status().LastChange

	r.angles.angle.Store(tracker.Unknown)
	r.step(time.Millisecond)
	assert.Equal(t, Pattern, r.c.Mode())
	assert.Zero(t, r.patterns.next, "fallback does not advance patterns")
	assert.Equal(t, lastChange, r.c.Status().LastChange, "fallback does not reset the timer")
	assert.Equal(t, 1, r.patterns.ticks)
	assert.Contains(t, r.sink.codes, diagnostics.CodeAngleLost)

	// Spinning again: the timer from the earlier switch still governs.
	r.angles.angle.Store(90)
	r.step(time.Second)
	assert.Equal(t, Pattern, r.c.Mode())
	r.step(9 * time.Second)
	assert.Equal(t, Playback, r.c.Mode())
	assert.Equal(t, 2, r.adv.requests)
}

func TestAngleZeroIsKnown(t *testing.T) {
	r := newRig(t)
	r.angles.angle.Store(0)
	r.step(10 * time.Second)
	require.Equal(t, Playback, r.c.Mode())

	r.step(time.Millisecond)
	assert.Equal(t, Playback, r.c.Mode(), "angle 0 keeps playback running")
	assert.NotContains(t, r.sink.codes, diagnostics.CodeAngleLost)
}

func TestIntervalSwitchIsNotAngleLost(t *testing.T) {
	r := newRig(t)
	r.angles.angle.Store(90)
	r.step(10 * time.Second)
	r.step(10 * time.Second)
	require.Equal(t, Pattern, r.c.Mode())

	assert.Equal(t, []string{diagnostics.CodeModeChange, diagnostics.CodeModeChange}, r.sink.codes)
}

func TestIntervalAlternates(t *testing.T) {
	r := newRig(t)

	// Not spinning: every interval picks a new pattern.
	r.step(10 * time.Second)
	r.step(10 * time.Second)
	assert.Equal(t, Pattern, r.c.Mode())
	assert.Equal(t, 2, r.patterns.next)

	r.angles.angle.Store(10)
	r.step(10 * time.Second)
	assert.Equal(t, Playback, r.c.Mode())

	r.step(10 * time.Second)
	assert.Equal(t, Pattern, r.c.Mode())
	assert.Equal(t, 3, r.patterns.next)
	assert.Equal(t, 1, r.adv.requests)
}

func TestAnimatorAndRenderErrorsDoNotStopLoop(t *testing.T) {
	r := newRig(t)
	r.animator.err = errors.New("lzw")
	r.canvas.err = errors.New("bus fault")
	r.angles.angle.Store(10)

	r.step(10 * time.Second)
	r.step(time.Millisecond)
	r.step(time.Millisecond)

	assert.Len(t, r.animator.ticks, 3)
	assert.Len(t, r.canvas.calls, 6)

	failures := 0
	for _, code := range r.sink.codes {
		if code == diagnostics.CodeRenderFailed {
			failures++
		}
	}
	assert.Equal(t, 2, failures, "one report per failing arm")
}

func TestDroppedEventsReported(t *testing.T) {
	r := newRig(t)
	r.step(time.Millisecond)
	assert.NotContains(t, r.sink.codes, diagnostics.CodeEventsDropped)

	r.angles.dropped.Store(4)
	r.step(time.Millisecond)
	r.step(time.Millisecond)
	assert.Equal(t, []string{diagnostics.CodeEventsDropped}, r.sink.codes)
	assert.Equal(t, uint64(4), r.c.Status().Dropped)
}

func TestStatus(t *testing.T) {
	r := newRig(t)
	r.angles.angle.Store(200)
	r.step(10 * time.Second)

	st := r.c.Status()
	assert.Equal(t, "playback", st.Mode)
	assert.Equal(t, 200, st.Angle)
	assert.Equal(t, 3333, st.FrequencyMHz)
	assert.Equal(t, "playing", st.Anim)
	assert.Equal(t, "sdcard/a.rgif", st.Source)
	assert.Equal(t, uint64(1), st.Cycles)
	assert.Contains(t, st.String(), "playback")
}

func TestRunStepsOnTicker(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.c.Run(ctx) }()

	r.clock.BlockUntil(1)
	for i := 0; i < 3; i++ {
		r.clock.Advance(time.Millisecond)
		require.Eventually(t, func() bool {
			return r.c.Status().Cycles >= uint64(i+1)
		}, time.Second, time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
