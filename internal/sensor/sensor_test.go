package sensor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/coreman2200/arcaluminis-pov/internal/config"
)

type event struct {
	angle int
	ts    time.Time
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) RecordTrigger(angle int, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{angle, ts})
	return true
}

func (r *recorder) Trigger(angle int) bool {
	return r.RecordTrigger(angle, time.Time{})
}

func (r *recorder) angles() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.events))
	for i, e := range r.events {
		out[i] = e.angle
	}
	return out
}

func TestWatcherRecordsEdges(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO2", Num: 2, EdgesChan: make(chan gpio.Level, 4)}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	w := NewWatcher(pin, 90, rec, clock, zerolog.Nop())
	w.poll = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return pin.Read() == gpio.High }, time.Second, time.Millisecond)
	pin.EdgesChan <- gpio.Low
	pin.EdgesChan <- gpio.Low

	require.Eventually(t, func() bool { return len(rec.angles()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{90, 90}, rec.angles())
	assert.Equal(t, uint64(2), w.Edges())
	assert.Equal(t, clock.Now(), rec.events[0].ts)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherFailsWithoutEdgeSupport(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO11"}
	w := NewWatcher(pin, 0, &recorder{}, clockwork.NewRealClock(), zerolog.Nop())
	assert.Error(t, w.Run(context.Background()))
}

func TestOpenPinUnknown(t *testing.T) {
	_, err := OpenPin("NOPE_NOT_A_PIN")
	assert.Error(t, err)
}

func TestSimulatorCyclesArms(t *testing.T) {
	arms := config.Default().Arms
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	s := NewSimulator(arms, rec, 75*time.Millisecond, clock, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	clock.BlockUntil(1)
	for i := 0; i < 5; i++ {
		clock.Advance(75 * time.Millisecond)
		n := i + 1
		require.Eventually(t, func() bool { return len(rec.angles()) == n }, time.Second, time.Millisecond)
	}
	assert.Equal(t, []int{0, 90, 180, 270, 0}, rec.angles())
}

func TestSimulatorNeedsArms(t *testing.T) {
	s := NewSimulator(nil, &recorder{}, time.Millisecond, clockwork.NewFakeClock(), zerolog.Nop())
	assert.Error(t, s.Run(context.Background()))
}
