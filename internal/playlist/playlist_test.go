package playlist

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cardFS() fstest.MapFS {
	return fstest.MapFS{
		"sdcard/b.rgif":     {Data: []byte("b")},
		"sdcard/a.rgif":     {Data: []byte("a")},
		"sdcard/notes.txt":  {Data: []byte("x")},
		"sdcard/sub/c.rgif": {Data: []byte("c")},
		"spiffs/logo.RGIF":  {Data: []byte("logo")},
		"spiffs/plain.gif":  {Data: []byte("g")},
	}
}

func TestScanFiltersAndSorts(t *testing.T) {
	p := New(cardFS(), []string{"/sdcard", "/missing", "spiffs"}, ".rgif", zerolog.Nop())
	got := p.Scan()
	assert.Equal(t, []string{"sdcard/a.rgif", "sdcard/b.rgif", "spiffs/logo.RGIF"}, got)
	assert.Equal(t, 3, p.Count())
}

func TestNextCycles(t *testing.T) {
	p := New(cardFS(), []string{"sdcard"}, ".rgif", zerolog.Nop())
	ok := func(string) error { return nil }

	var got []string
	for i := 0; i < 5; i++ {
		name, err := p.Next(context.Background(), ok)
		require.NoError(t, err)
		got = append(got, name)
	}
	assert.Equal(t, []string{
		"sdcard/a.rgif", "sdcard/b.rgif", "sdcard/a.rgif", "sdcard/b.rgif", "sdcard/a.rgif",
	}, got)
}

func TestNextSkipsFailures(t *testing.T) {
	p := New(cardFS(), []string{"sdcard", "spiffs"}, ".rgif", zerolog.Nop())
	var tried []string
	name, err := p.Next(context.Background(), func(n string) error {
		tried = append(tried, n)
		if n == "spiffs/logo.RGIF" {
			return nil
		}
		return errors.New("corrupt")
	})
	require.NoError(t, err)
	assert.Equal(t, "spiffs/logo.RGIF", name)
	assert.Equal(t, []string{"sdcard/a.rgif", "sdcard/b.rgif", "spiffs/logo.RGIF"}, tried)
}

func TestNextKeepsCyclingUntilSuccess(t *testing.T) {
	p := New(cardFS(), []string{"sdcard"}, ".rgif", zerolog.Nop())
	p.Backoff = 0
	attempts := 0
	name, err := p.Next(context.Background(), func(string) error {
		attempts++
		if attempts < 7 {
			return errors.New("sd busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, attempts)
	assert.Equal(t, "sdcard/a.rgif", name)
}

func TestNextEmpty(t *testing.T) {
	p := New(fstest.MapFS{}, []string{"sdcard"}, ".rgif", zerolog.Nop())
	_, err := p.Next(context.Background(), func(string) error { return nil })
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestNextBacksOffAndHonoursCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := New(cardFS(), []string{"sdcard"}, ".rgif", zerolog.Nop())
	p.Clock = clock
	p.Backoff = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Next(ctx, func(string) error { return errors.New("nope") })
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
}

// recordingTarget stands in for the animation player.
type recordingTarget struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingTarget) LoadFile(fsys fs.FS, name string) error {
	if _, err := fs.ReadFile(fsys, name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return nil
}

func (r *recordingTarget) loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func TestLoaderCoalescesRequests(t *testing.T) {
	p := New(cardFS(), []string{"sdcard"}, ".rgif", zerolog.Nop())
	target := &recordingTarget{}
	l := NewLoader(p, target, zerolog.Nop())

	// Queued before Run starts: three requests collapse into one.
	l.Request()
	l.Request()
	l.Request()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	require.Eventually(t, func() bool { return l.Current() == "sdcard/a.rgif" }, time.Second, 5*time.Millisecond)
	assert.Len(t, target.loaded(), 1)

	l.Request()
	require.Eventually(t, func() bool { return len(target.loaded()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"sdcard/a.rgif", "sdcard/b.rgif"}, target.loaded())
	require.Eventually(t, func() bool { return l.Current() == "sdcard/b.rgif" }, time.Second, 5*time.Millisecond)
}
