// Package pattern renders the ambient light shows used while the wheel is not
// spinning (or its angle is unknown).
package pattern

import (
	"math"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coreman2200/arcaluminis-pov/internal/config"
	"github.com/coreman2200/arcaluminis-pov/internal/led"
)

type Kind int

const (
	Rainbow Kind = iota
	Chase1
	Chase2
	Chase3
	Chase4
	Pulse

	kindCount = iota
)

var kindNames = [...]string{"rainbow", "chase1", "chase2", "chase3", "chase4", "pulse"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds lists every pattern in dispatch order.
func Kinds() []Kind {
	out := make([]Kind, kindCount)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Output pairs an arm with its strip. A nil Strip has no live output.
type Output struct {
	Arm   config.Arm
	Strip led.Strip
}

// Render draws one frame of kind k for a single arm at frame counter.
func Render(k Kind, s led.Strip, arm config.Arm, counter int) {
	n := arm.NumLEDs
	if n <= 0 {
		return
	}
	switch k {
	case Rainbow:
		rainbow(s, arm, n, counter)
	case Chase1:
		chase1(s, arm, n, counter)
	case Chase2:
		chase2(s, arm, n, counter)
	case Chase3:
		chase3(s, arm, n, counter)
	case Chase4:
		chase4(s, arm, n, counter)
	case Pulse:
		pulse(s, arm, n, counter)
	}
}

func rainbow(s led.Strip, arm config.Arm, n, counter int) {
	for i := 0; i < n; i++ {
		h := normalize(arm.MountAngle/50 - counter - i*3)
		r, g, b := HSV(float64(h), 100, 50)
		s.SetPixel(i, r, g, b)
	}
}

// chase1 runs a short comet from below the hub out past the tip.
func chase1(s led.Strip, arm config.Arm, n, counter int) {
	h := float64(normalize(arm.MountAngle + counter/3))
	peak := counter%(n*3) - n
	for i := 0; i < n; i++ {
		v := 0
		if d := abs(i - peak); d < 5 {
			v = 50 / (d + 1)
		}
		r, g, b := HSV(h, 100, float64(v))
		s.SetPixel(i, r, g, b)
	}
}

// chase2 fills the strip outward then drains it.
func chase2(s led.Strip, arm config.Arm, n, counter int) {
	h := float64(normalize(arm.MountAngle + counter/3))
	lit := (counter / 5) % (n * 2)
	if lit > n {
		lit -= 2 * (lit - n)
	}
	for i := 0; i < n; i++ {
		v := 0.0
		if i <= lit {
			v = 50
		}
		r, g, b := HSV(h, 100, v)
		s.SetPixel(i, r, g, b)
	}
}

func chase3(s led.Strip, arm config.Arm, n, counter int) {
	h := float64(normalize(arm.MountAngle + counter/3))
	peak := counter % (4 * (n + 50))
	for i := 0; i < n; i++ {
		v := 0
		if d := abs(i - peak); d < n {
			v = (d / 10) * 10
		}
		r, g, b := HSV(h, 100, float64(v))
		s.SetPixel(i, r, g, b)
	}
}

// chase4 scrolls every eighth LED, offset per arm.
func chase4(s led.Strip, arm config.Arm, n, counter int) {
	h := float64(normalize(counter / 3))
	for i := 0; i < n; i++ {
		v := 0.0
		if mod(i+n-counter/40-arm.MountAngle/90, 8) == 0 {
			v = 100
		}
		r, g, b := HSV(h, 100, v)
		s.SetPixel(i, r, g, b)
	}
}

func pulse(s led.Strip, arm config.Arm, n, counter int) {
	h := float64(normalize(arm.MountAngle + counter/3))
	v := counter % 400
	switch {
	case v > 200:
		v = 0
	case v > 100:
		v -= 2 * (v - 100)
	}
	r, g, b := HSV(h, 100, float64(v))
	for i := 0; i < n; i++ {
		s.SetPixel(i, r, g, b)
	}
}

// Generator drives the current pattern across all arms, one frame per Tick.
type Generator struct {
	log zerolog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	kind    Kind
	started bool
	counter int
}

func NewGenerator(seed int64, log zerolog.Logger) *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		log: log.With().Str("component", "pattern").Logger(),
	}
}

// Next switches to a randomly chosen pattern and restarts its frame counter.
func (g *Generator) Next() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextLocked()
}

func (g *Generator) nextLocked() {
	g.kind = Kind(g.rng.Intn(kindCount))
	g.started = true
	g.counter = 0
	g.log.Debug().Stringer("pattern", g.kind).Msg("pattern selected")
}

// Set forces a pattern.
func (g *Generator) Set(k Kind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.kind = k
	g.started = true
	g.counter = 0
}

func (g *Generator) Kind() Kind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.kind
}

func (g *Generator) Counter() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}

// Tick renders one frame on every arm that has a strip and refreshes it.
// Refresh failures are logged and the other arms still update.
func (g *Generator) Tick(outputs []Output) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		g.nextLocked()
	}
	for i, o := range outputs {
		if o.Strip == nil {
			continue
		}
		Render(g.kind, o.Strip, o.Arm, g.counter)
		if err := o.Strip.Refresh(); err != nil {
			g.log.Error().Err(err).Int("arm", i).Msg("refresh failed")
		}
	}
	g.counter++
}

// HSV converts hue (degrees, 0..360), saturation and value (0..100) to 8-bit
// RGB. Out-of-range inputs are clamped.
func HSV(h, s, v float64) (r, g, b uint8) {
	h = clamp(h, 0, 360)
	s = clamp(s, 0, 100) / 100
	v = clamp(v, 0, 100) / 100

	if s == 0 {
		c := to8(v)
		return c, c, c
	}

	h /= 60
	i := math.Floor(h)
	f := h - i
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	switch int(i) {
	case 0:
		return to8(v), to8(t), to8(p)
	case 1:
		return to8(q), to8(v), to8(p)
	case 2:
		return to8(p), to8(v), to8(t)
	case 3:
		return to8(p), to8(q), to8(v)
	case 4:
		return to8(t), to8(p), to8(v)
	default:
		return to8(v), to8(p), to8(q)
	}
}

func to8(x float64) uint8 { return uint8(math.Round(255 * x)) }

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func normalize(a int) int { return mod(a, 360) }

func mod(a, m int) int {
	a %= m
	if a < 0 {
		a += m
	}
	return a
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
