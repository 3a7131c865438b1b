package led

import "sync"

// DefaultChanMA is the draw of one WS2812 colour channel at full scale.
const DefaultChanMA = 20.0

// Limiter caps the current a strip may draw. Pixels are staged unscaled and
// the whole frame is dimmed on Refresh when its estimated draw exceeds
// BudgetMA. A zero budget passes frames through untouched.
type Limiter struct {
	Strip    Strip
	BudgetMA float64
	ChanMA   float64

	mu  sync.Mutex
	rgb []uint8
}

func NewLimiter(s Strip, budgetMA, chanMA float64) *Limiter {
	if chanMA <= 0 {
		chanMA = DefaultChanMA
	}
	return &Limiter{Strip: s, BudgetMA: budgetMA, ChanMA: chanMA, rgb: make([]uint8, 3*s.Len())}
}

func (l *Limiter) SetPixel(i int, r, g, b uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || 3*i >= len(l.rgb) {
		return
	}
	l.rgb[3*i], l.rgb[3*i+1], l.rgb[3*i+2] = r, g, b
}

func (l *Limiter) Len() int { return l.Strip.Len() }

// Draw estimates the current of the staged frame in mA.
func (l *Limiter) Draw() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drawLocked()
}

func (l *Limiter) drawLocked() float64 {
	var sum int
	for _, v := range l.rgb {
		sum += int(v)
	}
	return float64(sum) / 255 * l.ChanMA
}

func (l *Limiter) Refresh() error {
	l.mu.Lock()
	scale := 1.0
	if l.BudgetMA > 0 {
		if total := l.drawLocked(); total > l.BudgetMA {
			scale = l.BudgetMA / total
		}
	}
	for i := 0; i+2 < len(l.rgb); i += 3 {
		l.Strip.SetPixel(i/3, dim(l.rgb[i], scale), dim(l.rgb[i+1], scale), dim(l.rgb[i+2], scale))
	}
	l.mu.Unlock()
	return l.Strip.Refresh()
}

// dim scales v, rounding down so the budget is never overshot.
func dim(v uint8, s float64) uint8 {
	if s >= 1 {
		return v
	}
	return uint8(float64(v) * s)
}
