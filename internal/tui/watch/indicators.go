package watch

import (
	"strings"
	"time"
)

// Ticker rotates on every successful poll. A frozen ticker means the
// database stopped answering.
type Ticker struct {
	frames   []string
	index    int
	lastTick time.Time
}

func NewTicker() Ticker {
	return Ticker{
		frames:   []string{"⟲", "⟳"},
		lastTick: time.Now(),
	}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
	t.lastTick = time.Now()
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Spinner lights up when lock state changes and fades over time.
type Spinner struct {
	dots       int
	lastChange time.Time
}

func (s *Spinner) OnChange(now time.Time) {
	s.dots = 5
	s.lastChange = now
}

// Decay fades the dots based on time since the last change.
func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	elapsed := now.Sub(s.lastChange)
	s.dots = 5 - int(elapsed/(2*time.Second))
	if s.dots < 0 {
		s.dots = 0
	}
}

func (s Spinner) Render(theme Theme) string {
	var result strings.Builder
	for i := range 5 {
		if i < s.dots {
			result.WriteString(theme.TickerActive.Render("●"))
		} else {
			result.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return result.String()
}

func (s Spinner) LastChange() time.Time {
	return s.lastChange
}
