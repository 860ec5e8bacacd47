// Package humanize generates human-plausible interaction delays so that
// automated webmail sessions pace like an unhurried person. All delays are
// drawn from configured bounded ranges; nothing here waits forever.
package humanize

import (
	"context"
	"math/rand"
	"time"
	"unicode"
)

// DelayRange is an inclusive [Min,Max] interval in milliseconds.
type DelayRange struct {
	Min int `json:"min_ms"`
	Max int `json:"max_ms"`
}

// Config holds the per-category delay ranges of a timing profile.
type Config struct {
	TypeLetter       DelayRange `json:"type_letter"`
	TypeDigit        DelayRange `json:"type_digit"`
	TypeSymbol       DelayRange `json:"type_symbol"`
	FieldPause       DelayRange `json:"field_pause"`
	ClickSettle      DelayRange `json:"click_settle"`
	Read             DelayRange `json:"read"`
	Scroll           DelayRange `json:"scroll"`
	ThinkPause       DelayRange `json:"think_pause"`
	ThinkProbability float64    `json:"think_probability"`
}

// DefaultConfig returns the ranges seeded for the default timing profile.
// Also the fallback when the timing table has no default row.
func DefaultConfig() Config {
	return Config{
		TypeLetter:       DelayRange{Min: 60, Max: 180},
		TypeDigit:        DelayRange{Min: 120, Max: 280},
		TypeSymbol:       DelayRange{Min: 160, Max: 350},
		FieldPause:       DelayRange{Min: 400, Max: 1200},
		ClickSettle:      DelayRange{Min: 250, Max: 800},
		Read:             DelayRange{Min: 1500, Max: 4500},
		Scroll:           DelayRange{Min: 300, Max: 900},
		ThinkPause:       DelayRange{Min: 800, Max: 2500},
		ThinkProbability: 0.15,
	}
}

// Category selects a delay range from the timing configuration.
type Category int

const (
	CategoryFieldPause Category = iota
	CategoryClickSettle
	CategoryRead
	CategoryScroll
)

// Timing draws delays from one timing profile. It holds its own random
// source, so concurrent tasks each construct their own Timing.
type Timing struct {
	cfg Config
	rng *rand.Rand
}

// New creates a Timing over cfg. rng may be nil, in which case a
// time-seeded source is used.
func New(cfg Config, rng *rand.Rand) *Timing {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Timing{cfg: cfg, rng: rng}
}

// Delay returns a uniform draw from the range of the given category.
func (t *Timing) Delay(category Category) time.Duration {
	switch category {
	case CategoryClickSettle:
		return t.draw(t.cfg.ClickSettle)
	case CategoryRead:
		return t.draw(t.cfg.Read)
	case CategoryScroll:
		return t.draw(t.cfg.Scroll)
	default:
		return t.draw(t.cfg.FieldPause)
	}
}

// TypeDelay returns the keystroke delay for one character. Letters are
// fastest, digits slower, symbols slowest.
func (t *Timing) TypeDelay(r rune) time.Duration {
	switch {
	case unicode.IsLetter(r) || r == ' ':
		return t.draw(t.cfg.TypeLetter)
	case unicode.IsDigit(r):
		return t.draw(t.cfg.TypeDigit)
	default:
		return t.draw(t.cfg.TypeSymbol)
	}
}

// MaybePause returns a "thinking" pause with the configured probability and
// zero otherwise.
func (t *Timing) MaybePause() time.Duration {
	return t.MaybePauseIn(t.cfg.ThinkProbability, t.cfg.ThinkPause)
}

// MaybePauseIn draws from the random source once for the probability check
// and, on a hit, once more for the duration.
func (t *Timing) MaybePauseIn(probability float64, r DelayRange) time.Duration {
	if probability <= 0 || t.rng.Float64() >= probability {
		return 0
	}
	return t.draw(r)
}

// ScrollStep is one segment of an eased scroll gesture.
type ScrollStep struct {
	Offset   int
	Duration time.Duration
}

// ScrollSteps splits a scroll of distance pixels into eased steps so the
// motion accelerates in and decelerates out instead of jumping. The offsets
// sum to distance and the durations sum to a draw from the scroll range.
func (t *Timing) ScrollSteps(distance int) []ScrollStep {
	if distance == 0 {
		return nil
	}
	sign := 1
	if distance < 0 {
		sign = -1
		distance = -distance
	}
	steps := 4 + t.rng.Intn(4)
	if distance < steps {
		steps = distance
	}
	total := t.draw(t.cfg.Scroll)
	out := make([]ScrollStep, 0, steps)
	prevOffset, prevTime := 0, time.Duration(0)
	for i := 1; i <= steps; i++ {
		frac := easeInOut(float64(i) / float64(steps))
		offset := int(frac * float64(distance))
		at := time.Duration(frac * float64(total))
		out = append(out, ScrollStep{
			Offset:   sign * (offset - prevOffset),
			Duration: at - prevTime,
		})
		prevOffset, prevTime = offset, at
	}
	return out
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Timing) draw(r DelayRange) time.Duration {
	min, max := r.Min, r.Max
	if max < min {
		min, max = max, min
	}
	ms := min
	if max > min {
		ms = min + t.rng.Intn(max-min+1)
	}
	return time.Duration(ms) * time.Millisecond
}

// easeInOut is a quadratic ease: slow start, fast middle, slow end.
func easeInOut(x float64) float64 {
	if x < 0.5 {
		return 2 * x * x
	}
	return 1 - 2*(1-x)*(1-x)
}
