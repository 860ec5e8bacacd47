package humanize

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(cfg Config) *Timing {
	return New(cfg, rand.New(rand.NewSource(42)))
}

func TestDelayStaysInRange(t *testing.T) {
	cfg := DefaultConfig()
	tm := seeded(cfg)

	ranges := map[Category]DelayRange{
		CategoryFieldPause:  cfg.FieldPause,
		CategoryClickSettle: cfg.ClickSettle,
		CategoryRead:        cfg.Read,
		CategoryScroll:      cfg.Scroll,
	}
	for category, r := range ranges {
		for i := 0; i < 200; i++ {
			d := tm.Delay(category)
			assert.GreaterOrEqual(t, d, time.Duration(r.Min)*time.Millisecond)
			assert.LessOrEqual(t, d, time.Duration(r.Max)*time.Millisecond)
		}
	}
}

func TestTypeDelayCharacterClasses(t *testing.T) {
	// Disjoint ranges make the class of every draw unambiguous.
	cfg := DefaultConfig()
	cfg.TypeLetter = DelayRange{Min: 10, Max: 10}
	cfg.TypeDigit = DelayRange{Min: 20, Max: 20}
	cfg.TypeSymbol = DelayRange{Min: 30, Max: 30}
	tm := seeded(cfg)

	assert.Equal(t, 10*time.Millisecond, tm.TypeDelay('a'))
	assert.Equal(t, 10*time.Millisecond, tm.TypeDelay('Z'))
	assert.Equal(t, 10*time.Millisecond, tm.TypeDelay(' '))
	assert.Equal(t, 20*time.Millisecond, tm.TypeDelay('7'))
	assert.Equal(t, 30*time.Millisecond, tm.TypeDelay('@'))
	assert.Equal(t, 30*time.Millisecond, tm.TypeDelay('!'))
}

func TestMaybePauseIn(t *testing.T) {
	tm := seeded(DefaultConfig())
	r := DelayRange{Min: 5, Max: 9}

	for i := 0; i < 100; i++ {
		assert.Zero(t, tm.MaybePauseIn(0, r))
	}
	for i := 0; i < 100; i++ {
		d := tm.MaybePauseIn(1, r)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 9*time.Millisecond)
	}
}

func TestMaybePauseSometimesFires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThinkProbability = 0.5
	tm := seeded(cfg)

	hits := 0
	for i := 0; i < 500; i++ {
		if tm.MaybePause() > 0 {
			hits++
		}
	}
	assert.Greater(t, hits, 100)
	assert.Less(t, hits, 400)
}

func TestScrollStepsSumToDistance(t *testing.T) {
	tm := seeded(DefaultConfig())

	for _, distance := range []int{400, 37, -250, 1} {
		steps := tm.ScrollSteps(distance)
		require.NotEmpty(t, steps, "distance %d", distance)

		sum := 0
		for _, step := range steps {
			sum += step.Offset
			assert.GreaterOrEqual(t, step.Duration, time.Duration(0))
		}
		assert.Equal(t, distance, sum, "distance %d", distance)
	}
}

func TestScrollStepsZeroDistance(t *testing.T) {
	tm := seeded(DefaultConfig())
	assert.Nil(t, tm.ScrollSteps(0))
}

func TestScrollStepsEasedMiddleIsFaster(t *testing.T) {
	tm := seeded(DefaultConfig())

	steps := tm.ScrollSteps(1000)
	require.GreaterOrEqual(t, len(steps), 4)

	first := steps[0].Offset
	mid := steps[len(steps)/2].Offset
	assert.Greater(t, mid, first)
}

func TestDrawSwapsInvertedRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FieldPause = DelayRange{Min: 100, Max: 50}
	tm := seeded(cfg)

	for i := 0; i < 50; i++ {
		d := tm.Delay(CategoryFieldPause)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestNewWithNilSource(t *testing.T) {
	tm := New(DefaultConfig(), nil)
	require.NotNil(t, tm)
	d := tm.Delay(CategoryRead)
	assert.Greater(t, d, time.Duration(0))
}
