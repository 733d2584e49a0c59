package window_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/aretw0/asyncworker/pkg/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always returns the lowest or the highest value in range.
type fixedSource struct {
	max bool
}

func (f fixedSource) Int64N(n int64) int64 {
	if f.max {
		return n - 1
	}
	return 0
}

func TestCompute_NoFuzzIsExactRuntime(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := window.Config{Runtime: time.Hour, Fuzz: 0, TimeoutMultiplier: 1.5}

	w := window.Compute(cfg, now, fixedSource{max: true})

	assert.Equal(t, time.Hour, w.Length)
	assert.Equal(t, now.Add(time.Hour), w.End)
	assert.Equal(t, now.Add(90*time.Minute), w.Deadline)
	assert.Equal(t, now, w.Start)
}

func TestCompute_FuzzBoundsAreInclusive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := window.Config{Runtime: 3600 * time.Second, Fuzz: 600 * time.Second, TimeoutMultiplier: 1}

	low := window.Compute(cfg, now, fixedSource{max: false})
	high := window.Compute(cfg, now, fixedSource{max: true})

	assert.Equal(t, 3600*time.Second, low.Length)
	assert.Equal(t, 4200*time.Second, high.Length, "upper fuzz bound must be reachable")
	assert.Equal(t, high.End, high.Deadline, "multiplier 1 puts the deadline at the window end")
}

func TestCompute_RandomWindowWithinBounds(t *testing.T) {
	now := time.Now()
	cfg := window.Config{Runtime: 10 * time.Second, Fuzz: 5 * time.Second, TimeoutMultiplier: 2}

	for i := 0; i < 500; i++ {
		w := window.Compute(cfg, now, nil)
		require.GreaterOrEqual(t, w.Length, cfg.Runtime)
		require.LessOrEqual(t, w.Length, cfg.Runtime+cfg.Fuzz)
		require.False(t, w.Deadline.Before(w.End), "deadline must not precede the window end")
		require.False(t, w.Deadline.Before(w.Start))
	}
}

func TestCompute_SeededGenerator(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := window.Config{Runtime: time.Minute, Fuzz: time.Minute, TimeoutMultiplier: 1.5}

	a := window.Compute(cfg, now, rand.New(rand.NewPCG(7, 11)))
	b := window.Compute(cfg, now, rand.New(rand.NewPCG(7, 11)))

	assert.Equal(t, a, b, "the same seed yields the same window")
	assert.GreaterOrEqual(t, a.Length, cfg.Runtime)
	assert.LessOrEqual(t, a.Length, cfg.Runtime+cfg.Fuzz)
}

func TestCompute_Contains(t *testing.T) {
	now := time.Unix(0, 0)
	w := window.Compute(window.Config{Runtime: time.Minute, TimeoutMultiplier: 1}, now, nil)

	assert.True(t, w.Contains(now))
	assert.True(t, w.Contains(now.Add(59*time.Second)))
	assert.False(t, w.Contains(now.Add(time.Minute)))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     window.Config
		wantErr bool
	}{
		{"valid", window.Config{Runtime: time.Hour, Fuzz: time.Minute, TimeoutMultiplier: 1}, false},
		{"zero runtime", window.Config{Runtime: 0, TimeoutMultiplier: 1}, true},
		{"negative fuzz", window.Config{Runtime: time.Hour, Fuzz: -time.Second, TimeoutMultiplier: 1}, true},
		{"multiplier below one", window.Config{Runtime: time.Hour, TimeoutMultiplier: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
