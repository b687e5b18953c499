package translation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	ceiling := 60 * time.Second
	d := 2 * time.Second
	var seen []time.Duration
	for range 10 {
		d = nextBackoff(d, ceiling)
		seen = append(seen, d)
	}

	assert.Equal(t, []time.Duration{
		4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, ceiling,
		ceiling, ceiling, ceiling, ceiling, ceiling,
	}, seen)
}

func TestJittered(t *testing.T) {
	t.Parallel()

	ceiling := 10 * time.Second

	tests := []struct {
		name    string
		nominal time.Duration
		r       float64
		want    time.Duration
	}{
		{name: "midpoint is nominal", nominal: 5 * time.Second, r: 0.5, want: 5 * time.Second},
		{name: "lowest is minus twenty percent", nominal: 5 * time.Second, r: 0, want: 4 * time.Second},
		{name: "clamped to ceiling", nominal: ceiling, r: 0.99, want: ceiling},
		{name: "never zero", nominal: 0, r: 0, want: minDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, jittered(tt.nominal, 0.2, ceiling, tt.r))
		})
	}

	for r := 0.0; r < 1; r += 0.05 {
		d := jittered(8*time.Second, 0.2, ceiling, r)
		assert.GreaterOrEqual(t, d, time.Duration(float64(8*time.Second)*0.8))
		assert.LessOrEqual(t, d, ceiling)
	}
}
