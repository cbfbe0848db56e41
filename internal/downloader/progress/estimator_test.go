package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		name        string
		transferred int64
		total       int64
		want        int
	}{
		{"floor", 333, 1000, 33},
		{"unknown total", 5000, 0, 0},
		{"negative total", 5000, -1, 0},
		{"nothing yet", 0, 1000, 0},
		{"almost done", 999, 1000, 99},
		{"done", 1000, 1000, 100},
		{"overshoot clamps", 1200, 1000, 100},
		{"large files", 4 << 40, 8 << 40, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percent(tt.transferred, tt.total))
		})
	}
}

func TestEstimator_InstantaneousRate(t *testing.T) {
	start := time.Unix(1000, 0)
	e := NewEstimator(0)
	e.Reset(start, 0)

	speed, eta := e.Sample(start.Add(time.Second), 1000, 10000)
	assert.InDelta(t, 1000, speed, 0.001)
	assert.InDelta(t, 9, eta, 0.001)

	// Rate follows the last interval only.
	speed, eta = e.Sample(start.Add(1500*time.Millisecond), 3000, 10000)
	assert.InDelta(t, 4000, speed, 0.001)
	assert.InDelta(t, 1.75, eta, 0.001)
}

func TestEstimator_UnknownTotal(t *testing.T) {
	start := time.Unix(1000, 0)
	e := NewEstimator(0)
	e.Reset(start, 0)

	speed, eta := e.Sample(start.Add(time.Second), 512, 0)
	assert.InDelta(t, 512, speed, 0.001)
	assert.Zero(t, eta)
}

func TestEstimator_ZeroInterval(t *testing.T) {
	start := time.Unix(1000, 0)
	e := NewEstimator(0)
	e.Reset(start, 0)

	speed, _ := e.Sample(start, 10, 100)
	assert.InDelta(t, 10/epsilon, speed, 0.001)
}

func TestEstimator_ResetAtOffset(t *testing.T) {
	start := time.Unix(1000, 0)
	e := NewEstimator(0)
	e.Reset(start, 4000)

	speed, eta := e.Sample(start.Add(2*time.Second), 6000, 10000)
	assert.InDelta(t, 1000, speed, 0.001)
	assert.InDelta(t, 4, eta, 0.001)
}

func TestEstimator_NeverNegative(t *testing.T) {
	start := time.Unix(1000, 0)
	e := NewEstimator(0)
	e.Reset(start, 5000)

	speed, eta := e.Sample(start.Add(time.Second), 0, 10000)
	assert.Zero(t, speed)
	assert.Zero(t, eta)
}

func TestEstimator_Smoothing(t *testing.T) {
	start := time.Unix(1000, 0)
	e := NewEstimator(0.5)
	e.Reset(start, 0)

	speed, _ := e.Sample(start.Add(time.Second), 1000, 0)
	assert.InDelta(t, 1000, speed, 0.001, "first sample seeds the average")

	speed, _ = e.Sample(start.Add(2*time.Second), 4000, 0)
	assert.InDelta(t, 2000, speed, 0.001)
}
