package accel

import (
	"context"
	"math"
	"time"

	"github.com/banshee-data/speedometer/internal/timeutil"
)

// MockSource synthesises a device gently rocking on a table: small horizontal
// oscillations with gravity on the z axis. Readings are a pure function of the
// clock so tests can reproduce them.
type MockSource struct {
	clock timeutil.Clock
	start time.Time
}

// NewMockSource creates a mock source driven by clock.
func NewMockSource(clock timeutil.Clock) *MockSource {
	return &MockSource{clock: clock, start: clock.Now()}
}

// Sample returns the synthetic reading for the current clock time.
func (m *MockSource) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	elapsed := m.clock.Since(m.start).Seconds()

	return Sample{
		X: 0.30 * math.Sin(elapsed),
		Y: 0.20 * math.Cos(elapsed*0.7),
		Z: 1.00 + 0.05*math.Sin(elapsed*3),
	}, nil
}
