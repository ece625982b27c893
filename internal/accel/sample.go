// Package accel defines the acceleration sample stream consumed by the speed
// estimator and the sources that produce it.
package accel

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSourceClosed is returned once a source can no longer produce readings.
var ErrSourceClosed = errors.New("acceleration source closed")

// Sample is one instantaneous 3-axis acceleration reading in g.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Axes returns the components in x, y, z order.
func (s Sample) Axes() []float64 {
	return []float64{s.X, s.Y, s.Z}
}

func (s Sample) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)g", s.X, s.Y, s.Z)
}

// Source produces the latest acceleration reading on demand.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
}

// FuncSource adapts a plain function to the Source interface.
type FuncSource func(ctx context.Context) (Sample, error)

// Sample calls f.
func (f FuncSource) Sample(ctx context.Context) (Sample, error) {
	return f(ctx)
}

// FixedSource returns the same reading on every call until changed with Set.
type FixedSource struct {
	mu     sync.Mutex
	sample Sample
	calls  int
}

// NewFixedSource returns a FixedSource that reports s.
func NewFixedSource(s Sample) *FixedSource {
	return &FixedSource{sample: s}
}

// Sample returns the configured reading.
func (f *FixedSource) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.sample, nil
}

// Set replaces the reading returned by subsequent calls.
func (f *FixedSource) Set(s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample = s
}

// Calls reports how many readings have been taken.
func (f *FixedSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
