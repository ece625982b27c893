// Package velocity turns a stream of acceleration readings into a
// speed estimate and publishes it for concurrent readers.
//
// An Estimator owns the sampling loop: on every tick it measures the interval
// since the previous tick, takes one reading from its accel.Source, integrates
// it over that interval and publishes the result to a Store. Readers call
// CurrentSpeed, which never waits on the loop.
package velocity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/speedometer/internal/accel"
	"github.com/banshee-data/speedometer/internal/monitoring"
	"github.com/banshee-data/speedometer/internal/timeutil"
	"github.com/banshee-data/speedometer/internal/units"
)

const (
	// DefaultScaleFactor damps the integrated value for display.
	DefaultScaleFactor = 0.5
	// DefaultUpdateInterval paces the sampling loop.
	DefaultUpdateInterval = 100 * time.Millisecond

	// an estimate older than this many intervals is reported stale
	staleIntervals = 5
)

// Option configures an Estimator.
type Option func(*Estimator)

// WithScaleFactor sets the damping constant applied before unit conversion.
func WithScaleFactor(f float64) Option {
	return func(e *Estimator) { e.scale = f }
}

// WithUpdateInterval sets the sampling period. Non-positive values are ignored.
func WithUpdateInterval(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithClock replaces the real clock, typically with a timeutil.MockClock.
func WithClock(c timeutil.Clock) Option {
	return func(e *Estimator) { e.clock = c }
}

// WithMaxConsecutiveErrors lets the loop ride out n failed readings in a row.
// The default of 0 stops the loop on the first failure.
func WithMaxConsecutiveErrors(n int) Option {
	return func(e *Estimator) {
		if n >= 0 {
			e.maxErrors = n
		}
	}
}

// Estimator runs the sampling loop and publishes each result to its Store.
type Estimator struct {
	src       accel.Source
	store     *Store
	clock     timeutil.Clock
	scale     float64
	interval  time.Duration
	maxErrors int

	// prev is only touched by the goroutine running the loop.
	prev time.Time

	started atomic.Bool
	running atomic.Bool
	done    chan struct{}

	mu         sync.Mutex
	lastUpdate time.Time
	lastErr    error
	exitErr    error
}

// Status describes the health of the sampling loop. A stopped loop leaves the
// last estimate in place forever; Stale is how callers find out.
type Status struct {
	Running        bool       `json:"running"`
	Stale          bool       `json:"stale"`
	Iterations     uint64     `json:"iterations"`
	LastUpdate     *time.Time `json:"last_update,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	ScaleFactor    float64    `json:"scale_factor"`
	UpdateInterval string     `json:"update_interval"`
}

// NewEstimator creates an Estimator reading from src and publishing to store.
func NewEstimator(src accel.Source, store *Store, opts ...Option) *Estimator {
	e := &Estimator{
		src:      src,
		store:    store,
		clock:    timeutil.RealClock{},
		scale:    DefaultScaleFactor,
		interval: DefaultUpdateInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.prev = e.clock.Now()
	return e
}

// Start runs the loop on a new goroutine. Only the first call has an effect;
// use Done and Err to observe the loop ending.
func (e *Estimator) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		monitoring.Logf("velocity estimator already started")
		return
	}
	go func() {
		err := e.Run(ctx)
		e.mu.Lock()
		e.exitErr = err
		e.mu.Unlock()
		close(e.done)
	}()
}

// Done is closed when a loop launched by Start returns.
func (e *Estimator) Done() <-chan struct{} {
	return e.done
}

// Err returns the error that ended a loop launched by Start, or nil while it
// is still running.
func (e *Estimator) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitErr
}

// Run executes the sampling loop on the calling goroutine until ctx is
// cancelled or readings fail more than the configured number of times in a
// row. It must not be run more than once at a time.
func (e *Estimator) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)

	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	e.prev = e.clock.Now()
	failures := 0
	for {
		if err := e.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.mu.Lock()
			e.lastErr = err
			e.mu.Unlock()

			failures++
			if failures > e.maxErrors {
				monitoring.Logf("velocity estimator stopped after %d consecutive failures: %v", failures, err)
				return err
			}
			monitoring.Logf("velocity estimator: failure %d of %d tolerated: %v", failures, e.maxErrors, err)
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

// Step performs one loop iteration: measure the interval, take a reading,
// integrate and publish. Only the loop goroutine may call it.
func (e *Estimator) Step(ctx context.Context) error {
	now := e.clock.Now()
	dt := now.Sub(e.prev)
	e.prev = now
	if dt < 0 {
		monitoring.Logf("velocity estimator: clock went backwards by %v, using a zero interval", -dt)
		dt = 0
	}

	sample, err := e.src.Sample(ctx)
	if err != nil {
		return fmt.Errorf("failed to read acceleration sample: %w", err)
	}

	kmh := SpeedKMH(sample, dt, e.scale)
	e.store.Publish(kmh)

	e.mu.Lock()
	e.lastUpdate = now
	e.mu.Unlock()

	monitoring.Debugf("sample=%v dt=%v speed=%.4fkm/h", sample, dt, kmh)
	return nil
}

// CurrentSpeed returns the latest estimate in km/h rounded to two decimal
// places. It never blocks on the sampling loop.
func (e *Estimator) CurrentSpeed() float64 {
	return units.Round(e.store.Load(), 2)
}

// Status reports loop health for the status endpoint and debug pages.
func (e *Estimator) Status() Status {
	e.mu.Lock()
	lastUpdate, lastErr := e.lastUpdate, e.lastErr
	e.mu.Unlock()

	st := Status{
		Running:        e.running.Load(),
		Iterations:     e.store.Version(),
		ScaleFactor:    e.scale,
		UpdateInterval: e.interval.String(),
		Stale:          lastUpdate.IsZero() || e.clock.Since(lastUpdate) > staleIntervals*e.interval,
	}
	if !lastUpdate.IsZero() {
		st.LastUpdate = &lastUpdate
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}
