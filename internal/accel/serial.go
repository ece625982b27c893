package accel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/speedometer/internal/monitoring"
	"github.com/banshee-data/speedometer/internal/serialmux"
)

// SerialSource keeps the most recent reading streamed by an IMU bridge on a
// serial port. Run pumps lines from the mux; Sample returns the latest parsed
// reading without touching the port.
type SerialSource struct {
	mux serialmux.SerialMuxInterface

	mu     sync.Mutex
	latest Sample
	closed bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	received  atomic.Uint64
	malformed atomic.Uint64
}

// NewSerialSource creates a SerialSource reading from m.
func NewSerialSource(m serialmux.SerialMuxInterface) *SerialSource {
	return &SerialSource{
		mux:   m,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run subscribes to the serial mux and records every well-formed reading until
// ctx is cancelled or the mux closes the subscription.
func (s *SerialSource) Run(ctx context.Context) error {
	id, c := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)
	defer s.markClosed()

	for {
		select {
		case line, ok := <-c:
			if !ok {
				monitoring.Logf("serial source: subscription closed")
				return ErrSourceClosed
			}
			s.handleLine(line)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *SerialSource) handleLine(line string) {
	sample, err := ParseSample(line)
	if err != nil {
		// bridges print banners and config echoes between readings
		s.malformed.Add(1)
		monitoring.Logf("serial source: skipping line %q: %v", line, err)
		return
	}

	s.mu.Lock()
	s.latest = sample
	s.mu.Unlock()
	s.received.Add(1)
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *SerialSource) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// Sample returns the latest reading. Until the first reading arrives it blocks
// on ctx; once the pump has stopped it returns ErrSourceClosed.
func (s *SerialSource) Sample(ctx context.Context) (Sample, error) {
	select {
	case <-s.ready:
	case <-s.done:
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Sample{}, ErrSourceClosed
	}
	return s.latest, nil
}

// Stats reports the number of accepted and rejected lines.
func (s *SerialSource) Stats() (received, malformed uint64) {
	return s.received.Load(), s.malformed.Load()
}
