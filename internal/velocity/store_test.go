package velocity

import (
	"math"
	"sync"
	"testing"
)

func TestStore_ZeroValue(t *testing.T) {
	s := NewStore()
	if got := s.Load(); got != 0 {
		t.Errorf("Load() on a new store = %v, want 0", got)
	}
	if s.Version() != 0 {
		t.Errorf("Version() = %d, want 0", s.Version())
	}
}

func TestStore_PublishLoad(t *testing.T) {
	s := NewStore()
	s.Publish(0.18000000000000002)

	// full precision is kept internally
	if got := s.Load(); got != 0.18000000000000002 {
		t.Errorf("Load() = %v, want 0.18000000000000002", got)
	}
	if s.Version() != 1 {
		t.Errorf("Version() = %d, want 1", s.Version())
	}

	s.Publish(-0.0)
	if got := s.Load(); got != 0 || !math.Signbit(got) {
		t.Errorf("Load() = %v, want -0", got)
	}
}

func TestStore_ReadsAreIdempotent(t *testing.T) {
	s := NewStore()
	s.Publish(12.345678)

	first, second := s.Load(), s.Load()
	if first != second {
		t.Errorf("consecutive loads differ: %v vs %v", first, second)
	}
}

func TestStore_NoTornReads(t *testing.T) {
	// both halves of the bit patterns differ so a torn read would be a third value
	a := math.Float64frombits(0x3FF0000000000001)
	b := math.Float64frombits(0xC0FE_DCBA_9876_5432)

	s := NewStore()
	const writes = 20000
	const readers = 8

	var wg sync.WaitGroup
	stop := make(chan struct{})
	bad := make(chan float64, readers)

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v := s.Load()
				if v != 0 && v != a && v != b {
					bad <- v
					return
				}
			}
		}()
	}

	for i := 0; i < writes; i++ {
		if i%2 == 0 {
			s.Publish(a)
		} else {
			s.Publish(b)
		}
	}
	close(stop)
	wg.Wait()
	close(bad)

	for v := range bad {
		t.Errorf("observed torn value %v (bits %#x)", v, math.Float64bits(v))
	}
	if s.Version() != writes {
		t.Errorf("Version() = %d, want %d", s.Version(), writes)
	}
}
