package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// MockSerialPort replays canned bridge output and records commands written
// to it.
type MockSerialPort struct {
	*io.PipeReader

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
	stop    chan struct{}
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("serial port closed")
	}
	return m.written.Write(p)
}

// Close stops the replay goroutine and the reading side of the pipe.
func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	// unblocks a replay write that nobody is reading
	return m.PipeReader.Close()
}

// Written returns every command written to the port.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

// NewMockSerialMux creates a SerialMux instance backed by a mock serial port
// that prints lines in a loop, one every interval, until closed.
func NewMockSerialMux(lines []string, interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	mockPort := &MockSerialPort{
		PipeReader: r,
		stop:       make(chan struct{}),
	}

	go func() {
		defer w.Close()
		if len(lines) == 0 {
			<-mockPort.stop
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-ticker.C:
				line := strings.TrimRight(lines[i%len(lines)], "\n") + "\n"
				if _, err := w.Write([]byte(line)); err != nil {
					return
				}
			case <-mockPort.stop:
				return
			}
		}
	}()

	return NewSerialMux(mockPort)
}

// TestableSerialPort is an in-memory SerialPorter for tests. Reads block until
// data is fed or the port is closed; writes are captured and can be made to fail.
type TestableSerialPort struct {
	mu       sync.Mutex
	cond     *sync.Cond
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	writeErr error
	closed   bool
}

// NewTestableSerialPort creates an empty TestableSerialPort.
func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Read blocks until data is available, returning io.EOF once closed and drained.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.readBuf.Len() == 0 && !t.closed {
		t.cond.Wait()
	}
	if t.readBuf.Len() == 0 {
		return 0, io.EOF
	}
	return t.readBuf.Read(p)
}

// Write records p, or returns the error set with FailWrites.
func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errors.New("serial port closed")
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	return t.writeBuf.Write(p)
}

// Close wakes blocked readers; subsequent reads drain then return io.EOF.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cond.Broadcast()
	return nil
}

// Feed appends each line, newline-terminated, to the data returned by Read.
func (t *TestableSerialPort) Feed(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range lines {
		t.readBuf.WriteString(strings.TrimRight(line, "\n") + "\n")
	}
	t.cond.Broadcast()
}

// FailWrites makes every following Write return err; nil restores writes.
func (t *TestableSerialPort) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Written returns everything written to the port.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuf.String()
}
