package serialmux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if mux.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", mux.SubscriberCount())
	}
	if !strings.Contains(mux.String(), "TestableSerialPort") {
		t.Errorf("String() = %q, want port type", mux.String())
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == id2 {
		t.Fatalf("subscriber IDs should be unique, both %q", id1)
	}
	if mux.SubscriberCount() != 2 {
		t.Fatalf("SubscriberCount() = %d, want 2", mux.SubscriberCount())
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if mux.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", mux.SubscriberCount())
	}

	// unknown IDs are ignored
	mux.Unsubscribe("does-not-exist")
	mux.Unsubscribe(id1)
}

func TestSendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("RATE 10"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if err := mux.SendCommand("FMT CSV\n"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	if got, want := port.Written(), "RATE 10\nFMT CSV\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
}

func TestSendCommand_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.FailWrites(errors.New("boom"))
	mux := NewSerialMux(port)

	if err := mux.SendCommand("RATE 10"); err == nil {
		t.Fatal("expected write error")
	}
}

type shortWritePort struct{ *TestableSerialPort }

func (p shortWritePort) Write(b []byte) (int, error) { return len(b) - 1, nil }

func TestSendCommand_ShortWrite(t *testing.T) {
	mux := NewSerialMux(shortWritePort{NewTestableSerialPort()})

	if err := mux.SendCommand("RATE 10"); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("SendCommand() error = %v, want ErrWriteFailed", err)
	}
}

func TestInitialise(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.Initialise("RATE 10", "  ", "FMT CSV"); err != nil {
		t.Fatalf("Initialise() error = %v", err)
	}
	if got, want := port.Written(), "RATE 10\nFMT CSV\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}

	port.FailWrites(errors.New("boom"))
	err := mux.Initialise("RATE 20")
	if err == nil || !strings.Contains(err.Error(), "RATE 20") {
		t.Errorf("Initialise() error = %v, want failing command named", err)
	}
}

func TestMonitor_FansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.Feed("0.1,0.2,0.3", "0.4,0.5,0.6")

	for _, ch := range []chan string{ch1, ch2} {
		for _, want := range []string{"0.1,0.2,0.3", "0.4,0.5,0.6"} {
			select {
			case got := <-ch:
				if got != want {
					t.Errorf("got %q, want %q", got, want)
				}
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	// EOF after close ends the monitor cleanly
	port.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after port close")
	}
}

func TestMonitor_ContextCancel(t *testing.T) {
	port := NewTestableSerialPort()
	defer port.Close()
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

type failingReadPort struct{ *TestableSerialPort }

func (failingReadPort) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

func TestMonitor_ReadError(t *testing.T) {
	mux := NewSerialMux(failingReadPort{NewTestableSerialPort()})

	err := mux.Monitor(context.Background())
	if err == nil || !strings.Contains(err.Error(), "device unplugged") {
		t.Fatalf("Monitor() error = %v, want read error", err)
	}
}

func TestClose(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if mux.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", mux.SubscriberCount())
	}
	if err := mux.SendCommand("RATE 10"); err == nil {
		t.Error("SendCommand on a closed port should fail")
	}
}
