package serialmux

import (
	"errors"
	"testing"

	"go.bug.st/serial"
)

func TestNewRealSerialMux(t *testing.T) {
	orig := openPort
	defer func() { openPort = orig }()

	var gotPath string
	var gotMode *serial.Mode
	port := NewTestableSerialPort()
	openPort = func(path string, mode *serial.Mode) (SerialPorter, error) {
		gotPath, gotMode = path, mode
		return port, nil
	}

	mux, err := NewRealSerialMux("/dev/ttyACM0", PortOptions{})
	if err != nil {
		t.Fatalf("NewRealSerialMux() error = %v", err)
	}
	if gotPath != "/dev/ttyACM0" {
		t.Errorf("opened %q, want /dev/ttyACM0", gotPath)
	}
	if gotMode.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", gotMode.BaudRate, DefaultBaudRate)
	}

	if err := mux.SendCommand("PING"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if port.Written() != "PING\n" {
		t.Errorf("written = %q", port.Written())
	}
}

func TestNewRealSerialMux_Errors(t *testing.T) {
	orig := openPort
	defer func() { openPort = orig }()

	openCalled := false
	openPort = func(string, *serial.Mode) (SerialPorter, error) {
		openCalled = true
		return nil, errors.New("no such device")
	}

	if _, err := NewRealSerialMux("/dev/ttyACM0", PortOptions{DataBits: 12}); err == nil {
		t.Error("expected error for invalid options")
	}
	if openCalled {
		t.Error("port should not be opened with invalid options")
	}

	if _, err := NewRealSerialMux("/dev/ttyACM0", PortOptions{}); err == nil {
		t.Error("expected error when the device cannot be opened")
	}
}
