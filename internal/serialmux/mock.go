package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

// TestableSerialPort implements SerialPorter with configurable behaviour for
// tests and the simulator. Reads block until data is added or the port is
// closed.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// OnCommand, when set, is called with every written line and its return
	// value is queued for reading. Used to emulate the bridge replying.
	OnCommand func(command string) string

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read blocks until data is available or the port is closed.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for !t.Closed && t.ReadBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.Closed && t.ReadBuffer.Len() == 0 {
		return 0, errors.New("serial port closed")
	}
	return t.ReadBuffer.Read(p)
}

// Write records p and, when OnCommand is set, queues the reply for each
// complete line.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	n, err = t.WriteBuffer.Write(p)
	if t.OnCommand != nil {
		for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
			if reply := t.OnCommand(line); reply != "" {
				t.ReadBuffer.WriteString(strings.TrimRight(reply, "\n") + "\n")
			}
		}
		t.readCond.Broadcast()
	}
	return n, err
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.String()
}

// AckEverything replies "ok <command key>" to every command, like a bridge
// whose actions all complete instantly.
func AckEverything(command string) string {
	if strings.TrimSpace(command) == "" {
		return ""
	}
	return "ok " + commandKey(command)
}

// NewSimulatedSerialMux returns a SerialMux over an in-memory port that
// acknowledges every command. Observation lines can be injected with the
// returned port's AddReadData.
func NewSimulatedSerialMux() (*SerialMux[*TestableSerialPort], *TestableSerialPort) {
	port := NewTestableSerialPort()
	port.OnCommand = AckEverything
	return NewSerialMux(port), port
}
