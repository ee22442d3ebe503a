package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/monitoring"
)

// ErrPortClosed is returned by the test ports once Close has been called.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort implements TimeoutSerialPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, writes, errors, and latency.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// WriteCalls records the number of Write calls
	WriteCalls int

	// ReadTimeout is how long an empty Read waits for data before
	// returning (0, nil), like a hardware port. Zero returns immediately.
	ReadTimeout time.Duration

	// OnWrite, if set, is called with each successful write while the lock
	// is not held. It may call AddReadData to script a reply.
	OnWrite func(p []byte)

	// wake is signalled when data arrives or the port closes
	wake chan struct{}
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		wake:        make(chan struct{}, 1),
	}
}

func (t *TestableSerialPort) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Read reads from the read buffer, optionally simulating latency and errors.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	t.ReadCalls++
	latency := t.ReadLatency
	t.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadBuffer.Len() == 0 && t.ReadTimeout > 0 {
		timeout := t.ReadTimeout
		t.mu.Unlock()
		select {
		case <-t.wake:
		case <-time.After(timeout):
		}
		t.mu.Lock()
		if t.Closed {
			return 0, ErrPortClosed
		}
	}

	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	t.WriteCalls++

	if t.Closed {
		t.mu.Unlock()
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		t.mu.Unlock()
		return 0, err
	}

	n, err = t.WriteBuffer.Write(p)
	hook := t.OnWrite
	t.mu.Unlock()

	if hook != nil {
		hook(append([]byte(nil), p...))
	}
	return n, err
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.signal()

	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.signal()
}

// Written returns a copy of everything written to the port so far.
func (t *TestableSerialPort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.WriteBuffer.Bytes())
}

// IsClosed reports whether Close was called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// MockSerialPortFactory hands out pre-built ports and records the requests.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Ports maps a path to the port returned for it.
	Ports map[string]SerialPorter
	// OpenError, if set, is returned by every Open call.
	OpenError error
	// Opened records each Open call.
	Opened []OpenCall
}

// OpenCall records one MockSerialPortFactory.Open invocation.
type OpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockSerialPortFactory returns an empty factory.
func NewMockSerialPortFactory() *MockSerialPortFactory {
	return &MockSerialPortFactory{Ports: make(map[string]SerialPorter)}
}

// Open returns the port registered for path.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Opened = append(f.Opened, OpenCall{Path: path, Options: opts})
	if f.OpenError != nil {
		return nil, f.OpenError
	}
	port, ok := f.Ports[path]
	if !ok {
		return nil, errors.New("no mock port registered for " + path)
	}
	return port, nil
}

// MockDeviceConfig controls NewMockDevicePort.
type MockDeviceConfig struct {
	// Fixture is the raw byte stream replayed while streaming. It loops.
	Fixture []byte
	// ChunkSize is the number of fixture bytes released per interval.
	ChunkSize int
	// Interval paces the stream.
	Interval time.Duration
	// ReadTimeout is the simulated port read timeout.
	ReadTimeout time.Duration
	// Setup answers the handshake. Zero value means cyton.DefaultSetupConfig.
	Setup cyton.SetupConfig
}

// MockDevicePort simulates a board on a TestableSerialPort: it answers the
// setup handshake and streams the fixture between the start and stop
// commands.
type MockDevicePort struct {
	*TestableSerialPort

	cfg  MockDeviceConfig
	stop chan struct{}
	once sync.Once
	on   chan struct{}
	off  chan struct{}
}

// NewMockDevicePort returns a port that behaves like an attached board.
func NewMockDevicePort(cfg MockDeviceConfig) *MockDevicePort {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 2 * cyton.FrameSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second / cyton.SampleRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 50 * time.Millisecond
	}
	if cfg.Setup.Firmware == "" {
		cfg.Setup = cyton.DefaultSetupConfig()
	}

	m := &MockDevicePort{
		TestableSerialPort: NewTestableSerialPort(),
		cfg:                cfg,
		stop:               make(chan struct{}),
		on:                 make(chan struct{}, 1),
		off:                make(chan struct{}, 1),
	}
	m.ReadTimeout = cfg.ReadTimeout
	m.OnWrite = m.respond
	go m.stream()
	return m
}

func (m *MockDevicePort) respond(p []byte) {
	cmd := string(p)
	switch {
	case cmd == "v\n":
		m.AddReadData([]byte("OpenBCI V3 8-16 channel\nADS1299 Device ID: 0x3E\n" + m.cfg.Setup.Firmware + "\n$$$"))
	case cmd == "C\n":
		m.AddReadData([]byte(m.cfg.Setup.ModeAck))
	case strings.HasPrefix(cmd, "x") && strings.HasSuffix(cmd, "X\n"):
		m.AddReadData([]byte(m.cfg.Setup.ChannelAck))
	case cmd == "b\n":
		notify(m.on)
	case cmd == "s\n":
		notify(m.off)
	default:
		monitoring.Debugf("mock device ignoring command %q", cmd)
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (m *MockDevicePort) stream() {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	streaming := false
	pos := 0
	for {
		select {
		case <-m.stop:
			return
		case <-m.on:
			streaming = true
		case <-m.off:
			streaming = false
		case <-ticker.C:
			if !streaming || len(m.cfg.Fixture) == 0 {
				continue
			}
			end := min(pos+m.cfg.ChunkSize, len(m.cfg.Fixture))
			m.AddReadData(m.cfg.Fixture[pos:end])
			pos = end % len(m.cfg.Fixture)
		}
	}
}

// Close stops the simulated stream and closes the port.
func (m *MockDevicePort) Close() error {
	m.once.Do(func() { close(m.stop) })
	return m.TestableSerialPort.Close()
}
