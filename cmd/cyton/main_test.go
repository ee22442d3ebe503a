package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cyton.report/internal/config"
	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/db"
	"github.com/banshee-data/cyton.report/internal/serialmux"
)

// syncBuffer guards a bytes.Buffer shared with the JSONL writer goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func devSettings(t *testing.T) settings {
	t.Helper()
	return settings{
		Port:        "dev",
		PortOptions: serialmux.PortOptions{BaudRate: 115200, ReadTimeoutMs: 20},
		Setup:       true,
		SetupConfig: cyton.DefaultSetupConfig(),
		DBPath:      filepath.Join(t.TempDir(), "cyton.db"),
		Dev:         true,
		JSONL:       true,
	}
}

func devPort(s settings) *serialmux.MockDevicePort {
	return serialmux.NewMockDevicePort(serialmux.MockDeviceConfig{
		Fixture:     cyton.SyntheticStream(50),
		Interval:    time.Millisecond,
		ReadTimeout: s.PortOptions.ReadTimeout(),
	})
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, config.DefaultPort, *port)
	assert.Equal(t, 115200, *baud)
	assert.Equal(t, time.Second, *timeout)
	assert.Equal(t, config.DefaultDBPath, *dbPath)
	assert.False(t, *noSetup)
	assert.False(t, *devMode)
	assert.Zero(t, *queueCap)
}

func TestResolveSettings_ConfigDefaults(t *testing.T) {
	s, err := resolveSettings(config.DefaultDeviceConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultPort, s.Port)
	assert.Equal(t, 115200, s.PortOptions.BaudRate)
	assert.Equal(t, 1000, s.PortOptions.ReadTimeoutMs)
	assert.Equal(t, "N", s.PortOptions.Parity)
	assert.True(t, s.Setup)
	assert.Equal(t, cyton.DefaultSetupConfig(), s.SetupConfig)
	assert.Equal(t, config.DefaultListen, s.Listen)
}

func TestResolveSettings_FlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": "/dev/ttyACM0", "setup": true, "db_path": "other.db"}`), 0o644))
	cfg, err := config.LoadDeviceConfig(path)
	require.NoError(t, err)

	*noSetup = true
	*timeout = 250 * time.Millisecond
	t.Cleanup(func() {
		*noSetup = false
		*timeout = time.Second
	})

	s, err := resolveSettings(cfg, map[string]bool{"no-setup": true, "timeout": true})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", s.Port, "unset flag must not override the file")
	assert.Equal(t, "other.db", s.DBPath)
	assert.False(t, s.Setup)
	assert.Equal(t, 250, s.PortOptions.ReadTimeoutMs)
}

func TestResolveSettings_Invalid(t *testing.T) {
	*baud = 12345
	t.Cleanup(func() { *baud = 115200 })
	_, err := resolveSettings(config.DefaultDeviceConfig(), map[string]bool{"baud": true})
	assert.Error(t, err)

	for _, d := range []time.Duration{0, 500 * time.Microsecond} {
		*timeout = d
		_, err = resolveSettings(config.DefaultDeviceConfig(), map[string]bool{"timeout": true})
		assert.Error(t, err, "timeout %s", d)
	}
	*timeout = time.Second

	*queueCap = -1
	t.Cleanup(func() { *queueCap = 0 })
	_, err = resolveSettings(config.DefaultDeviceConfig(), map[string]bool{"queue-capacity": true})
	assert.Error(t, err)
}

func TestOpenPort(t *testing.T) {
	factory := serialmux.NewMockSerialPortFactory()
	hw := serialmux.NewTestableSerialPort()
	factory.Ports["/dev/ttyUSB0"] = hw

	s := settings{Port: "/dev/ttyUSB0", PortOptions: serialmux.PortOptions{BaudRate: 115200}}
	p, err := openPort(s, factory)
	require.NoError(t, err)
	assert.Same(t, hw, p)
	require.Len(t, factory.Opened, 1)
	assert.Equal(t, 115200, factory.Opened[0].Options.BaudRate)

	s.Dev = true
	p, err = openPort(s, factory)
	require.NoError(t, err)
	defer p.Close()
	assert.IsType(t, &serialmux.MockDevicePort{}, p)
	assert.Len(t, factory.Opened, 1, "dev mode must not touch the factory")

	s.Fixture = filepath.Join(t.TempDir(), "missing.bin")
	_, err = openPort(s, factory)
	assert.Error(t, err)
}

func TestRun_DevModeRecordsAndStreams(t *testing.T) {
	s := devSettings(t)
	p := devPort(s)
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, s, p, out) }()

	require.Eventually(t, func() bool {
		return bytes.Count(out.Bytes(), []byte("\n")) >= 20
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	sc := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	require.True(t, sc.Scan())
	var first cyton.Reading
	require.NoError(t, json.Unmarshal(sc.Bytes(), &first))
	assert.Equal(t, [2]byte{1, 2}, first.SampleNumbers)

	store, err := db.NewDB(s.DBPath)
	require.NoError(t, err)
	defer store.Close()
	sessions, err := store.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.NotNil(t, sessions[0].StoppedAt)
	assert.Equal(t, cyton.DefaultFirmware, sessions[0].Firmware)

	// Readings decoded before the stop reach both subscribers.
	lines := bytes.Count(out.Bytes(), []byte("\n"))
	n, err := store.ReadingCount(sessions[0].ID)
	require.NoError(t, err)
	assert.EqualValues(t, lines, n)

	written := string(p.Written())
	assert.Contains(t, written, "b\n")
	assert.Contains(t, written, "s\n")
	assert.True(t, p.IsClosed())
}

func TestRun_SetupFailureClosesPort(t *testing.T) {
	s := devSettings(t)
	s.SetupConfig.Firmware = "Firmware: v9.9.9"
	s.PortOptions.ReadTimeoutMs = 5
	p := devPort(s)

	err := run(context.Background(), s, p, &syncBuffer{})
	var hs *cyton.HandshakeError
	require.ErrorAs(t, err, &hs)
	assert.True(t, p.IsClosed())
	assert.NotContains(t, string(p.Written()), "b\n")
}

func TestRun_TransportFailureEndsRun(t *testing.T) {
	s := devSettings(t)
	s.Setup = false
	s.DBPath = ""
	s.JSONL = false
	p := devPort(s)
	go func() {
		time.Sleep(50 * time.Millisecond)
		p.Close()
	}()

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), s, p, &syncBuffer{}) }()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, cyton.ErrTransport), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end after the port failed")
	}
}

func TestWriteJSONLines(t *testing.T) {
	in := make(chan cyton.Reading, 2)
	in <- cyton.Reading{SampleNumbers: [2]byte{1, 2}}
	in <- cyton.Reading{SampleNumbers: [2]byte{3, 4}}
	close(in)

	var buf bytes.Buffer
	require.NoError(t, writeJSONLines(&buf, in))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.True(t, bytes.HasPrefix(lines[1], []byte(`{"sample_numbers":[3,4]`)))
}
