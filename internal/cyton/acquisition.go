package cyton

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/cyton.report/internal/monitoring"
)

// Transport is the byte-oriented serial connection to the board. Reads
// are expected to return after the port's read timeout, possibly with zero
// bytes.
type Transport interface {
	io.ReadWriteCloser
}

// Options tunes a Device.
type Options struct {
	// QueueCapacity bounds the number of readings waiting for the consumer.
	// Zero means unbounded. When bounded, readings that arrive at a full
	// queue are dropped and counted in Stats.DroppedReadings.
	QueueCapacity int
	// DrainTimeout is how long readings still queued when the loop stops
	// wait for the consumer. Once no reading has been received for this
	// long the rest are dropped, counted in Stats.DroppedReadings, and the
	// channel is closed. Zero means DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// Stats is a snapshot of the acquisition counters.
type Stats struct {
	Running          bool   `json:"running"`
	Reads            uint64 `json:"reads"`
	BytesRead        uint64 `json:"bytes_read"`
	Frames           uint64 `json:"frames"`
	Packets          uint64 `json:"packets"`
	Readings         uint64 `json:"readings"`
	DiscardedPackets uint64 `json:"discarded_packets"`
	DroppedReadings  uint64 `json:"dropped_readings"`
	LastError        string `json:"last_error,omitempty"`
}

type counters struct {
	reads     atomic.Uint64
	bytesRead atomic.Uint64
	frames    atomic.Uint64
	packets   atomic.Uint64
	readings  atomic.Uint64
	discarded atomic.Uint64
	dropped   atomic.Uint64
}

// Device drives one board. Before Start the caller may run Setup; after
// Start the background loop is the sole user of the transport until it
// exits, at which point the transport is closed.
type Device struct {
	mu        sync.Mutex
	port      Transport
	opts      Options
	started   bool
	settingUp bool
	setupErr  error
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	running   atomic.Bool
	counters  counters
}

// NewDevice wraps port. The device takes ownership of port.
func NewDevice(port Transport, opts Options) *Device {
	return &Device{
		port: port,
		opts: opts,
		done: make(chan struct{}),
	}
}

// Setup runs the configuration handshake. If it fails, Start refuses to run
// until a later Setup succeeds.
func (d *Device) Setup(ctx context.Context, cfg SetupConfig) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	if d.settingUp {
		d.mu.Unlock()
		return ErrSetupInProgress
	}
	d.settingUp = true
	port := d.port
	d.mu.Unlock()

	err := Setup(ctx, port, cfg)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.settingUp = false
	d.setupErr = err
	return err
}

// Start sends the start-streaming command from a background goroutine and
// returns the channel readings are delivered on. The channel is closed once
// the loop has stopped and every pending reading was received.
//
// Cancelling ctx, or calling Stop, stops the loop at the start of its next
// iteration, which is at most one port read timeout away.
func (d *Device) Start(ctx context.Context) (<-chan Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil, ErrAlreadyStarted
	}
	if d.settingUp {
		return nil, ErrSetupInProgress
	}
	if d.setupErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetupFailed, d.setupErr)
	}

	d.started = true
	port := d.port
	d.port = nil

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	q := newReadingQueue(d.opts.QueueCapacity, d.opts.DrainTimeout, &d.counters.dropped)
	d.running.Store(true)
	go d.run(loopCtx, port, q)
	return q.out, nil
}

// Stop cancels the loop and waits for it to exit.
func (d *Device) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	return d.Wait()
}

// Wait blocks until the loop exits and returns the error that ended it, or
// nil after a requested stop.
func (d *Device) Wait() error {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}
	<-d.done
	return d.err
}

// Stats returns the current counters.
func (d *Device) Stats() Stats {
	s := Stats{
		Running:          d.running.Load(),
		Reads:            d.counters.reads.Load(),
		BytesRead:        d.counters.bytesRead.Load(),
		Frames:           d.counters.frames.Load(),
		Packets:          d.counters.packets.Load(),
		Readings:         d.counters.readings.Load(),
		DiscardedPackets: d.counters.discarded.Load(),
		DroppedReadings:  d.counters.dropped.Load(),
	}
	if !s.Running {
		select {
		case <-d.done:
			if d.err != nil {
				s.LastError = d.err.Error()
			}
		default:
		}
	}
	return s
}

func (d *Device) run(ctx context.Context, port Transport, q *readingQueue) {
	err := d.loop(ctx, port, q)
	if cerr := port.Close(); cerr != nil {
		monitoring.Logf("failed to close serial port: %v", cerr)
	}
	q.close()
	d.err = err
	d.running.Store(false)
	if err != nil {
		monitoring.Logf("acquisition loop terminated: %v", err)
	} else {
		monitoring.Logf("acquisition loop stopped")
	}
	close(d.done)
}

func (d *Device) loop(ctx context.Context, port Transport, q *readingQueue) error {
	if err := writeAll(port, cmdStartStreaming); err != nil {
		return transportError("start streaming", err)
	}
	monitoring.Logf("streaming started")

	var (
		framer Framer
		pairer Pairer
		chunk  = make([]byte, ReadChunkSize)
	)
	for {
		if ctx.Err() != nil {
			if err := writeAll(port, cmdStopStreaming); err != nil {
				return transportError("stop streaming", err)
			}
			return nil
		}

		n, err := port.Read(chunk)
		d.counters.reads.Add(1)
		if n > 0 {
			d.counters.bytesRead.Add(uint64(n))
			framer.Write(chunk[:n])
			d.process(&framer, &pairer, q)
		}
		if err != nil {
			// the port may still accept writes after a read failure
			if werr := writeAll(port, cmdStopStreaming); werr != nil {
				monitoring.Debugf("stop streaming after read failure: %v", werr)
			}
			return transportError("read", err)
		}
	}
}

// process decodes every frame available in the framer and forwards each
// completed pair before the next read.
func (d *Device) process(framer *Framer, pairer *Pairer, q *readingQueue) {
	for _, frame := range framer.Frames() {
		d.counters.frames.Add(1)
		pkt, err := DecodePacket(frame)
		if err != nil {
			// the framer only extracts FrameSize slices
			monitoring.Logf("dropping undecodable frame: %v", err)
			continue
		}
		d.counters.packets.Add(1)

		before := pairer.Discarded()
		r, ok := pairer.Push(pkt)
		if n := pairer.Discarded() - before; n > 0 {
			d.counters.discarded.Add(n)
		}
		if ok {
			d.counters.readings.Add(1)
			q.push(r)
		}
	}
}
