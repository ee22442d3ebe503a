// Package serialmux owns the serial side of the board: opening hardware
// ports, simulated ports for tests and dev mode, and a fan-out that lets
// several consumers share the single stream of decoded readings.
package serialmux

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/monitoring"
	"github.com/banshee-data/cyton.report/internal/timeutil"
)

// SubscriberBuffer is the channel capacity given to each subscriber. A
// subscriber that falls this far behind misses readings.
const SubscriberBuffer = 256

//go:embed templates/*
var adminTemplateFS embed.FS

var tailTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/tail.html.tmpl"))

// StatsSource reports acquisition counters. *cyton.Device implements it.
type StatsSource interface {
	Stats() cyton.Stats
}

// ReadingMux fans readings from one acquisition channel out to any number of
// subscribers.
type ReadingMux struct {
	clock  timeutil.Clock
	source StatsSource

	subscriberMu sync.Mutex
	subscribers  map[string]chan cyton.Reading
	closing      bool

	delivered atomic.Uint64
	skipped   atomic.Uint64
	received  atomic.Uint64
	lastAt    atomic.Int64
}

// Status is the JSON body served at /debug/status.
type Status struct {
	Subscribers   int          `json:"subscribers"`
	Received      uint64       `json:"received"`
	Delivered     uint64       `json:"delivered"`
	Skipped       uint64       `json:"skipped"`
	LastReadingAt *time.Time   `json:"last_reading_at,omitempty"`
	Device        *cyton.Stats `json:"device,omitempty"`
}

// NewReadingMux returns an idle mux. source may be nil.
func NewReadingMux(clock timeutil.Clock, source StatsSource) *ReadingMux {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ReadingMux{
		clock:       clock,
		source:      source,
		subscribers: make(map[string]chan cyton.Reading),
	}
}

// Subscribe creates a new channel for receiving readings. The returned ID is
// used to unsubscribe. Subscribing after Close returns a closed channel.
func (m *ReadingMux) Subscribe() (string, <-chan cyton.Reading) {
	id := uuid.NewString()
	ch := make(chan cyton.Reading, SubscriberBuffer)

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closing {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *ReadingMux) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Run forwards readings from in to every subscriber until in is closed or
// ctx is done. Subscribers whose buffer is full are skipped for that reading.
// Run closes all subscriber channels when it returns.
func (m *ReadingMux) Run(ctx context.Context, in <-chan cyton.Reading) error {
	defer m.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-in:
			if !ok {
				return nil
			}
			m.publish(r)
		}
	}
}

func (m *ReadingMux) publish(r cyton.Reading) {
	m.received.Add(1)
	m.lastAt.Store(m.clock.Now().UnixNano())

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for id, ch := range m.subscribers {
		select {
		case ch <- r:
			m.delivered.Add(1)
		default:
			if m.skipped.Add(1)%SubscriberBuffer == 1 {
				monitoring.Logf("serialmux: subscriber %s is falling behind, skipping readings", id)
			}
		}
	}
}

// Close closes every subscriber channel. Later subscriptions get closed
// channels.
func (m *ReadingMux) Close() error {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.closing = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	return nil
}

// Status returns a snapshot of the mux counters.
func (m *ReadingMux) Status() Status {
	m.subscriberMu.Lock()
	n := len(m.subscribers)
	m.subscriberMu.Unlock()

	s := Status{
		Subscribers: n,
		Received:    m.received.Load(),
		Delivered:   m.delivered.Load(),
		Skipped:     m.skipped.Load(),
	}
	if ns := m.lastAt.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		s.LastReadingAt = &t
	}
	if m.source != nil {
		st := m.source.Stats()
		s.Device = &st
	}
	return s
}

// AttachAdminRoutes attaches debugging endpoints to the given HTTP mux
// served at /debug/. These routes are meant for localhost or tailnet access.
func (m *ReadingMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Live tail page backed by the tail-api event stream below.
	debug.HandleFunc("tail", "live tail of decoded readings", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := tailTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})

	// Server-Sent Events, one JSON reading per event.
	debug.HandleSilentFunc("tail-api", m.serveTail)

	debug.HandleFunc("status", "acquisition and fan-out counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.Status()); err != nil {
			http.Error(w, "Failed to encode status", http.StatusInternalServerError)
		}
	})
}

func (m *ReadingMux) serveTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := m.Subscribe()
	defer m.Unsubscribe(id)

	// Send initial ping to establish connection
	io.WriteString(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case reading, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(reading)
			if err != nil {
				monitoring.Logf("serialmux: failed to encode reading %s: %v", reading, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
