package db

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/monitoring"
	"github.com/banshee-data/cyton.report/internal/timeutil"
)

const (
	// DefaultBatchSize is one second of readings at the board's rate.
	DefaultBatchSize = cyton.SampleRate
	// DefaultFlushInterval bounds how stale the stored data can be.
	DefaultFlushInterval = time.Second
)

// Recorder writes readings from a subscription into a session in batches.
type Recorder struct {
	db        *DB
	sessionID string
	clock     timeutil.Clock

	BatchSize     int
	FlushInterval time.Duration

	recorded atomic.Uint64
	failed   atomic.Uint64
}

// NewRecorder returns a recorder for the given session.
func NewRecorder(db *DB, sessionID string, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{
		db:            db,
		sessionID:     sessionID,
		clock:         clock,
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
	}
}

// Recorded returns the number of readings written so far.
func (r *Recorder) Recorded() uint64 { return r.recorded.Load() }

// Failed returns the number of readings lost to write errors.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

// Run consumes in until it is closed or ctx is done, flushing whatever is
// pending before returning. When ctx ends, readings already buffered in in
// are still recorded.
func (r *Recorder) Run(ctx context.Context, in <-chan cyton.Reading) error {
	ticker := r.clock.NewTicker(r.FlushInterval)
	defer ticker.Stop()

	batch := make([]TimedReading, 0, r.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.db.RecordReadings(r.sessionID, batch); err != nil {
			r.failed.Add(uint64(len(batch)))
			monitoring.Logf("recorder: dropping %d readings: %v", len(batch), err)
		} else {
			r.recorded.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case reading, ok := <-in:
					if !ok {
						return nil
					}
					batch = append(batch, TimedReading{At: r.clock.Now(), Reading: reading})
					if len(batch) >= r.BatchSize {
						flush()
					}
				default:
					return nil
				}
			}
		case <-ticker.C():
			flush()
		case reading, ok := <-in:
			if !ok {
				return nil
			}
			batch = append(batch, TimedReading{At: r.clock.Now(), Reading: reading})
			if len(batch) >= r.BatchSize {
				flush()
			}
		}
	}
}
