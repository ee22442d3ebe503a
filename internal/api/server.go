// Package api serves stored readings, channel statistics and charts over
// HTTP.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/db"
	"github.com/banshee-data/cyton.report/internal/httputil"
	"github.com/banshee-data/cyton.report/internal/serialmux"
	"github.com/banshee-data/cyton.report/internal/units"
	"github.com/banshee-data/cyton.report/internal/version"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const (
	defaultLimit = 250
	maxLimit     = 100000
)

// Store is the read side of the readings database.
type Store interface {
	RecentReadings(sessionID string, limit int) ([]db.StoredReading, error)
	ReadingCount(sessionID string) (int64, error)
	ListSessions(limit int) ([]db.Session, error)
}

// StatusSource reports the live acquisition state.
type StatusSource interface {
	Status() serialmux.Status
}

type Server struct {
	store     Store
	status    StatusSource
	sessionID string
	gains     [cyton.ChannelCount]int
}

// NewServer returns a server. status may be nil when no device is attached;
// sessionID is the session that queries default to, empty for all.
func NewServer(store Store, status StatusSource, sessionID string) *Server {
	s := &Server{
		store:     store,
		status:    status,
		sessionID: sessionID,
	}
	for i := range s.gains {
		s.gains[i] = units.DefaultGain
	}
	return s
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/readings", s.listReadings)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/api/chart", s.showChart)
	mux.HandleFunc("/api/plot.png", s.showPlot)
	return mux
}

// session returns the session named in the query, else the server default.
func (s *Server) session(r *http.Request) string {
	if id := r.URL.Query().Get("session"); id != "" {
		return id
	}
	return s.sessionID
}

// recent loads readings for the handler's limit and session query.
func (s *Server) recent(w http.ResponseWriter, r *http.Request) ([]db.StoredReading, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil, false
	}
	limit, err := httputil.QueryInt(r, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	readings, err := s.store.RecentReadings(s.session(r), limit)
	if err != nil {
		log.Printf("failed to load readings: %v", err)
		httputil.InternalServerError(w, "failed to load readings")
		return nil, false
	}
	return readings, true
}

type readingsResponse struct {
	SessionID string             `json:"session_id,omitempty"`
	Total     int64              `json:"total"`
	Readings  []db.StoredReading `json:"readings"`
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	readings, ok := s.recent(w, r)
	if !ok {
		return
	}
	session := s.session(r)
	total, err := s.store.ReadingCount(session)
	if err != nil {
		log.Printf("failed to count readings: %v", err)
		httputil.InternalServerError(w, "failed to count readings")
		return
	}
	if readings == nil {
		readings = []db.StoredReading{}
	}
	httputil.WriteJSONOK(w, readingsResponse{SessionID: session, Total: total, Readings: readings})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50, 1, 1000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sessions, err := s.store.ListSessions(limit)
	if err != nil {
		log.Printf("failed to list sessions: %v", err)
		httputil.InternalServerError(w, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.status == nil {
		httputil.ServiceUnavailable(w, "no device attached")
		return
	}
	httputil.WriteJSONOK(w, s.status.Status())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
