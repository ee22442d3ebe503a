package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/db"
	"github.com/banshee-data/cyton.report/internal/serialmux"
	"github.com/banshee-data/cyton.report/internal/version"
)

type fakeStore struct {
	readings []db.StoredReading
	sessions []db.Session
	err      error

	gotSession string
	gotLimit   int
}

func (f *fakeStore) RecentReadings(sessionID string, limit int) ([]db.StoredReading, error) {
	f.gotSession, f.gotLimit = sessionID, limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.readings) {
		return f.readings[len(f.readings)-limit:], nil
	}
	return f.readings, nil
}

func (f *fakeStore) ReadingCount(string) (int64, error) {
	return int64(len(f.readings)), f.err
}

func (f *fakeStore) ListSessions(limit int) ([]db.Session, error) {
	return f.sessions, f.err
}

type fakeStatus serialmux.Status

func (f fakeStatus) Status() serialmux.Status { return serialmux.Status(f) }

// storedReadings returns n readings whose channel k holds k*(i+1).
func storedReadings(n int) []db.StoredReading {
	base := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	out := make([]db.StoredReading, n)
	for i := range out {
		var r cyton.Reading
		r.SampleNumbers = [2]byte{byte(2*i + 1), byte(2*i + 2)}
		for k := range r.Channels {
			r.Channels[k] = int32((k + 1) * (i + 1))
		}
		out[i] = db.StoredReading{ID: int64(i + 1), SessionID: "s1", RecordedAt: base.Add(time.Duration(i) * 8 * time.Millisecond), Reading: r}
	}
	return out
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestListReadings(t *testing.T) {
	store := &fakeStore{readings: storedReadings(5)}
	s := NewServer(store, nil, "s1")

	rec := serve(t, s, http.MethodGet, "/api/readings?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", store.gotSession)
	assert.Equal(t, 2, store.gotLimit)

	var resp struct {
		SessionID string `json:"session_id"`
		Total     int64  `json:"total"`
		Readings  []struct {
			ID      int64           `json:"id"`
			Reading json.RawMessage `json:"reading"`
		} `json:"readings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.SessionID)
	assert.EqualValues(t, 5, resp.Total)
	require.Len(t, resp.Readings, 2)
	assert.EqualValues(t, 4, resp.Readings[0].ID)

	var r cyton.Reading
	require.NoError(t, json.Unmarshal(resp.Readings[1].Reading, &r))
	assert.Equal(t, store.readings[4].Reading, r)
	assert.True(t, bytes.HasPrefix(resp.Readings[1].Reading, []byte(`{"sample_numbers":[9,10],"chan_1":5`)))
}

func TestListReadings_SessionOverrideAndEmpty(t *testing.T) {
	store := &fakeStore{}
	s := NewServer(store, nil, "default")

	rec := serve(t, s, http.MethodGet, "/api/readings?session=other")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "other", store.gotSession)
	assert.Equal(t, defaultLimit, store.gotLimit)
	assert.Contains(t, rec.Body.String(), `"readings":[]`)
}

func TestListReadings_Errors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		err    error
		want   int
	}{
		{"bad limit", http.MethodGet, "/api/readings?limit=x", nil, http.StatusBadRequest},
		{"limit too large", http.MethodGet, "/api/readings?limit=100001", nil, http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/api/readings", nil, http.StatusMethodNotAllowed},
		{"store failure", http.MethodGet, "/api/readings", errors.New("disk"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(&fakeStore{err: tc.err}, nil, "")
			rec := serve(t, s, tc.method, tc.target)
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestListSessions(t *testing.T) {
	started := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{sessions: []db.Session{{ID: "s1", Port: "/dev/ttyUSB0", StartedAt: started}}}
	s := NewServer(store, nil, "")

	rec := serve(t, s, http.MethodGet, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []db.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
}

func TestShowStats(t *testing.T) {
	s := NewServer(&fakeStore{readings: storedReadings(4)}, nil, "")

	rec := serve(t, s, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []ChannelStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, cyton.ChannelCount)

	// Channel 2 holds 2, 4, 6, 8.
	ch2 := got[1]
	assert.Equal(t, 2, ch2.Channel)
	assert.Equal(t, 4, ch2.Count)
	assert.InDelta(t, 5.0, ch2.Mean, 1e-9)
	assert.InDelta(t, 2.581988897, ch2.StdDev, 1e-6)
	assert.Equal(t, 2.0, ch2.Min)
	assert.Equal(t, 8.0, ch2.Max)
}

func TestComputeChannelStats_EdgeCases(t *testing.T) {
	empty := ComputeChannelStats(nil, Scale{})
	require.Len(t, empty, cyton.ChannelCount)
	assert.Equal(t, ChannelStats{Channel: 16, Unit: "counts"}, empty[15])

	single := ComputeChannelStats(storedReadings(1), Scale{})
	assert.Equal(t, ChannelStats{Channel: 3, Unit: "counts", Count: 1, Mean: 3, Min: 3, Max: 3}, single[2])
}

func TestShowStats_Units(t *testing.T) {
	s := NewServer(&fakeStore{readings: storedReadings(4)}, nil, "")
	var gains [cyton.ChannelCount]int
	for i := range gains {
		gains[i] = 1
	}
	s.SetChannelGains(gains)

	rec := serve(t, s, http.MethodGet, "/api/stats?units=v")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []ChannelStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "v", got[1].Unit)
	assert.InDelta(t, 8*4.5/8388607, got[1].Max, 1e-12)

	rec = serve(t, s, http.MethodGet, "/api/stats?units=furlongs")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, s, http.MethodGet, "/api/plot.png?units=furlongs")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, s, http.MethodGet, "/api/chart?units=uv")
	assert.Equal(t, http.StatusOK, rec.Code)

	p, err := RenderChannelPlot(storedReadings(3), 2, Scale{Unit: "uv", Gains: gains})
	require.NoError(t, err)
	assert.Equal(t, "µV", p.Y.Label.Text)
}

func TestShowStatus(t *testing.T) {
	s := NewServer(&fakeStore{}, nil, "")
	rec := serve(t, s, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s = NewServer(&fakeStore{}, fakeStatus{Subscribers: 2, Received: 10}, "")
	rec = serve(t, s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var got serialmux.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Subscribers)
	assert.EqualValues(t, 10, got.Received)
}

func TestShowVersion(t *testing.T) {
	s := NewServer(&fakeStore{}, nil, "")
	rec := serve(t, s, http.MethodGet, "/api/version")
	require.Equal(t, http.StatusOK, rec.Code)
	var got version.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, version.Get(), got)
}

func TestShowChart(t *testing.T) {
	s := NewServer(&fakeStore{readings: storedReadings(10)}, nil, "")

	rec := serve(t, s, http.MethodGet, "/api/chart?channels=1,16")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "chan_1")
	assert.Contains(t, body, "chan_16")
	assert.NotContains(t, body, "chan_2\"")
}

func TestParseChannels(t *testing.T) {
	got, err := parseChannels("")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, got)

	got, err = parseChannels("3, 3,9")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 9}, got)

	for _, bad := range []string{"0", "17", "a", "1,,2"} {
		_, err := parseChannels(bad)
		assert.Error(t, err, bad)
	}
}

func TestShowChart_BadChannels(t *testing.T) {
	s := NewServer(&fakeStore{}, nil, "")
	rec := serve(t, s, http.MethodGet, "/api/chart?channels=99")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShowPlot(t *testing.T) {
	s := NewServer(&fakeStore{readings: storedReadings(20)}, nil, "")

	rec := serve(t, s, http.MethodGet, "/api/plot.png?channel=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")))

	rec = serve(t, s, http.MethodGet, "/api/plot.png?channel=17")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShowPlot_NoReadings(t *testing.T) {
	s := NewServer(&fakeStore{}, nil, "")
	rec := serve(t, s, http.MethodGet, "/api/plot.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestServer_WithDatabase(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	defer store.Close()

	sess, err := store.StartSession("/dev/ttyUSB0", cyton.DefaultFirmware, time.Now())
	require.NoError(t, err)
	for _, sr := range storedReadings(3) {
		require.NoError(t, store.RecordReading(sess.ID, sr.RecordedAt, sr.Reading))
	}

	s := NewServer(store, nil, sess.ID)
	rec := serve(t, s, http.MethodGet, "/api/readings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":3`)

	rec = serve(t, s, http.MethodGet, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), sess.ID)
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Contains(t, statusCodeColor(200), colorBoldGreen)
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(404), colorBoldRed)
	assert.Contains(t, statusCodeColor(503), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}

func TestQueryRoutes_MethodCheckedFirst(t *testing.T) {
	s := NewServer(&fakeStore{readings: storedReadings(2)}, nil, "")
	for _, target := range []string{
		"/api/stats?units=furlongs",
		"/api/chart?channels=99",
		"/api/plot.png?channel=17",
		"/api/readings?limit=0",
	} {
		rec := serve(t, s, http.MethodPost, target)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, target)
	}
}
