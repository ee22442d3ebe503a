package api

import (
	"net/http"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/db"
	"github.com/banshee-data/cyton.report/internal/httputil"
)

// ChannelStats summarises one channel over a window of readings.
type ChannelStats struct {
	Channel int     `json:"channel"`
	Unit    string  `json:"unit"`
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// channelSeries returns the values of channel n (1-based) in reading order.
func channelSeries(readings []db.StoredReading, n int, sc Scale) []float64 {
	xs := make([]float64, len(readings))
	for i, sr := range readings {
		xs[i] = sc.Value(sr.Reading, n)
	}
	return xs
}

// ComputeChannelStats returns statistics for all 16 channels in the units
// of sc. With no readings every channel reports a zero count and zero values.
func ComputeChannelStats(readings []db.StoredReading, sc Scale) []ChannelStats {
	out := make([]ChannelStats, cyton.ChannelCount)
	for i := range out {
		n := i + 1
		out[i].Channel = n
		out[i].Unit = sc.UnitName()
		if len(readings) == 0 {
			continue
		}
		xs := channelSeries(readings, n, sc)
		out[i].Count = len(xs)
		out[i].Min = floats.Min(xs)
		out[i].Max = floats.Max(xs)
		if len(xs) == 1 {
			out[i].Mean = xs[0]
			continue
		}
		out[i].Mean, out[i].StdDev = stat.MeanStdDev(xs, nil)
	}
	return out
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sc, err := s.scale(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	readings, ok := s.recent(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, ComputeChannelStats(readings, sc))
}
