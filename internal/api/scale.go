package api

import (
	"fmt"
	"net/http"

	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/units"
)

// Scale converts raw channel counts into a display unit. The zero value
// reports counts.
type Scale struct {
	Unit  string
	Gains [cyton.ChannelCount]int
}

// Value returns channel n (1-based) of r in the scale's unit.
func (sc Scale) Value(r cyton.Reading, n int) float64 {
	return units.ConvertChannel(r.Channel(n), sc.Gains[n-1], sc.Unit)
}

// UnitName returns the unit, counts when unset.
func (sc Scale) UnitName() string {
	if sc.Unit == "" {
		return units.Counts
	}
	return sc.Unit
}

// SetChannelGains records the gain each channel was configured with, used
// when converting counts to volts.
func (s *Server) SetChannelGains(gains [cyton.ChannelCount]int) {
	s.gains = gains
}

// scale reads the units query parameter.
func (s *Server) scale(r *http.Request) (Scale, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		u = units.Counts
	}
	if !units.IsValid(u) {
		return Scale{}, fmt.Errorf("invalid units %q: must be one of %s", u, units.GetValidUnitsString())
	}
	return Scale{Unit: u, Gains: s.gains}, nil
}
