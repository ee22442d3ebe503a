package api

import (
	"fmt"
	"log"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/db"
	"github.com/banshee-data/cyton.report/internal/httputil"
	"github.com/banshee-data/cyton.report/internal/units"
)

// RenderChannelPlot draws channel n (1-based) in the units of sc against
// reading index.
func RenderChannelPlot(readings []db.StoredReading, n int, sc Scale) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Channel %d", n)
	p.X.Label.Text = "reading"
	p.Y.Label.Text = units.Label(sc.Unit)
	p.Add(plotter.NewGrid())

	if len(readings) == 0 {
		return p, nil
	}
	pts := make(plotter.XYs, len(readings))
	for i, sr := range readings {
		pts[i] = plotter.XY{X: float64(i), Y: sc.Value(sr.Reading, n)}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)
	return p, nil
}

func (s *Server) showPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	n, err := httputil.QueryInt(r, "channel", 1, 1, cyton.ChannelCount)
	if err != nil {
		httputil.BadRequest(w, err.Error())
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

	p, err := RenderChannelPlot(readings, n, sc)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		log.Printf("failed to write plot: %v", err)
	}
}
