package api

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/httputil"
	"github.com/banshee-data/cyton.report/internal/units"
)

// parseChannels reads a comma separated list of 1-based channel numbers.
// An empty list selects channels 1 to 4.
func parseChannels(raw string) ([]int, error) {
	if raw == "" {
		return []int{1, 2, 3, 4}, nil
	}
	var out []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > cyton.ChannelCount {
			return nil, fmt.Errorf("channel %q must be a number from 1 to %d", part, cyton.ChannelCount)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	channels, err := parseChannels(r.URL.Query().Get("channels"))
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

	xAxis := make([]string, len(readings))
	for i, sr := range readings {
		xAxis[i] = sr.RecordedAt.Format("15:04:05.000")
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Channel readings", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Channel readings", Subtitle: fmt.Sprintf("session=%s readings=%d", s.session(r), len(readings))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: units.Label(sc.Unit), NameLocation: "middle", NameGap: 60}),
	)
	line.SetXAxis(xAxis)
	for _, n := range channels {
		data := make([]opts.LineData, len(readings))
		for i, sr := range readings {
			data[i] = opts.LineData{Value: sc.Value(sr.Reading, n)}
		}
		line.AddSeries(fmt.Sprintf("chan_%d", n), data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		log.Printf("failed to render chart: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
