package analytics

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// RenderNAVChart renders a PNG line chart of a snapshot's NAV series.
// Two series: NAV (blue solid, left axis) and Drawdown (red, right axis, percent).
func RenderNAVChart(title string, points []models.SeriesPoint, width, height int) ([]byte, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("need at least 2 data points, got %d", len(points))
	}
	if width <= 0 {
		width = 1000
	}
	if height <= 0 {
		height = 420
	}

	xValues := make([]time.Time, 0, len(points))
	navY := make([]float64, 0, len(points))
	ddY := make([]float64, 0, len(points))
	for _, p := range points {
		d, err := common.ParseDate(p.Date)
		if err != nil {
			return nil, fmt.Errorf("bad series date %q: %w", p.Date, err)
		}
		xValues = append(xValues, d)
		navY = append(navY, p.NAV.InexactFloat64())
		ddY = append(ddY, p.Drawdown*100)
	}

	navSeries := chart.TimeSeries{
		Name: "NAV",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"), // blue-600
			StrokeWidth: 2.5,
		},
		XValues: xValues,
		YValues: navY,
	}

	drawdownSeries := chart.TimeSeries{
		Name:  "Drawdown",
		YAxis: chart.YAxisSecondary,
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("dc2626"), // red-600
			StrokeWidth: 1.5,
			FillColor:   drawing.ColorFromHex("dc2626").WithAlpha(40),
		},
		XValues: xValues,
		YValues: ddY,
	}

	graph := chart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("Jan 06")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0fk", f/1000)
				}
				return ""
			},
		},
		YAxisSecondary: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f%%", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			navSeries,
			drawdownSeries,
		},
	}

	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}

// writeChart stores the NAV chart for a snapshot under charts/. Failures are logged only.
func (s *Service) writeChart(account *models.Account, snap *models.AnalyticsSnapshot) {
	title := fmt.Sprintf("%s (%s) to %s", account.Name, snap.Currency, snap.AsOfDate)
	if account.Name == "" {
		title = fmt.Sprintf("%s (%s) to %s", account.ID, snap.Currency, snap.AsOfDate)
	}

	png, err := RenderNAVChart(title, snap.Performance.Series, s.config.Charts.Width, s.config.Charts.Height)
	if err != nil {
		s.logger.Debug().Err(err).Str("account_id", account.ID).Msg("Chart skipped")
		return
	}
	key := fmt.Sprintf("%s_%s.png", account.ID, snap.AsOfDate)
	if err := s.storage.WriteRaw("charts", key, png); err != nil {
		s.logger.Warn().Err(err).Str("account_id", account.ID).Str("key", key).Msg("Failed to write chart")
	}
}
