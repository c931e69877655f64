package returns

import "time"

// DrawdownPoint is the growth-of-one path at a date.
type DrawdownPoint struct {
	Date       time.Time
	Cumulative float64 // growth of 1 since the first observation
	Peak       float64
	PeakDate   time.Time
	Drawdown   float64 // Cumulative/Peak − 1, always ≤ 0
}

// DrawdownPath walks the chained periods from a starting value of 1 on the first NAV date.
// Excluded sub-periods leave the path flat.
func (s *Series) DrawdownPath() []DrawdownPoint {
	if len(s.NAV) == 0 {
		return nil
	}
	start := s.NAV[0].Date
	if len(s.Periods) > 0 && s.Periods[0].Start.Before(start) {
		start = s.Periods[0].Start
	}

	path := make([]DrawdownPoint, 0, len(s.Periods)+1)
	path = append(path, DrawdownPoint{Date: start, Cumulative: 1, Peak: 1, PeakDate: start})

	cum, peak, peakDate := 1.0, 1.0, start
	for _, p := range s.Periods {
		cum *= 1 + p.Return
		if cum >= peak {
			peak, peakDate = cum, p.End
		}
		path = append(path, DrawdownPoint{
			Date:       p.End,
			Cumulative: cum,
			Peak:       peak,
			PeakDate:   peakDate,
			Drawdown:   cum/peak - 1,
		})
	}
	return path
}

// DrawdownEpisode is one peak-to-recovery decline.
type DrawdownEpisode struct {
	Peak      time.Time
	Trough    time.Time
	Recovery  time.Time // zero when still underwater
	Recovered bool
	Depth     float64 // most negative drawdown in the episode
}

// Duration is the calendar span of the episode; open episodes run to asOf.
func (e DrawdownEpisode) Duration(asOf time.Time) int {
	end := asOf
	if e.Recovered {
		end = e.Recovery
	}
	return int(end.Sub(e.Peak).Hours() / 24)
}

// RecoveryDays is the calendar span from trough to recovery, or -1 when unrecovered.
func (e DrawdownEpisode) RecoveryDays() int {
	if !e.Recovered {
		return -1
	}
	return int(e.Recovery.Sub(e.Trough).Hours() / 24)
}

// Episodes splits a path into drawdown episodes in date order.
func Episodes(path []DrawdownPoint) []DrawdownEpisode {
	var out []DrawdownEpisode
	var cur *DrawdownEpisode
	for _, pt := range path {
		if pt.Drawdown < 0 {
			if cur == nil {
				cur = &DrawdownEpisode{Peak: pt.PeakDate, Trough: pt.Date, Depth: pt.Drawdown}
			}
			if pt.Drawdown < cur.Depth {
				cur.Depth, cur.Trough = pt.Drawdown, pt.Date
			}
			continue
		}
		if cur != nil {
			cur.Recovery, cur.Recovered = pt.Date, true
			out = append(out, *cur)
			cur = nil
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}
