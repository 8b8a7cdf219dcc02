package models

import "time"

// Resolution names a rolling statistics window.
type Resolution string

const (
	Res3s  Resolution = "3s"
	Res15s Resolution = "15s"
	Res2m  Resolution = "2m"
	Res10m Resolution = "10m"
	Res2h  Resolution = "2h"
)

// Resolutions lists every window, shortest first. Index order is relied on
// by SymbolSnapshot.Windows.
var Resolutions = [5]Resolution{Res3s, Res15s, Res2m, Res10m, Res2h}

// SubIntervalsPerWindow is the number of slope/moving-average pairs each window exposes.
const SubIntervalsPerWindow = 4

type SubInterval struct {
	Label  string
	Length time.Duration
}

type resolutionSpec struct {
	subs      [SubIntervalsPerWindow]SubInterval
	threshold int
}

// Sub-interval labels may exceed the window name: the 2h window reports up to 1d.
var resolutionSpecs = map[Resolution]resolutionSpec{
	Res3s: {
		subs:      [4]SubInterval{{"5s", 5 * time.Second}, {"10s", 10 * time.Second}, {"15s", 15 * time.Second}, {"30s", 30 * time.Second}},
		threshold: 28,
	},
	Res15s: {
		subs:      [4]SubInterval{{"45s", 45 * time.Second}, {"1m", time.Minute}, {"2m", 2 * time.Minute}, {"3m", 3 * time.Minute}},
		threshold: 175,
	},
	Res2m: {
		subs:      [4]SubInterval{{"5m", 5 * time.Minute}, {"7m", 7 * time.Minute}, {"10m", 10 * time.Minute}, {"15m", 15 * time.Minute}},
		threshold: 890,
	},
	Res10m: {
		subs:      [4]SubInterval{{"30m", 30 * time.Minute}, {"1h", time.Hour}, {"2h", 2 * time.Hour}, {"3h", 3 * time.Hour}},
		threshold: 10750,
	},
	Res2h: {
		subs:      [4]SubInterval{{"6h", 6 * time.Hour}, {"12h", 12 * time.Hour}, {"18h", 18 * time.Hour}, {"1d", 24 * time.Hour}},
		threshold: 86200,
	},
}

// SubIntervals returns the nested intervals of r, shortest first.
func (r Resolution) SubIntervals() [SubIntervalsPerWindow]SubInterval {
	return resolutionSpecs[r].subs
}

// Horizon is the retention of the window: its longest sub-interval.
func (r Resolution) Horizon() time.Duration {
	return resolutionSpecs[r].subs[SubIntervalsPerWindow-1].Length
}

// ValidityThreshold is the DataBasis a window must exceed to be valid.
func (r Resolution) ValidityThreshold() int {
	return resolutionSpecs[r].threshold
}

// Index returns the position of r in Resolutions, or -1.
func (r Resolution) Index() int {
	for i, res := range Resolutions {
		if res == r {
			return i
		}
	}
	return -1
}

// StatsWindow is a point-in-time copy of one aggregation window.
type StatsWindow struct {
	Symbol         string                         `json:"symbol"`
	Resolution     Resolution                     `json:"resolution"`
	DataBasis      int                            `json:"data_basis"`
	Newest         time.Time                      `json:"newest"`
	Slopes         [SubIntervalsPerWindow]float64 `json:"slopes"`
	MovingAverages [SubIntervalsPerWindow]float64 `json:"moving_averages"`
}

func (w StatsWindow) IsValid() bool {
	return w.DataBasis > w.Resolution.ValidityThreshold()
}

// SymbolSnapshot is everything the decision pass reads for one symbol,
// copied under a single lock.
type SymbolSnapshot struct {
	Symbol           string         `json:"symbol"`
	Price            CurrentPrice   `json:"price"`
	Windows          [5]StatsWindow `json:"windows"`
	CrossingMA10m30m CrossingEvent  `json:"crossing_ma10m_ma30m"`
	CrossingMA1h3h   CrossingEvent  `json:"crossing_ma1h_ma3h"`
	Falling          FallingPrice   `json:"falling"`
}

// Newest returns the latest sample time across all windows.
func (s SymbolSnapshot) Newest() time.Time {
	var t time.Time
	for _, w := range s.Windows {
		if w.Newest.After(t) {
			t = w.Newest
		}
	}
	return t
}

// AllValid reports whether every window passes its completeness threshold.
func (s SymbolSnapshot) AllValid() bool {
	for _, w := range s.Windows {
		if !w.IsValid() {
			return false
		}
	}
	return true
}

type Stats3s struct {
	Symbol           string    `json:"symbol"`
	DataBasis        int       `json:"data_basis"`
	Newest           time.Time `json:"newest"`
	Slope5s          float64   `json:"slope_5s"`
	Slope10s         float64   `json:"slope_10s"`
	Slope15s         float64   `json:"slope_15s"`
	Slope30s         float64   `json:"slope_30s"`
	MovingAverage5s  float64   `json:"movav_5s"`
	MovingAverage10s float64   `json:"movav_10s"`
	MovingAverage15s float64   `json:"movav_15s"`
	MovingAverage30s float64   `json:"movav_30s"`
}

func (s Stats3s) IsValid() bool { return s.DataBasis > Res3s.ValidityThreshold() }

type Stats15s struct {
	Symbol           string    `json:"symbol"`
	DataBasis        int       `json:"data_basis"`
	Newest           time.Time `json:"newest"`
	Slope45s         float64   `json:"slope_45s"`
	Slope1m          float64   `json:"slope_1m"`
	Slope2m          float64   `json:"slope_2m"`
	Slope3m          float64   `json:"slope_3m"`
	MovingAverage45s float64   `json:"movav_45s"`
	MovingAverage1m  float64   `json:"movav_1m"`
	MovingAverage2m  float64   `json:"movav_2m"`
	MovingAverage3m  float64   `json:"movav_3m"`
}

func (s Stats15s) IsValid() bool { return s.DataBasis > Res15s.ValidityThreshold() }

type Stats2m struct {
	Symbol           string    `json:"symbol"`
	DataBasis        int       `json:"data_basis"`
	Newest           time.Time `json:"newest"`
	Slope5m          float64   `json:"slope_5m"`
	Slope7m          float64   `json:"slope_7m"`
	Slope10m         float64   `json:"slope_10m"`
	Slope15m         float64   `json:"slope_15m"`
	MovingAverage5m  float64   `json:"movav_5m"`
	MovingAverage7m  float64   `json:"movav_7m"`
	MovingAverage10m float64   `json:"movav_10m"`
	MovingAverage15m float64   `json:"movav_15m"`
}

func (s Stats2m) IsValid() bool { return s.DataBasis > Res2m.ValidityThreshold() }

type Stats10m struct {
	Symbol           string    `json:"symbol"`
	DataBasis        int       `json:"data_basis"`
	Newest           time.Time `json:"newest"`
	Slope30m         float64   `json:"slope_30m"`
	Slope1h          float64   `json:"slope_1h"`
	Slope2h          float64   `json:"slope_2h"`
	Slope3h          float64   `json:"slope_3h"`
	MovingAverage30m float64   `json:"movav_30m"`
	MovingAverage1h  float64   `json:"movav_1h"`
	MovingAverage2h  float64   `json:"movav_2h"`
	MovingAverage3h  float64   `json:"movav_3h"`
}

func (s Stats10m) IsValid() bool { return s.DataBasis > Res10m.ValidityThreshold() }

type Stats2h struct {
	Symbol           string    `json:"symbol"`
	DataBasis        int       `json:"data_basis"`
	Newest           time.Time `json:"newest"`
	Slope6h          float64   `json:"slope_6h"`
	Slope12h         float64   `json:"slope_12h"`
	Slope18h         float64   `json:"slope_18h"`
	Slope1d          float64   `json:"slope_1d"`
	MovingAverage6h  float64   `json:"movav_6h"`
	MovingAverage12h float64   `json:"movav_12h"`
	MovingAverage18h float64   `json:"movav_18h"`
	MovingAverage1d  float64   `json:"movav_1d"`
}

func (s Stats2h) IsValid() bool { return s.DataBasis > Res2h.ValidityThreshold() }

func (w StatsWindow) Stats3s() Stats3s {
	return Stats3s{
		Symbol: w.Symbol, DataBasis: w.DataBasis, Newest: w.Newest,
		Slope5s: w.Slopes[0], Slope10s: w.Slopes[1], Slope15s: w.Slopes[2], Slope30s: w.Slopes[3],
		MovingAverage5s: w.MovingAverages[0], MovingAverage10s: w.MovingAverages[1],
		MovingAverage15s: w.MovingAverages[2], MovingAverage30s: w.MovingAverages[3],
	}
}

func (w StatsWindow) Stats15s() Stats15s {
	return Stats15s{
		Symbol: w.Symbol, DataBasis: w.DataBasis, Newest: w.Newest,
		Slope45s: w.Slopes[0], Slope1m: w.Slopes[1], Slope2m: w.Slopes[2], Slope3m: w.Slopes[3],
		MovingAverage45s: w.MovingAverages[0], MovingAverage1m: w.MovingAverages[1],
		MovingAverage2m: w.MovingAverages[2], MovingAverage3m: w.MovingAverages[3],
	}
}

func (w StatsWindow) Stats2m() Stats2m {
	return Stats2m{
		Symbol: w.Symbol, DataBasis: w.DataBasis, Newest: w.Newest,
		Slope5m: w.Slopes[0], Slope7m: w.Slopes[1], Slope10m: w.Slopes[2], Slope15m: w.Slopes[3],
		MovingAverage5m: w.MovingAverages[0], MovingAverage7m: w.MovingAverages[1],
		MovingAverage10m: w.MovingAverages[2], MovingAverage15m: w.MovingAverages[3],
	}
}

func (w StatsWindow) Stats10m() Stats10m {
	return Stats10m{
		Symbol: w.Symbol, DataBasis: w.DataBasis, Newest: w.Newest,
		Slope30m: w.Slopes[0], Slope1h: w.Slopes[1], Slope2h: w.Slopes[2], Slope3h: w.Slopes[3],
		MovingAverage30m: w.MovingAverages[0], MovingAverage1h: w.MovingAverages[1],
		MovingAverage2h: w.MovingAverages[2], MovingAverage3h: w.MovingAverages[3],
	}
}

func (w StatsWindow) Stats2h() Stats2h {
	return Stats2h{
		Symbol: w.Symbol, DataBasis: w.DataBasis, Newest: w.Newest,
		Slope6h: w.Slopes[0], Slope12h: w.Slopes[1], Slope18h: w.Slopes[2], Slope1d: w.Slopes[3],
		MovingAverage6h: w.MovingAverages[0], MovingAverage12h: w.MovingAverages[1],
		MovingAverage18h: w.MovingAverages[2], MovingAverage1d: w.MovingAverages[3],
	}
}
