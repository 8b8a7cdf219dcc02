package stats

import (
	"time"

	"Trape/internal/domain/models"
)

type Config struct {
	Epsilon        float64
	TieBreak       TieBreak
	FallingHorizon time.Duration
	FallingMinDrop float64
}

// Series holds every window and derived detector of one symbol.
type Series struct {
	symbol      string
	windows     [len(models.Resolutions)]*Window
	stats       [len(models.Resolutions)]models.StatsWindow
	cross10m30m *CrossingTracker
	cross1h3h   *CrossingTracker
	falling     *FallingDetector
}

func NewSeries(symbol string, cfg Config) *Series {
	s := &Series{
		symbol:      symbol,
		cross10m30m: NewCrossingTracker(models.PairMA10mMA30m, cfg.Epsilon, cfg.TieBreak),
		cross1h3h:   NewCrossingTracker(models.PairMA1hMA3h, cfg.Epsilon, cfg.TieBreak),
		falling:     NewFallingDetector(cfg.FallingHorizon, cfg.FallingMinDrop),
	}
	for i, res := range models.Resolutions {
		s.windows[i] = NewWindow(res)
		s.stats[i] = models.StatsWindow{Symbol: symbol, Resolution: res}
	}
	return s
}

// Add applies one sample to every window, then refreshes the statistics and
// detectors. It returns false when the sample is older than the newest bucket.
func (s *Series) Add(ts time.Time, price float64) bool {
	for _, w := range s.windows {
		if !w.Add(ts, price) {
			return false
		}
	}
	for i, w := range s.windows {
		s.stats[i] = w.Stats(s.symbol)
	}
	at := s.windows[0].Newest()

	w2m, w10m := s.stats[models.Res2m.Index()], s.stats[models.Res10m.Index()]
	// MA10m is the 10m sub-interval of the 2m window; MA30m, MA1h and MA3h
	// come from the 10m window.
	s.cross10m30m.Observe(s.symbol, at, w2m.MovingAverages[2], w10m.MovingAverages[0], w2m.Slopes[2], w10m.Slopes[0])
	s.cross1h3h.Observe(s.symbol, at, w10m.MovingAverages[1], w10m.MovingAverages[3], w10m.Slopes[1], w10m.Slopes[3])
	s.falling.Observe(s.symbol, s.windows[models.Res3s.Index()])
	return true
}

func (s *Series) Stats() [len(models.Resolutions)]models.StatsWindow { return s.stats }

func (s *Series) Window(res models.Resolution) models.StatsWindow {
	return s.stats[res.Index()]
}

func (s *Series) CrossingMA10mMA30m() models.CrossingEvent { return s.cross10m30m.Last() }

func (s *Series) CrossingMA1hMA3h() models.CrossingEvent { return s.cross1h3h.Last() }

func (s *Series) Falling() models.FallingPrice { return s.falling.Last() }

func (s *Series) Empty() bool { return s.windows[0].DataBasis() == 0 }
