package stats

import (
	"time"

	"Trape/internal/domain/models"
)

// MaxFallingHorizon is the longest lookback the 3s window can serve.
const MaxFallingHorizon = 30 * time.Second

// FallingDetector flags a drop of at least minDrop from the highest bucket
// within horizon to the current price.
type FallingDetector struct {
	horizon time.Duration
	minDrop float64
	last    models.FallingPrice
}

func NewFallingDetector(horizon time.Duration, minDrop float64) *FallingDetector {
	if horizon <= 0 || horizon > MaxFallingHorizon {
		horizon = MaxFallingHorizon
	}
	return &FallingDetector{horizon: horizon, minDrop: minDrop}
}

// Observe evaluates w, which must be the 3s window of symbol.
func (f *FallingDetector) Observe(symbol string, w *Window) (models.FallingPrice, bool) {
	cur, ok := w.Latest()
	if !ok || f.minDrop <= 0 {
		return models.FallingPrice{}, false
	}
	hi := w.MaxSince(f.horizon)
	if hi <= 0 || (hi-cur)/hi < f.minDrop {
		return models.FallingPrice{}, false
	}
	f.last = models.FallingPrice{
		Symbol:     symbol,
		DetectedAt: w.Newest(),
		FromPrice:  hi,
		ToPrice:    cur,
	}
	return f.last, true
}

func (f *FallingDetector) Last() models.FallingPrice { return f.last }
