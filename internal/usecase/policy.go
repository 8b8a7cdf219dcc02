package usecase

import (
	"fmt"
	"math"
	"time"

	"Trape/internal/domain/models"
)

// Policy holds the tunable decision parameters. All of it comes from config.
type Policy struct {
	Weights          map[models.Resolution]float64
	BuyThreshold     float64
	SellThreshold    float64
	CrossingWeight   float64
	CrossingLookback time.Duration
	FallingLookback  time.Duration
}

// ParseWeights converts config keys ("3s", "2h", ...) into resolutions.
func ParseWeights(in map[string]float64) (map[models.Resolution]float64, error) {
	out := make(map[models.Resolution]float64, len(in))
	for k, w := range in {
		res := models.Resolution(k)
		if res.Index() < 0 {
			return nil, fmt.Errorf("unknown resolution %q in weights", k)
		}
		out[res] = w
	}
	return out, nil
}

// WindowScore is the mean percent change implied by each sub-interval slope.
func WindowScore(w models.StatsWindow) float64 {
	subs := w.Resolution.SubIntervals()
	var sum float64
	n := 0
	for i, sub := range subs {
		ma := w.MovingAverages[i]
		if ma == 0 {
			continue
		}
		sum += w.Slopes[i] * sub.Length.Seconds() / ma * 100
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func recent(at, newest time.Time, lookback time.Duration) bool {
	return !at.IsZero() && !newest.Before(at) && newest.Sub(at) <= lookback
}

// Decide maps a snapshot to an action and indicator. An incomplete window
// always yields Wait with a zero indicator.
func (p Policy) Decide(snap models.SymbolSnapshot) (models.Action, float64) {
	if !snap.AllValid() {
		return models.ActionWait, 0
	}

	var indicator float64
	for _, w := range snap.Windows {
		indicator += p.Weights[w.Resolution] * WindowScore(w)
	}

	newest := snap.Newest()
	bearish := false
	for _, c := range []models.CrossingEvent{snap.CrossingMA10m30m, snap.CrossingMA1h3h} {
		if !recent(c.EventTime, newest, p.CrossingLookback) {
			continue
		}
		if c.Above {
			indicator += p.CrossingWeight
		} else {
			indicator -= p.CrossingWeight
			bearish = true
		}
	}

	switch {
	case recent(snap.Falling.DetectedAt, newest, p.FallingLookback):
		return models.ActionSell, -math.Abs(indicator)
	case indicator > p.BuyThreshold && !bearish:
		return models.ActionBuy, indicator
	case indicator < -p.SellThreshold:
		return models.ActionSell, indicator
	default:
		return models.ActionWait, indicator
	}
}

// Recommend builds the recommendation for snap. Buys are priced at the ask,
// everything else at the bid.
func (p Policy) Recommend(snap models.SymbolSnapshot, now time.Time) models.Recommendation {
	action, indicator := p.Decide(snap)
	price := snap.Price.Bid
	if action == models.ActionBuy || price == 0 {
		price = snap.Price.Ask
	}
	return models.Recommendation{
		Symbol:    snap.Symbol,
		Action:    action,
		Indicator: indicator,
		Price:     price,
		CreatedAt: now,
	}
}
