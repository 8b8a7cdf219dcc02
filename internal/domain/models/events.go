package models

import "time"

type CrossingPair string

const (
	PairMA10mMA30m CrossingPair = "ma10m_ma30m"
	PairMA1hMA3h   CrossingPair = "ma1h_ma3h"
)

// CrossingEvent records the latest change of relative order between two
// moving averages. A zero EventTime means no crossing was observed yet.
type CrossingEvent struct {
	Symbol     string       `json:"symbol"`
	Pair       CrossingPair `json:"pair"`
	EventTime  time.Time    `json:"event_time"`
	SlopeShort float64      `json:"slope_short"`
	SlopeLong  float64      `json:"slope_long"`
	Above      bool         `json:"above"` // short average above long after the crossing
}

func (e CrossingEvent) Observed() bool { return !e.EventTime.IsZero() }

// FallingPrice is the latest short-horizon drop; zero DetectedAt means none yet.
type FallingPrice struct {
	Symbol     string    `json:"symbol"`
	DetectedAt time.Time `json:"detected_at"`
	FromPrice  float64   `json:"from_price"`
	ToPrice    float64   `json:"to_price"`
}

func (f FallingPrice) Observed() bool { return !f.DetectedAt.IsZero() }

// Drop returns the relative decline, 0 when not observed.
func (f FallingPrice) Drop() float64 {
	if !f.Observed() || f.FromPrice == 0 {
		return 0
	}
	return (f.FromPrice - f.ToPrice) / f.FromPrice
}
