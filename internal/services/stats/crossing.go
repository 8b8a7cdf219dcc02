package stats

import (
	"fmt"
	"math"
	"time"

	"Trape/internal/domain/models"
)

// TieBreak decides the relation of two averages closer than epsilon.
type TieBreak string

const (
	TieHold  TieBreak = "hold"
	TieBelow TieBreak = "below"
	TieAbove TieBreak = "above"
)

func ParseTieBreak(s string) (TieBreak, error) {
	switch tb := TieBreak(s); tb {
	case TieHold, TieBelow, TieAbove:
		return tb, nil
	case "":
		return TieHold, nil
	default:
		return "", fmt.Errorf("unknown tie break %q", s)
	}
}

// CrossingTracker emits an event exactly when the sign of (short - long)
// changes between consecutive observations. The first decided sign only seeds
// the tracker.
type CrossingTracker struct {
	pair    models.CrossingPair
	epsilon float64
	tie     TieBreak
	sign    int
	last    models.CrossingEvent
}

func NewCrossingTracker(pair models.CrossingPair, epsilon float64, tie TieBreak) *CrossingTracker {
	if tie == "" {
		tie = TieHold
	}
	return &CrossingTracker{pair: pair, epsilon: math.Abs(epsilon), tie: tie}
}

// Observe feeds one pair of moving averages. Zero averages mean no data and
// are ignored.
func (c *CrossingTracker) Observe(symbol string, at time.Time, maShort, maLong, slopeShort, slopeLong float64) (models.CrossingEvent, bool) {
	if maShort == 0 || maLong == 0 {
		return models.CrossingEvent{}, false
	}
	s := c.relation(maShort - maLong)
	if s == 0 {
		return models.CrossingEvent{}, false
	}
	if c.sign == 0 {
		c.sign = s
		return models.CrossingEvent{}, false
	}
	if s == c.sign {
		return models.CrossingEvent{}, false
	}
	c.sign = s
	c.last = models.CrossingEvent{
		Symbol:     symbol,
		Pair:       c.pair,
		EventTime:  at,
		SlopeShort: slopeShort,
		SlopeLong:  slopeLong,
		Above:      s > 0,
	}
	return c.last, true
}

func (c *CrossingTracker) relation(d float64) int {
	if math.Abs(d) <= c.epsilon {
		switch c.tie {
		case TieAbove:
			return 1
		case TieBelow:
			return -1
		default:
			return c.sign
		}
	}
	if d > 0 {
		return 1
	}
	return -1
}

// Last returns the latest crossing, or the zero sentinel.
func (c *CrossingTracker) Last() models.CrossingEvent { return c.last }
