package usecase

import (
	"testing"
	"time"

	"Trape/internal/domain/models"
	"Trape/internal/services/stats"
	applogger "Trape/pkg/logger"
	"Trape/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		Weights: map[models.Resolution]float64{
			models.Res3s: 0.05, models.Res15s: 0.1, models.Res2m: 0.2, models.Res10m: 0.3, models.Res2h: 0.35,
		},
		BuyThreshold:     0.5,
		SellThreshold:    0.5,
		CrossingWeight:   0.25,
		CrossingLookback: 10 * time.Minute,
		FallingLookback:  30 * time.Second,
	}
}

func snapshotWith(slope float64) models.SymbolSnapshot {
	return models.SymbolSnapshot{
		Symbol:  "BTCUSDT",
		Price:   models.CurrentPrice{Symbol: "BTCUSDT", Ask: 100.1, Bid: 99.9},
		Windows: validWindows("BTCUSDT", bufT0, 100, slope),
	}
}

func TestParseWeights(t *testing.T) {
	w, err := ParseWeights(map[string]float64{"3s": 0.1, "2h": 0.9})
	require.NoError(t, err)
	assert.Equal(t, 0.9, w[models.Res2h])

	_, err = ParseWeights(map[string]float64{"4h": 0.1})
	assert.Error(t, err)
}

func TestWindowScore(t *testing.T) {
	w := models.StatsWindow{Resolution: models.Res3s}
	for i := range w.Slopes {
		w.Slopes[i] = 0.1
		w.MovingAverages[i] = 100
	}
	// 0.1/s over 5s, 10s, 15s and 30s on a price of 100.
	assert.InDelta(t, (0.5+1+1.5+3)/4, WindowScore(w), 1e-9)
	assert.Equal(t, 0.0, WindowScore(models.StatsWindow{Resolution: models.Res3s}))
}

func TestPolicyDecide(t *testing.T) {
	p := testPolicy()
	tests := []struct {
		name   string
		snap   func() models.SymbolSnapshot
		action models.Action
		check  func(t *testing.T, indicator float64)
	}{
		{
			name: "incomplete window",
			snap: func() models.SymbolSnapshot {
				s := snapshotWith(0.001)
				s.Windows[4].DataBasis = 10
				return s
			},
			action: models.ActionWait,
			check:  func(t *testing.T, ind float64) { assert.Equal(t, 0.0, ind) },
		},
		{
			name:   "rising",
			snap:   func() models.SymbolSnapshot { return snapshotWith(0.001) },
			action: models.ActionBuy,
			check:  func(t *testing.T, ind float64) { assert.Greater(t, ind, 0.5) },
		},
		{
			name:   "declining",
			snap:   func() models.SymbolSnapshot { return snapshotWith(-0.001) },
			action: models.ActionSell,
			check:  func(t *testing.T, ind float64) { assert.Less(t, ind, -0.5) },
		},
		{
			name:   "flat",
			snap:   func() models.SymbolSnapshot { return snapshotWith(0) },
			action: models.ActionWait,
			check:  func(t *testing.T, ind float64) { assert.Equal(t, 0.0, ind) },
		},
		{
			name: "rising with recent bearish crossing",
			snap: func() models.SymbolSnapshot {
				s := snapshotWith(0.001)
				s.CrossingMA10m30m = models.CrossingEvent{Symbol: "BTCUSDT", Pair: models.PairMA10mMA30m, EventTime: bufT0.Add(-time.Minute)}
				return s
			},
			action: models.ActionWait,
			check:  func(t *testing.T, ind float64) { assert.Greater(t, ind, 0.5) },
		},
		{
			name: "flat with recent bullish crossing",
			snap: func() models.SymbolSnapshot {
				s := snapshotWith(0)
				s.CrossingMA1h3h = models.CrossingEvent{Symbol: "BTCUSDT", Pair: models.PairMA1hMA3h, EventTime: bufT0, Above: true}
				return s
			},
			action: models.ActionWait,
			check:  func(t *testing.T, ind float64) { assert.InDelta(t, 0.25, ind, 1e-12) },
		},
		{
			name: "stale crossing ignored",
			snap: func() models.SymbolSnapshot {
				s := snapshotWith(0)
				s.CrossingMA1h3h = models.CrossingEvent{Symbol: "BTCUSDT", EventTime: bufT0.Add(-time.Hour), Above: true}
				return s
			},
			action: models.ActionWait,
			check:  func(t *testing.T, ind float64) { assert.Equal(t, 0.0, ind) },
		},
		{
			name: "recent falling price overrides rising trend",
			snap: func() models.SymbolSnapshot {
				s := snapshotWith(0.001)
				s.Falling = models.FallingPrice{Symbol: "BTCUSDT", DetectedAt: bufT0.Add(-5 * time.Second), FromPrice: 101, ToPrice: 100}
				return s
			},
			action: models.ActionSell,
			check:  func(t *testing.T, ind float64) { assert.Less(t, ind, -0.5) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, ind := p.Decide(tt.snap())
			assert.Equal(t, tt.action, action)
			tt.check(t, ind)
		})
	}
}

func TestPolicyRecommendPricesBySide(t *testing.T) {
	p := testPolicy()
	buy := p.Recommend(snapshotWith(0.001), bufT0)
	assert.Equal(t, models.ActionBuy, buy.Action)
	assert.Equal(t, 100.1, buy.Price)
	assert.Equal(t, bufT0, buy.CreatedAt)

	sell := p.Recommend(snapshotWith(-0.001), bufT0)
	assert.Equal(t, 99.9, sell.Price)
}

// Three one-second ticks can never fill the windows, so the pass waits.
func TestThreeTicksYieldWait(t *testing.T) {
	b, err := NewBuffer(BufferConfig{
		Symbols:    []string{"BTCUSDT"},
		SampleSide: "ask",
		Stats:      stats.Config{Epsilon: 1e-9, TieBreak: stats.TieHold, FallingHorizon: 15 * time.Second, FallingMinDrop: 0.003},
	}, newFakeStream(), nil, nil, metrics.Nop{}, applogger.Nop())
	require.NoError(t, err)
	for i, price := range []float64{100.00, 100.50, 101.00} {
		b.Apply(&models.Tick{Symbol: "BTCUSDT", Price: price, Side: models.SideAsk, Timestamp: bufT0.Add(time.Duration(i) * time.Second)})
	}

	snap, ok := b.Snapshot("BTCUSDT")
	require.True(t, ok)
	rec := testPolicy().Recommend(snap, bufT0)
	assert.Equal(t, models.ActionWait, rec.Action)
	assert.Equal(t, 0.0, rec.Indicator)
	assert.Equal(t, "Wait-0.0000", rec.DecisionLabel())
}
