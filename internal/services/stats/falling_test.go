package stats

import (
	"testing"
	"time"

	"Trape/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallingDetector(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   bool
	}{
		{name: "drop above threshold", prices: []float64{100, 100, 99.5}, want: true},
		{name: "drop below threshold", prices: []float64{100, 100, 99.9}, want: false},
		{name: "rising", prices: []float64{100, 101, 102}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWindow(models.Res3s)
			f := NewFallingDetector(15*time.Second, 0.003)
			var ok bool
			for i, p := range tt.prices {
				w.Add(t0.Add(time.Duration(i)*time.Second), p)
				_, ok = f.Observe("BTCUSDT", w)
			}
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.want, f.Last().Observed())
		})
	}
}

func TestFallingDetectorRecordsPrices(t *testing.T) {
	w := NewWindow(models.Res3s)
	f := NewFallingDetector(0, 0.01)
	w.Add(t0, 200)
	w.Add(t0.Add(time.Second), 196)

	ev, ok := f.Observe("ETHUSDT", w)
	require.True(t, ok)
	assert.Equal(t, 200.0, ev.FromPrice)
	assert.Equal(t, 196.0, ev.ToPrice)
	assert.InDelta(t, 0.02, ev.Drop(), 1e-12)
	assert.Equal(t, t0.Add(time.Second), ev.DetectedAt)
}

func TestFallingDetectorClampsHorizon(t *testing.T) {
	f := NewFallingDetector(time.Hour, 0.01)
	assert.Equal(t, MaxFallingHorizon, f.horizon)
}
