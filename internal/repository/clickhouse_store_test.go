package repository

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"Trape/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommendationColumns(t *testing.T) {
	cols := recommendationColumns()
	require.Len(t, cols, 44)
	assert.Equal(t, []string{"symbol", "decision", "price", "created_at"}, cols[:4])
	assert.Equal(t, "slope_5s", cols[4])
	assert.Equal(t, "movav_30s", cols[11])
	assert.Equal(t, "movav_1d", cols[43])

	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		assert.False(t, seen[c], "duplicate column %s", c)
		seen[c] = true
	}
}

func TestRecommendationArgs(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var snap models.SymbolSnapshot
	for i := range snap.Windows {
		snap.Windows[i].Slopes[0] = float64(i + 1)
		snap.Windows[i].MovingAverages[3] = float64(100 + i)
	}
	rec := models.Recommendation{Symbol: "BTCUSDT", Action: models.ActionWait, Indicator: 0, Price: 99.9, CreatedAt: at}

	args := recommendationArgs(rec, snap)
	require.Len(t, args, len(recommendationColumns()))
	assert.Equal(t, "Wait-0.0000", args[1])
	assert.Equal(t, 99.9, args[2])
	assert.Equal(t, at, args[3])
	assert.Equal(t, 1.0, args[4])
	assert.Equal(t, 100.0, args[11])
	assert.Equal(t, 5.0, args[4+4*8])
	assert.Equal(t, 104.0, args[43])
}

func TestTrendScanSkipsNullColumns(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	complete := func() trendScan {
		s := trendScan{
			Symbol:     sql.NullString{String: "ETHUSDT", Valid: true},
			DataBasis:  sql.NullInt64{Int64: 30, Valid: true},
			Newest:     sql.NullTime{Time: at, Valid: true},
			RecordedAt: sql.NullTime{Time: at.Add(time.Second), Valid: true},
		}
		for i := range s.Slopes {
			s.Slopes[i] = sql.NullFloat64{Float64: 0.01 * float64(i), Valid: true}
			s.Averages[i] = sql.NullFloat64{Float64: 2000, Valid: true}
		}
		return s
	}

	tests := []struct {
		name   string
		mutate func(*trendScan)
		wantOK bool
	}{
		{name: "complete row", mutate: func(*trendScan) {}, wantOK: true},
		{name: "null symbol", mutate: func(s *trendScan) { s.Symbol.Valid = false }},
		{name: "null data basis", mutate: func(s *trendScan) { s.DataBasis.Valid = false }},
		{name: "null slope", mutate: func(s *trendScan) { s.Slopes[2].Valid = false }},
		{name: "null moving average", mutate: func(s *trendScan) { s.Averages[3].Valid = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := complete()
			tt.mutate(&s)
			row, ok := s.row(models.Res3s)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, "ETHUSDT", row.Window.Symbol)
				assert.Equal(t, models.Res3s, row.Window.Resolution)
				assert.Equal(t, 30, row.Window.DataBasis)
				assert.Equal(t, 0.02, row.Window.Slopes[2])
				assert.Equal(t, at.Add(time.Second), row.RecordedAt)
			}
		})
	}
}

func TestSchemaStatements(t *testing.T) {
	stmts := SchemaStatements("trape")
	require.Len(t, stmts, 8)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS trape", stmts[0])
	assert.Contains(t, stmts[1], "trape.recommendations")
	assert.Contains(t, stmts[2], "trape.stats_3s")
	assert.Contains(t, stmts[2], "slope_30s Nullable(Float64)")
	assert.Contains(t, stmts[7], "trape.current_prices")
	for _, s := range stmts {
		assert.True(t, strings.Contains(s, "IF NOT EXISTS"))
	}

	_, err := statsTable("5m")
	assert.Error(t, err)
}
