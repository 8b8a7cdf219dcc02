package usecase

import (
	"context"
	"errors"
	"testing"

	"Trape/internal/domain/models"
	applogger "Trape/pkg/logger"
	"Trape/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeWatchdogGetFee(t *testing.T) {
	fetched := models.Fee{Symbol: "BTCUSDT", Maker: decimal.RequireFromString("0.00075"), Taker: decimal.RequireFromString("0.00075")}
	tests := []struct {
		name      string
		client    *fakeFeeClient
		symbol    string
		wantTaker string
		wantFault bool
	}{
		{name: "fetched schedule", client: &fakeFeeClient{fees: []models.Fee{fetched}}, symbol: "BTCUSDT", wantTaker: "0.00075"},
		{name: "unknown symbol uses defaults", client: &fakeFeeClient{fees: []models.Fee{fetched}}, symbol: "ETHUSDT", wantTaker: "0.001"},
		{name: "fetch failure uses defaults", client: &fakeFeeClient{err: errors.New("timeout")}, symbol: "BTCUSDT", wantTaker: "0.001", wantFault: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f, err := NewFeeWatchdog(FeeWatchdogConfig{
				Symbols:      []string{"BTCUSDT", "ETHUSDT"},
				DefaultMaker: decimal.RequireFromString("0.001"),
				DefaultTaker: decimal.RequireFromString("0.001"),
			}, tt.client, metrics.Nop{}, applogger.Nop())
			require.NoError(t, err)

			require.NoError(t, f.Start(ctx))
			defer func() { require.NoError(t, f.Finish(ctx)) }()

			fee := f.GetFee(tt.symbol)
			assert.Equal(t, tt.symbol, fee.Symbol)
			assert.Equal(t, tt.wantTaker, fee.Taker.String())
			assert.Equal(t, tt.wantFault, f.IsFaulty())
		})
	}
}
