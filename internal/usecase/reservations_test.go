package usecase

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"Trape/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationTable(t *testing.T) {
	tbl := NewReservationTable()
	require.NoError(t, tbl.Reserve(models.OpenOrder{OrderID: "a", Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: decimal.RequireFromString("0.5")}))
	require.NoError(t, tbl.Reserve(models.OpenOrder{OrderID: "b", Symbol: "BTCUSDT", Side: models.OrderSideSell, Quantity: decimal.RequireFromString("0.2")}))
	require.NoError(t, tbl.Reserve(models.OpenOrder{OrderID: "c", Symbol: "ETHUSDT", Side: models.OrderSideSell, Quantity: decimal.RequireFromString("1")}))

	err := tbl.Reserve(models.OpenOrder{OrderID: "a", Symbol: "BTCUSDT"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDuplicateOrder))

	assert.Len(t, tbl.ForSymbol("BTCUSDT"), 2)
	assert.Equal(t, "0.2", tbl.ReservedQuantity("BTCUSDT", models.OrderSideSell).String())
	assert.True(t, tbl.ReservedQuantity("SOLUSDT", models.OrderSideSell).IsZero())

	assert.True(t, tbl.Release("a"))
	assert.False(t, tbl.Release("a"))
	assert.Equal(t, 1, tbl.ReleaseSymbol("BTCUSDT"))
	assert.Equal(t, 1, tbl.Len())
}

func TestReservationTableConcurrentReserve(t *testing.T) {
	tbl := NewReservationTable()
	var wg sync.WaitGroup
	var mu sync.Mutex
	dups := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := tbl.Reserve(models.OpenOrder{OrderID: fmt.Sprintf("id-%d", i%100), Symbol: "BTCUSDT"})
			if err != nil {
				mu.Lock()
				dups++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, tbl.Len())
	assert.Equal(t, 100, dups)
}
