package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Trape/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "secret"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "key", APISecret: testSecret, OrderRate: 100}, nil)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func validSignature(r *http.Request) bool {
	q := r.URL.RawQuery
	i := strings.LastIndex(q, "&signature=")
	if i < 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(q[:i]))
	return hex.EncodeToString(mac.Sum(nil)) == q[i+len("&signature="):]
}

func TestPlaceOrder(t *testing.T) {
	req := models.OrderRequest{
		ClientOrderID: "abc", Symbol: "BTCUSDT", Side: models.OrderSideBuy, Type: models.OrderTypeMarket,
		Quantity: decimal.RequireFromString("0.5"),
	}
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
		check   func(t *testing.T, resp *models.OrderResponse)
	}{
		{
			name:   "filled",
			status: http.StatusOK,
			body: `{"symbol":"BTCUSDT","orderId":42,"orderListId":-1,"clientOrderId":"abc","transactTime":1700000000000,
				"price":"0.00000000","origQty":"0.50000000","executedQty":"0.50000000","cummulativeQuoteQty":"50.05000000",
				"status":"FILLED","timeInForce":"GTC","type":"MARKET","side":"BUY"}`,
			check: func(t *testing.T, resp *models.OrderResponse) {
				require.True(t, resp.Success)
				require.NotNil(t, resp.Data)
				assert.Equal(t, int64(42), resp.Data.OrderID)
				assert.Equal(t, models.OrderStatusFilled, resp.Data.Status)
				assert.Equal(t, "50.05", resp.Data.CumulativeQuoteQuantity.String())
				assert.Equal(t, "100.1", resp.Data.AveragePrice().String())
				assert.Equal(t, time.UnixMilli(1700000000000).UTC(), resp.Data.TransactionTime)
			},
		},
		{
			name:   "rejected",
			status: http.StatusBadRequest,
			body:   `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`,
			check: func(t *testing.T, resp *models.OrderResponse) {
				assert.False(t, resp.Success)
				assert.Equal(t, http.StatusBadRequest, resp.HTTPStatus)
				require.NotNil(t, resp.Error)
				assert.Equal(t, -2010, resp.Error.Code)
				assert.Contains(t, resp.Error.Payload, "insufficient balance")
			},
		},
		{
			name:    "server error",
			status:  http.StatusServiceUnavailable,
			body:    `busy`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/v3/order", r.URL.Path)
				assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
				assert.True(t, validSignature(r))
				q := r.URL.Query()
				assert.Equal(t, "abc", q.Get("newClientOrderId"))
				assert.Equal(t, "0.5", q.Get("quantity"))
				assert.Empty(t, q.Get("price"))
				assert.Equal(t, "1700000000000", q.Get("timestamp"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			resp, err := c.PlaceOrder(context.Background(), req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, resp)
		})
	}
}

func TestLimitOrderParams(t *testing.T) {
	params := orderParams(models.OrderRequest{
		ClientOrderID: "x", Symbol: "ETHUSDT", Side: models.OrderSideSell, Type: models.OrderTypeLimit,
		Quantity: decimal.RequireFromString("1.25"), Price: decimal.RequireFromString("2000.5"), TimeInForce: models.TimeInForceGTC,
	})
	assert.Equal(t, "2000.5", params.Get("price"))
	assert.Equal(t, "GTC", params.Get("timeInForce"))
	assert.Equal(t, "SELL", params.Get("side"))
}

func TestQueryOrderNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "missing", r.URL.Query().Get("origClientOrderId"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	})
	_, err := c.QueryOrder(context.Background(), "BTCUSDT", "missing")
	assert.True(t, errors.Is(err, models.ErrOrderNotFound))
}

func TestBalancesSkipsEmptyAssets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.True(t, validSignature(r))
		_, _ = w.Write([]byte(`{"balances":[
			{"asset":"BTC","free":"0.50000000","locked":"0.00000000"},
			{"asset":"LTC","free":"0.00000000","locked":"0.00000000"},
			{"asset":"USDT","free":"10.00000000","locked":"5.00000000"}]}`))
	})
	got, err := c.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BTC", got[0].Asset)
	assert.Equal(t, "0.5", got[0].Free.String())
	assert.Equal(t, "5", got[1].Locked.String())
}

func TestSymbolInfoFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `["BTCUSDT"]`, r.URL.Query().Get("symbols"))
		assert.Empty(t, r.URL.Query().Get("signature"))
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","filters":[
			{"filterType":"PRICE_FILTER","tickSize":"0.01000000"},
			{"filterType":"LOT_SIZE","stepSize":"0.00001000","minQty":"0.00001000"},
			{"filterType":"NOTIONAL","minNotional":"5.00000000"}]}]}`))
	})
	got, err := c.SymbolInfo(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	info := got[0]
	assert.Equal(t, "BTC", info.BaseAsset)
	assert.Equal(t, "0.01", info.TickSize.String())
	assert.Equal(t, "0.00001", info.StepSize.String())
	assert.Equal(t, "0.00001", info.MinQty.String())
	assert.Equal(t, "5", info.MinNotional.String())
}

func TestTradeFees(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sapi/v1/asset/tradeFee", r.URL.Path)
		assert.True(t, validSignature(r))
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","makerCommission":"0.001","takerCommission":"0.001"},
			{"symbol":"ETHUSDT","makerCommission":"0.00075","takerCommission":"0.001"}]`))
	})
	tests := []struct {
		name    string
		symbols []string
		want    []string
	}{
		{name: "all", want: []string{"BTCUSDT", "ETHUSDT"}},
		{name: "filtered", symbols: []string{"ETHUSDT"}, want: []string{"ETHUSDT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fees, err := c.TradeFees(context.Background(), tt.symbols)
			require.NoError(t, err)
			var got []string
			for _, f := range fees {
				got = append(got, f.Symbol)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnexpectedStatusWithoutCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	_, err := c.Balances(context.Background())
	require.Error(t, err)
	var ee *models.ExchangeError
	assert.False(t, errors.As(err, &ee))
}
