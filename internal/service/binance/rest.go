package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	svcmetrics "Trape/internal/service/metrics"
	"Trape/internal/service/ratelimit"
	pkghttp "Trape/pkg/http"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// codeOrderNotFound is returned by the order query endpoint for unknown ids.
const codeOrderNotFound = -2013

type ClientConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow int
	// OrderRate is the sustained order requests per second.
	OrderRate int
	Timeout   time.Duration
}

// Client talks to the exchange REST API. Signed endpoints carry an HMAC-SHA256
// signature of the query string.
type Client struct {
	cfg     ClientConfig
	http    *pkghttp.Client
	limiter *ratelimit.Limiter
	now     func() time.Time
}

var (
	_ drepo.OrderClient        = (*Client)(nil)
	_ drepo.AccountClient      = (*Client)(nil)
	_ drepo.ExchangeInfoClient = (*Client)(nil)
	_ drepo.FeeClient          = (*Client)(nil)
)

func NewClient(cfg ClientConfig, limiter *ratelimit.Limiter) *Client {
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.OrderRate <= 0 {
		cfg.OrderRate = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	return &Client{
		cfg:     cfg,
		http:    pkghttp.NewClient(pkghttp.WithTimeout(cfg.Timeout), pkghttp.WithUserAgent("trape/binance")),
		limiter: limiter,
		now:     time.Now,
	}
}

func (c *Client) sign(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(c.cfg.RecvWindow))
	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(query))
	return query + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// call performs one request and returns the status and body. Only transport
// failures are errors here.
func (c *Client) call(ctx context.Context, method, endpoint string, params url.Values, signed bool) (int, []byte, error) {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		query = c.sign(params)
	}
	start := time.Now()
	status, body, err := c.http.SendRaw(ctx, &pkghttp.RequestOptions{
		Method:  method,
		URL:     strings.TrimSuffix(c.cfg.BaseURL, "/") + endpoint,
		Query:   query,
		Headers: map[string]string{"X-MBX-APIKEY": c.cfg.APIKey},
	})
	svcmetrics.ExchangeLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		svcmetrics.ExchangeErrors.WithLabelValues(endpoint, "transport").Inc()
		return 0, nil, err
	}
	switch {
	case status >= 500:
		svcmetrics.ExchangeErrors.WithLabelValues(endpoint, "server").Inc()
	case status >= 400:
		svcmetrics.ExchangeErrors.WithLabelValues(endpoint, "rejected").Inc()
	}
	return status, body, nil
}

// get performs a request whose non-2xx answers are errors and decodes the
// body into dest.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, signed bool, dest any) error {
	status, body, err := c.call(ctx, "GET", endpoint, params, signed)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return decodeAPIError(status, body)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err != nil || ae.Code == 0 {
		return fmt.Errorf("unexpected status %d: %s", status, body)
	}
	return &models.ExchangeError{Code: ae.Code, Message: ae.Message, Payload: string(body)}
}

type orderPayload struct {
	Symbol              string          `json:"symbol"`
	OrderID             int64           `json:"orderId"`
	OrderListID         int64           `json:"orderListId"`
	ClientOrderID       string          `json:"clientOrderId"`
	OrigClientOrderID   string          `json:"origClientOrderId"`
	TransactTime        int64           `json:"transactTime"`
	UpdateTime          int64           `json:"updateTime"`
	Price               decimal.Decimal `json:"price"`
	StopPrice           decimal.Decimal `json:"stopPrice"`
	OrigQty             decimal.Decimal `json:"origQty"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Status              string          `json:"status"`
	TimeInForce         string          `json:"timeInForce"`
	Type                string          `json:"type"`
	Side                string          `json:"side"`
}

func (p orderPayload) model() *models.PlacedOrder {
	ts := p.TransactTime
	if ts == 0 {
		ts = p.UpdateTime
	}
	var tt time.Time
	if ts > 0 {
		tt = time.UnixMilli(ts).UTC()
	}
	return &models.PlacedOrder{
		ClientOrderID:           p.ClientOrderID,
		OrderID:                 p.OrderID,
		OrderListID:             p.OrderListID,
		OriginalClientOrderID:   p.OrigClientOrderID,
		Symbol:                  p.Symbol,
		Side:                    models.OrderSide(p.Side),
		Type:                    models.OrderType(p.Type),
		TimeInForce:             models.TimeInForce(p.TimeInForce),
		Status:                  models.OrderStatus(p.Status),
		Price:                   p.Price,
		StopPrice:               p.StopPrice,
		OriginalQuantity:        p.OrigQty,
		ExecutedQuantity:        p.ExecutedQty,
		CumulativeQuoteQuantity: p.CummulativeQuoteQty,
		TransactionTime:         tt,
	}
}

func orderParams(req models.OrderRequest) url.Values {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())
	params.Set("newClientOrderId", req.ClientOrderID)
	params.Set("newOrderRespType", "FULL")
	if req.Type == models.OrderTypeLimit {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", string(req.TimeInForce))
	}
	return params
}

// PlaceOrder submits req. A 4xx answer is a business rejection returned in the
// response; 5xx and transport failures leave the outcome unknown and return
// an error.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error) {
	if err := c.limiter.Wait(ctx, "order", float64(c.cfg.OrderRate), float64(c.cfg.OrderRate)); err != nil {
		return nil, err
	}
	status, body, err := c.call(ctx, "POST", "/api/v3/order", orderParams(req), true)
	if err != nil {
		return nil, err
	}
	if status >= 500 {
		return nil, fmt.Errorf("exchange unavailable: status %d: %s", status, body)
	}
	if status >= 400 {
		var ae apiError
		_ = json.Unmarshal(body, &ae)
		return &models.OrderResponse{
			HTTPStatus: status,
			Error:      &models.ExchangeError{Code: ae.Code, Message: ae.Message, Payload: string(body)},
		}, nil
	}
	var p orderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &models.OrderResponse{Success: true, HTTPStatus: status, Data: p.model()}, nil
}

func (c *Client) QueryOrder(ctx context.Context, symbol, clientOrderID string) (*models.PlacedOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	var p orderPayload
	err := c.get(ctx, "/api/v3/order", params, true, &p)
	var ee *models.ExchangeError
	if errors.As(err, &ee) && ee.Code == codeOrderNotFound {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.model(), nil
}

type accountPayload struct {
	Balances []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

// Balances returns every asset with a non-zero free or locked amount.
func (c *Client) Balances(ctx context.Context) ([]models.Balance, error) {
	params := url.Values{}
	params.Set("omitZeroBalances", "true")
	var p accountPayload
	if err := c.get(ctx, "/api/v3/account", params, true, &p); err != nil {
		return nil, err
	}
	out := make([]models.Balance, 0, len(p.Balances))
	for _, b := range p.Balances {
		if b.Free.IsZero() && b.Locked.IsZero() {
			continue
		}
		out = append(out, models.Balance{Asset: b.Asset, Free: b.Free, Locked: b.Locked})
	}
	return out, nil
}

type symbolFilter struct {
	FilterType  string          `json:"filterType"`
	TickSize    decimal.Decimal `json:"tickSize"`
	StepSize    decimal.Decimal `json:"stepSize"`
	MinQty      decimal.Decimal `json:"minQty"`
	MinNotional decimal.Decimal `json:"minNotional"`
}

type exchangeInfoPayload struct {
	Symbols []struct {
		Symbol     string         `json:"symbol"`
		BaseAsset  string         `json:"baseAsset"`
		QuoteAsset string         `json:"quoteAsset"`
		Filters    []symbolFilter `json:"filters"`
	} `json:"symbols"`
}

func (p exchangeInfoPayload) infos() []models.SymbolInfo {
	out := make([]models.SymbolInfo, 0, len(p.Symbols))
	for _, s := range p.Symbols {
		info := models.SymbolInfo{Symbol: s.Symbol, BaseAsset: s.BaseAsset, QuoteAsset: s.QuoteAsset}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				info.TickSize = f.TickSize
			case "LOT_SIZE":
				info.StepSize = f.StepSize
				info.MinQty = f.MinQty
			case "NOTIONAL", "MIN_NOTIONAL":
				info.MinNotional = f.MinNotional
			}
		}
		out = append(out, info)
	}
	return out
}

func (c *Client) SymbolInfo(ctx context.Context, symbols []string) ([]models.SymbolInfo, error) {
	params := url.Values{}
	if len(symbols) > 0 {
		list, err := json.Marshal(symbols)
		if err != nil {
			return nil, err
		}
		params.Set("symbols", string(list))
	}
	var p exchangeInfoPayload
	if err := c.get(ctx, "/api/v3/exchangeInfo", params, false, &p); err != nil {
		return nil, err
	}
	return p.infos(), nil
}

type tradeFeePayload struct {
	Symbol          string          `json:"symbol"`
	MakerCommission decimal.Decimal `json:"makerCommission"`
	TakerCommission decimal.Decimal `json:"takerCommission"`
}

// TradeFees returns the commission rates of symbols; an empty list means all.
func (c *Client) TradeFees(ctx context.Context, symbols []string) ([]models.Fee, error) {
	var p []tradeFeePayload
	if err := c.get(ctx, "/sapi/v1/asset/tradeFee", nil, true, &p); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[s] = struct{}{}
	}
	out := make([]models.Fee, 0, len(p))
	for _, f := range p {
		if _, ok := want[f.Symbol]; len(want) > 0 && !ok {
			continue
		}
		out = append(out, models.Fee{Symbol: f.Symbol, Maker: f.MakerCommission, Taker: f.TakerCommission})
	}
	return out, nil
}
