package usecase

import (
	"context"
	"errors"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	applogger "Trape/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SubmitterConfig struct {
	OrderType         models.OrderType
	TimeInForce       models.TimeInForce
	PersistAttempts   int
	TransportAttempts int
	RetryBackoff      time.Duration
	RequestTimeout    time.Duration
}

// Budget is the longest Submit can spend calling the exchange, backoff
// included.
func (c SubmitterConfig) Budget() time.Duration {
	n := c.TransportAttempts
	if n < 1 {
		n = 1
	}
	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return time.Duration(n)*timeout + c.RetryBackoff*time.Duration(n*(n-1)/2)
}

type SubmitterOption func(*OrderSubmitter)

// WithOrderIDs replaces the uuid client order id generator.
func WithOrderIDs(next func() string) SubmitterOption {
	return func(s *OrderSubmitter) { s.newID = next }
}

func WithSubmitterClock(now func() time.Time) SubmitterOption {
	return func(s *OrderSubmitter) { s.now = now }
}

// Intent is what an agent wants to trade. Price is ignored for market orders.
type Intent struct {
	Symbol   string
	Side     models.OrderSide
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// OrderSubmitter places one order with reservation, persistence and retries.
type OrderSubmitter struct {
	cfg          SubmitterConfig
	client       drepo.OrderClient
	store        drepo.OrderStore
	reservations *ReservationTable
	metrics      drepo.Metrics
	l            *applogger.Logger
	newID        func() string
	now          func() time.Time
}

func NewOrderSubmitter(cfg SubmitterConfig, client drepo.OrderClient, store drepo.OrderStore, reservations *ReservationTable, metrics drepo.Metrics, l *applogger.Logger, opts ...SubmitterOption) (*OrderSubmitter, error) {
	if client == nil || store == nil || reservations == nil {
		return nil, models.Errorf(models.KindValidation, "submitter.new", "order client, order store and reservations are required")
	}
	if cfg.OrderType == "" {
		cfg.OrderType = models.OrderTypeMarket
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = models.TimeInForceGTC
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &OrderSubmitter{
		cfg:          cfg,
		client:       client,
		store:        store,
		reservations: reservations,
		metrics:      metrics,
		l:            l.With(applogger.String("component", "order_submitter")),
		newID:        uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *OrderSubmitter) persist() retryPolicy {
	return retryPolicy{attempts: s.cfg.PersistAttempts, backoff: s.cfg.RetryBackoff}
}

func (s *OrderSubmitter) request(in Intent) models.OrderRequest {
	req := models.OrderRequest{
		ClientOrderID: s.newID(),
		Symbol:        in.Symbol,
		Side:          in.Side,
		Type:          s.cfg.OrderType,
		Quantity:      in.Quantity,
	}
	if req.Type == models.OrderTypeLimit {
		req.Price = in.Price
		req.TimeInForce = s.cfg.TimeInForce
	}
	return req
}

// Submit runs the placement protocol: reserve, persist the pending client
// order, call the exchange, then persist the outcome. A business rejection is
// never retried. When the outcome stays unknown the reservation is kept for
// the reconciler.
func (s *OrderSubmitter) Submit(ctx context.Context, in Intent) (*models.PlacedOrder, error) {
	req := s.request(in)
	if err := req.Validate(); err != nil {
		return nil, models.NewError(models.KindValidation, "submitter.submit", err)
	}
	fields := []applogger.Field{
		applogger.String("symbol", req.Symbol),
		applogger.String("side", string(req.Side)),
		applogger.String("client_order_id", req.ClientOrderID),
	}

	if err := s.reservations.Reserve(models.OpenOrder{OrderID: req.ClientOrderID, Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity}); err != nil {
		return nil, err
	}

	co := models.NewClientOrder(req, s.now())
	if err := s.upsertClient(ctx, co, fields); err != nil {
		s.reservations.Release(req.ClientOrderID)
		s.l.Error("pending order not persisted, order not sent", append(fields, applogger.Error(err))...)
		return nil, err
	}

	resp, err := s.place(ctx, req, fields)
	if err != nil {
		s.metrics.RecordOrder(req.Symbol, req.Side, models.OrderStatusPending)
		s.l.Error("order outcome unknown, left for reconciliation", append(fields, applogger.Error(err))...)
		return nil, err
	}

	if !resp.Success || resp.Data == nil {
		return nil, s.reject(ctx, co, resp, fields)
	}

	placed := *resp.Data
	if placed.ClientOrderID == "" {
		placed.ClientOrderID = req.ClientOrderID
	}
	co.Status = placed.Status
	co.UpdatedAt = s.now()
	s.metrics.RecordOrder(req.Symbol, req.Side, placed.Status)
	s.l.Info("order placed", append(fields,
		applogger.String("status", string(placed.Status)),
		applogger.Int64("order_id", placed.OrderID),
		applogger.Decimal("executed_qty", placed.ExecutedQuantity))...)

	if placed.Status.IsTerminal() {
		s.reservations.Release(req.ClientOrderID)
	}

	if err := s.record(ctx, co, placed, fields); err != nil {
		s.l.Error("placed order not persisted", append(fields, applogger.Error(err))...)
		return &placed, err
	}
	return &placed, nil
}

// place calls the exchange, retrying transport failures with the same id.
func (s *OrderSubmitter) place(ctx context.Context, req models.OrderRequest, fields []applogger.Field) (*models.OrderResponse, error) {
	var resp *models.OrderResponse
	policy := retryPolicy{attempts: s.cfg.TransportAttempts, backoff: s.cfg.RetryBackoff}
	err := policy.do(ctx, s.l, "submitter.place", "exchange", fields, func(ctx context.Context) error {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
		start := time.Now()
		r, err := s.client.PlaceOrder(rctx, req)
		s.metrics.RecordLatency("place_order", time.Since(start).Seconds())
		if err != nil {
			return models.NewError(models.KindTransient, "submitter.place", err)
		}
		if r == nil {
			return models.Errorf(models.KindTransient, "submitter.place", "empty exchange response")
		}
		resp = r
		return nil
	})
	return resp, err
}

func (s *OrderSubmitter) reject(ctx context.Context, co models.ClientOrder, resp *models.OrderResponse, fields []applogger.Field) error {
	exErr := resp.Error
	if exErr == nil {
		exErr = &models.ExchangeError{Message: "order rejected without detail"}
	}
	s.l.Error("order rejected", append(fields,
		applogger.Int("http_status", resp.HTTPStatus),
		applogger.Int("code", exErr.Code),
		applogger.String("msg", exErr.Message),
		applogger.String("payload", exErr.Payload))...)
	s.reservations.Release(co.ID)
	s.metrics.RecordOrder(co.Symbol, co.Side, models.OrderStatusRejected)

	co.Status = models.OrderStatusRejected
	co.UpdatedAt = s.now()
	if err := s.upsertClient(ctx, co, fields); err != nil {
		s.l.Error("rejected order not persisted", append(fields, applogger.Error(err))...)
	}
	return models.NewError(models.KindRejected, "submitter.submit", exErr)
}

func (s *OrderSubmitter) upsertClient(ctx context.Context, co models.ClientOrder, fields []applogger.Field) error {
	return s.persist().do(ctx, s.l, "submitter.persist_client_order", "persist", fields, func(ctx context.Context) error {
		return s.store.UpsertClientOrder(ctx, co)
	})
}

func (s *OrderSubmitter) record(ctx context.Context, co models.ClientOrder, placed models.PlacedOrder, fields []applogger.Field) error {
	return s.persist().do(ctx, s.l, "submitter.persist_order", "persist", fields, func(ctx context.Context) error {
		if err := s.store.UpsertClientOrder(ctx, co); err != nil {
			return err
		}
		return s.store.UpsertPlacedOrder(ctx, placed)
	})
}

// IsRejected reports whether err is a business rejection from the exchange.
func IsRejected(err error) bool {
	var exErr *models.ExchangeError
	return models.IsKind(err, models.KindRejected) || errors.As(err, &exErr)
}
