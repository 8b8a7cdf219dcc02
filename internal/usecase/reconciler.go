package usecase

import (
	"context"
	"errors"
	"time"

	"Trape/internal/domain/models"
	drepo "Trape/internal/domain/repository"
	"Trape/pkg/cache"
	applogger "Trape/pkg/logger"
)

const reconcileLockKey = "lock:reconcile"

type ReconcilerConfig struct {
	// Grace is the age below which an order unknown to the exchange is
	// assumed to still be in flight.
	Grace time.Duration
	// SubmitBudget is the longest a submission spends on exchange calls.
	// Grace never drops below it plus graceMargin.
	SubmitBudget   time.Duration
	RequestTimeout time.Duration
	LockTTL        time.Duration
}

const graceMargin = 30 * time.Second

type ReconcileReport struct {
	Checked  int `json:"checked"`
	Restored int `json:"restored"`
	Resolved int `json:"resolved"`
	Expired  int `json:"expired"`
	Failed   int `json:"failed"`
}

type ReconcilerOption func(*Reconciler)

// WithReconcileLock serializes passes across processes sharing c.
func WithReconcileLock(c cache.Service) ReconcilerOption {
	return func(r *Reconciler) { r.lock = c }
}

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler settles client orders whose exchange outcome is unknown and
// rebuilds the reservations of those still open.
type Reconciler struct {
	cfg          ReconcilerConfig
	client       drepo.OrderClient
	store        drepo.OrderStore
	reservations *ReservationTable
	metrics      drepo.Metrics
	l            *applogger.Logger
	lock         cache.Service
	now          func() time.Time
}

func NewReconciler(cfg ReconcilerConfig, client drepo.OrderClient, store drepo.OrderStore, reservations *ReservationTable, metrics drepo.Metrics, l *applogger.Logger, opts ...ReconcilerOption) (*Reconciler, error) {
	if client == nil || store == nil || reservations == nil {
		return nil, models.Errorf(models.KindValidation, "reconciler.new", "order client, order store and reservations are required")
	}
	if cfg.Grace <= 0 {
		cfg.Grace = graceMargin
	}
	if cfg.SubmitBudget > 0 && cfg.Grace < cfg.SubmitBudget+graceMargin {
		cfg.Grace = cfg.SubmitBudget + graceMargin
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	r := &Reconciler{
		cfg:          cfg,
		client:       client,
		store:        store,
		reservations: reservations,
		metrics:      metrics,
		l:            l.With(applogger.String("component", "reconciler")),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reconcile checks every pending client order of symbol (all symbols when
// empty). Per-order failures are counted in the report, not returned.
func (r *Reconciler) Reconcile(ctx context.Context, symbol string) (ReconcileReport, error) {
	var rep ReconcileReport
	if r.lock != nil {
		ok, err := r.lock.TryLock(ctx, reconcileLockKey, r.cfg.LockTTL)
		if err != nil {
			r.l.Warn("reconcile lock unavailable, continuing", applogger.Error(err))
		} else if !ok {
			r.l.Debug("reconcile already running elsewhere")
			return rep, nil
		} else {
			defer func() { _ = r.lock.Unlock(context.WithoutCancel(ctx), reconcileLockKey) }()
		}
	}

	pending, err := r.store.PendingClientOrders(ctx, symbol)
	if err != nil {
		return rep, models.NewError(models.KindTransient, "reconciler.pending", err)
	}
	for _, co := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Checked++
		if err := r.settle(ctx, co, &rep); err != nil {
			rep.Failed++
			r.metrics.RecordError("reconcile")
			r.l.Warn("reconcile order failed",
				applogger.String("symbol", co.Symbol),
				applogger.String("client_order_id", co.ID),
				applogger.Error(err))
		}
	}
	if rep.Checked > 0 {
		r.l.Info("reconcile pass",
			applogger.String("symbol", symbol),
			applogger.Int("checked", rep.Checked),
			applogger.Int("restored", rep.Restored),
			applogger.Int("resolved", rep.Resolved),
			applogger.Int("expired", rep.Expired),
			applogger.Int("failed", rep.Failed))
	}
	return rep, nil
}

func (r *Reconciler) settle(ctx context.Context, co models.ClientOrder, rep *ReconcileReport) error {
	if placed, err := r.store.PlacedOrder(ctx, co.ID); err == nil && placed.Status.IsTerminal() {
		return r.finalize(ctx, co, placed.Status, rep)
	}

	qctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	placed, err := r.client.QueryOrder(qctx, co.Symbol, co.ID)
	cancel()
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		if r.now().Sub(co.CreatedAt) < r.cfg.Grace {
			r.restore(co, rep)
			return nil
		}
		rep.Expired++
		return r.finalize(ctx, co, models.OrderStatusExpired, rep)
	case err != nil:
		r.restore(co, rep)
		return models.NewError(models.KindTransient, "reconciler.query", err)
	}

	if placed.ClientOrderID == "" {
		placed.ClientOrderID = co.ID
	}
	if err := r.store.UpsertPlacedOrder(ctx, *placed); err != nil {
		r.restore(co, rep)
		return models.NewError(models.KindTransient, "reconciler.persist", err)
	}
	if placed.Status.IsTerminal() {
		return r.finalize(ctx, co, placed.Status, rep)
	}
	if co.Status != placed.Status {
		co.Status = placed.Status
		co.UpdatedAt = r.now()
		if err := r.store.UpsertClientOrder(ctx, co); err != nil {
			r.restore(co, rep)
			return models.NewError(models.KindTransient, "reconciler.persist", err)
		}
	}
	r.restore(co, rep)
	return nil
}

func (r *Reconciler) restore(co models.ClientOrder, rep *ReconcileReport) {
	err := r.reservations.Reserve(models.OpenOrder{OrderID: co.ID, Symbol: co.Symbol, Side: co.Side, Quantity: co.Quantity})
	if err == nil {
		rep.Restored++
	}
}

func (r *Reconciler) finalize(ctx context.Context, co models.ClientOrder, status models.OrderStatus, rep *ReconcileReport) error {
	r.reservations.Release(co.ID)
	rep.Resolved++
	co.Status = status
	co.UpdatedAt = r.now()
	r.metrics.RecordOrder(co.Symbol, co.Side, status)
	if err := r.store.UpsertClientOrder(ctx, co); err != nil {
		return models.NewError(models.KindTransient, "reconciler.persist", err)
	}
	return nil
}
