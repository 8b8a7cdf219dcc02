package server

import (
	"context"
	"errors"
	"fmt"

	"Trape/internal/usecase"
	"Trape/pkg/config"
	xhttp "Trape/pkg/http"
	applogger "Trape/pkg/logger"
)

type engine interface {
	Start(ctx context.Context) error
	Finish(ctx context.Context) error
}

type httpServer interface {
	Start() error
	Stop(ctx context.Context) error
	Errors() <-chan error
}

type reconciler interface {
	Reconcile(ctx context.Context, symbol string) (usecase.ReconcileReport, error)
}

// App runs the engine next to the monitoring server.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	engine     engine
	http       httpServer
	reconciler reconciler
}

var _ httpServer = (*xhttp.Server)(nil)

func New(cfg *config.Config, l *applogger.Logger, e *usecase.Engine, srv *xhttp.Server, r *usecase.Reconciler) *App {
	return &App{cfg: cfg, l: l.With(applogger.String("component", "app")), engine: e, http: srv, reconciler: r}
}

// Run starts the engine, then the HTTP server, and blocks until ctx is done
// or the server fails. Shutdown stops the server first so no request reads a
// half-finished engine.
func (a *App) Run(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if err := a.http.Start(); err != nil {
		return errors.Join(fmt.Errorf("start http: %w", err), a.finishEngine())
	}
	a.l.Info("trape running",
		applogger.Strings("symbols", a.cfg.Market.Symbols),
		applogger.String("source", a.cfg.Market.Source),
		applogger.Bool("trading", a.cfg.Trading.Enabled),
		applogger.Int("port", a.cfg.Server.Port))

	var runErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown requested")
	case err := <-a.http.Errors():
		runErr = fmt.Errorf("http server: %w", err)
	}
	return errors.Join(runErr, a.shutdown())
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := a.http.Stop(ctx); err != nil {
		a.l.Error("http shutdown failed", applogger.Error(err))
		errs = append(errs, err)
	}
	if err := a.finishEngine(); err != nil {
		errs = append(errs, err)
	}
	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) finishEngine() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.engine.Finish(ctx); err != nil {
		a.l.Error("engine finish failed", applogger.Error(err))
		return fmt.Errorf("finish engine: %w", err)
	}
	return nil
}

// Reconcile runs one reconciliation pass without starting the engine. An
// empty symbol covers every pending order.
func (a *App) Reconcile(ctx context.Context, symbol string) (usecase.ReconcileReport, error) {
	return a.reconciler.Reconcile(ctx, symbol)
}
