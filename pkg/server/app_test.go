package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"Trape/internal/usecase"
	"Trape/pkg/config"
	applogger "Trape/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	startErr error
	calls    []string
}

func (f *fakeEngine) Start(context.Context) error {
	f.calls = append(f.calls, "engine.start")
	return f.startErr
}

func (f *fakeEngine) Finish(context.Context) error {
	f.calls = append(f.calls, "engine.finish")
	return nil
}

type fakeServer struct {
	calls *[]string
	errs  chan error
}

func (f *fakeServer) Start() error {
	*f.calls = append(*f.calls, "http.start")
	return nil
}

func (f *fakeServer) Stop(context.Context) error {
	*f.calls = append(*f.calls, "http.stop")
	return nil
}

func (f *fakeServer) Errors() <-chan error { return f.errs }

type fakeReconciler struct{ symbol string }

func (f *fakeReconciler) Reconcile(_ context.Context, symbol string) (usecase.ReconcileReport, error) {
	f.symbol = symbol
	return usecase.ReconcileReport{Checked: 2, Resolved: 1}, nil
}

func newTestApp() (*App, *fakeEngine, *fakeServer) {
	cfg := &config.Config{}
	cfg.Server.ShutdownTimeout = time.Second
	e := &fakeEngine{}
	s := &fakeServer{calls: &e.calls, errs: make(chan error, 1)}
	return &App{cfg: cfg, l: applogger.Nop(), engine: e, http: s}, e, s
}

func TestRunStopsInOrder(t *testing.T) {
	app, e, _ := newTestApp()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, app.Run(ctx))
	assert.Equal(t, []string{"engine.start", "http.start", "http.stop", "engine.finish"}, e.calls)
}

func TestRunReturnsServerFailure(t *testing.T) {
	app, e, s := newTestApp()
	s.errs <- errors.New("address in use")

	err := app.Run(context.Background())
	assert.ErrorContains(t, err, "address in use")
	assert.Equal(t, "engine.finish", e.calls[len(e.calls)-1])
}

func TestRunEngineStartFailure(t *testing.T) {
	app, e, _ := newTestApp()
	e.startErr = errors.New("stream down")

	assert.ErrorContains(t, app.Run(context.Background()), "stream down")
	assert.Equal(t, []string{"engine.start"}, e.calls)
}

func TestReconcile(t *testing.T) {
	app, _, _ := newTestApp()
	r := &fakeReconciler{}
	app.reconciler = r

	rep, err := app.Reconcile(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, "BTCUSDT", r.symbol)
}
