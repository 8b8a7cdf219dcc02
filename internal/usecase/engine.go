package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	dsvc "Trape/internal/domain/service"
	applogger "Trape/pkg/logger"
)

// ComponentHealth is the health line of one lifecycle component.
type ComponentHealth struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	Faulty     bool      `json:"faulty"`
	LastActive time.Time `json:"last_active"`
}

// Engine starts components in order and finishes them in reverse.
type Engine struct {
	components []dsvc.Startable
	l          *applogger.Logger

	mu      sync.Mutex
	running atomic.Int64
}

func NewEngine(l *applogger.Logger, components ...dsvc.Startable) *Engine {
	return &Engine{components: components, l: l.With(applogger.String("component", "engine"))}
}

// Start brings components up in order. When one fails, those already started
// are finished in reverse order and the error is returned.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := int(e.running.Load()); i < len(e.components); i++ {
		c := e.components[i]
		start := time.Now()
		if err := c.Start(ctx); err != nil {
			e.l.Error("component start failed", applogger.String("name", c.Name()), applogger.Error(err))
			if ferr := e.finishLocked(ctx); ferr != nil {
				err = errors.Join(err, ferr)
			}
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		e.running.Store(int64(i + 1))
		e.l.Info("component started", applogger.String("name", c.Name()), applogger.Duration("took", time.Since(start)))
	}
	return nil
}

// Finish stops every started component in reverse order, continuing past
// failures.
func (e *Engine) Finish(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finishLocked(ctx)
}

func (e *Engine) finishLocked(ctx context.Context) error {
	var errs []error
	for i := int(e.running.Load()) - 1; i >= 0; i-- {
		c := e.components[i]
		if err := c.Finish(ctx); err != nil {
			e.l.Error("component finish failed", applogger.String("name", c.Name()), applogger.Error(err))
			errs = append(errs, fmt.Errorf("finish %s: %w", c.Name(), err))
			continue
		}
		e.l.Info("component finished", applogger.String("name", c.Name()))
	}
	e.running.Store(0)
	return errors.Join(errs...)
}

func (e *Engine) Health() []ComponentHealth {
	running := int(e.running.Load())
	out := make([]ComponentHealth, len(e.components))
	for i, c := range e.components {
		out[i] = ComponentHealth{
			Name:       c.Name(),
			Running:    i < running,
			Faulty:     c.IsFaulty(),
			LastActive: c.LastActive(),
		}
	}
	return out
}

// Healthy reports whether every component runs and none is faulty.
func (e *Engine) Healthy() bool {
	for _, h := range e.Health() {
		if !h.Running || h.Faulty {
			return false
		}
	}
	return true
}
