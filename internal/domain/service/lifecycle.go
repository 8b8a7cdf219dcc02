package service

import (
	"context"
	"time"
)

// Startable is the lifecycle capability the Engine drives. Start and Finish
// are idempotent.
type Startable interface {
	Name() string
	Start(ctx context.Context) error
	Finish(ctx context.Context) error
	IsFaulty() bool
	LastActive() time.Time
}
