package repository

import (
	"context"
	"time"

	"Trape/internal/domain/models"
)

type RecommendationStore interface {
	InsertRecommendation(ctx context.Context, rec models.Recommendation, snap models.SymbolSnapshot) error
}

// TrendRow is one persisted statistics row read back for a resolution.
type TrendRow struct {
	Window     models.StatsWindow `json:"window"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// TrendStore reads persisted statistics. Rows with a NULL column are skipped.
type TrendStore interface {
	FetchTrend(ctx context.Context, res models.Resolution) ([]TrendRow, error)
}

type PriceStore interface {
	CurrentPrice(ctx context.Context, symbol string) (models.CurrentPrice, error)
	CurrentPrices(ctx context.Context) ([]models.CurrentPrice, error)
}

type StatsWriter interface {
	WriteStats(ctx context.Context, res models.Resolution, windows []models.StatsWindow) error
	WritePrices(ctx context.Context, prices []models.CurrentPrice) error
}

// OrderStore upserts by client order id; writing the same record twice never
// creates a second row.
type OrderStore interface {
	UpsertClientOrder(ctx context.Context, o models.ClientOrder) error
	UpsertPlacedOrder(ctx context.Context, o models.PlacedOrder) error
	// PendingClientOrders returns non-terminal client orders; empty symbol means all.
	PendingClientOrders(ctx context.Context, symbol string) ([]models.ClientOrder, error)
	ClientOrder(ctx context.Context, id string) (*models.ClientOrder, error)
	PlacedOrder(ctx context.Context, clientOrderID string) (*models.PlacedOrder, error)
}

type RecommendationPublisher interface {
	Publish(ctx context.Context, rec models.Recommendation) error
	Close() error
}
