package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Trape/internal/domain/models"
	domrepo "Trape/internal/domain/repository"
	pkgpg "Trape/pkg/postgres"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClientOrderRow is the client_orders table.
type ClientOrderRow struct {
	ID          string          `gorm:"primaryKey;size:64"`
	Symbol      string          `gorm:"size:20;index:idx_client_orders_symbol_status"`
	Side        string          `gorm:"size:4"`
	Type        string          `gorm:"size:16"`
	Quantity    decimal.Decimal `gorm:"type:numeric(36,18)"`
	Price       decimal.Decimal `gorm:"type:numeric(36,18)"`
	TimeInForce string          `gorm:"size:3"`
	Status      string          `gorm:"size:20;index:idx_client_orders_symbol_status"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ClientOrderRow) TableName() string { return "client_orders" }

// PlacedOrderRow is the placed_orders table, one row per client order id.
type PlacedOrderRow struct {
	ClientOrderID           string          `gorm:"primaryKey;size:64"`
	OrderID                 int64           `gorm:"index"`
	OrderListID             int64
	OriginalClientOrderID   string          `gorm:"size:64"`
	Symbol                  string          `gorm:"size:20;index"`
	Side                    string          `gorm:"size:4"`
	Type                    string          `gorm:"size:16"`
	TimeInForce             string          `gorm:"size:3"`
	Status                  string          `gorm:"size:20"`
	Price                   decimal.Decimal `gorm:"type:numeric(36,18)"`
	StopPrice               decimal.Decimal `gorm:"type:numeric(36,18)"`
	OriginalQuantity        decimal.Decimal `gorm:"type:numeric(36,18)"`
	ExecutedQuantity        decimal.Decimal `gorm:"type:numeric(36,18)"`
	CumulativeQuoteQuantity decimal.Decimal `gorm:"type:numeric(36,18)"`
	TransactionTime         time.Time
	UpdatedAt               time.Time
}

func (PlacedOrderRow) TableName() string { return "placed_orders" }

func clientOrderToRow(o models.ClientOrder) ClientOrderRow {
	return ClientOrderRow{
		ID:          o.ID,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		Type:        string(o.Type),
		Quantity:    o.Quantity,
		Price:       o.Price,
		TimeInForce: string(o.TimeInForce),
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func (r ClientOrderRow) model() models.ClientOrder {
	return models.ClientOrder{
		ID:          r.ID,
		Symbol:      r.Symbol,
		Side:        models.OrderSide(r.Side),
		Type:        models.OrderType(r.Type),
		Quantity:    r.Quantity,
		Price:       r.Price,
		TimeInForce: models.TimeInForce(r.TimeInForce),
		Status:      models.OrderStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func placedOrderToRow(o models.PlacedOrder) PlacedOrderRow {
	return PlacedOrderRow{
		ClientOrderID:           o.ClientOrderID,
		OrderID:                 o.OrderID,
		OrderListID:             o.OrderListID,
		OriginalClientOrderID:   o.OriginalClientOrderID,
		Symbol:                  o.Symbol,
		Side:                    string(o.Side),
		Type:                    string(o.Type),
		TimeInForce:             string(o.TimeInForce),
		Status:                  string(o.Status),
		Price:                   o.Price,
		StopPrice:               o.StopPrice,
		OriginalQuantity:        o.OriginalQuantity,
		ExecutedQuantity:        o.ExecutedQuantity,
		CumulativeQuoteQuantity: o.CumulativeQuoteQuantity,
		TransactionTime:         o.TransactionTime,
	}
}

func (r PlacedOrderRow) model() models.PlacedOrder {
	return models.PlacedOrder{
		ClientOrderID:           r.ClientOrderID,
		OrderID:                 r.OrderID,
		OrderListID:             r.OrderListID,
		OriginalClientOrderID:   r.OriginalClientOrderID,
		Symbol:                  r.Symbol,
		Side:                    models.OrderSide(r.Side),
		Type:                    models.OrderType(r.Type),
		TimeInForce:             models.TimeInForce(r.TimeInForce),
		Status:                  models.OrderStatus(r.Status),
		Price:                   r.Price,
		StopPrice:               r.StopPrice,
		OriginalQuantity:        r.OriginalQuantity,
		ExecutedQuantity:        r.ExecutedQuantity,
		CumulativeQuoteQuantity: r.CumulativeQuoteQuantity,
		TransactionTime:         r.TransactionTime,
	}
}

var terminalStatuses = []string{
	string(models.OrderStatusFilled),
	string(models.OrderStatusCanceled),
	string(models.OrderStatusRejected),
	string(models.OrderStatusExpired),
}

// PostgresOrderStore keeps client and placed orders in PostgreSQL. Every write
// is an upsert keyed by the client order id.
type PostgresOrderStore struct {
	db *gorm.DB
}

var _ domrepo.OrderStore = (*PostgresOrderStore)(nil)

func NewPostgresOrderStore(pg *pkgpg.Client) *PostgresOrderStore {
	return &PostgresOrderStore{db: pg.DB()}
}

// OrderTables lists the gorm models to migrate.
func OrderTables() []any {
	return []any{&ClientOrderRow{}, &PlacedOrderRow{}}
}

func (s *PostgresOrderStore) UpsertClientOrder(ctx context.Context, o models.ClientOrder) error {
	row := clientOrderToRow(o)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"symbol", "side", "type", "quantity", "price", "time_in_force", "status", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert client order %s: %w", o.ID, err)
	}
	return nil
}

func (s *PostgresOrderStore) UpsertPlacedOrder(ctx context.Context, o models.PlacedOrder) error {
	row := placedOrderToRow(o)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_order_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert placed order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

func (s *PostgresOrderStore) PendingClientOrders(ctx context.Context, symbol string) ([]models.ClientOrder, error) {
	q := s.db.WithContext(ctx).Where("status NOT IN ?", terminalStatuses)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var rows []ClientOrderRow
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("pending client orders: %w", err)
	}
	out := make([]models.ClientOrder, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s *PostgresOrderStore) ClientOrder(ctx context.Context, id string) (*models.ClientOrder, error) {
	var row ClientOrderRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("client order %s: %w", id, err)
	}
	o := row.model()
	return &o, nil
}

func (s *PostgresOrderStore) PlacedOrder(ctx context.Context, clientOrderID string) (*models.PlacedOrder, error) {
	var row PlacedOrderRow
	err := s.db.WithContext(ctx).Where("client_order_id = ?", clientOrderID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("placed order %s: %w", clientOrderID, err)
	}
	o := row.model()
	return &o, nil
}
