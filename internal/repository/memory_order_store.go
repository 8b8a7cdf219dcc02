package repository

import (
	"context"
	"sort"
	"sync"

	"Trape/internal/domain/models"
	domrepo "Trape/internal/domain/repository"
)

// MemoryOrderStore keeps orders in process memory. Used for paper trading
// and tests.
type MemoryOrderStore struct {
	mu      sync.RWMutex
	clients map[string]models.ClientOrder
	placed  map[string]models.PlacedOrder
}

var _ domrepo.OrderStore = (*MemoryOrderStore)(nil)

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		clients: make(map[string]models.ClientOrder),
		placed:  make(map[string]models.PlacedOrder),
	}
}

func (s *MemoryOrderStore) UpsertClientOrder(ctx context.Context, o models.ClientOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.clients[o.ID]; ok && !prev.CreatedAt.IsZero() {
		o.CreatedAt = prev.CreatedAt
	}
	s.clients[o.ID] = o
	return nil
}

func (s *MemoryOrderStore) UpsertPlacedOrder(ctx context.Context, o models.PlacedOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed[o.ClientOrderID] = o
	return nil
}

func (s *MemoryOrderStore) PendingClientOrders(ctx context.Context, symbol string) ([]models.ClientOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ClientOrder
	for _, o := range s.clients {
		if o.Status.IsTerminal() || (symbol != "" && o.Symbol != symbol) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryOrderStore) ClientOrder(ctx context.Context, id string) (*models.ClientOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.clients[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return &o, nil
}

func (s *MemoryOrderStore) PlacedOrder(ctx context.Context, clientOrderID string) (*models.PlacedOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.placed[clientOrderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return &o, nil
}

// Len returns the number of client and placed orders held.
func (s *MemoryOrderStore) Len() (clients, placed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients), len(s.placed)
}
