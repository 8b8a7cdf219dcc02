package usecase

import (
	"hash/fnv"
	"sort"
	"sync"

	"Trape/internal/domain/models"

	"github.com/shopspring/decimal"
)

const reservationShards = 16

type reservationShard struct {
	mu     sync.Mutex
	orders map[string]models.OpenOrder
}

// ReservationTable is the process-wide OpenOrder table, sharded by order id.
type ReservationTable struct {
	shards [reservationShards]reservationShard
}

func NewReservationTable() *ReservationTable {
	t := &ReservationTable{}
	for i := range t.shards {
		t.shards[i].orders = make(map[string]models.OpenOrder)
	}
	return t
}

func (t *ReservationTable) shard(orderID string) *reservationShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return &t.shards[h.Sum32()%reservationShards]
}

// Reserve adds o. An id that is already reserved yields ErrDuplicateOrder.
func (t *ReservationTable) Reserve(o models.OpenOrder) error {
	s := t.shard(o.OrderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.OrderID]; ok {
		return models.NewError(models.KindValidation, "reservations.reserve", models.ErrDuplicateOrder)
	}
	s.orders[o.OrderID] = o
	return nil
}

// Release removes the reservation and reports whether one existed.
func (t *ReservationTable) Release(orderID string) bool {
	s := t.shard(orderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return false
	}
	delete(s.orders, orderID)
	return true
}

func (t *ReservationTable) ForSymbol(symbol string) []models.OpenOrder {
	var out []models.OpenOrder
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for _, o := range s.orders {
			if o.Symbol == symbol {
				out = append(out, o)
			}
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (t *ReservationTable) ReservedQuantity(symbol string, side models.OrderSide) decimal.Decimal {
	total := decimal.Zero
	for _, o := range t.ForSymbol(symbol) {
		if o.Side == side {
			total = total.Add(o.Quantity)
		}
	}
	return total
}

// ReleaseSymbol drops every reservation of symbol and returns how many.
func (t *ReservationTable) ReleaseSymbol(symbol string) int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, o := range s.orders {
			if o.Symbol == symbol {
				delete(s.orders, id)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

func (t *ReservationTable) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.orders)
		s.mu.Unlock()
	}
	return n
}
