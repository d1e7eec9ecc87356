package claim

import (
	"context"
	"sync"

	"github.com/appetiteclub/orderflow/internal/delivery"
	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/google/uuid"
)

// MockOrderRepo is an in-memory order.Repo.
type MockOrderRepo struct {
	mu     sync.Mutex
	orders map[order.OrderID]*order.Order

	SaveStateErr error
	SaveOrderErr error
}

func NewMockOrderRepo(orders ...*order.Order) *MockOrderRepo {
	m := &MockOrderRepo{orders: make(map[order.OrderID]*order.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o.Clone()
	}
	return m
}

func (m *MockOrderRepo) Get(ctx context.Context, id order.OrderID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return o.Clone(), nil
}

func (m *MockOrderRepo) ListOpenByProduct(ctx context.Context, productID order.ProductID) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*order.Order
	for _, o := range m.orders {
		if !o.Fulfillment().IsTerminal() && o.Contains(productID) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (m *MockOrderRepo) SaveState(ctx context.Context, id order.OrderID, status, paymentStatus string) error {
	if m.SaveStateErr != nil {
		return m.SaveStateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.Status = status
		o.PaymentStatus = paymentStatus
	}
	return nil
}

func (m *MockOrderRepo) SaveItemStatus(ctx context.Context, id order.OrderID, itemID order.LineItemID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		if i := o.ItemIndex(itemID); i >= 0 {
			o.Items[i].Status = status
		}
	}
	return nil
}

func (m *MockOrderRepo) SaveOrder(ctx context.Context, o *order.Order) error {
	if m.SaveOrderErr != nil {
		return m.SaveOrderErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MockOrderRepo) Stored(id order.OrderID) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Clone()
}

type emitted struct {
	Event delivery.Event
	Opts  delivery.Options
}

// MockEmitter records emissions instead of delivering them.
type MockEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (m *MockEmitter) Emit(evt delivery.Event, opts delivery.Options) string {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	m.mu.Lock()
	m.events = append(m.events, emitted{Event: evt, Opts: opts})
	m.mu.Unlock()
	return evt.ID
}

func (m *MockEmitter) Named(name string) []emitted {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []emitted
	for _, e := range m.events {
		if e.Event.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockEmitter) Reset() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}
