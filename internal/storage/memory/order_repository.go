package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory держит заказы и индекс заказов по клиенту.
type orderRepositoryInMemory struct {
	mu         sync.RWMutex
	gate       readGate
	orders     map[string]domain.Order
	byCustomer map[string][]string
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository(opts ...Option) domain.OrderRepository {
	return &orderRepositoryInMemory{
		gate:       newReadGate(opts),
		orders:     make(map[string]domain.Order),
		byCustomer: make(map[string][]string),
	}
}

func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) error {
	order = detachOrder(order)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.ErrOrderAlreadyExists
	}
	r.orders[order.ID] = order
	r.byCustomer[order.CustomerID] = append(r.byCustomer[order.CustomerID], order.ID)

	recordUndo(ctx, func() { r.forget(order) })
	return nil
}

func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	defer r.gate.enter(ctx)()
	r.mu.RLock()
	order, ok := r.orders[id]
	r.mu.RUnlock()

	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return detachOrder(order), nil
}

// ListByCustomer отдаёт заказы клиента от новых к старым; при равном
// времени создания порядок задаёт ID по убыванию.
func (r *orderRepositoryInMemory) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	defer r.gate.enter(ctx)()
	r.mu.RLock()
	ids := r.byCustomer[customerID]
	list := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		list = append(list, detachOrder(r.orders[id]))
	}
	r.mu.RUnlock()

	slices.SortFunc(list, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *orderRepositoryInMemory) forget(order domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.orders, order.ID)
	ids := slices.DeleteFunc(r.byCustomer[order.CustomerID], func(id string) bool { return id == order.ID })
	if len(ids) == 0 {
		delete(r.byCustomer, order.CustomerID)
		return
	}
	r.byCustomer[order.CustomerID] = ids
}

// detachOrder копирует позиции и сбрасывает Customer: репозиторий хранит только собственные поля заказа.
func detachOrder(order domain.Order) domain.Order {
	order.Customer = nil
	order.Lines = slices.Clone(order.Lines)
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
