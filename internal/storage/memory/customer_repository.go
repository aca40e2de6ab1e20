package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type customerRepositoryInMemory struct {
	mu      sync.RWMutex
	gate    readGate
	items   map[string]domain.Customer
	byEmail map[string]string
}

// NewCustomerRepository возвращает in-memory репозиторий клиентов.
func NewCustomerRepository(opts ...Option) domain.CustomerRepository {
	return &customerRepositoryInMemory{
		gate:    newReadGate(opts),
		items:   make(map[string]domain.Customer),
		byEmail: make(map[string]string),
	}
}

// Create сохраняет клиента; проверка уникальности email атомарна со вставкой.
func (r *customerRepositoryInMemory) Create(ctx context.Context, customer domain.Customer) error {
	email := domain.NormalizeEmail(customer.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return domain.ErrCustomerAlreadyExists
	}
	if _, exists := r.items[customer.ID]; exists {
		return domain.ErrCustomerAlreadyExists
	}

	r.items[customer.ID] = customer
	r.byEmail[email] = customer.ID

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.items, customer.ID)
		delete(r.byEmail, email)
	})
	return nil
}

func (r *customerRepositoryInMemory) Get(ctx context.Context, id string) (domain.Customer, error) {
	defer r.gate.enter(ctx)()
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, ok := r.items[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

func (r *customerRepositoryInMemory) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	defer r.gate.enter(ctx)()
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return r.items[id], nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
