package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// productRepositoryInMemory хранит товары в памяти процесса.
type productRepositoryInMemory struct {
	mu     sync.RWMutex
	gate   readGate
	items  map[string]domain.Product
	byName map[string]string
	now    func() time.Time
}

// NewProductRepository возвращает in-memory репозиторий товаров.
func NewProductRepository(opts ...Option) domain.ProductRepository {
	return &productRepositoryInMemory{
		gate:   newReadGate(opts),
		items:  make(map[string]domain.Product),
		byName: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create сохраняет товар, если ни ID, ни название ещё не заняты.
func (r *productRepositoryInMemory) Create(ctx context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[product.ID]; exists {
		return domain.ErrProductAlreadyExists
	}
	if _, exists := r.byName[product.Name]; exists {
		return domain.ErrProductAlreadyExists
	}

	r.items[product.ID] = product
	r.byName[product.Name] = product.ID

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.items, product.ID)
		delete(r.byName, product.Name)
	})
	return nil
}

// Get возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(ctx context.Context, id string) (domain.Product, error) {
	defer r.gate.enter(ctx)()
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// FindByName ищет товар по точному совпадению названия.
func (r *productRepositoryInMemory) FindByName(ctx context.Context, name string) (domain.Product, error) {
	defer r.gate.enter(ctx)()
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[name]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return r.items[id], nil
}

// FindAllByID возвращает найденные товары в порядке первого упоминания ID.
func (r *productRepositoryInMemory) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	defer r.gate.enter(ctx)()
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	result := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if product, ok := r.items[id]; ok {
			result = append(result, product)
		}
	}
	return result, nil
}

// List возвращает товары по названию; при limit<=0 возвращаются все.
func (r *productRepositoryInMemory) List(ctx context.Context, limit int) ([]domain.Product, error) {
	defer r.gate.enter(ctx)()
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, product := range r.items {
		result = append(result, product)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateQuantity списывает остатки под эксклюзивной блокировкой:
// проверка и запись происходят без промежуточных окон.
func (r *productRepositoryInMemory) UpdateQuantity(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stock := make(map[string]domain.Product, len(adjustments))
	for _, id := range domain.DistinctProductIDs(adjustments) {
		if product, ok := r.items[id]; ok {
			stock[id] = product
		}
	}

	updated, final, err := domain.ApplyStockAdjustments(stock, adjustments, r.now())
	if err != nil {
		return nil, err
	}

	decremented := make(map[string]int64, len(final))
	for id, product := range final {
		decremented[id] = stock[id].Quantity - product.Quantity
		r.items[id] = product
	}

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for id, delta := range decremented {
			product, ok := r.items[id]
			if !ok {
				continue
			}
			product.Quantity += delta
			r.items[id] = product
		}
	})

	return updated, nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
