package domain

import "context"

// ProductRepository описывает требования к хранилищу товаров.
type ProductRepository interface {
	// Create сохраняет новый товар. ErrProductAlreadyExists, если название занято.
	Create(ctx context.Context, product Product) error
	// Get возвращает товар по ID или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// FindByName возвращает товар по названию или ErrProductNotFound.
	FindByName(ctx context.Context, name string) (Product, error)
	// FindAllByID возвращает только найденные товары; отсутствующие ID пропускаются.
	FindAllByID(ctx context.Context, ids []string) ([]Product, error)
	// List возвращает товары, упорядоченные по названию.
	List(ctx context.Context, limit int) ([]Product, error)
	// UpdateQuantity атомарно списывает остатки: либо все строки, либо ни одной.
	// Возвращает снимок товара на каждую строку запроса в исходном порядке.
	UpdateQuantity(ctx context.Context, adjustments []StockAdjustment) ([]Product, error)
}

// CustomerRepository описывает требования к хранилищу клиентов.
type CustomerRepository interface {
	// Create сохраняет клиента. ErrCustomerAlreadyExists, если email занят.
	Create(ctx context.Context, customer Customer) error
	// Get возвращает клиента по ID или ErrCustomerNotFound.
	Get(ctx context.Context, id string) (Customer, error)
	// FindByEmail ищет клиента по нормализованному email или возвращает ErrCustomerNotFound.
	FindByEmail(ctx context.Context, email string) (Customer, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми; при limit<=0 без ограничения.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
}

// Transactor выполняет fn как единицу работы: все записи репозиториев,
// сделанные с переданным ctx, фиксируются вместе или откатываются вместе.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
