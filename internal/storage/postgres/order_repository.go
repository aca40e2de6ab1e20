package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	insertOrderSQL = `
INSERT INTO orders (id, customer_id, created_at, updated_at)
VALUES ($1, $2, $3, $4)`

	insertOrderLineSQL = `
INSERT INTO orders_products (id, order_id, product_id, price, quantity, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectOrderSQL = `
SELECT id, customer_id, created_at, updated_at
FROM orders
WHERE id = $1`

	// LIMIT NULL в PostgreSQL означает отсутствие ограничения.
	selectCustomerOrdersSQL = `
SELECT id, customer_id, created_at, updated_at
FROM orders
WHERE customer_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

	selectOrderLinesSQL = `
SELECT id, order_id, product_id, price, quantity, created_at, updated_at
FROM orders_products
WHERE order_id = ANY($1::uuid[])
ORDER BY order_id, created_at, id`
)

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт репозиторий заказов поверх Store.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

// Create пишет заказ и его позиции атомарно. Если ctx уже несёт
// транзакцию, используется она.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	return r.store.WithinTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		exec := r.store.executor(ctx)

		_, err := exec.ExecContext(ctx, insertOrderSQL, order.ID, order.CustomerID, order.CreatedAt, order.UpdatedAt)
		switch {
		case isUniqueViolation(err):
			return domain.ErrOrderAlreadyExists
		case isForeignKeyViolation(err):
			return domain.ErrCustomerNotFound
		case err != nil:
			return fmt.Errorf("insert order %s: %w", order.ID, err)
		}

		for _, l := range order.Lines {
			_, err := exec.ExecContext(ctx, insertOrderLineSQL,
				l.ID, order.ID, l.ProductID, l.Price, l.Quantity, l.CreatedAt, l.UpdatedAt)
			switch {
			case isForeignKeyViolation(err):
				return domain.ErrProductNotFound
			case err != nil:
				return fmt.Errorf("insert line %s of order %s: %w", l.ID, order.ID, err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if !validID(id) {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.store.executor(ctx).QueryRowContext(ctx, selectOrderSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order %s: %w", id, err)
	}

	orders := []domain.Order{order}
	if err := r.attachLines(ctx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// ListByCustomer читает заказы одним запросом и позиции ещё одним.
func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	if !validID(customerID) {
		return []domain.Order{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rowLimit sql.NullInt64
	if limit > 0 {
		rowLimit = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	orders, err := r.queryOrders(ctx, selectCustomerOrdersSQL, customerID, rowLimit)
	if err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// queryOrders дочитывает курсор заказов целиком, прежде чем вызывающий
// пойдёт за позициями: в транзакции соединение одно.
func (r *orderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.store.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	return orders, nil
}

// attachLines заполняет Lines у каждого заказа; у заказа без позиций остаётся пустой слайс.
func (r *orderRepository) attachLines(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Lines = []domain.OrderLine{}
	}

	rows, err := r.store.executor(ctx).QueryContext(ctx, selectOrderLinesSQL, ids)
	if err != nil {
		return fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l         domain.OrderLine
			productID sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &productID, &l.Price, &l.Quantity, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		// product_id обнуляется при удалении товара, позиция остаётся.
		l.ProductID = productID.String
		l.CreatedAt, l.UpdatedAt = l.CreatedAt.UTC(), l.UpdatedAt.UTC()

		i := index[l.OrderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read order lines: %w", err)
	}
	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o          domain.Order
		customerID sql.NullString
	)
	if err := row.Scan(&o.ID, &customerID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	o.CustomerID = customerID.String
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return o, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
