package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const productColumns = `id, name, price, quantity, created_at, updated_at`

type productRepository struct {
	store *Store
	now   func() time.Time
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.executor(ctx).ExecContext(ctx, `
		INSERT INTO products (id, name, price, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`,
		product.ID, product.Name, product.Price, product.Quantity, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductAlreadyExists
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	if !validID(id) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return r.getOne(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (r *productRepository) FindByName(ctx context.Context, name string) (domain.Product, error) {
	return r.getOne(ctx, `SELECT `+productColumns+` FROM products WHERE name = $1`, name)
}

func (r *productRepository) getOne(ctx context.Context, query string, arg any) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.store.executor(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

// FindAllByID возвращает найденные товары в порядке первого упоминания ID.
func (r *productRepository) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	ids = lo.Filter(lo.Uniq(ids), func(id string, _ int) bool { return validID(id) })
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	found, err := r.queryProducts(ctx,
		`SELECT `+productColumns+` FROM products WHERE id IN (`+placeholders(len(ids))+`)`,
		lo.ToAnySlice(ids)...,
	)
	if err != nil {
		return nil, err
	}

	byID := lo.KeyBy(found, func(p domain.Product) string { return p.ID })
	result := make([]domain.Product, 0, len(found))
	for _, id := range ids {
		if product, ok := byID[id]; ok {
			result = append(result, product)
		}
	}
	return result, nil
}

func (r *productRepository) List(ctx context.Context, limit int) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + productColumns + ` FROM products ORDER BY name, id`
	if limit > 0 {
		return r.queryProducts(ctx, query+` LIMIT $1`, limit)
	}
	return r.queryProducts(ctx, query)
}

// UpdateQuantity блокирует строки товаров (SELECT ... FOR UPDATE в порядке id,
// чтобы параллельные списания не взаимоблокировались), проверяет остатки
// и записывает новые значения в той же транзакции.
func (r *productRepository) UpdateQuantity(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.Product, error) {
	if err := domain.ValidateAdjustments(adjustments); err != nil {
		return nil, err
	}

	var updated []domain.Product
	err := r.store.WithinTx(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		ids := lo.Filter(domain.DistinctProductIDs(adjustments), func(id string, _ int) bool { return validID(id) })
		if len(ids) == 0 {
			return domain.ErrProductNotFound
		}

		locked, err := r.queryProducts(ctx,
			`SELECT `+productColumns+` FROM products WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id FOR UPDATE`,
			lo.ToAnySlice(ids)...,
		)
		if err != nil {
			return err
		}

		stock := lo.KeyBy(locked, func(p domain.Product) string { return p.ID })
		snapshots, final, err := domain.ApplyStockAdjustments(stock, adjustments, r.now())
		if err != nil {
			return err
		}

		exec := r.store.executor(ctx)
		for _, id := range lo.Keys(final) {
			product := final[id]
			if _, err := exec.ExecContext(ctx, `
				UPDATE products
				SET quantity = $2,
				    updated_at = $3
				WHERE id = $1
			`, product.ID, product.Quantity, product.UpdatedAt); err != nil {
				return fmt.Errorf("update product quantity: %w", err)
			}
		}

		updated = snapshots
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *productRepository) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := r.store.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		result = append(result, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	if err := row.Scan(
		&product.ID, &product.Name, &product.Price, &product.Quantity,
		&product.CreatedAt, &product.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

// placeholders возвращает "$1,$2,...,$n" для IN-списков.
func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ",")
}

var _ domain.ProductRepository = (*productRepository)(nil)
