// Package catalog управляет карточками товаров.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// DefaultListLimit ограничивает List, когда limit не задан.
const DefaultListLimit = 100

type CreateProductInput struct {
	Name     string
	Price    decimal.Decimal
	Quantity int64
}

// Service создаёт и читает товары.
type Service struct {
	products domain.ProductRepository
	metrics  *metrics.ShopMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис каталога.
func NewService(products domain.ProductRepository, m *metrics.ShopMetrics, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog-service")
	}
	return &Service{
		products: products,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create добавляет товар. Название уникально: ErrProductAlreadyExists при совпадении.
func (s *Service) Create(ctx context.Context, in CreateProductInput) (domain.Product, error) {
	now := s.now()
	product := domain.Product{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Price:     in.Price,
		Quantity:  in.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errs := product.ValidateInvariants(); len(errs) > 0 {
		return domain.Product{}, domain.JoinErrors(errs)
	}

	_, err := s.products.FindByName(ctx, product.Name)
	switch {
	case err == nil:
		return domain.Product{}, domain.ErrProductAlreadyExists
	case !errors.Is(err, domain.ErrProductNotFound):
		return domain.Product{}, err
	}

	if err := s.products.Create(ctx, product); err != nil {
		return domain.Product{}, err
	}

	s.metrics.RecordProductCreated()
	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"quantity":   product.Quantity,
	}).Info("product created")
	return product, nil
}

// Get возвращает товар по ID или ErrProductNotFound.
func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	return s.products.Get(ctx, id)
}

// List возвращает товары по названию; limit<=0 заменяется DefaultListLimit.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.products.List(ctx, limit)
}
