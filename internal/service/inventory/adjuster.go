// Package inventory списывает складские остатки по набору позиций.
package inventory

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/storefront/internal/service/inventory"

// Option настраивает Adjuster.
type Option func(*Adjuster)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(a *Adjuster) {
		a.logger = logger
	}
}

// WithMetrics задаёт бизнес-метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(a *Adjuster) {
		a.metrics = m
	}
}

// WithTracer задаёт tracer; по умолчанию используется глобальный провайдер.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Adjuster) {
		a.tracer = tracer
	}
}

// Adjuster атомарно списывает остатки нескольких товаров.
type Adjuster struct {
	products domain.ProductRepository
	tx       domain.Transactor
	metrics  *metrics.ShopMetrics
	tracer   trace.Tracer
	logger   *log.Entry
}

// NewAdjuster создаёт Adjuster поверх репозитория товаров и Transactor.
func NewAdjuster(products domain.ProductRepository, tx domain.Transactor, opts ...Option) *Adjuster {
	a := &Adjuster{
		products: products,
		tx:       tx,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.WithField("component", "inventory-adjuster")
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(tracerName)
	}
	return a
}

// Adjust проверяет, что все товары существуют и остатков хватает, и списывает
// их одной атомарной операцией. Возвращает по снимку товара на каждую строку
// запроса в исходном порядке. При ошибке ни один остаток не меняется.
//
// Ошибки: ErrItemsRequired, ErrInvalidQuantity, ErrProductNotFound,
// *InsufficientStockError (errors.Is(err, ErrInsufficientStock)).
func (a *Adjuster) Adjust(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.Product, error) {
	ctx, span := a.tracer.Start(ctx, "inventory.Adjust", trace.WithAttributes(
		attribute.Int("inventory.lines", len(adjustments)),
	))
	defer span.End()

	started := time.Now()
	updated, err := a.adjust(ctx, adjustments)

	units := totalUnits(adjustments)
	a.metrics.RecordInventoryAdjustment(err, units)

	entry := a.logger.WithFields(log.Fields{
		"lines":    len(adjustments),
		"units":    units,
		"duration": time.Since(started).String(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, metrics.Reason(err))
		a.logRejection(entry, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("inventory.units", units))
	entry.Debug("stock adjusted")
	return updated, nil
}

func (a *Adjuster) adjust(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.Product, error) {
	if err := domain.ValidateAdjustments(adjustments); err != nil {
		return nil, err
	}

	var updated []domain.Product
	err := a.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = a.products.UpdateQuantity(ctx, adjustments)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (a *Adjuster) logRejection(entry *log.Entry, err error) {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		entry.WithFields(log.Fields{
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}).Info("stock adjustment rejected: insufficient stock")
	case metrics.Reason(err) == metrics.ReasonInternal:
		entry.WithError(err).Error("stock adjustment failed")
	default:
		entry.WithError(err).Info("stock adjustment rejected")
	}
}

func totalUnits(adjustments []domain.StockAdjustment) int64 {
	var units int64
	for _, adj := range adjustments {
		if adj.Quantity > 0 {
			units += adj.Quantity
		}
	}
	return units
}
