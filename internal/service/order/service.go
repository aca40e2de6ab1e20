// Package order оформляет заказы: проверяет клиента, списывает остатки,
// фиксирует цены позиций и сохраняет заказ вместе с outbox-событием.
package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/storefront/internal/service/order"

// DefaultListLimit ограничивает ListByCustomer, когда limit не задан.
const DefaultListLimit = 50

// StockAdjuster атомарно списывает остатки (реализуется inventory.Adjuster).
type StockAdjuster interface {
	Adjust(ctx context.Context, adjustments []domain.StockAdjustment) ([]domain.Product, error)
}

// Dependencies перечисляет зависимости сервиса заказов.
type Dependencies struct {
	Customers domain.CustomerRepository
	Products  domain.ProductRepository
	Orders    domain.OrderRepository
	Outbox    domain.OutboxRepository
	Tx        domain.Transactor
	Inventory StockAdjuster
	Metrics   *metrics.ShopMetrics
	Logger    *log.Entry
	Tracer    trace.Tracer
}

// PlaceOrderInput — запрос на оформление заказа.
type PlaceOrderInput struct {
	CustomerID string
	Lines      []domain.StockAdjustment
}

// Service — оформление и чтение заказов.
type Service struct {
	customers domain.CustomerRepository
	products  domain.ProductRepository
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	tx        domain.Transactor
	inventory StockAdjuster
	metrics   *metrics.ShopMetrics
	logger    *log.Entry
	tracer    trace.Tracer
	now       func() time.Time
}

// NewService создаёт сервис заказов. Outbox, Metrics, Logger и Tracer опциональны.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Service{
		customers: deps.Customers,
		products:  deps.Products,
		orders:    deps.Orders,
		outbox:    deps.Outbox,
		tx:        deps.Tx,
		inventory: deps.Inventory,
		metrics:   deps.Metrics,
		logger:    logger,
		tracer:    tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Place оформляет заказ. Всё, что пишется (остатки, заказ, outbox), фиксируется
// одной единицей работы; при любой ошибке ничего не меняется.
func (s *Service) Place(ctx context.Context, in PlaceOrderInput) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Place", trace.WithAttributes(
		attribute.String("order.customer_id", in.CustomerID),
		attribute.Int("order.lines", len(in.Lines)),
	))
	defer span.End()

	started := time.Now()
	order, err := s.place(ctx, in)
	if err != nil {
		s.metrics.RecordOrderFailed(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, metrics.Reason(err))

		entry := s.logger.WithError(err).WithField("customer_id", in.CustomerID)
		if metrics.Reason(err) == metrics.ReasonInternal {
			entry.Error("order placement failed")
		} else {
			entry.Info("order rejected")
		}
		return domain.Order{}, err
	}

	s.metrics.RecordOrderPlaced(time.Since(started))
	span.SetAttributes(attribute.String("order.id", order.ID))
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"lines":       len(order.Lines),
		"total":       order.Total().StringFixed(domain.PriceScale),
	}).Info("order placed")
	return order, nil
}

func (s *Service) place(ctx context.Context, in PlaceOrderInput) (domain.Order, error) {
	customerID := strings.TrimSpace(in.CustomerID)
	if customerID == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}
	if err := domain.ValidateAdjustments(in.Lines); err != nil {
		return domain.Order{}, err
	}

	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return domain.Order{}, err
	}

	ids := domain.DistinctProductIDs(in.Lines)
	found, err := s.products.FindAllByID(ctx, ids)
	if err != nil {
		return domain.Order{}, fmt.Errorf("resolve products: %w", err)
	}
	if len(found) < len(ids) {
		return domain.Order{}, domain.ErrProductNotFound
	}

	var order domain.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		updated, err := s.inventory.Adjust(ctx, in.Lines)
		if err != nil {
			return err
		}

		order = s.assemble(customerID, in.Lines, updated)
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return domain.JoinErrors(errs)
		}
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		return s.enqueuePlaced(ctx, order)
	})
	if err != nil {
		return domain.Order{}, err
	}

	order.Customer = &customer
	return order, nil
}

// assemble строит агрегат заказа; цена позиции берётся из снимка товара,
// полученного при списании, и дальше от товара не зависит.
func (s *Service) assemble(customerID string, lines []domain.StockAdjustment, updated []domain.Product) domain.Order {
	now := s.now()
	order := domain.Order{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Lines:      make([]domain.OrderLine, 0, len(lines)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, line := range lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Price:     updated[i].Price,
			Quantity:  line.Quantity,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return order
}

func (s *Service) enqueuePlaced(ctx context.Context, order domain.Order) error {
	if s.outbox == nil {
		return nil
	}
	msg, err := domain.NewOrderPlacedMessage(order)
	if err != nil {
		return err
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue order placed event: %w", err)
	}
	return nil
}

// Get возвращает заказ с позициями и клиентом.
func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.attachCustomer(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListByCustomer возвращает заказы клиента, новые первыми; limit<=0 заменяется DefaultListLimit.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}

	orders, err := s.orders.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Customer = &customer
	}
	return orders, nil
}

// attachCustomer подставляет клиента; удалённый клиент (customer_id = NULL) не ошибка.
func (s *Service) attachCustomer(ctx context.Context, order *domain.Order) error {
	if order.CustomerID == "" {
		return nil
	}
	customer, err := s.customers.Get(ctx, order.CustomerID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("load order customer: %w", err)
	}
	order.Customer = &customer
	return nil
}
