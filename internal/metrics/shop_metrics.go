package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Значения label reason/result.
const (
	ResultOK                = "ok"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonNotFound          = "not_found"
	ReasonAlreadyExists     = "already_exists"
	ReasonInvalid           = "invalid"
	ReasonInternal          = "internal"
)

// ShopMetrics содержит бизнес-метрики магазина.
// Методы безопасно вызывать на nil-получателе: метрики просто не пишутся.
type ShopMetrics struct {
	ordersPlaced        prometheus.Counter
	orderFailures       *prometheus.CounterVec
	placementDuration   prometheus.Histogram
	inventoryAdjustment *prometheus.CounterVec
	unitsDecremented    prometheus.Counter
	customersRegistered prometheus.Counter
	registrationsFailed *prometheus.CounterVec
	productsCreated     prometheus.Counter
}

// NewShopMetrics создаёт метрики в DefaultRegisterer.
func NewShopMetrics() *ShopMetrics {
	return NewShopMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewShopMetricsWithRegisterer создаёт метрики в указанном registerer.
func NewShopMetricsWithRegisterer(registerer prometheus.Registerer) *ShopMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ShopMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_placed_total",
			Help: "Total number of orders placed successfully",
		}),
		orderFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_failures_total",
			Help: "Total number of rejected order placements by reason",
		}, []string{"reason"}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_order_placement_duration_seconds",
			Help:    "Duration of order placement including stock adjustment",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		inventoryAdjustment: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_inventory_adjustments_total",
			Help: "Total number of stock adjustment requests by result",
		}, []string{"result"}),
		unitsDecremented: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_inventory_units_decremented_total",
			Help: "Total number of stock units decremented",
		}),
		customersRegistered: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_customers_registered_total",
			Help: "Total number of customers registered",
		}),
		registrationsFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_customer_registration_failures_total",
			Help: "Total number of rejected customer registrations by reason",
		}, []string{"reason"}),
		productsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_products_created_total",
			Help: "Total number of products added to the catalog",
		}),
	}
}

// Reason сводит ошибку домена к значению label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, domain.ErrInsufficientStock):
		return ReasonInsufficientStock
	case domain.IsNotFound(err):
		return ReasonNotFound
	case errors.Is(err, domain.ErrCustomerAlreadyExists), errors.Is(err, domain.ErrProductAlreadyExists):
		return ReasonAlreadyExists
	case isValidationError(err):
		return ReasonInvalid
	default:
		return ReasonInternal
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		domain.ErrItemsRequired,
		domain.ErrInvalidQuantity,
		domain.ErrCustomerRequired,
		domain.ErrCustomerNameRequired,
		domain.ErrCustomerEmailInvalid,
		domain.ErrProductNameRequired,
		domain.ErrProductPriceInvalid,
		domain.ErrProductQuantityNegative,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RecordOrderPlaced фиксирует успешное оформление заказа.
func (m *ShopMetrics) RecordOrderPlaced(duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
	m.placementDuration.Observe(duration.Seconds())
}

// RecordOrderFailed фиксирует отказ в оформлении заказа.
func (m *ShopMetrics) RecordOrderFailed(err error) {
	if m == nil {
		return
	}
	m.orderFailures.WithLabelValues(Reason(err)).Inc()
}

// RecordInventoryAdjustment фиксирует результат списания; units учитывается только при успехе.
func (m *ShopMetrics) RecordInventoryAdjustment(err error, units int64) {
	if m == nil {
		return
	}
	m.inventoryAdjustment.WithLabelValues(Reason(err)).Inc()
	if err == nil && units > 0 {
		m.unitsDecremented.Add(float64(units))
	}
}

// RecordCustomerRegistration фиксирует результат регистрации клиента.
func (m *ShopMetrics) RecordCustomerRegistration(err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.customersRegistered.Inc()
		return
	}
	m.registrationsFailed.WithLabelValues(Reason(err)).Inc()
}

// RecordProductCreated увеличивает счётчик добавленных товаров.
func (m *ShopMetrics) RecordProductCreated() {
	if m == nil {
		return
	}
	m.productsCreated.Inc()
}
