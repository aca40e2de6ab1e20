// Package httpsvc реализует HTTP/JSON API магазина.
package httpsvc

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/customer"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
)

const requestTimeout = 30 * time.Second

// CustomerService описывает операции с клиентами, нужные API.
type CustomerService interface {
	Register(ctx context.Context, in customer.RegisterInput) (domain.Customer, error)
	Get(ctx context.Context, id string) (domain.Customer, error)
}

// CatalogService описывает операции с каталогом, нужные API.
type CatalogService interface {
	Create(ctx context.Context, in catalog.CreateProductInput) (domain.Product, error)
	Get(ctx context.Context, id string) (domain.Product, error)
	List(ctx context.Context, limit int) ([]domain.Product, error)
}

// OrderService описывает операции с заказами, нужные API.
type OrderService interface {
	Place(ctx context.Context, in order.PlaceOrderInput) (domain.Order, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
}

// Dependencies собирает всё, что нужно роутеру.
type Dependencies struct {
	Customers CustomerService
	Catalog   CatalogService
	Orders    OrderService
	Health    *health.Handler
	// Gatherer отдаётся на /metrics; при nil используется prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.HTTPMetrics
	Logger   *log.Entry
}

// Handler обслуживает HTTP-запросы API.
type Handler struct {
	customers CustomerService
	catalog   CatalogService
	orders    OrderService
	logger    *log.Entry
}

// NewRouter собирает chi-роутер со всеми маршрутами и middleware.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	healthHandler := deps.Health
	if healthHandler == nil {
		healthHandler = health.NewHandler("")
	}

	h := &Handler{
		customers: deps.Customers,
		catalog:   deps.Catalog,
		orders:    deps.Orders,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger, deps.Metrics))
	r.Use(recoverer(logger))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Method(http.MethodGet, "/healthz", healthHandler)
	r.Get("/readyz", healthHandler.ReadinessHandler)
	r.Get("/livez", health.LivenessHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(middleware.AllowContentType("application/json"))

		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.registerCustomer)
			r.Get("/{id}", h.getCustomer)
			r.Get("/{id}/orders", h.listCustomerOrders)
		})
		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.createProduct)
			r.Get("/", h.listProducts)
			r.Get("/{id}", h.getProduct)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.placeOrder)
			r.Get("/{id}", h.getOrder)
		})
	})

	return otelhttp.NewHandler(r, "storefront.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			switch r.URL.Path {
			case "/metrics", "/healthz", "/readyz", "/livez":
				return false
			}
			return true
		}),
	)
}
