package httpsvc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/customer"
	httpsvc "github.com/vladislavdragonenkov/storefront/internal/service/http"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type testServer struct {
	handler  http.Handler
	registry *prometheus.Registry
	logHook  *test.Hook
	health   *health.Handler
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	shop := metrics.NewShopMetricsWithRegisterer(reg)
	logger, hook := test.NewNullLogger()
	entry := log.NewEntry(logger)

	customers := memory.NewCustomerRepository()
	products := memory.NewProductRepository()
	orders := memory.NewOrderRepository()
	tx := memory.NewTransactor()

	orderSvc := order.NewService(order.Dependencies{
		Customers: customers,
		Products:  products,
		Orders:    orders,
		Outbox:    memory.NewOutboxRepository(),
		Tx:        tx,
		Inventory: inventory.NewAdjuster(products, tx, inventory.WithMetrics(shop), inventory.WithLogger(entry)),
		Metrics:   shop,
		Logger:    entry,
	})

	healthHandler := health.NewHandler("test")
	return testServer{
		handler: httpsvc.NewRouter(httpsvc.Dependencies{
			Customers: customer.NewService(customers, shop, entry),
			Catalog:   catalog.NewService(products, shop, entry),
			Orders:    orderSvc,
			Health:    healthHandler,
			Gatherer:  reg,
			Metrics:   metrics.NewHTTPMetrics(reg),
			Logger:    entry,
		}),
		registry: reg,
		logHook:  hook,
		health:   healthHandler,
	}
}

func (s testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

type customerBody struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type productBody struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

type orderBody struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customer_id"`
	Customer   *customerBody `json:"customer"`
	Products   []struct {
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
		Quantity  int64  `json:"quantity"`
		Subtotal  string `json:"subtotal"`
	} `json:"products"`
	Total string `json:"total"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details *struct {
		ProductID string `json:"product_id"`
		Requested int64  `json:"requested"`
		Available int64  `json:"available"`
	} `json:"details"`
}

func (s testServer) createCustomer(t *testing.T, name, email string) customerBody {
	t.Helper()
	w := s.do(t, http.MethodPost, "/customers", map[string]string{"name": name, "email": email})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[customerBody](t, w)
}

func (s testServer) createProduct(t *testing.T, body string) productBody {
	t.Helper()
	w := s.do(t, http.MethodPost, "/products", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[productBody](t, w)
}

func TestCustomers(t *testing.T) {
	s := newTestServer(t)

	created := s.createCustomer(t, "Ann", " Ann@Example.com ")
	assert.Equal(t, "ann@example.com", created.Email)

	w := s.do(t, http.MethodGet, "/customers/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created, decode[customerBody](t, w))

	w = s.do(t, http.MethodPost, "/customers", map[string]string{"name": "Other", "email": "ann@example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_exists", decode[errorBody](t, w).Error)

	w = s.do(t, http.MethodPost, "/customers", map[string]string{"name": "Bad", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/customers/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProducts(t *testing.T) {
	s := newTestServer(t)

	fromString := s.createProduct(t, `{"name":"Widget","price":"2.50","quantity":10}`)
	assert.Equal(t, "2.50", fromString.Price)
	fromNumber := s.createProduct(t, `{"name":"Gadget","price":10,"quantity":3}`)
	assert.Equal(t, "10.00", fromNumber.Price)

	w := s.do(t, http.MethodGet, "/products/"+fromString.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fromString, decode[productBody](t, w))

	w = s.do(t, http.MethodGet, "/products?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items []productBody `json:"items"`
		Count int           `json:"count"`
	}](t, w)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Gadget", list.Items[0].Name)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "duplicate name", body: `{"name":"Widget","price":"1.00","quantity":1}`, want: http.StatusConflict},
		{name: "three decimals", body: `{"name":"Thing","price":"1.005","quantity":1}`, want: http.StatusBadRequest},
		{name: "price too large to store", body: `{"name":"Thing","price":"1000000.00","quantity":1}`, want: http.StatusBadRequest},
		{name: "negative quantity", body: `{"name":"Thing","price":"1.00","quantity":-1}`, want: http.StatusBadRequest},
		{name: "missing price", body: `{"name":"Thing","quantity":1}`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"name":"Thing","price":"1","quantity":1,"color":"red"}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{"name":`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(t, http.MethodPost, "/products", tt.body).Code)
		})
	}

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/products?limit=abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/products/missing", nil).Code)
}

func TestPlaceOrder(t *testing.T) {
	s := newTestServer(t)
	c := s.createCustomer(t, "Ann", "ann@example.com")
	widget := s.createProduct(t, `{"name":"Widget","price":"2.50","quantity":10}`)
	gadget := s.createProduct(t, `{"name":"Gadget","price":"10.00","quantity":3}`)

	w := s.do(t, http.MethodPost, "/orders", map[string]any{
		"customer_id": c.ID,
		"products": []map[string]any{
			{"id": widget.ID, "quantity": 2},
			{"id": gadget.ID, "quantity": 3},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	placed := decode[orderBody](t, w)
	assert.Equal(t, "/orders/"+placed.ID, w.Header().Get("Location"))
	assert.Equal(t, "35.00", placed.Total)
	require.Len(t, placed.Products, 2)
	assert.Equal(t, "5.00", placed.Products[0].Subtotal)
	require.NotNil(t, placed.Customer)
	assert.Equal(t, "ann@example.com", placed.Customer.Email)

	w = s.do(t, http.MethodGet, "/products/"+gadget.ID, nil)
	assert.Equal(t, int64(0), decode[productBody](t, w).Quantity)

	w = s.do(t, http.MethodGet, "/orders/"+placed.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "35.00", decode[orderBody](t, w).Total)

	w = s.do(t, http.MethodGet, "/customers/"+c.ID+"/orders?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), placed.ID)
}

func TestPlaceOrder_Errors(t *testing.T) {
	s := newTestServer(t)
	c := s.createCustomer(t, "Ann", "ann@example.com")
	widget := s.createProduct(t, `{"name":"Widget","price":"2.50","quantity":5}`)

	line := func(id string, qty int64) map[string]any {
		return map[string]any{"customer_id": c.ID, "products": []map[string]any{{"id": id, "quantity": qty}}}
	}

	w := s.do(t, http.MethodPost, "/orders", line(widget.ID, 9))
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "insufficient_stock", body.Error)
	assert.Equal(t, `insufficient stock for product "Widget"`, body.Message)
	require.NotNil(t, body.Details)
	assert.Equal(t, int64(5), body.Details.Available)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/orders", line("missing", 1)).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/orders", line(widget.ID, 0)).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/orders", map[string]any{"customer_id": c.ID}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/orders", map[string]any{
		"customer_id": "nobody",
		"products":    []map[string]any{{"id": widget.ID, "quantity": 1}},
	}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/orders", "").Code)

	w = s.do(t, http.MethodGet, "/products/"+widget.ID, nil)
	assert.Equal(t, int64(5), decode[productBody](t, w).Quantity)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/orders/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/customers/nobody/orders", nil).Code)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.createCustomer(t, "Ann", "ann@example.com")

	w := s.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.health.RegisterChecker("storage", health.NewFuncChecker("storage", func(context.Context) error {
		return errors.New("down")
	}))
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/readyz", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/healthz", nil).Code)

	w = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "storefront_customers_registered_total 1")

	count, err := testutil.GatherAndCount(s.registry, "storefront_http_requests_total")
	require.NoError(t, err)
	assert.Positive(t, count)
	assert.Contains(t, w.Body.String(), `route="/customers`)
}

func TestAccessLog(t *testing.T) {
	s := newTestServer(t)
	s.logHook.Reset()

	s.do(t, http.MethodGet, "/customers/missing", nil)

	var found bool
	for _, entry := range s.logHook.AllEntries() {
		if entry.Message != "http request" {
			continue
		}
		found = true
		assert.Equal(t, "/customers/{id}", entry.Data["route"])
		assert.Equal(t, http.StatusNotFound, entry.Data["status"])
		assert.NotEmpty(t, entry.Data["request_id"])
	}
	assert.True(t, found, "access log entry not written")
}

func TestUnsupportedContentType(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/customers", strings.NewReader(`name=Ann`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}
