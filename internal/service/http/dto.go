package httpsvc

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type registerCustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type customerResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toCustomerResponse(c domain.Customer) customerResponse {
	return customerResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// createProductRequest принимает цену и строкой ("9.99"), и числом (9.99).
type createProductRequest struct {
	Name     string           `json:"name"`
	Price    *decimal.Decimal `json:"price"`
	Quantity *int64           `json:"quantity"`
}

type productResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Quantity  int64     `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price.StringFixed(domain.PriceScale),
		Quantity:  p.Quantity,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type orderLineRequest struct {
	ID       string `json:"id"`
	Quantity int64  `json:"quantity"`
}

type placeOrderRequest struct {
	CustomerID string             `json:"customer_id"`
	Products   []orderLineRequest `json:"products"`
}

func (r placeOrderRequest) adjustments() []domain.StockAdjustment {
	lines := make([]domain.StockAdjustment, 0, len(r.Products))
	for _, p := range r.Products {
		lines = append(lines, domain.StockAdjustment{ProductID: p.ID, Quantity: p.Quantity})
	}
	return lines
}

type orderLineResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id,omitempty"`
	Price     string `json:"price"`
	Quantity  int64  `json:"quantity"`
	Subtotal  string `json:"subtotal"`
}

type orderResponse struct {
	ID         string              `json:"id"`
	CustomerID string              `json:"customer_id,omitempty"`
	Customer   *customerResponse   `json:"customer,omitempty"`
	Products   []orderLineResponse `json:"products"`
	Total      string              `json:"total"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Products:   make([]orderLineResponse, 0, len(o.Lines)),
		Total:      o.Total().StringFixed(domain.PriceScale),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	if o.Customer != nil {
		c := toCustomerResponse(*o.Customer)
		resp.Customer = &c
	}
	for _, line := range o.Lines {
		resp.Products = append(resp.Products, orderLineResponse{
			ID:        line.ID,
			ProductID: line.ProductID,
			Price:     line.Price.StringFixed(domain.PriceScale),
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal().StringFixed(domain.PriceScale),
		})
	}
	return resp
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newListResponse[S any, T any](items []S, convert func(S) T) listResponse[T] {
	out := lo.Map(items, func(item S, _ int) T { return convert(item) })
	return listResponse[T]{Items: out, Count: len(out)}
}
