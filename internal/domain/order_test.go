package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var placedAt = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// twoLineOrder: 3 x 10.00 + 2 x 2.50 = 35.00.
func twoLineOrder() domain.Order {
	return domain.Order{
		ID:         "ord-a",
		CustomerID: "cus-a",
		Lines: []domain.OrderLine{
			{ID: "ln-1", ProductID: "prd-1", Price: dec("10.00"), Quantity: 3, CreatedAt: placedAt},
			{ID: "ln-2", ProductID: "prd-2", Price: dec("2.50"), Quantity: 2, CreatedAt: placedAt},
		},
		CreatedAt: placedAt,
		UpdatedAt: placedAt,
	}
}

func TestOrderLine_Subtotal(t *testing.T) {
	line := domain.OrderLine{Price: dec("19.99"), Quantity: 3}
	if got := line.Subtotal(); !got.Equal(dec("59.97")) {
		t.Errorf("Subtotal() = %s, want 59.97", got)
	}
}

func TestOrder_Total(t *testing.T) {
	order := twoLineOrder()
	if got := order.Total(); !got.Equal(dec("35")) {
		t.Errorf("Total() = %s, want 35", got)
	}

	empty := domain.Order{}
	if got := empty.Total(); !got.IsZero() {
		t.Errorf("empty order total = %s, want 0", got)
	}
}

func TestOrder_ValidateInvariants(t *testing.T) {
	tests := map[string]struct {
		edit func(o *domain.Order)
		want []error
	}{
		"valid": {
			edit: func(*domain.Order) {},
		},
		"missing customer": {
			edit: func(o *domain.Order) { o.CustomerID = "" },
			want: []error{domain.ErrCustomerRequired},
		},
		"no lines": {
			edit: func(o *domain.Order) { o.Lines = nil },
			want: []error{domain.ErrItemsRequired},
		},
		"zero quantity": {
			edit: func(o *domain.Order) { o.Lines[0].Quantity = 0 },
			want: []error{domain.ErrInvalidQuantity},
		},
		"negative price and missing customer": {
			edit: func(o *domain.Order) {
				o.CustomerID = ""
				o.Lines[1].Price = dec("-5")
			},
			want: []error{domain.ErrCustomerRequired, domain.ErrProductPriceInvalid},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			order := twoLineOrder()
			tc.edit(&order)

			got := order.ValidateInvariants()
			if len(got) != len(tc.want) {
				t.Fatalf("ValidateInvariants() = %v, want %v", got, tc.want)
			}
			for i := range got {
				if !errors.Is(got[i], tc.want[i]) {
					t.Errorf("error %d = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}
