package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLine — позиция заказа. Цена фиксируется в момент оформления
// и дальше не зависит от текущей цены товара.
type OrderLine struct {
	ID        string
	OrderID   string
	ProductID string
	Price     decimal.Decimal
	Quantity  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subtotal возвращает стоимость позиции: price * quantity.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(l.Quantity))
}

// Order агрегирует позиции заказа одного клиента.
type Order struct {
	ID         string
	CustomerID string
	// Customer заполняется сервисом заказов при чтении, в хранилище не пишется.
	Customer  *Customer
	Lines     []OrderLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total возвращает сумму заказа по всем позициям.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		if !ValidPrice(line.Price) {
			errs = append(errs, ErrProductPriceInvalid)
		}
	}

	return errs
}
