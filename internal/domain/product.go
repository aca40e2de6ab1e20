package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale — количество знаков после запятой в ценах.
const PriceScale = 2

// Product — товар каталога с текущим остатком на складе.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Quantity int64
	// CreatedAt и UpdatedAt проставляет сервер, клиент их не задаёт.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет поля товара и возвращает список замечаний.
func (p *Product) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if !ValidPrice(p.Price) {
		errs = append(errs, ErrProductPriceInvalid)
	}
	if p.Quantity < 0 {
		errs = append(errs, ErrProductQuantityNegative)
	}

	return errs
}

// MaxPrice — первая цена, не помещающаяся в NUMERIC(8,2).
var MaxPrice = decimal.New(1, 6)

// ValidPrice сообщает, что цена неотрицательна, меньше MaxPrice и укладывается
// в два знака после запятой.
func ValidPrice(price decimal.Decimal) bool {
	if price.IsNegative() || price.GreaterThanOrEqual(MaxPrice) {
		return false
	}
	return price.Equal(price.Round(PriceScale))
}

// StockAdjustment — одна строка запроса на списание остатка.
type StockAdjustment struct {
	ProductID string
	Quantity  int64
}

// ValidateAdjustments проверяет форму запроса, не обращаясь к хранилищу.
func ValidateAdjustments(adjustments []StockAdjustment) error {
	if len(adjustments) == 0 {
		return ErrItemsRequired
	}
	for idx, adj := range adjustments {
		if adj.Quantity <= 0 {
			return fmt.Errorf("products[%d]: %w", idx, ErrInvalidQuantity)
		}
	}
	return nil
}

// DistinctProductIDs возвращает уникальные ID товаров в порядке первого появления.
func DistinctProductIDs(adjustments []StockAdjustment) []string {
	seen := make(map[string]struct{}, len(adjustments))
	ids := make([]string, 0, len(adjustments))
	for _, adj := range adjustments {
		if _, ok := seen[adj.ProductID]; ok {
			continue
		}
		seen[adj.ProductID] = struct{}{}
		ids = append(ids, adj.ProductID)
	}
	return ids
}

// ApplyStockAdjustments применяет списания к снимку остатков.
//
// Строки обрабатываются последовательно по рабочей копии, поэтому повторяющиеся
// ID проверяются по суммарному количеству. Исходная карта не изменяется.
// Возвращается по одному снимку товара на каждую строку запроса (в порядке запроса)
// и итоговое состояние всех затронутых товаров. При любой ошибке результат пустой.
func ApplyStockAdjustments(
	stock map[string]Product,
	adjustments []StockAdjustment,
	now time.Time,
) ([]Product, map[string]Product, error) {
	if err := ValidateAdjustments(adjustments); err != nil {
		return nil, nil, err
	}

	// Сначала все ID должны найтись, и только потом проверяются остатки.
	for _, id := range DistinctProductIDs(adjustments) {
		if _, ok := stock[id]; !ok {
			return nil, nil, ErrProductNotFound
		}
	}

	working := make(map[string]Product, len(stock))
	for id, product := range stock {
		working[id] = product
	}

	updated := make([]Product, 0, len(adjustments))
	for _, adj := range adjustments {
		product := working[adj.ProductID]
		if product.Quantity < adj.Quantity {
			return nil, nil, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   adj.Quantity,
				Available:   product.Quantity,
			}
		}

		product.Quantity -= adj.Quantity
		product.UpdatedAt = now
		working[adj.ProductID] = product
		updated = append(updated, product)
	}

	final := make(map[string]Product, len(working))
	for _, product := range updated {
		final[product.ID] = working[product.ID]
	}

	return updated, final, nil
}

// JoinErrors склеивает список замечаний валидации в одну ошибку.
func JoinErrors(errs []error) error {
	return errors.Join(errs...)
}
