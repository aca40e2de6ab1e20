package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего имени клиента.
	ErrCustomerNameRequired = errors.New("customer name is required")
	// Ошибка некорректного email клиента.
	ErrCustomerEmailInvalid = errors.New("customer email is invalid")
	// ErrCustomerAlreadyExists возвращается, если email уже занят другим клиентом.
	ErrCustomerAlreadyExists = errors.New("customer already exists")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// ErrCustomerNotFound возвращается, если клиент не найден в репозитории.
	ErrCustomerNotFound = errors.New("customer not found")

	// Ошибка отсутствующего названия товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка отрицательной цены или цены с более чем двумя знаками после запятой.
	ErrProductPriceInvalid = errors.New("product price must be in [0, 1000000) with at most 2 decimal places")
	// Ошибка отрицательного остатка на складе.
	ErrProductQuantityNegative = errors.New("product quantity must be non-negative")
	// ErrProductAlreadyExists возвращается, если товар с таким названием уже есть.
	ErrProductAlreadyExists = errors.New("product already exists")
	// ErrProductNotFound возвращается, если хотя бы один из запрошенных товаров не найден.
	ErrProductNotFound = errors.New("one or more products not found")

	// Ошибка отсутствия хотя бы одной позиции в запросе.
	ErrItemsRequired = errors.New("at least one product is required")
	// ErrInvalidQuantity возвращается для позиций с количеством <= 0.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrInsufficientStock — на складе меньше единиц товара, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists возвращается при повторной вставке заказа с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")

	// ErrOutboxMessageNotFound — сообщение outbox с указанным ID отсутствует.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
)

// InsufficientStockError описывает позицию, для которой не хватило остатка.
// Совпадает с ErrInsufficientStock через errors.Is.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int64
	Available   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q", e.ProductName)
}

// Is позволяет сравнивать ошибку с ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// IsNotFound проверяет, относится ли ошибка к отсутствующим сущностям.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}
