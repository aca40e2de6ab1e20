package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Customer — покупатель магазина. Email уникален среди всех клиентов.
type Customer struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail приводит email к каноническому виду для проверки уникальности.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateInvariants проверяет поля клиента.
func (c *Customer) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if !validEmail(c.Email) {
		errs = append(errs, ErrCustomerEmailInvalid)
	}

	return errs
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// Отбрасываем формы вида "Name <a@b>": ожидаем голый адрес.
	return addr.Address == email
}
