// Package customer регистрирует покупателей магазина.
package customer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// RegisterInput — данные для регистрации клиента.
type RegisterInput struct {
	Name  string
	Email string
}

// Service регистрирует и ищет клиентов.
type Service struct {
	customers domain.CustomerRepository
	metrics   *metrics.ShopMetrics
	logger    *log.Entry
	now       func() time.Time
}

// NewService создаёт сервис клиентов. m и logger могут быть nil.
func NewService(customers domain.CustomerRepository, m *metrics.ShopMetrics, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "customer-service")
	}
	return &Service{
		customers: customers,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register создаёт клиента. Email нормализуется (trim + lower) и должен быть
// уникален: при совпадении возвращается ErrCustomerAlreadyExists.
func (s *Service) Register(ctx context.Context, in RegisterInput) (domain.Customer, error) {
	customer, err := s.register(ctx, in)
	s.metrics.RecordCustomerRegistration(err)
	if err != nil {
		entry := s.logger.WithError(err)
		if metrics.Reason(err) == metrics.ReasonInternal {
			entry.Error("customer registration failed")
		} else {
			entry.Debug("customer registration rejected")
		}
		return domain.Customer{}, err
	}

	s.logger.WithField("customer_id", customer.ID).Info("customer registered")
	return customer, nil
}

func (s *Service) register(ctx context.Context, in RegisterInput) (domain.Customer, error) {
	now := s.now()
	customer := domain.Customer{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Email:     domain.NormalizeEmail(in.Email),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errs := customer.ValidateInvariants(); len(errs) > 0 {
		return domain.Customer{}, domain.JoinErrors(errs)
	}

	_, err := s.customers.FindByEmail(ctx, customer.Email)
	switch {
	case err == nil:
		return domain.Customer{}, domain.ErrCustomerAlreadyExists
	case !errors.Is(err, domain.ErrCustomerNotFound):
		return domain.Customer{}, err
	}

	// Гонку двух регистраций разрешает уникальность email в хранилище.
	if err := s.customers.Create(ctx, customer); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

// Get возвращает клиента по ID или ErrCustomerNotFound.
func (s *Service) Get(ctx context.Context, id string) (domain.Customer, error) {
	return s.customers.Get(ctx, id)
}

// FindByEmail ищет клиента по email без учёта регистра.
func (s *Service) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	return s.customers.FindByEmail(ctx, email)
}
