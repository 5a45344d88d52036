package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amara-dev/chatflow/internal/apperr"
	"github.com/amara-dev/chatflow/internal/models"
)

type CustomerStore struct {
	pool *pgxpool.Pool
}

func NewCustomerStore(pool *pgxpool.Pool) *CustomerStore {
	return &CustomerStore{pool: pool}
}

const customerColumns = `id, company_id, name, phone, email, created_at`

func scanCustomer(row pgx.Row) (*models.Customer, error) {
	var c models.Customer
	err := row.Scan(
		&c.ID,
		&c.CompanyID,
		&c.Name,
		&c.Phone,
		&c.Email,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateByPhone resolves a customer by (company, phone), provisioning
// one for an unknown number. WhatsApp ingress has no identity beyond the
// sender's phone, so this is the entry point for new customers there.
// A name is recorded only at creation; later envelopes don't overwrite it.
func (s *CustomerStore) GetOrCreateByPhone(ctx context.Context, companyID uuid.UUID, phone, name string) (*models.Customer, error) {
	const op = "customer.GetOrCreateByPhone"

	if phone == "" {
		return nil, apperr.Validation(op, "phone is required")
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE company_id = $1 AND phone = $2
		LIMIT 1`,
		companyID, phone)

	customer, err := scanCustomer(row)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Storage(op, err)
	}

	row = s.pool.QueryRow(ctx, `
		INSERT INTO customers (id, company_id, name, phone)
		VALUES ($1, $2, $3, $4)
		RETURNING `+customerColumns,
		uuid.New(), companyID, name, phone)

	customer, err = scanCustomer(row)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return customer, nil
}

func (s *CustomerStore) GetByID(ctx context.Context, customerID uuid.UUID) (*models.Customer, error) {
	const op = "customer.GetByID"

	row := s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1`,
		customerID)

	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(op, fmt.Sprintf("customer %s not found", customerID))
		}
		return nil, apperr.Storage(op, err)
	}
	return customer, nil
}
