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

type IntegrationStore struct {
	pool *pgxpool.Pool
}

func NewIntegrationStore(pool *pgxpool.Pool) *IntegrationStore {
	return &IntegrationStore{pool: pool}
}

func (s *IntegrationStore) GetByCompany(ctx context.Context, companyID uuid.UUID) (*models.WhatsAppIntegration, error) {
	const op = "integration.GetByCompany"

	var integ models.WhatsAppIntegration
	err := s.pool.QueryRow(ctx, `
		SELECT company_id, phone_number_id, access_token
		FROM whatsapp_integrations
		WHERE company_id = $1`,
		companyID).Scan(&integ.CompanyID, &integ.PhoneNumberID, &integ.AccessToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(op, fmt.Sprintf("no WhatsApp integration for company %s", companyID))
		}
		return nil, apperr.Storage(op, err)
	}
	return &integ, nil
}

// GetByPhoneNumberID resolves which company a webhook envelope belongs to.
// The provider only tells us the receiving phone_number_id.
func (s *IntegrationStore) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.WhatsAppIntegration, error) {
	const op = "integration.GetByPhoneNumberID"

	var integ models.WhatsAppIntegration
	err := s.pool.QueryRow(ctx, `
		SELECT company_id, phone_number_id, access_token
		FROM whatsapp_integrations
		WHERE phone_number_id = $1`,
		phoneNumberID).Scan(&integ.CompanyID, &integ.PhoneNumberID, &integ.AccessToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(op, fmt.Sprintf("no integration for phone_number_id %s", phoneNumberID))
		}
		return nil, apperr.Storage(op, err)
	}
	return &integ, nil
}
