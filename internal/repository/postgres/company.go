package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amara-dev/chatflow/internal/apperr"
)

type CompanyStore struct {
	pool *pgxpool.Pool
}

func NewCompanyStore(pool *pgxpool.Pool) *CompanyStore {
	return &CompanyStore{pool: pool}
}

// GetInstruction returns the company's chatbot instruction. Empty means
// "none configured"; the generator applies its fallback. An unknown
// company id is NotFound so callers can distinguish the two.
func (s *CompanyStore) GetInstruction(ctx context.Context, companyID uuid.UUID) (string, error) {
	const op = "company.GetInstruction"

	var instruction string
	err := s.pool.QueryRow(ctx, `
		SELECT chatbot_instruction
		FROM companies
		WHERE id = $1`,
		companyID).Scan(&instruction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.NotFound(op, fmt.Sprintf("company %s not found", companyID))
		}
		return "", apperr.Storage(op, err)
	}
	return instruction, nil
}
