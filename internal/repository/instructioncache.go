package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// CachedCompanyRepository memoizes chatbot instructions. The instruction is
// read on every bot turn and changes rarely; a short TTL keeps edits visible
// within a minute without a round trip per message.
type CachedCompanyRepository struct {
	inner CompanyRepository
	cache *gocache.Cache
}

func NewCachedCompanyRepository(inner CompanyRepository, ttl time.Duration) *CachedCompanyRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedCompanyRepository{
		inner: inner,
		cache: gocache.New(ttl, 5*time.Minute),
	}
}

func (r *CachedCompanyRepository) GetInstruction(ctx context.Context, companyID uuid.UUID) (string, error) {
	key := companyID.String()
	if v, ok := r.cache.Get(key); ok {
		return v.(string), nil
	}

	instruction, err := r.inner.GetInstruction(ctx, companyID)
	if err != nil {
		// Not-found and storage errors are never cached; the next call
		// retries the source.
		return "", err
	}
	r.cache.Set(key, instruction, gocache.DefaultExpiration)
	return instruction, nil
}
