package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/amara-dev/chatflow/internal/models"
)

// Every method takes a context: all of these do I/O, and a cancelled HTTP
// request should cancel its queries. Already-committed writes stand: the
// commit, not the HTTP response, is the durability boundary.

// ThreadRepository is the thread directory plus the handover state machine.
// Both mutate the same rows under the same invariant, so they share a store.
type ThreadRepository interface {
	// FindOrCreate returns the single active thread for the triple, creating
	// one (handler=bot, unassigned) if none exists. Atomic under concurrent
	// calls with identical arguments: the read-check-create runs in a
	// transaction holding a row lock, and a lost insert race is resolved by
	// re-reading, never by surfacing a duplicate-key error. The second
	// return reports whether a new thread was created.
	FindOrCreate(ctx context.Context, customerID, companyID uuid.UUID, channel models.Channel) (*models.Thread, bool, error)

	// GetByID returns the thread or a NotFound error.
	GetByID(ctx context.Context, threadID uuid.UUID) (*models.Thread, error)

	// Exists reports whether the thread id is known.
	Exists(ctx context.Context, threadID uuid.UUID) (bool, error)

	// Assign moves the thread to the given handler, stamping the
	// direction-appropriate handover timestamp. agentID is kept only when
	// handler is agent. Returns false when the thread is closed or unknown
	// (no row affected). Self-transitions are valid and restamp.
	Assign(ctx context.Context, threadID uuid.UUID, handler models.Handler, agentID *uuid.UUID) (bool, error)

	// MarkDone soft-closes the thread. Idempotent: a second call on an
	// already-closed thread returns false and leaves closed_at untouched.
	MarkDone(ctx context.Context, threadID uuid.UUID) (bool, error)

	// ListHeads returns the company's active threads with customer summary
	// and last-message preview, most recently active first. An empty channel
	// means no channel filter.
	ListHeads(ctx context.Context, companyID uuid.UUID, channel models.Channel) ([]models.ChatHead, error)
}

// MessageRepository is the append-only message log.
type MessageRepository interface {
	// Append inserts an immutable message and returns it with ID and
	// CreatedAt populated. An unknown thread id is a storage error (FK
	// violation), never a silent drop.
	Append(ctx context.Context, threadID uuid.UUID, role models.Role, content string) (*models.Message, error)

	// History returns a most-recent-first page ordered by (created_at, id)
	// with id as the tie-break. An unknown thread yields an empty page;
	// callers distinguish it via ThreadRepository.Exists.
	History(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]models.Message, error)

	// DeleteOlderThan purges messages older than the retention horizon and
	// returns the number of rows removed. Run by an offline sweep, never by
	// the online path.
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// CustomerRepository provisions and resolves customers.
type CustomerRepository interface {
	// GetOrCreateByPhone resolves a customer by (company, phone), creating
	// one when the phone is unknown. Used on WhatsApp ingress where the
	// phone number is the only identity we have.
	GetOrCreateByPhone(ctx context.Context, companyID uuid.UUID, phone, name string) (*models.Customer, error)

	GetByID(ctx context.Context, customerID uuid.UUID) (*models.Customer, error)
}

// CompanyRepository exposes the per-tenant responder configuration.
type CompanyRepository interface {
	// GetInstruction returns the company's chatbot instruction. Empty string
	// when the company has none configured (callers apply the fallback);
	// NotFound when the company id is unknown.
	GetInstruction(ctx context.Context, companyID uuid.UUID) (string, error)
}

// IntegrationRepository resolves WhatsApp Cloud API bindings.
type IntegrationRepository interface {
	GetByCompany(ctx context.Context, companyID uuid.UUID) (*models.WhatsAppIntegration, error)
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.WhatsAppIntegration, error)
}
