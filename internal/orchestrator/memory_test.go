package orchestrator

// In-memory repository implementations for orchestrator tests. They mirror
// the store contracts: one active thread per triple, append-only messages
// ordered by (created_at, id), idempotent MarkDone, closed threads refusing
// transitions.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/chatflow/internal/apperr"
	"github.com/amara-dev/chatflow/internal/models"
)

type memThreadRepo struct {
	mu      sync.Mutex
	threads map[uuid.UUID]*models.Thread
}

func newMemThreadRepo() *memThreadRepo {
	return &memThreadRepo{threads: make(map[uuid.UUID]*models.Thread)}
}

func (r *memThreadRepo) FindOrCreate(ctx context.Context, customerID, companyID uuid.UUID, channel models.Channel) (*models.Thread, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newest *models.Thread
	for _, t := range r.threads {
		if t.CustomerID == customerID && t.CompanyID == companyID && t.Channel == channel && t.IsActive {
			if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
				newest = t
			}
		}
	}
	if newest != nil {
		cp := *newest
		return &cp, false, nil
	}

	t := &models.Thread{
		ID:             uuid.New(),
		CompanyID:      companyID,
		CustomerID:     customerID,
		Channel:        channel,
		CurrentHandler: models.HandlerBot,
		IsActive:       true,
		CreatedAt:      time.Now(),
	}
	r.threads[t.ID] = t
	cp := *t
	return &cp, true, nil
}

func (r *memThreadRepo) GetByID(ctx context.Context, threadID uuid.UUID) (*models.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[threadID]
	if !ok {
		return nil, apperr.NotFound("thread.GetByID", fmt.Sprintf("thread %s not found", threadID))
	}
	cp := *t
	return &cp, nil
}

func (r *memThreadRepo) Exists(ctx context.Context, threadID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.threads[threadID]
	return ok, nil
}

func (r *memThreadRepo) Assign(ctx context.Context, threadID uuid.UUID, handler models.Handler, agentID *uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[threadID]
	if !ok || !t.IsActive {
		return false, nil
	}

	now := time.Now()
	t.CurrentHandler = handler
	if handler == models.HandlerAgent {
		t.AssignedAgentID = agentID
		t.HandoverToAgentAt = &now
	} else {
		t.AssignedAgentID = nil
		t.HandoverToBotAt = &now
	}
	return true, nil
}

func (r *memThreadRepo) MarkDone(ctx context.Context, threadID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[threadID]
	if !ok || !t.IsActive {
		return false, nil
	}
	now := time.Now()
	t.IsActive = false
	t.ClosedAt = &now
	return true, nil
}

func (r *memThreadRepo) ListHeads(ctx context.Context, companyID uuid.UUID, channel models.Channel) ([]models.ChatHead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	heads := make([]models.ChatHead, 0)
	for _, t := range r.threads {
		if t.CompanyID != companyID || !t.IsActive {
			continue
		}
		if channel != "" && t.Channel != channel {
			continue
		}
		heads = append(heads, models.ChatHead{
			ID:             t.ID,
			Channel:        t.Channel,
			CurrentHandler: t.CurrentHandler,
			Assignee:       t.AssignedAgentID,
			Customer:       models.Customer{ID: t.CustomerID, CompanyID: t.CompanyID},
		})
	}
	return heads, nil
}

func (r *memThreadRepo) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.threads {
		if t.IsActive {
			n++
		}
	}
	return n
}

type memMessageRepo struct {
	mu       sync.Mutex
	nextID   int64
	messages []models.Message
	threads  *memThreadRepo
	// fixedClock, when set, stamps every append with the same created_at so
	// ordering falls through to the id tie-break.
	fixedClock *time.Time
}

func newMemMessageRepo(threads *memThreadRepo) *memMessageRepo {
	return &memMessageRepo{nextID: 1, threads: threads}
}

func (r *memMessageRepo) Append(ctx context.Context, threadID uuid.UUID, role models.Role, content string) (*models.Message, error) {
	exists, _ := r.threads.Exists(ctx, threadID)
	if !exists {
		return nil, apperr.Storage("message.Append", fmt.Errorf("unknown thread %s", threadID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	createdAt := time.Now()
	if r.fixedClock != nil {
		createdAt = *r.fixedClock
	}
	msg := models.Message{
		ID:        r.nextID,
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
	}
	r.nextID++
	r.messages = append(r.messages, msg)
	return &msg, nil
}

func (r *memMessageRepo) History(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	page := make([]models.Message, 0)
	for _, m := range r.messages {
		if m.ThreadID == threadID {
			page = append(page, m)
		}
	}
	// Most-recent-first by (created_at, id), id as tie-break.
	sort.Slice(page, func(i, j int) bool {
		if !page[i].CreatedAt.Equal(page[j].CreatedAt) {
			return page[i].CreatedAt.After(page[j].CreatedAt)
		}
		return page[i].ID > page[j].ID
	})

	if offset >= len(page) {
		return []models.Message{}, nil
	}
	page = page[offset:]
	if limit < len(page) {
		page = page[:limit]
	}
	return page, nil
}

func (r *memMessageRepo) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

func (r *memMessageRepo) byRole(threadID uuid.UUID, role models.Role) []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Message, 0)
	for _, m := range r.messages {
		if m.ThreadID == threadID && m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type memCustomerRepo struct {
	mu        sync.Mutex
	customers map[uuid.UUID]*models.Customer
}

func newMemCustomerRepo() *memCustomerRepo {
	return &memCustomerRepo{customers: make(map[uuid.UUID]*models.Customer)}
}

func (r *memCustomerRepo) add(c models.Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers[c.ID] = &c
}

func (r *memCustomerRepo) GetOrCreateByPhone(ctx context.Context, companyID uuid.UUID, phone, name string) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.customers {
		if c.CompanyID == companyID && c.Phone == phone {
			cp := *c
			return &cp, nil
		}
	}
	c := &models.Customer{ID: uuid.New(), CompanyID: companyID, Phone: phone, Name: name}
	r.customers[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *memCustomerRepo) GetByID(ctx context.Context, customerID uuid.UUID) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.customers[customerID]
	if !ok {
		return nil, apperr.NotFound("customer.GetByID", "customer not found")
	}
	cp := *c
	return &cp, nil
}

type memCompanyRepo struct {
	mu           sync.Mutex
	instructions map[uuid.UUID]string
}

func newMemCompanyRepo() *memCompanyRepo {
	return &memCompanyRepo{instructions: make(map[uuid.UUID]string)}
}

func (r *memCompanyRepo) set(companyID uuid.UUID, instruction string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instructions[companyID] = instruction
}

func (r *memCompanyRepo) GetInstruction(ctx context.Context, companyID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instruction, ok := r.instructions[companyID]
	if !ok {
		return "", apperr.NotFound("company.GetInstruction", "company not found")
	}
	return instruction, nil
}

// recordingHub captures published events in order.
type recordingHub struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	Room    string
	Event   string
	Payload any
}

func (h *recordingHub) Publish(room, event string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, publishedEvent{Room: room, Event: event, Payload: payload})
}

func (h *recordingHub) all() []publishedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]publishedEvent, len(h.events))
	copy(out, h.events)
	return out
}

func (h *recordingHub) count(event string) int {
	n := 0
	for _, e := range h.all() {
		if e.Event == event {
			n++
		}
	}
	return n
}
