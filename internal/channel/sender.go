// Package channel delivers outbound replies over each channel's wire
// protocol. The web widget needs no wire delivery, the realtime broadcast
// is the delivery. WhatsApp goes through the Cloud API.
package channel

import (
	"context"

	"github.com/google/uuid"

	"github.com/amara-dev/chatflow/internal/models"
)

// Outbound is one reply to push to a customer.
type Outbound struct {
	CompanyID  uuid.UUID
	CustomerID uuid.UUID
	// To is the channel-level address (phone number for WhatsApp).
	To      string
	Content string
}

// Sender delivers a reply over one channel's protocol. Implementations carry
// bounded timeouts; a slow provider must not stall the caller indefinitely.
type Sender interface {
	Send(ctx context.Context, out Outbound) error
}

// Registry maps channels to senders. Channels without an entry (web and the
// not-yet-integrated socials) are internal: delivery is a no-op and the
// broadcast alone reaches the customer.
type Registry struct {
	senders map[models.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[models.Channel]Sender)}
}

func (r *Registry) Register(ch models.Channel, s Sender) {
	r.senders[ch] = s
}

// For returns the sender for a channel, or nil when the channel is internal.
func (r *Registry) For(ch models.Channel) Sender {
	return r.senders[ch]
}
