package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the messaging surface a thread is bound to. A customer talking
// on the web widget and the same customer on WhatsApp get separate threads.
type Channel string

const (
	ChannelWeb       Channel = "web"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelMessenger Channel = "messenger"
	ChannelTikTok    Channel = "tiktok"
	ChannelInstagram Channel = "instagram"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelWhatsApp, ChannelMessenger, ChannelTikTok, ChannelInstagram:
		return true
	}
	return false
}

// Handler identifies who currently answers a thread: the automated responder
// or a human agent.
type Handler string

const (
	HandlerBot   Handler = "bot"
	HandlerAgent Handler = "agent"
)

func (h Handler) Valid() bool {
	return h == HandlerBot || h == HandlerAgent
}

// Role tags a message's author side. "assistant" covers both bot output and
// human-agent output; the customer is always "user".
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Thread is the persistent conversation context for one
// (customer, company, channel) triple.
//
// Invariant: at most one thread with IsActive=true exists per triple. A
// closed thread (IsActive=false) is terminal; a later inbound message for
// the same triple starts a fresh thread.
//
// AssignedAgentID is meaningful only while CurrentHandler is agent, and may
// be nil even then (escalated but not yet claimed).
type Thread struct {
	ID                uuid.UUID  `json:"id"`
	CompanyID         uuid.UUID  `json:"company_id"`
	CustomerID        uuid.UUID  `json:"customer_id"`
	Channel           Channel    `json:"channel"`
	CurrentHandler    Handler    `json:"current_handler"`
	AssignedAgentID   *uuid.UUID `json:"assigned_agent_id,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	HandoverToAgentAt *time.Time `json:"handover_to_agent_at,omitempty"`
	HandoverToBotAt   *time.Time `json:"handover_to_bot_at,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

// Message is one immutable turn in a thread's transcript.
//
// ID is a bigserial: monotonically increasing, so it is the authoritative
// tie-break when two messages share a created_at timestamp. The canonical
// transcript order is (created_at, id).
type Message struct {
	ID        int64     `json:"id"`
	ThreadID  uuid.UUID `json:"thread_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer is the external person on the other side of a thread. Provisioned
// on demand when a WhatsApp message arrives from an unknown phone number.
type Customer struct {
	ID        uuid.UUID `json:"id"`
	CompanyID uuid.UUID `json:"company_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Company is the tenant. ChatbotInstruction is the per-tenant system prompt
// for the automated responder; empty means "use the generator's fallback".
type Company struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	ChatbotInstruction string    `json:"chatbot_instruction"`
}

// WhatsAppIntegration binds a company to its WhatsApp Cloud API number.
// PhoneNumberID is the provider-side key webhook envelopes carry.
type WhatsAppIntegration struct {
	CompanyID     uuid.UUID `json:"company_id"`
	PhoneNumberID string    `json:"phone_number_id"`
	AccessToken   string    `json:"-"`
}

// MessagePreview is the last-message summary shown on a chat head.
type MessagePreview struct {
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatHead is one row of the CRM inbox list: a thread plus the customer
// summary and the most recent message, ordered most-recently-active first.
type ChatHead struct {
	ID             uuid.UUID       `json:"id"`
	Channel        Channel         `json:"channel"`
	CurrentHandler Handler         `json:"current_handler"`
	Assignee       *uuid.UUID      `json:"assignee,omitempty"`
	Customer       Customer        `json:"customer"`
	LastMessage    *MessagePreview `json:"last_message,omitempty"`
}
