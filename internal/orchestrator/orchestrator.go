// Package orchestrator coordinates one inbound customer turn end to end:
// resolve the thread, persist and broadcast the customer message, then
// either draft a bot reply or defer to a human agent.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amara-dev/chatflow/internal/apperr"
	"github.com/amara-dev/chatflow/internal/bot"
	"github.com/amara-dev/chatflow/internal/channel"
	"github.com/amara-dev/chatflow/internal/models"
	"github.com/amara-dev/chatflow/internal/realtime"
	"github.com/amara-dev/chatflow/internal/repository"
)

// EscalationNotice is appended and delivered when a thread is handed to an
// agent.
const EscalationNotice = "One of our agents will contact you soon!"

// MediaAcknowledgement replaces the generator for non-text inbound turns.
const MediaAcknowledgement = "Thank you for sharing this. One of our agents will review it shortly!"

// historyWindow bounds the transcript slice handed to the generator.
const historyWindow = 10

// Broadcaster is the slice of the realtime hub the orchestrator uses.
// Publish must be fire-and-forget.
type Broadcaster interface {
	Publish(room, event string, payload any)
}

// Inbound is one normalized customer message, whatever channel it came in on.
type Inbound struct {
	CustomerID uuid.UUID
	CompanyID  uuid.UUID
	Channel    models.Channel
	Content    string
	// ReplyTo is the channel-level return address (the customer's phone for
	// WhatsApp). Empty for internal channels.
	ReplyTo string
	// Media marks a non-text turn: content carries a URL plus caption and
	// the reply is a canned acknowledgement instead of a generator call.
	Media bool
}

// Result reports what one inbound turn produced. Reply is nil when the
// thread is agent-handled: the sentinel that a human must respond.
type Result struct {
	Thread      *models.Thread
	UserMessage *models.Message
	Reply       *models.Message
}

// Service wires the thread directory, message log, handover transitions,
// generator, channel senders, and broadcaster behind the operations the
// HTTP surface exposes. All dependencies are injected; there is no
// package-level state.
type Service struct {
	threads   repository.ThreadRepository
	messages  repository.MessageRepository
	customers repository.CustomerRepository
	companies repository.CompanyRepository
	generator bot.Generator
	senders   *channel.Registry
	hub       Broadcaster
	locks     *threadLocks
	logger    *zap.Logger
}

func New(
	threads repository.ThreadRepository,
	messages repository.MessageRepository,
	customers repository.CustomerRepository,
	companies repository.CompanyRepository,
	generator bot.Generator,
	senders *channel.Registry,
	hub Broadcaster,
	logger *zap.Logger,
) *Service {
	return &Service{
		threads:   threads,
		messages:  messages,
		customers: customers,
		companies: companies,
		generator: generator,
		senders:   senders,
		hub:       hub,
		locks:     newThreadLocks(),
		logger:    logger,
	}
}

// HandleInbound processes one customer turn. The sequence is strict:
// resolve thread → persist inbound → broadcast inbound → (maybe) generate →
// persist reply → broadcast reply. A generator failure after step 3 leaves
// the customer message persisted and broadcast, and surfaces as a
// recoverable upstream error.
//
// Turns for the same thread serialize on a per-thread lock; turns for
// different threads run concurrently with no shared lock.
func (s *Service) HandleInbound(ctx context.Context, in Inbound) (*Result, error) {
	const op = "orchestrator.HandleInbound"

	if in.Content == "" {
		return nil, apperr.Validation(op, "content is required")
	}
	if !in.Channel.Valid() {
		return nil, apperr.Validation(op, fmt.Sprintf("unknown channel %q", in.Channel))
	}

	thread, created, err := s.threads.FindOrCreate(ctx, in.CustomerID, in.CompanyID, in.Channel)
	if err != nil {
		return nil, err
	}
	if created {
		s.hub.Publish(realtime.CompanyRoom(thread.CompanyID), realtime.EventNewThread,
			realtime.NewThreadPayload{ID: thread.ID, CompanyID: thread.CompanyID})
		s.logger.Info("thread created",
			zap.String("thread_id", thread.ID.String()),
			zap.String("company_id", thread.CompanyID.String()),
			zap.String("channel", string(thread.Channel)))
	}

	unlock := s.locks.lock(thread.ID)
	defer unlock()

	// The snapshot from FindOrCreate predates the lock; a handover can
	// commit in between. Branching on stale state would generate a bot
	// reply on an agent-handled thread, so re-read under the lock.
	thread, err = s.threads.GetByID(ctx, thread.ID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.appendAndBroadcast(ctx, thread.ID, models.RoleUser, in.Content)
	if err != nil {
		return nil, err
	}

	result := &Result{Thread: thread, UserMessage: userMsg}

	if thread.CurrentHandler != models.HandlerBot {
		// Agent-handled: no automated reply. The agent answers later via
		// SendAsAgent.
		return result, nil
	}

	replyText, err := s.draftReply(ctx, thread, in)
	if err != nil {
		// The customer message stays persisted and broadcast.
		return result, err
	}

	reply, err := s.appendAndBroadcast(ctx, thread.ID, models.RoleAssistant, replyText)
	if err != nil {
		return result, err
	}
	result.Reply = reply

	s.deliver(ctx, thread, in.ReplyTo, replyText)

	return result, nil
}

// draftReply produces the assistant text for a bot-handled turn: a canned
// acknowledgement for media, otherwise a generator call over the bounded
// history window (which already includes the just-persisted user message).
func (s *Service) draftReply(ctx context.Context, thread *models.Thread, in Inbound) (string, error) {
	if in.Media {
		return MediaAcknowledgement, nil
	}

	page, err := s.messages.History(ctx, thread.ID, historyWindow, 0)
	if err != nil {
		return "", err
	}

	instruction, err := s.companies.GetInstruction(ctx, thread.CompanyID)
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			return "", err
		}
		// Unknown company config: the generator applies its fallback.
		instruction = ""
	}

	return s.generator.Generate(ctx, bot.HistoryTurns(page), instruction)
}

// SendAsAgent appends a human-authored reply, bypassing the generator, and
// delivers it over the thread's channel when that channel has a wire
// protocol.
func (s *Service) SendAsAgent(ctx context.Context, threadID uuid.UUID, content string) (*models.Message, error) {
	const op = "orchestrator.SendAsAgent"

	if content == "" {
		return nil, apperr.Validation(op, "content is required")
	}

	unlock := s.locks.lock(threadID)
	defer unlock()

	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}

	msg, err := s.appendAndBroadcast(ctx, thread.ID, models.RoleAssistant, content)
	if err != nil {
		return nil, err
	}

	s.deliver(ctx, thread, "", content)

	return msg, nil
}

// Assign moves the thread between bot and agent. Handing over to an agent
// also appends, broadcasts, and (for wire channels) delivers the escalation
// notice. Delivery failure is logged and does not undo the handover; the
// transition itself is the contract.
func (s *Service) Assign(ctx context.Context, threadID uuid.UUID, handler models.Handler, agentID *uuid.UUID) (bool, error) {
	const op = "orchestrator.Assign"

	if !handler.Valid() {
		return false, apperr.Validation(op, fmt.Sprintf("unknown handler %q", handler))
	}

	unlock := s.locks.lock(threadID)
	defer unlock()

	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return false, err
	}

	ok, err := s.threads.Assign(ctx, threadID, handler, agentID)
	if err != nil || !ok {
		return ok, err
	}

	if handler == models.HandlerAgent {
		if _, err := s.appendAndBroadcast(ctx, thread.ID, models.RoleAssistant, EscalationNotice); err != nil {
			s.logger.Error("escalation notice not persisted",
				zap.String("thread_id", thread.ID.String()),
				zap.Error(err))
		} else {
			s.deliver(ctx, thread, "", EscalationNotice)
		}
	}

	return true, nil
}

// MarkDone soft-closes the thread. Idempotent at the store level.
func (s *Service) MarkDone(ctx context.Context, threadID uuid.UUID) (bool, error) {
	return s.threads.MarkDone(ctx, threadID)
}

// History pages the transcript most-recent-first. Unknown threads are
// NotFound; an existing thread with no messages is a valid empty page.
func (s *Service) History(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]models.Message, error) {
	const op = "orchestrator.History"

	exists, err := s.threads.Exists(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFound(op, fmt.Sprintf("thread %s not found", threadID))
	}
	return s.messages.History(ctx, threadID, limit, offset)
}

// Heads lists the company's active threads for the CRM inbox.
func (s *Service) Heads(ctx context.Context, companyID uuid.UUID, ch models.Channel) ([]models.ChatHead, error) {
	return s.threads.ListHeads(ctx, companyID, ch)
}

// appendAndBroadcast is the persist-then-publish step every turn goes
// through. Persistence is the durability boundary; the broadcast is
// best-effort on top of it.
func (s *Service) appendAndBroadcast(ctx context.Context, threadID uuid.UUID, role models.Role, content string) (*models.Message, error) {
	msg, err := s.messages.Append(ctx, threadID, role, content)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(realtime.ThreadRoom(threadID), realtime.EventNewMessage, realtime.MessagePayload(msg))
	return msg, nil
}

// deliver pushes content to the customer over the thread's channel, when
// that channel has a registered sender. Failures are logged, never fatal:
// the message is already persisted and broadcast, and the CRM view is
// authoritative.
func (s *Service) deliver(ctx context.Context, thread *models.Thread, replyTo, content string) {
	sender := s.senders.For(thread.Channel)
	if sender == nil {
		return
	}

	to := replyTo
	if to == "" {
		customer, err := s.customers.GetByID(ctx, thread.CustomerID)
		if err != nil {
			s.logger.Error("resolve delivery address",
				zap.String("thread_id", thread.ID.String()),
				zap.Error(err))
			return
		}
		to = customer.Phone
	}
	if to == "" {
		s.logger.Warn("no delivery address for thread",
			zap.String("thread_id", thread.ID.String()),
			zap.String("channel", string(thread.Channel)))
		return
	}

	err := sender.Send(ctx, channel.Outbound{
		CompanyID:  thread.CompanyID,
		CustomerID: thread.CustomerID,
		To:         to,
		Content:    content,
	})
	if err != nil {
		s.logger.Error("channel delivery failed",
			zap.String("thread_id", thread.ID.String()),
			zap.String("channel", string(thread.Channel)),
			zap.Error(err))
	}
}
