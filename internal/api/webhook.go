package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amara-dev/chatflow/internal/apperr"
	"github.com/amara-dev/chatflow/internal/dedupe"
	"github.com/amara-dev/chatflow/internal/models"
	"github.com/amara-dev/chatflow/internal/orchestrator"
	"github.com/amara-dev/chatflow/internal/repository"
)

// processingApology is sent back to the customer when their message could
// not be processed. Best effort.
const processingApology = "We encountered an issue processing your message. Please try again."

// WebhookHandler ingests WhatsApp Cloud API callbacks: the GET verification
// handshake and POST message envelopes. Envelopes are normalized into
// orchestrator turns; provider redeliveries are suppressed by message id.
type WebhookHandler struct {
	convos       Conversations
	customers    repository.CustomerRepository
	integrations repository.IntegrationRepository
	dedup        dedupe.Store
	verifyToken  string
	logger       *zap.Logger
}

func NewWebhookHandler(
	convos Conversations,
	customers repository.CustomerRepository,
	integrations repository.IntegrationRepository,
	dedup dedupe.Store,
	verifyToken string,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		convos:       convos,
		customers:    customers,
		integrations: integrations,
		dedup:        dedup,
		verifyToken:  verifyToken,
		logger:       logger,
	}
}

// Verify handles the GET handshake: echo hub.challenge when the shared
// verify token matches, 403 otherwise.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.verifyToken {
		h.logger.Info("webhook verified")
		c.String(http.StatusOK, challenge)
		return
	}

	h.logger.Warn("webhook verification failed", zap.String("mode", mode))
	c.Status(http.StatusForbidden)
}

// Cloud API envelope shapes: only the fields the ingress path reads.
type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []webhookMessage `json:"messages"`
	Statuses []struct {
		Status string `json:"status"`
	} `json:"statuses"`
}

type webhookMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *webhookMedia `json:"image"`
	Document *webhookMedia `json:"document"`
	Audio    *webhookMedia `json:"audio"`
	Video    *webhookMedia `json:"video"`
}

type webhookMedia struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// Receive handles POST deliveries. Status updates are acknowledged and
// skipped; duplicate deliveries (same provider message id) are acknowledged
// without reprocessing; anything else is normalized into a HandleInbound
// turn. Processing failure answers 500 so the provider retries, and a
// best-effort apology goes back to the customer.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var envelope webhookEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed envelope"})
		return
	}

	value := extractValue(envelope)
	if value == nil {
		c.Status(http.StatusOK)
		return
	}

	if len(value.Statuses) > 0 {
		h.logger.Debug("delivery status update", zap.String("status", value.Statuses[0].Status))
		c.Status(http.StatusOK)
		return
	}
	if len(value.Messages) == 0 {
		c.Status(http.StatusOK)
		return
	}

	msg := value.Messages[0]
	ctx := c.Request.Context()

	if msg.ID != "" {
		seen, err := h.dedup.Seen(ctx, msg.ID)
		if err != nil {
			// Dedup store trouble: process anyway rather than drop a real
			// message; worst case a redelivery slips through.
			h.logger.Warn("dedup check failed", zap.String("message_id", msg.ID), zap.Error(err))
		} else if seen {
			h.logger.Debug("duplicate webhook delivery suppressed", zap.String("message_id", msg.ID))
			c.Status(http.StatusOK)
			return
		}
	}

	content, media, ok := normalizeContent(msg)
	if !ok {
		h.logger.Warn("unsupported message type skipped", zap.String("type", msg.Type))
		c.Status(http.StatusOK)
		return
	}
	if msg.From == "" || content == "" || value.Metadata.PhoneNumberID == "" {
		h.logger.Warn("webhook missing required fields",
			zap.String("from", msg.From),
			zap.String("phone_number_id", value.Metadata.PhoneNumberID))
		c.Status(http.StatusOK)
		return
	}

	integ, err := h.integrations.GetByPhoneNumberID(ctx, value.Metadata.PhoneNumberID)
	if err != nil {
		h.logger.Error("no integration for webhook",
			zap.String("phone_number_id", value.Metadata.PhoneNumberID),
			zap.Error(err))
		h.release(ctx, msg.ID)
		respondError(c, h.logger, err)
		return
	}

	name := ""
	if len(value.Contacts) > 0 {
		name = value.Contacts[0].Profile.Name
	}
	customer, err := h.customers.GetOrCreateByPhone(ctx, integ.CompanyID, msg.From, name)
	if err != nil {
		h.release(ctx, msg.ID)
		respondError(c, h.logger, err)
		return
	}

	res, err := h.convos.HandleInbound(ctx, orchestrator.Inbound{
		CustomerID: customer.ID,
		CompanyID:  integ.CompanyID,
		Channel:    models.ChannelWhatsApp,
		Content:    content,
		ReplyTo:    msg.From,
		Media:      media,
	})
	if err != nil {
		// A generator failure is recoverable: the customer message is
		// already persisted and broadcast. Acknowledge the delivery and
		// send a best-effort apology on the thread instead.
		if apperr.Is(err, apperr.KindUpstream) && res != nil && res.Thread != nil {
			h.logger.Warn("reply generation failed for webhook turn", zap.Error(err))
			if _, sendErr := h.convos.SendAsAgent(ctx, res.Thread.ID, processingApology); sendErr != nil {
				h.logger.Error("failed to send processing apology", zap.Error(sendErr))
			}
			c.Status(http.StatusOK)
			return
		}
		// The provider retries on 500; the dedup key marked above would
		// suppress that retry, so release it before failing.
		h.release(ctx, msg.ID)
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusOK)
}

// release drops the dedup mark for a delivery that was not processed.
func (h *WebhookHandler) release(ctx context.Context, messageID string) {
	if messageID == "" {
		return
	}
	if err := h.dedup.Forget(ctx, messageID); err != nil {
		h.logger.Warn("dedup release failed",
			zap.String("message_id", messageID), zap.Error(err))
	}
}

func extractValue(envelope webhookEnvelope) *webhookValue {
	if len(envelope.Entry) == 0 || len(envelope.Entry[0].Changes) == 0 {
		return nil
	}
	return &envelope.Entry[0].Changes[0].Value
}

// normalizeContent flattens a provider message into text. Media carries its
// caption (or a type tag when uncaptioned) and flags the turn so the
// orchestrator answers with the canned acknowledgement.
func normalizeContent(msg webhookMessage) (content string, media bool, ok bool) {
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return "", false, false
		}
		return msg.Text.Body, false, true
	case "image", "document", "audio", "video":
		var m *webhookMedia
		switch msg.Type {
		case "image":
			m = msg.Image
		case "document":
			m = msg.Document
		case "audio":
			m = msg.Audio
		case "video":
			m = msg.Video
		}
		if m == nil {
			return "", false, false
		}
		if m.Caption != "" {
			return m.Caption, true, true
		}
		return "[" + msg.Type + "]", true, true
	default:
		return "", false, false
	}
}
