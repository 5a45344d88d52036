package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amara-dev/chatflow/internal/middleware"
	"github.com/amara-dev/chatflow/internal/models"
	"github.com/amara-dev/chatflow/internal/orchestrator"
)

// Conversations is the slice of the orchestrator the HTTP surface needs.
// An interface so handler tests run against a fake.
type Conversations interface {
	HandleInbound(ctx context.Context, in orchestrator.Inbound) (*orchestrator.Result, error)
	SendAsAgent(ctx context.Context, threadID uuid.UUID, content string) (*models.Message, error)
	Assign(ctx context.Context, threadID uuid.UUID, handler models.Handler, agentID *uuid.UUID) (bool, error)
	MarkDone(ctx context.Context, threadID uuid.UUID) (bool, error)
	History(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]models.Message, error)
	Heads(ctx context.Context, companyID uuid.UUID, ch models.Channel) ([]models.ChatHead, error)
}

type ChatHandler struct {
	convos Conversations
	logger *zap.Logger
}

func NewChatHandler(convos Conversations, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{convos: convos, logger: logger}
}

type chatWebRequest struct {
	CompanyID  uuid.UUID `json:"companyId" binding:"required"`
	CustomerID uuid.UUID `json:"customerId" binding:"required"`
	Message    string    `json:"message" binding:"required"`
}

type chatWebResponse struct {
	ThreadID    uuid.UUID `json:"threadId"`
	BotResponse *string   `json:"botResponse"`
}

// ChatWeb handles POST /chat/chat-web: one web-widget customer turn.
// A null botResponse means the thread is agent-handled and a human will
// answer; the customer message is persisted and broadcast either way.
func (h *ChatHandler) ChatWeb(c *gin.Context) {
	var req chatWebRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.convos.HandleInbound(c.Request.Context(), orchestrator.Inbound{
		CustomerID: req.CustomerID,
		CompanyID:  req.CompanyID,
		Channel:    models.ChannelWeb,
		Content:    req.Message,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	out := chatWebResponse{ThreadID: res.Thread.ID}
	if res.Reply != nil {
		out.BotResponse = &res.Reply.Content
	}
	c.JSON(http.StatusOK, out)
}

type chatWebSendRequest struct {
	ThreadID uuid.UUID `json:"threadId" binding:"required"`
	Message  string    `json:"message" binding:"required"`
}

// ChatWebSend handles POST /chat/chat-web-send: an agent-authored reply
// that bypasses the generator.
func (h *ChatHandler) ChatWebSend(c *gin.Context) {
	var req chatWebSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.convos.SendAsAgent(c.Request.Context(), req.ThreadID, req.Message)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

type markAsDoneRequest struct {
	ThreadID uuid.UUID `json:"threadId" binding:"required"`
}

// MarkAsDone handles PATCH /chat/mark-as-done. result=false means the
// thread was already closed (or unknown); the call is idempotent.
func (h *ChatHandler) MarkAsDone(c *gin.Context) {
	var req markAsDoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.convos.MarkDone(c.Request.Context(), req.ThreadID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": ok})
}

type assignRequest struct {
	ThreadID        uuid.UUID      `json:"threadId" binding:"required"`
	ChatHandler     models.Handler `json:"chatHandler" binding:"required"`
	AssignedAgentID *uuid.UUID     `json:"assignedAgentId"`
}

// Assign handles PATCH /chat/assign: the bot↔agent handover. Handing over
// to an agent triggers the escalation notice toward the customer.
func (h *ChatHandler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.convos.Assign(c.Request.Context(), req.ThreadID, req.ChatHandler, req.AssignedAgentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": ok})
}

// ChatHeads handles GET /chat/chat-heads?channel=whatsapp: the CRM inbox.
// The company scope comes from the agent's token.
func (h *ChatHandler) ChatHeads(c *gin.Context) {
	companyID := middleware.GetCompanyID(c)
	if companyID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing company scope"})
		return
	}

	var ch models.Channel
	if q := c.Query("channel"); q != "" && q != "all" {
		ch = models.Channel(q)
		if !ch.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'channel' parameter"})
			return
		}
	}

	heads, err := h.convos.Heads(c.Request.Context(), companyID, ch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, heads)
}

// ChatHistory handles GET /chat/chat-history?threadId&limit&offset: a
// most-recent-first transcript page. Unknown thread is a 404; an existing
// thread with no messages is a 200 with an empty list.
func (h *ChatHandler) ChatHistory(c *gin.Context) {
	threadID, err := uuid.Parse(c.Query("threadId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'threadId' parameter"})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		if limit > 100 {
			limit = 100
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		offset, err = strconv.Atoi(o)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'offset' parameter"})
			return
		}
	}

	messages, err := h.convos.History(c.Request.Context(), threadID, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}
