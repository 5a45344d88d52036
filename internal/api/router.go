package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the HTTP surface onto the gin engine. The health
// endpoint is registered by the caller, which owns the database handle.
//
// Three trust zones: /chat/chat-web is customer-facing (the widget embeds
// no agent token), the webhook authenticates via the provider handshake,
// and everything else is agent/CRM behind the JWT middleware.
func RegisterRoutes(
	r *gin.Engine,
	chat *ChatHandler,
	webhook *WebhookHandler,
	ws *WSHandler,
	authMW gin.HandlerFunc,
) {
	r.POST("/chat/chat-web", chat.ChatWeb)

	r.GET("/webhook/whatsapp", webhook.Verify)
	r.POST("/webhook/whatsapp", webhook.Receive)

	r.GET("/ws", ws.Serve)

	agent := r.Group("/chat")
	agent.Use(authMW)
	{
		agent.POST("/chat-web-send", chat.ChatWebSend)
		agent.PATCH("/mark-as-done", chat.MarkAsDone)
		agent.PATCH("/assign", chat.Assign)
		agent.GET("/chat-heads", chat.ChatHeads)
		agent.GET("/chat-history", chat.ChatHistory)
	}
}
