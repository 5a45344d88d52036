package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/amara-dev/chatflow/internal/realtime"
)

const (
	readLimit = 4 << 10 // subscribe frames are tiny
	pongWait  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks belong to the fronting proxy; the CRM and the widget
	// are served from configured origins there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscribeFrame is what clients send to manage room membership:
// {"action":"join-thread","id":"<uuid>"} and the company/leave variants.
type subscribeFrame struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// WSHandler upgrades /ws connections and bridges subscribe frames into hub
// membership. Events flow only server→client; the read loop exists for
// subscriptions and liveness.
type WSHandler struct {
	hub    *realtime.Hub
	logger *zap.Logger
}

func NewWSHandler(hub *realtime.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

func (h *WSHandler) Serve(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := realtime.NewConn(ws)
	h.hub.Attach(conn)
	defer h.hub.Detach(conn)

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame subscribeFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		h.dispatch(conn, frame)
	}
}

func (h *WSHandler) dispatch(conn *realtime.Conn, frame subscribeFrame) {
	if frame.ID == "" {
		return
	}
	switch frame.Action {
	case "join-thread":
		h.hub.Subscribe(conn.ID, "thread:"+frame.ID)
	case "leave-thread":
		h.hub.Unsubscribe(conn.ID, "thread:"+frame.ID)
	case "join-company":
		h.hub.Subscribe(conn.ID, "company:"+frame.ID)
	case "leave-company":
		h.hub.Unsubscribe(conn.ID, "company:"+frame.ID)
	default:
		h.logger.Debug("unknown subscribe action", zap.String("action", frame.Action))
	}
}
