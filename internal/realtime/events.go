package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/chatflow/internal/models"
)

// Event names on the wire.
const (
	EventNewMessage = "new-message"
	EventNewThread  = "new-thread"
)

// NewMessagePayload is emitted to thread:<id> for every persisted message,
// whichever side authored it.
type NewMessagePayload struct {
	ID        int64       `json:"id"`
	ThreadID  uuid.UUID   `json:"thread_id"`
	Content   string      `json:"content"`
	Role      models.Role `json:"role"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewThreadPayload is emitted to company:<id> when the directory creates a
// thread, so inbox views learn about new conversations without polling.
type NewThreadPayload struct {
	ID        uuid.UUID `json:"id"`
	CompanyID uuid.UUID `json:"company_id"`
}

func MessagePayload(msg *models.Message) NewMessagePayload {
	return NewMessagePayload{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Content:   msg.Content,
		Role:      msg.Role,
		CreatedAt: msg.CreatedAt,
	}
}
