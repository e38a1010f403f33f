package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// History is the in-memory ordered message list for one session. Append-only
// within a turn; Reset clears it wholesale.
type History struct {
	mu       sync.Mutex
	messages []Message
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Append(role Role, content string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
	return msg
}

func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *History) Reset() {
	h.mu.Lock()
	h.messages = nil
	h.mu.Unlock()
}
