package model

import (
	"time"

	"sensorchat-gateway/internal/panel"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const GenericErrorReply = "Sorry, something went wrong."

type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation: its history plus the side panel state.
// Generation is bumped on every reset so late responses can be recognized.
type Session struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Model      string      `json:"model"`
	Messages   []Message   `json:"messages"`
	Panel      panel.State `json:"panel"`
	Generation uint64      `json:"generation"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type SessionResponse struct {
	SessionID    string      `json:"session_id"`
	Title        string      `json:"title"`
	Model        string      `json:"model"`
	Panel        panel.State `json:"panel"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	MessageCount int         `json:"message_count"`
}

func NewSessionResponse(s *Session) SessionResponse {
	return SessionResponse{
		SessionID:    s.ID,
		Title:        s.Title,
		Model:        s.Model,
		Panel:        s.Panel,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}

// ChatResult is returned after a message, confirmation or upload has been
// applied to a session.
type ChatResult struct {
	SessionID string     `json:"session_id"`
	Reply     string     `json:"reply,omitempty"`
	Messages  []Message  `json:"messages"`
	Panel     panel.View `json:"panel"`
	Failed    bool       `json:"failed,omitempty"`
	Stale     bool       `json:"stale,omitempty"`
}

type ConfirmResult struct {
	Accepted bool        `json:"accepted"`
	Result   *ChatResult `json:"result,omitempty"`
}
