package storage

import (
	"sensorchat-gateway/internal/model"
)

// Storage persists conversations. Implementations hand out copies: mutating a
// returned session has no effect until it is passed back to UpdateSession.
type Storage interface {
	// sessions
	CreateSession(session *model.Session) error
	GetSession(sessionID string) (*model.Session, error)
	UpdateSession(session *model.Session) error
	DeleteSession(sessionID string) error
	ListSessions() ([]*model.Session, error)

	// messages
	GetMessages(sessionID string) ([]*model.Message, error)

	Init() error
	Close() error
	Backup() error
}
