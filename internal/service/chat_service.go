package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sensorchat-gateway/internal/config"
	"sensorchat-gateway/internal/model"
	"sensorchat-gateway/internal/panel"
	"sensorchat-gateway/internal/storage"
	"sensorchat-gateway/internal/upstream"
	"sensorchat-gateway/pkg/logger"

	"github.com/google/uuid"
)

const (
	defaultTitlePrefix = "New conversation"
	uploadRetryPrompt  = "Error uploading file. Please try again."
	maxTitleRunes      = 30
)

// Upstream is the part of the chat/extraction API the service drives.
type Upstream interface {
	Chat(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error)
	Reset(ctx context.Context) error
	UploadPDF(ctx context.Context, filename string, r io.Reader, model string) (*upstream.UploadResult, error)
	ListSensors(ctx context.Context, limit, skip int) (*upstream.SensorList, error)
	GetSensor(ctx context.Context, model string) (*upstream.SensorRecord, error)
	InvalidateCatalog()
	DefaultModel() string
}

type ChatService struct {
	storage  storage.Storage
	upstream Upstream
	cooldown *panel.CooldownGuard
	locks    *sessionLocks
	config   *config.SessionConfig
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewChatService(cfg *config.Config, store storage.Storage, client Upstream) *ChatService {
	cs := &ChatService{
		storage:  store,
		upstream: client,
		cooldown: panel.NewCooldownGuard(cfg.Panel.ConfirmCooldown),
		locks:    newSessionLocks(),
		config:   &cfg.Session,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	if cs.config.CleanupInterval > 0 && cs.config.TTL > 0 {
		go cs.cleanupOldSessions()
	}

	return cs
}

// Close stops the cleanup loop. The storage is owned by the caller.
func (s *ChatService) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *ChatService) CreateSession(title, modelName string) (*model.Session, error) {
	now := s.now()
	if title == "" {
		title = defaultTitlePrefix + " " + now.Format("2006-01-02 15:04")
	}
	if modelName == "" {
		modelName = s.upstream.DefaultModel()
	}

	session := &model.Session{
		ID:        uuid.New().String(),
		Title:     title,
		Model:     modelName,
		Messages:  make([]model.Message, 0),
		Panel:     panel.DefaultState(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.storage.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Infof("Created session %s", session.ID)
	return session, nil
}

func (s *ChatService) GetSession(sessionID string) (*model.Session, error) {
	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		return nil, wrapStorageErr("get session", sessionID, err)
	}
	return session, nil
}

func (s *ChatService) GetSessionMessages(sessionID string) ([]model.Message, error) {
	messages, err := s.storage.GetMessages(sessionID)
	if err != nil {
		return nil, wrapStorageErr("get messages", sessionID, err)
	}

	result := make([]model.Message, len(messages))
	for i, msg := range messages {
		result[i] = *msg
	}
	return result, nil
}

func (s *ChatService) ListSessions() ([]*model.Session, error) {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *ChatService) UpdateSessionTitle(sessionID, title string) (*model.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	return s.mutate(sessionID, func(session *model.Session) {
		session.Title = title
	})
}

func (s *ChatService) DeleteSession(sessionID string) error {
	unlock := s.locks.lock(sessionID)
	err := s.storage.DeleteSession(sessionID)
	unlock()
	if err != nil {
		return wrapStorageErr("delete session", sessionID, err)
	}

	s.forget(sessionID)
	return nil
}

func (s *ChatService) ClearAllSessions() error {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	for _, session := range sessions {
		if err := s.DeleteSession(session.ID); err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
			logger.Errorf("Failed to delete session %s: %v", session.ID, err)
		}
	}
	return nil
}

func (s *ChatService) Panel(sessionID string) (panel.View, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return panel.View{}, err
	}
	return panel.BuildView(session.Panel, session.Model), nil
}

// Dismiss returns a result panel to the default listing.
func (s *ChatService) Dismiss(sessionID string) (panel.View, error) {
	session, err := s.mutate(sessionID, func(session *model.Session) {
		session.Panel = panel.Reconcile(panel.SignalNone, "", session.Panel)
	})
	if err != nil {
		return panel.View{}, err
	}
	return panel.BuildView(session.Panel, session.Model), nil
}

// SendMessage forwards text to the upstream assistant and reconciles the
// panel with the signal it returns. Upstream failures are reported through
// ChatResult.Failed, not as an error.
func (s *ChatService) SendMessage(ctx context.Context, sessionID, text, modelName string) (*model.ChatResult, error) {
	req, err := chatRequest(text, modelName)
	if err != nil {
		return nil, err
	}

	session, err := s.beginRequest(sessionID, modelName)
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, session, req)
}

// StreamEvent is one step of a streamed message: the loading panel first,
// then the final result.
type StreamEvent struct {
	Type   string            `json:"type"`
	Panel  *panel.View       `json:"panel,omitempty"`
	Result *model.ChatResult `json:"result,omitempty"`
}

const (
	EventPanel  = "panel"
	EventResult = "result"
)

func (s *ChatService) StreamMessage(ctx context.Context, sessionID, text, modelName string) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent, 2)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		req, err := chatRequest(text, modelName)
		if err != nil {
			errs <- err
			return
		}

		session, err := s.beginRequest(sessionID, modelName)
		if err != nil {
			errs <- err
			return
		}

		view := panel.BuildView(session.Panel, session.Model)
		events <- StreamEvent{Type: EventPanel, Panel: &view}

		result, err := s.dispatch(ctx, session, req)
		if err != nil {
			errs <- err
			return
		}
		events <- StreamEvent{Type: EventResult, Result: result}
	}()

	return events, errs
}

// Confirm answers the pending sensor question. A confirmation arriving inside
// the cooldown window is dropped and reported with Accepted=false.
func (s *ChatService) Confirm(ctx context.Context, sessionID, answer string) (*model.ConfirmResult, error) {
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer != "yes" && answer != "no" {
		return nil, ErrInvalidAnswer
	}

	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}

	if !s.cooldown.Allow(sessionID, s.now()) {
		logger.WithFields(map[string]interface{}{
			"session_id": sessionID,
			"answer":     answer,
		}).Info("Suppressed confirmation inside cooldown window")
		return &model.ConfirmResult{Accepted: false}, nil
	}

	session, err := s.beginRequest(sessionID, "")
	if err != nil {
		return nil, err
	}

	result, err := s.dispatch(ctx, session, upstream.ChatRequest{
		Message:     answer,
		Model:       session.Model,
		AutoConfirm: answer == "yes",
	})
	if err != nil {
		return nil, err
	}
	return &model.ConfirmResult{Accepted: true, Result: result}, nil
}

// UploadPDF sends a datasheet for extraction. A failed upload keeps the
// panel in upload mode so the user can retry.
func (s *ChatService) UploadPDF(ctx context.Context, sessionID, filename string, r io.Reader) (*model.ChatResult, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, ErrNotPDF
	}

	session, err := s.beginRequest(sessionID, "")
	if err != nil {
		return nil, err
	}

	res, upErr := s.upstream.UploadPDF(ctx, filepath.Base(filename), r, session.Model)
	if upErr == nil {
		s.upstream.InvalidateCatalog()
	}

	return s.apply(session, func(cur *model.Session) (string, bool) {
		if upErr != nil {
			logger.Errorf("PDF upload failed for session %s: %v", cur.ID, upErr)
			detail := uploadRetryPrompt
			var statusErr *upstream.StatusError
			if errors.As(upErr, &statusErr) && statusErr.Detail != "" {
				detail = statusErr.Detail
			}
			cur.Messages = append(cur.Messages, s.newMessage(cur.ID, model.RoleAssistant, detail))
			cur.Panel = panel.Reconcile(panel.SignalPDFUpload, uploadRetryPrompt, cur.Panel)
			return detail, true
		}

		summary := res.Summary()
		cur.Messages = append(cur.Messages, s.newMessage(cur.ID, model.RoleAssistant, summary))
		cur.Panel = panel.Reconcile(s.parseSignal(cur.ID, res.NextAction), res.Message, cur.Panel)
		return summary, false
	})
}

// Reset clears the upstream conversation and the local session. Responses
// still in flight for the previous conversation are discarded when they land.
func (s *ChatService) Reset(ctx context.Context, sessionID string) (*model.ChatResult, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}

	if err := s.upstream.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset conversation: %w", err)
	}

	session, err := s.mutate(sessionID, func(session *model.Session) {
		session.Messages = make([]model.Message, 0)
		session.Generation++
		session.Panel = panel.DefaultState()
	})
	if err != nil {
		return nil, err
	}
	s.cooldown.Forget(sessionID)

	logger.Infof("Reset session %s (generation %d)", sessionID, session.Generation)
	return s.result(session, ""), nil
}

func (s *ChatService) ListSensors(ctx context.Context, limit, skip int) (*upstream.SensorList, error) {
	if limit < 1 || limit > 100 || skip < 0 {
		return nil, ErrInvalidPagination
	}
	return s.upstream.ListSensors(ctx, limit, skip)
}

func (s *ChatService) GetSensor(ctx context.Context, modelName string) (*upstream.SensorRecord, error) {
	return s.upstream.GetSensor(ctx, modelName)
}

func chatRequest(text, modelName string) (upstream.ChatRequest, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return upstream.ChatRequest{}, ErrEmptyMessage
	}
	return upstream.ChatRequest{Message: text, Model: modelName}, nil
}

// beginRequest puts the panel in the loading overlay and returns the
// session as it was when the request started.
func (s *ChatService) beginRequest(sessionID, modelName string) (*model.Session, error) {
	return s.mutate(sessionID, func(session *model.Session) {
		if modelName != "" {
			session.Model = modelName
		}
		session.Panel = panel.Reconcile(panel.SignalLoading, "", session.Panel)
	})
}

func (s *ChatService) dispatch(ctx context.Context, session *model.Session, req upstream.ChatRequest) (*model.ChatResult, error) {
	if req.Model == "" {
		req.Model = session.Model
	}
	resp, chatErr := s.upstream.Chat(ctx, req)

	return s.apply(session, func(cur *model.Session) (string, bool) {
		if chatErr != nil {
			logger.Errorf("Upstream chat failed for session %s: %v", cur.ID, chatErr)
			cur.Messages = append(cur.Messages,
				s.newMessage(cur.ID, model.RoleUser, req.Message),
				s.newMessage(cur.ID, model.RoleAssistant, model.GenericErrorReply),
			)
			cur.Panel = panel.Reconcile(panel.SignalNone, model.GenericErrorReply, cur.Panel)
			return model.GenericErrorReply, true
		}

		firstUserMessage := len(cur.Messages) == 0
		cur.Messages = s.mergeHistory(cur.ID, cur.Messages, resp.ChatHistory)
		cur.Panel = panel.Reconcile(s.parseSignal(cur.ID, resp.NextAction), resp.SimplifiedMessage, cur.Panel)

		if firstUserMessage && strings.HasPrefix(cur.Title, defaultTitlePrefix) {
			cur.Title = truncateString(req.Message, maxTitleRunes)
		}
		return resp.SimplifiedMessage, false
	})
}

// apply writes the outcome of an upstream call back to the session unless
// the session was reset while the call was in flight.
func (s *ChatService) apply(started *model.Session, update func(cur *model.Session) (reply string, failed bool)) (*model.ChatResult, error) {
	unlock := s.locks.lock(started.ID)
	defer unlock()

	cur, err := s.storage.GetSession(started.ID)
	if err != nil {
		return nil, wrapStorageErr("get session", started.ID, err)
	}

	if cur.Generation != started.Generation {
		logger.WithFields(map[string]interface{}{
			"session_id": started.ID,
			"generation": started.Generation,
			"current":    cur.Generation,
		}).Warn("Discarding stale upstream response")
		res := s.result(cur, "")
		res.Stale = true
		return res, nil
	}

	reply, failed := update(cur)
	cur.UpdatedAt = s.now()
	if err := s.storage.UpdateSession(cur); err != nil {
		return nil, wrapStorageErr("update session", cur.ID, err)
	}

	res := s.result(cur, reply)
	res.Failed = failed
	return res, nil
}

func (s *ChatService) mutate(sessionID string, fn func(session *model.Session)) (*model.Session, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		return nil, wrapStorageErr("get session", sessionID, err)
	}

	fn(session)
	session.UpdatedAt = s.now()
	if err := s.storage.UpdateSession(session); err != nil {
		return nil, wrapStorageErr("update session", sessionID, err)
	}
	return session, nil
}

func (s *ChatService) parseSignal(sessionID, raw string) panel.ActionSignal {
	signal, err := panel.ParseSignal(raw)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"session_id":  sessionID,
			"next_action": raw,
		}).Warn("Unknown action signal, showing default panel")
	}
	return signal
}

// mergeHistory replaces the local history with the upstream one, keeping ids
// of messages that did not change.
func (s *ChatService) mergeHistory(sessionID string, existing []model.Message, history []upstream.HistoryEntry) []model.Message {
	merged := make([]model.Message, 0, len(history))
	for i, entry := range history {
		if i < len(existing) && existing[i].Role == entry.Role && existing[i].Content == entry.Content {
			merged = append(merged, existing[i])
			continue
		}
		merged = append(merged, s.newMessage(sessionID, entry.Role, entry.Content))
	}
	return merged
}

func (s *ChatService) newMessage(sessionID, role, content string) model.Message {
	return model.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
}

func (s *ChatService) result(session *model.Session, reply string) *model.ChatResult {
	return &model.ChatResult{
		SessionID: session.ID,
		Reply:     reply,
		Messages:  session.Messages,
		Panel:     panel.BuildView(session.Panel, session.Model),
	}
}

func (s *ChatService) forget(sessionID string) {
	s.locks.forget(sessionID)
	s.cooldown.Forget(sessionID)
}

func (s *ChatService) cleanupOldSessions() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired(s.now().Add(-s.config.TTL))
		}
	}
}

func (s *ChatService) removeExpired(cutoff time.Time) {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		logger.Errorf("Failed to list sessions for cleanup: %v", err)
		return
	}

	for _, session := range sessions {
		if !session.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.DeleteSession(session.ID); err != nil {
			logger.Errorf("Failed to delete expired session %s: %v", session.ID, err)
		} else {
			logger.Infof("Cleaned up expired session: %s", session.ID)
		}
	}
}

func wrapStorageErr(op, sessionID string, err error) error {
	if errors.Is(err, storage.ErrSessionNotFound) {
		return fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func truncateString(str string, maxLen int) string {
	runes := []rune(str)
	if len(runes) <= maxLen {
		return str
	}
	return string(runes[:maxLen]) + "..."
}
