package handler

import (
	"context"
	"net/http"
	"time"

	"sensorchat-gateway/internal/model"
	"sensorchat-gateway/internal/service"
	"sensorchat-gateway/internal/utils"
	"sensorchat-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

const streamTimeout = 5 * time.Minute

type ChatHandler struct {
	chatService    *service.ChatService
	maxUploadBytes int64
}

func NewChatHandler(chatService *service.ChatService, maxUploadBytes int64) *ChatHandler {
	return &ChatHandler{
		chatService:    chatService,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), c.Param("id"), req.Message, req.Model)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// StreamMessage sends the loading panel as soon as the request is accepted
// and the final result once upstream answers.
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := c.Param("id")
	if _, err := h.chatService.GetSession(sessionID); err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), streamTimeout)
	defer cancel()

	sseWriter := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)

	events, errs := h.chatService.StreamMessage(ctx, sessionID, req.Message, req.Model)
	relayStream(ctx, sseWriter, events, errs)
}

// relayStream forwards stream events until both channels are done. An error
// still buffered when events closes is written before [DONE].
func relayStream(ctx context.Context, sseWriter *utils.SSEWriter, events <-chan service.StreamEvent, errs <-chan error) {
	defer sseWriter.Close()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if errs != nil {
					if err, pending := <-errs; pending {
						writeStreamError(sseWriter, err)
					}
				}
				return
			}
			if err := sseWriter.WriteJSON(ev.Type, ev); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
				return
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			writeStreamError(sseWriter, err)
			return

		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				sseWriter.WriteJSON("error", gin.H{
					"error":  "request timed out",
					"status": http.StatusGatewayTimeout,
				})
			}
			return
		}
	}
}

func writeStreamError(sseWriter *utils.SSEWriter, err error) {
	sseWriter.WriteJSON("error", gin.H{
		"error":  err.Error(),
		"status": statusFor(err),
	})
}

func (h *ChatHandler) Confirm(c *gin.Context) {
	var req model.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.chatService.Confirm(c.Request.Context(), c.Param("id"), req.Answer)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *ChatHandler) Reset(c *gin.Context) {
	result, err := h.chatService.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *ChatHandler) UploadPDF(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a PDF file is required in form field \"file\""})
		return
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	result, err := h.chatService.UploadPDF(c.Request.Context(), c.Param("id"), header.Filename, file)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *ChatHandler) GetPanel(c *gin.Context) {
	view, err := h.chatService.Panel(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *ChatHandler) DismissPanel(c *gin.Context) {
	view, err := h.chatService.Dismiss(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
