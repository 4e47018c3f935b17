package handler

import (
	"net/http"
	"strconv"

	"sensorchat-gateway/internal/service"

	"github.com/gin-gonic/gin"
)

type SensorHandler struct {
	chatService *service.ChatService
}

func NewSensorHandler(chatService *service.ChatService) *SensorHandler {
	return &SensorHandler{
		chatService: chatService,
	}
}

func (h *SensorHandler) ListSensors(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		respondError(c, service.ErrInvalidPagination)
		return
	}
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil {
		respondError(c, service.ErrInvalidPagination)
		return
	}

	list, err := h.chatService.ListSensors(c.Request.Context(), limit, skip)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func (h *SensorHandler) GetSensor(c *gin.Context) {
	sensor, err := h.chatService.GetSensor(c.Request.Context(), c.Param("model"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sensor)
}
