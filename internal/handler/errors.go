package handler

import (
	"errors"
	"net/http"

	"sensorchat-gateway/internal/service"
	"sensorchat-gateway/internal/storage"
	"sensorchat-gateway/internal/upstream"
	"sensorchat-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrSessionNotFound),
		errors.Is(err, upstream.ErrSensorNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrEmptyTitle),
		errors.Is(err, service.ErrInvalidAnswer),
		errors.Is(err, service.ErrNotPDF),
		errors.Is(err, service.ErrInvalidPagination):
		return http.StatusBadRequest
	case errors.Is(err, upstream.ErrUnavailable),
		errors.Is(err, upstream.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
