package handler

import (
	"net/http"
	"time"

	"sensorchat-gateway/internal/config"
	"sensorchat-gateway/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func NewRouter(cfg *config.Config, chatService *service.ChatService) *gin.Engine {
	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	if len(cfg.CORS.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     cfg.CORS.AllowedMethods,
			AllowHeaders:     cfg.CORS.AllowedHeaders,
			ExposeHeaders:    cfg.CORS.ExposedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
		}))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	sessionHandler := NewSessionHandler(chatService)
	chatHandler := NewChatHandler(chatService, cfg.Server.MaxUploadBytes)
	sensorHandler := NewSensorHandler(chatService)

	api := router.Group("/api")
	{
		sessions := api.Group("/sessions")
		{
			sessions.POST("", sessionHandler.CreateSession)
			sessions.GET("", sessionHandler.ListSessions)
			sessions.DELETE("", sessionHandler.ClearAllSessions)
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.PUT("/:id", sessionHandler.UpdateSessionTitle)
			sessions.DELETE("/:id", sessionHandler.DeleteSession)
			sessions.GET("/:id/messages", sessionHandler.GetMessages)

			sessions.GET("/:id/panel", chatHandler.GetPanel)
			sessions.POST("/:id/panel/dismiss", chatHandler.DismissPanel)
			sessions.POST("/:id/chat", chatHandler.SendMessage)
			sessions.POST("/:id/chat/stream", chatHandler.StreamMessage)
			sessions.POST("/:id/confirm", chatHandler.Confirm)
			sessions.POST("/:id/reset", chatHandler.Reset)
			sessions.POST("/:id/pdf", chatHandler.UploadPDF)
		}

		sensors := api.Group("/sensors")
		{
			sensors.GET("", sensorHandler.ListSensors)
			sensors.GET("/:model", sensorHandler.GetSensor)
		}
	}

	return router
}
