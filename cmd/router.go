package cmd

import (
	"net/http"

	"autoclick_go/internal/accounts"
	"autoclick_go/internal/middleware"
	"autoclick_go/internal/tasks"
	"autoclick_go/logger"
	"autoclick_go/pkg/storage"

	"github.com/gin-gonic/gin"
)

// setupRouter настраивает маршруты операторского API.
func setupRouter(token string, reg storage.Registry, resumer accounts.Resumer, src tasks.StatusSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// Health check доступен без токена
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := r.Group("/", middleware.AuthRequired(token))
	accounts.SetupRoutes(protected.Group("/accounts"), reg, resumer)
	tasks.SetupRoutes(protected.Group("/tasks"), src)

	log := logger.For("router")
	log.Infof("[ROUTER] Routes initialized:")
	log.Infof("[ROUTER] GET /health")
	log.Infof("[ROUTER] GET /accounts")
	log.Infof("[ROUTER] POST /accounts/resume")
	log.Infof("[ROUTER] GET /tasks")
	return r
}
