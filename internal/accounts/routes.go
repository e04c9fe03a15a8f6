package accounts

import (
	"autoclick_go/pkg/storage"

	"github.com/gin-gonic/gin"
)

// SetupRoutes регистрирует маршруты реестра аккаунтов.
func SetupRoutes(r *gin.RouterGroup, reg storage.Registry, resumer Resumer) {
	handler := NewHandler(reg, resumer)
	r.GET("", handler.List)
	// POST, чтобы запрос не кэшировался: он открывает сессии и запускает задачи.
	r.POST("/resume", handler.Resume)
}
