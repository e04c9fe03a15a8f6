package tasks

import "github.com/gin-gonic/gin"

// SetupRoutes регистрирует маршрут состояния задач.
func SetupRoutes(r *gin.RouterGroup, src StatusSource) {
	handler := &Handler{Source: src}
	r.GET("", handler.List)
}
