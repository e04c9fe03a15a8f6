package tasks

import (
	"net/http"

	"autoclick_go/models"

	"github.com/gin-gonic/gin"
)

// StatusSource отдаёт состояние фоновых задач.
type StatusSource interface {
	Status() []models.TaskStatus
}

type Handler struct {
	Source StatusSource
}

// List возвращает состояние всех фоновых задач.
func (h *Handler) List(c *gin.Context) {
	status := h.Source.Status()
	running := 0
	for _, st := range status {
		if st.State == models.TaskRunning {
			running++
		}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": status, "running": running})
}
