package accounts

import (
	"context"
	"net/http"

	"autoclick_go/internal/httputil"
	"autoclick_go/logger"
	"autoclick_go/models"
	"autoclick_go/pkg/storage"

	"github.com/gin-gonic/gin"
)

// Resumer поднимает задачи для авторизованных аккаунтов реестра.
type Resumer interface {
	Resume(ctx context.Context) (int, error)
}

// Handler отдаёт реестр аккаунтов оператору.
type Handler struct {
	Registry storage.Registry
	Resumer  Resumer
}

func NewHandler(reg storage.Registry, r Resumer) *Handler {
	return &Handler{Registry: reg, Resumer: r}
}

// List возвращает все аккаунты реестра без api_hash.
func (h *Handler) List(c *gin.Context) {
	accounts, err := h.Registry.Load(c.Request.Context())
	if err != nil {
		logger.For("api").Errorf("[ACCOUNTS] ошибка чтения реестра: %v", err)
		httputil.RespondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	masked := make([]models.Account, 0, len(accounts))
	for _, acc := range accounts {
		masked = append(masked, acc.Masked())
	}
	c.JSON(http.StatusOK, gin.H{"accounts": masked, "count": len(masked)})
}

// Resume перезапускает задачи аккаунтов, которые не работают, но ещё авторизованы.
func (h *Handler) Resume(c *gin.Context) {
	if h.Resumer == nil {
		httputil.RespondError(c, http.StatusServiceUnavailable, "resume is not available")
		return
	}
	n, err := h.Resumer.Resume(c.Request.Context())
	if err != nil {
		logger.For("api").Errorf("[ACCOUNTS] ошибка восстановления: %v", err)
		httputil.RespondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": n})
}
