package httputil

import "github.com/gin-gonic/gin"

// RespondError отправляет ошибку в едином формате и прерывает цепочку обработчиков.
func RespondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
