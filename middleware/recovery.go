package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/mmosocial/game/apperr"
	"go.uber.org/zap"
)

// Recovery catches panics, logs them and answers with the INTERNAL error body.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("error", r),
					zap.String("trace_id", GetTraceID(c)),
					zap.Int64("player_id", GetPlayerID(c)),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
					"code":  apperr.ErrInternal.Code,
				})
			}
		}()
		c.Next()
	}
}
