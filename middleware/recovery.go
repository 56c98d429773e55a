package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500 and logs it with the stack, the
// trace id and the signed-in account. A panic after the response started
// only aborts the chain.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			fields := []zap.Field{
				zap.Any("panic", r),
				zap.String("trace_id", GetTraceID(c)),
				zap.String("route", c.FullPath()),
				zap.String("path", c.Request.URL.Path),
				zap.Stack("stack"),
			}
			if id := GetAccountID(c); id != 0 {
				fields = append(fields, zap.Int64("account_id", id))
			}
			log.Error("handler panicked", fields...)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}()
		c.Next()
	}
}
