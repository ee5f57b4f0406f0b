package middleware

import (
	"net/http"

	"vidstream/pkg/errors"
	"vidstream/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandlerMiddleware renders the last handler error as a JSON body,
// using the AppError code and status when there is one.
func ErrorHandlerMiddleware(log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		l := log.Sugared(c.Request.Context())

		if appErr := errors.GetAppError(err); appErr != nil {
			if appErr.HTTPStatus >= http.StatusInternalServerError {
				l.Errorw("request failed", "code", appErr.Code, "error", err, "path", c.Request.URL.Path)
			} else {
				l.Debugw("request rejected", "code", appErr.Code, "message", appErr.Message, "path", c.Request.URL.Path)
			}
			body := gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			}
			if len(appErr.Context) > 0 {
				body["details"] = appErr.Context
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		l.Errorw("unhandled error", "error", err, "path", c.Request.URL.Path, "method", c.Request.Method)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(errors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500.
func RecoveryMiddleware(log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Sugared(c.Request.Context()).Errorw("panic recovered",
					"panic", rec,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
