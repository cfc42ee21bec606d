package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerAuthorization       = "Authorization"
	bearerPrefix              = "Bearer "
	errorValueAdminDisabled   = "admin_disabled"
	errorValueMissingBearer   = "missing_bearer"
	errorValueForbidden       = "forbidden"
	logFieldAccountIdentifier = "account_id"
)

func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		fields := []zap.Field{
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", context.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
		}
		if account, ok := AccountFromContext(context); ok {
			fields = append(fields, zap.String(logFieldAccountIdentifier, account.ID))
		}
		logger.Info("http", fields...)
	}
}

func AdminAuthMiddleware(adminBearerToken string) gin.HandlerFunc {
	return func(context *gin.Context) {
		if adminBearerToken == "" {
			context.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueAdminDisabled})
			return
		}
		provided, hasBearer := bearerToken(context)
		if !hasBearer {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueMissingBearer})
			return
		}
		if provided != adminBearerToken {
			context.AbortWithStatusJSON(http.StatusForbidden, gin.H{jsonKeyError: errorValueForbidden})
			return
		}
		context.Next()
	}
}

func bearerToken(context *gin.Context) (string, bool) {
	authorizationHeader := strings.TrimSpace(context.GetHeader(headerAuthorization))
	if !strings.HasPrefix(authorizationHeader, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorizationHeader, bearerPrefix))
	return token, token != ""
}
