package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/stockline/internal/observability/context"
	"github.com/smallbiznis/stockline/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	requestIDHeader     = "X-Request-Id"
	validationErrorType = "validation"
)

// Gin context keys handlers may set to enrich the access log line.
const (
	KeyQueueSource = "queue_source"
	KeyActorRole   = "actor_role"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
	// QuietRoutes are logged at debug level; health checks and scrapes by default.
	QuietRoutes []string
}

var defaultQuietRoutes = []string{"/health", "/metrics"}

// GinMiddleware assigns request and correlation ids, then writes one
// http.request line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	quiet := map[string]struct{}{}
	routes := cfg.QuietRoutes
	if routes == nil {
		routes = defaultQuietRoutes
	}
	for _, r := range routes {
		quiet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFor(c)
		correlationID, ok := correlation.Parse(c.GetHeader(correlation.Header))
		if !ok {
			correlationID = correlation.New(start)
		}
		c.Header(requestIDHeader, requestID)
		c.Header(correlation.Header, correlationID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = correlation.WithID(ctx, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if role := c.GetString(KeyActorRole); role != "" {
			fields = append(fields, zap.String("actor_role", role))
		}
		if source := strings.TrimSpace(c.GetString(KeyQueueSource)); source != "" {
			fields = append(fields, zap.String("queue_source", source))
		}

		var errorType string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug && status >= http.StatusInternalServerError {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		_, isQuiet := quiet[route]
		level := requestLevel(status, errorType, isQuiet)
		if ce := FromContext(c.Request.Context()).Check(level, "http.request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestIDFor(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(requestIDHeader)); id != "" {
		return id
	}
	return uuid.NewString()
}

// requestLevel keeps rejected submissions and denied actors out of the
// error stream; only server faults log at error.
func requestLevel(status int, errorType string, quiet bool) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case quiet:
		return zapcore.DebugLevel
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return zapcore.WarnLevel
	case status >= http.StatusBadRequest && errorType == validationErrorType:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
