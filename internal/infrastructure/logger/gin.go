package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader carries the request ID in and out of the control API
const RequestIDHeader = "X-Request-ID"

const ginLoggerKey = "logger"

// GinMiddleware attaches a request logger to the request context and writes
// one access entry per request. Requests routed under /scopes/:scope also
// carry the scope field.
func GinMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx, reqLogger := WithRequestID(req.Context(), logger, requestID)
		reqLogger = reqLogger.With(zap.String("method", req.Method), zap.String("path", req.URL.Path))
		ctx = WithContext(ctx, reqLogger)
		if scope := c.Param("scope"); scope != "" {
			ctx, reqLogger = WithScope(ctx, reqLogger, scope)
		}
		c.Request = req.WithContext(ctx)
		c.Set(ginLoggerKey, reqLogger)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if q := req.URL.RawQuery; q != "" {
			fields = append(fields, zap.String("query", q))
		}
		if errs := c.Errors.Errors(); len(errs) > 0 {
			fields = append(fields, zap.Strings("errors", errs))
		}
		if ce := reqLogger.Check(accessLevel(status), "HTTP Request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func accessLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

// Recovery turns a handler panic into a 500 and logs it with the stack
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			l := logger
			if reqLogger, ok := c.Get(ginLoggerKey); ok {
				if zl, ok := reqLogger.(*zap.Logger); ok {
					l = zl
				}
			}
			l.Error("Panic recovered",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("error", rec),
				zap.Stack("stacktrace"),
			)
			c.AbortWithStatus(http.StatusInternalServerError)
		}()
		c.Next()
	}
}

// GetGinLogger returns the request logger set by GinMiddleware, or a no-op logger
func GetGinLogger(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return zap.NewNop()
}
