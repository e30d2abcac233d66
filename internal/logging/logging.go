// Package logging configures logrus output and carries request ids through gin and contexts.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// RequestIDHeader is the header used to propagate request ids.
	RequestIDHeader = "X-Request-ID"

	ginRequestIDKey = "microrun.request_id"
)

type requestIDContextKey struct{}

// Options controls log level and optional file rotation.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup configures the standard logrus logger. The returned closer flushes the rotating file, if any.
func Setup(opts Options) (io.Closer, error) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	level, errLevel := log.ParseLevel(strings.TrimSpace(opts.Level))
	if errLevel != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	file := strings.TrimSpace(opts.File)
	if file == "" {
		log.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}
	if dir := filepath.Dir(file); dir != "" && dir != "." {
		if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
			return nil, errMkdir
		}
	}
	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}

// SetGinRequestID stores the request id on the gin context.
func SetGinRequestID(c *gin.Context, requestID string) {
	if c == nil {
		return
	}
	c.Set(ginRequestIDKey, strings.TrimSpace(requestID))
}

// GinRequestID returns the request id stored on the gin context.
func GinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Get(ginRequestIDKey); ok {
		if s, okStr := v.(string); okStr {
			return s
		}
	}
	return ""
}

// ContextWithRequestID returns a child context carrying requestID.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request id carried by ctx.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return v
	}
	return ""
}

// FromContext returns a log entry tagged with the request id of ctx, when present.
func FromContext(ctx context.Context) *log.Entry {
	entry := log.NewEntry(log.StandardLogger())
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	return entry
}
