// Package logging owns the daemon's zap logger and its HTTP access log.
//
// Library packages never reach for this global; they take a *zap.Logger
// from their constructor and main hands them a named child of L().
package logging

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// requestInfo is what Middleware attaches to a request context.
type requestInfo struct {
	id     string
	logger *zap.Logger
}

var (
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init builds the global logger. An unknown level falls back to info.
func Init(cfg Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	globalLevel.SetLevel(level)

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = globalLevel
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{"stdout"}
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	if host, err := os.Hostname(); err == nil {
		logger = logger.With(zap.String("host", host))
	}
	globalLogger = logger.Named("treemirror")
	return nil
}

// Sync flushes buffered entries; call it before exit.
func Sync() error {
	if globalLogger == nil {
		return nil
	}
	return globalLogger.Sync()
}

// LevelHandler serves the global log level: GET reports it and PUT with a
// body such as {"level":"debug"} changes it while the process runs.
func LevelHandler() http.Handler {
	return globalLevel
}

// L returns the global logger, building a production one if Init was never
// called.
func L() *zap.Logger {
	if globalLogger == nil {
		globalLogger, _ = zap.NewProduction()
	}
	return globalLogger
}

// WithContext returns the request-scoped logger from ctx, or L().
func WithContext(ctx context.Context) *zap.Logger {
	if info, ok := ctx.Value(ctxKey{}).(requestInfo); ok {
		return info.logger
	}
	return L()
}

// WithRequestID returns ctx carrying requestID and a logger tagged with it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	logger := WithContext(ctx).With(zap.String("request_id", requestID))
	return context.WithValue(ctx, ctxKey{}, requestInfo{id: requestID, logger: logger})
}

// GetRequestID returns the request ID stored by WithRequestID, or "".
func GetRequestID(ctx context.Context) string {
	info, _ := ctx.Value(ctxKey{}).(requestInfo)
	return info.id
}

// statusRecorder remembers the status and body size of a response. It
// forwards Flush so event streams keep working behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("logging: response writer cannot hijack")
	}
	return h.Hijack()
}

// Middleware tags every request with an ID (the incoming X-Request-ID, or a
// fresh UUID) and writes one access log line when the handler returns.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(WithRequestID(r.Context(), id))

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sr.status),
			zap.Int64("size", sr.bytes),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		}
		if r.Pattern != "" {
			fields = append(fields, zap.String("route", r.Pattern))
		}

		logger := WithContext(r.Context())
		switch {
		case sr.status >= http.StatusInternalServerError:
			logger.Error("request completed", fields...)
		case r.URL.Path == "/health":
			logger.Debug("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	})
}
