package logging

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func withObservedLogger(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := globalLogger
	globalLogger = zap.New(core)
	t.Cleanup(func() { globalLogger = prev })
	return logs
}

func TestMiddlewareGeneratesRequestID(t *testing.T) {
	logs := withObservedLogger(t)

	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tree", nil))

	id := rec.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("X-Request-ID %q is not a UUID: %v", id, err)
	}
	if seen != id {
		t.Errorf("context request ID = %q, header = %q", seen, id)
	}

	done := logs.FilterMessage("request completed").All()
	if len(done) != 1 {
		t.Fatalf("logged %d completions, want 1", len(done))
	}
	fields := done[0].ContextMap()
	if fields["request_id"] != id || fields["status"] != int64(http.StatusTeapot) || fields["size"] != int64(15) {
		t.Errorf("fields = %v", fields)
	}
}

func TestMiddlewareKeepsIncomingRequestID(t *testing.T) {
	withObservedLogger(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestLevelHandler(t *testing.T) {
	defer globalLevel.SetLevel(globalLevel.Level())
	h := LevelHandler()

	req := httptest.NewRequest(http.MethodPut, "/loglevel", strings.NewReader(`{"level":"debug"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}
	if globalLevel.Level() != zapcore.DebugLevel {
		t.Errorf("level = %v, want debug", globalLevel.Level())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loglevel", nil))
	if !strings.Contains(rec.Body.String(), `"debug"`) {
		t.Errorf("GET body = %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPut, "/loglevel", strings.NewReader(`{"level":"loud"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || globalLevel.Level() != zapcore.DebugLevel {
		t.Errorf("bad level: status = %d, level = %v", rec.Code, globalLevel.Level())
	}
}
