package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fruitsalade/treemirror/pkg/tree"
)

func TestRecordUpdate(t *testing.T) {
	applied := testutil.ToFloat64(updatesTotal.WithLabelValues("upsert", "applied"))
	failed := testutil.ToFloat64(updatesTotal.WithLabelValues("delete", "failed"))
	notFound := testutil.ToFloat64(updateFailuresTotal.WithLabelValues("path_not_found"))

	RecordUpdate(tree.Result{
		Update:   tree.Update{Path: tree.Path{"a"}, Entry: tree.NewFile("a")},
		Version:  12,
		Duration: time.Microsecond,
	})
	RecordUpdate(tree.Result{
		Update: tree.Update{Path: tree.Path{"b"}},
		Err:    &tree.PathError{Op: "delete", Path: tree.Path{"b"}, Err: tree.ErrPathNotFound},
	})

	if got := testutil.ToFloat64(updatesTotal.WithLabelValues("upsert", "applied")); got != applied+1 {
		t.Errorf("applied = %v, want %v", got, applied+1)
	}
	if got := testutil.ToFloat64(updatesTotal.WithLabelValues("delete", "failed")); got != failed+1 {
		t.Errorf("failed = %v, want %v", got, failed+1)
	}
	if got := testutil.ToFloat64(updateFailuresTotal.WithLabelValues("path_not_found")); got != notFound+1 {
		t.Errorf("path_not_found = %v, want %v", got, notFound+1)
	}
	if got := testutil.ToFloat64(treeVersion); got != 12 {
		t.Errorf("version = %v, want 12", got)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", tree.ErrInvalidIntermediate), "invalid_intermediate"},
		{tree.ErrNameMismatch, "name_mismatch"},
		{tree.ErrInvalidEntry, "invalid_entry"},
		{tree.ErrEmptyPath, "empty_path"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := FailureReason(tt.err); got != tt.want {
			t.Errorf("FailureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSetTreeSize(t *testing.T) {
	SetTreeSize(7, 3)
	if got := testutil.ToFloat64(treeEntries.WithLabelValues("file")); got != 7 {
		t.Errorf("files = %v", got)
	}
	if got := testutil.ToFloat64(treeEntries.WithLabelValues("dir")); got != 3 {
		t.Errorf("dirs = %v", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tree/{path...}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := Middleware(mux)

	counter := httpRequestsTotal.WithLabelValues("GET", "GET /api/v1/tree/{path...}", "404")
	before := testutil.ToFloat64(counter)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/tree/a/b/c", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/tree/x", nil))

	if got := testutil.ToFloat64(counter); got != before+2 {
		t.Errorf("requests = %v, want %v", got, before+2)
	}
}
