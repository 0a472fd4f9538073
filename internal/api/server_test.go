package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/fruitsalade/treemirror/internal/events"
	"github.com/fruitsalade/treemirror/pkg/client"
	"github.com/fruitsalade/treemirror/pkg/protocol"
	"github.com/fruitsalade/treemirror/pkg/tree"
)

func sampleHandle(t *testing.T) *tree.Handle {
	t.Helper()
	tr, err := tree.New("/srv/project")
	if err != nil {
		t.Fatal(err)
	}
	h := tree.NewHandle(tr)
	root := tree.NewDir("project",
		tree.NewDir("cmd", tree.NewFile("main.go")),
		tree.NewDir("pkg", tree.NewDir("tree", tree.NewFile("tree.go"), tree.NewFile("walk.go"))),
		tree.NewFile("README.md"),
	)
	if _, err := h.Apply(tree.Update{Path: tree.Path{}, Entry: root}); err != nil {
		t.Fatal(err)
	}
	return h
}

type fixedStats tree.Stats

func (f fixedStats) Stats() tree.Stats { return tree.Stats(f) }

func getJSON(t *testing.T, h http.Handler, url string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(sampleHandle(t), nil, nil)
	rec := getJSON(t, s.Handler(), "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestTree(t *testing.T) {
	h := sampleHandle(t)
	s := NewServer(h, nil, nil)

	var resp protocol.TreeResponse
	rec := getJSON(t, s.Handler(), "/api/v1/tree", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	root, version := h.Snapshot()
	if !reflect.DeepEqual(resp.Root, root) || resp.Version != version || resp.RootPath != "/srv/project" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTreeGzip(t *testing.T) {
	s := NewServer(sampleHandle(t), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tree", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", rec.Header().Get("Content-Encoding"))
	}
	gr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	var resp protocol.TreeResponse
	if err := json.NewDecoder(gr).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Root == nil || resp.Root.Name != "project" {
		t.Errorf("root = %+v", resp.Root)
	}
}

func TestSubtree(t *testing.T) {
	s := NewServer(sampleHandle(t), nil, nil)
	handler := s.Handler()

	var resp protocol.TreeResponse
	if rec := getJSON(t, handler, "/api/v1/tree/pkg/tree", &resp); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Path != "pkg/tree" || len(resp.Root.Children) != 2 {
		t.Errorf("resp = %+v", resp)
	}

	tests := []struct {
		url  string
		code int
	}{
		{"/api/v1/tree/README.md", http.StatusOK},
		{"/api/v1/tree/missing", http.StatusNotFound},
		{"/api/v1/tree/README.md/x", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := getJSON(t, handler, tt.url, nil); rec.Code != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.url, rec.Code, tt.code)
		}
	}
}

func TestFind(t *testing.T) {
	s := NewServer(sampleHandle(t), nil, nil)
	handler := s.Handler()

	var resp protocol.FindResponse
	if rec := getJSON(t, handler, "/api/v1/find?q=tree&limit=1", &resp); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(resp.Results) != 1 || resp.Results[0].Path != "pkg/tree/tree.go" {
		t.Errorf("results = %+v", resp.Results)
	}

	if rec := getJSON(t, handler, "/api/v1/find", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d", rec.Code)
	}
	if rec := getJSON(t, handler, "/api/v1/find?q=a&limit=zero", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", rec.Code)
	}

	resp = protocol.FindResponse{}
	getJSON(t, handler, "/api/v1/find?q=zzzz", &resp)
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("no-match results = %#v, want empty list", resp.Results)
	}
}

func TestStats(t *testing.T) {
	stats := fixedStats{Applied: 4, Failed: 1, State: tree.StateSubscribed}
	s := NewServer(sampleHandle(t), stats, nil)

	var resp protocol.StatsResponse
	getJSON(t, s.Handler(), "/api/v1/stats", &resp)
	want := protocol.StatsResponse{
		RootPath: "/srv/project",
		Version:  1,
		Files:    4,
		Dirs:     4,
		Applied:  4,
		Failed:   1,
		State:    tree.StateSubscribed.String(),
	}
	if resp != want {
		t.Errorf("stats = %+v, want %+v", resp, want)
	}
}

func TestEventsDisabled(t *testing.T) {
	s := NewServer(sampleHandle(t), nil, nil)
	if rec := getJSON(t, s.Handler(), "/api/v1/events", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

// TestRemoteMirror drives a tree through the server's event stream and
// mirrors it into a second tree with client.RemoteSource.
func TestRemoteMirror(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan tree.Update)
	b := events.NewBroadcaster()
	upstream, upDriver, err := tree.Subscribe(ctx, "/srv/project", tree.ChanSource(updates),
		tree.WithObserver(b.Observe))
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(NewServer(upstream, upDriver, b).Handler())
	defer func() {
		cancel() // end the event stream before Close waits on it
		ts.Close()
	}()

	updates <- tree.Update{Path: tree.Path{}, Entry: tree.NewDir("project", tree.NewFile("a"))}

	c := client.New(client.Config{BaseURL: ts.URL})
	src := client.NewRemoteSource(c, client.NewSSEClient(ts.URL, nil), nil)
	mirror, _, err := tree.Subscribe(ctx, "/mirror/project", src)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { _, err := mirror.Lookup(tree.Path{"a"}); return err == nil })

	updates <- tree.Update{Path: tree.Path{"d"}, Entry: tree.NewDir("d", tree.NewFile("x"))}
	updates <- tree.Update{Path: tree.Path{"a"}}

	waitFor(t, func() bool {
		want, _ := upstream.Snapshot()
		got, _ := mirror.Snapshot()
		return reflect.DeepEqual(got, want)
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
