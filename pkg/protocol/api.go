// Package protocol defines the API request/response types.
package protocol

import (
	"fmt"

	"github.com/fruitsalade/treemirror/pkg/tree"
)

// Event types.
const (
	EventUpsert = "upsert"
	EventDelete = "delete"
)

// TreeResponse is returned by GET /api/v1/tree and GET /api/v1/tree/{path}.
type TreeResponse struct {
	RootPath string      `json:"root_path"`
	Path     string      `json:"path,omitempty"`
	Version  uint64      `json:"version"`
	Root     *tree.Entry `json:"root"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// UpdateEvent is streamed by GET /api/v1/events after each applied update.
// Entry is omitted for deletes. Path is relative to the mirrored root, ""
// being the root itself.
type UpdateEvent struct {
	Type      string      `json:"type"`
	Path      string      `json:"path"`
	Entry     *tree.Entry `json:"entry,omitempty"`
	Version   uint64      `json:"version"`
	Timestamp int64       `json:"timestamp"`
}

// Update converts the event back into a tree update.
func (e UpdateEvent) Update() (tree.Update, error) {
	u := tree.Update{Path: tree.SplitPath(e.Path)}
	switch e.Type {
	case EventUpsert:
		if e.Entry == nil {
			return u, fmt.Errorf("upsert event for %q has no entry", e.Path)
		}
		u.Entry = e.Entry
	case EventDelete:
	default:
		return u, fmt.Errorf("unknown event type %q", e.Type)
	}
	return u, nil
}

// FindResponse is returned by GET /api/v1/find.
type FindResponse struct {
	Query   string       `json:"query"`
	Version uint64       `json:"version"`
	Results []tree.Match `json:"results"`
}

// StatsResponse is returned by GET /api/v1/stats.
type StatsResponse struct {
	RootPath string `json:"root_path"`
	Version  uint64 `json:"version"`
	Files    int    `json:"files"`
	Dirs     int    `json:"dirs"`
	Applied  uint64 `json:"applied"`
	Failed   uint64 `json:"failed"`
	State    string `json:"state"`
}
