// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Update source kinds.
const (
	SourceNotify = "notify"
	SourcePoll   = "poll"
	SourceRemote = "remote"
)

// Config holds the treemirror daemon configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string

	// Mirrored tree
	Root          string
	Source        string
	PollInterval  time.Duration
	IgnoreRules   []string
	UseGitignore  bool
	IncludeHidden bool

	// Remote source (optional)
	RemoteURL   string
	RemoteToken string

	// FUSE mount point (optional, empty disables the mount)
	MountPoint string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:   envOr("METRICS_ADDR", ":9090"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFormat:     envOr("LOG_FORMAT", "json"),
		LogOutput:     envOr("LOG_OUTPUT", ""),
		Root:          envOr("TREEMIRROR_ROOT", "."),
		Source:        strings.ToLower(envOr("TREEMIRROR_SOURCE", SourceNotify)),
		PollInterval:  envDuration("TREEMIRROR_POLL_INTERVAL", 5*time.Second),
		IgnoreRules:   envList("TREEMIRROR_IGNORE"),
		UseGitignore:  envBool("TREEMIRROR_GITIGNORE", true),
		IncludeHidden: envBool("TREEMIRROR_HIDDEN", false),
		RemoteURL:     envOr("TREEMIRROR_REMOTE_URL", ""),
		RemoteToken:   envOr("TREEMIRROR_REMOTE_TOKEN", ""),
		MountPoint:    envOr("TREEMIRROR_MOUNT", ""),
	}

	switch cfg.Source {
	case SourceNotify, SourcePoll:
		abs, err := filepath.Abs(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("TREEMIRROR_ROOT: %w", err)
		}
		cfg.Root = abs
	case SourceRemote:
		if cfg.RemoteURL == "" {
			return nil, fmt.Errorf("TREEMIRROR_REMOTE_URL is required for the remote source")
		}
	default:
		return nil, fmt.Errorf("TREEMIRROR_SOURCE must be %s, %s or %s, got %q",
			SourceNotify, SourcePoll, SourceRemote, cfg.Source)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("TREEMIRROR_POLL_INTERVAL must be positive")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
