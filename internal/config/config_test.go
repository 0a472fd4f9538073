package config

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TREEMIRROR_ROOT", "")
	t.Setenv("TREEMIRROR_SOURCE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source != SourceNotify {
		t.Errorf("Source = %q", cfg.Source)
	}
	if !filepath.IsAbs(cfg.Root) {
		t.Errorf("Root = %q, want absolute", cfg.Root)
	}
	if cfg.PollInterval != 5*time.Second || !cfg.UseGitignore || cfg.IncludeHidden {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ListenAddr != ":8080" || cfg.MetricsAddr != ":9090" {
		t.Errorf("addrs = %q %q", cfg.ListenAddr, cfg.MetricsAddr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TREEMIRROR_ROOT", "/srv/project")
	t.Setenv("TREEMIRROR_SOURCE", "Poll")
	t.Setenv("TREEMIRROR_POLL_INTERVAL", "250ms")
	t.Setenv("TREEMIRROR_IGNORE", "node_modules, *.tmp,,")
	t.Setenv("TREEMIRROR_GITIGNORE", "false")
	t.Setenv("TREEMIRROR_HIDDEN", "true")
	t.Setenv("TREEMIRROR_MOUNT", "/mnt/tree")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != "/srv/project" || cfg.Source != SourcePoll {
		t.Errorf("root/source = %q %q", cfg.Root, cfg.Source)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if want := []string{"node_modules", "*.tmp"}; !reflect.DeepEqual(cfg.IgnoreRules, want) {
		t.Errorf("IgnoreRules = %q, want %q", cfg.IgnoreRules, want)
	}
	if cfg.UseGitignore || !cfg.IncludeHidden || cfg.MountPoint != "/mnt/tree" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown source", map[string]string{"TREEMIRROR_SOURCE": "inotify"}},
		{"remote without url", map[string]string{"TREEMIRROR_SOURCE": "remote", "TREEMIRROR_REMOTE_URL": ""}},
		{"negative interval", map[string]string{"TREEMIRROR_POLL_INTERVAL": "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadRemote(t *testing.T) {
	t.Setenv("TREEMIRROR_SOURCE", "remote")
	t.Setenv("TREEMIRROR_REMOTE_URL", "http://upstream:8080")
	t.Setenv("TREEMIRROR_REMOTE_TOKEN", "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RemoteURL != "http://upstream:8080" || cfg.RemoteToken != "tok" {
		t.Errorf("cfg = %+v", cfg)
	}
}
