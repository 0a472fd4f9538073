package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fruitsalade/treemirror/internal/scan"
	"github.com/fruitsalade/treemirror/pkg/tree"
)

// ErrRootRemoved ends a NotifySource whose root directory went away.
var ErrRootRemoved = errors.New("watched root was removed or renamed")

// NotifySource emits updates from fsnotify events. Directories are watched
// individually; new directories are added as they appear. The scanner must
// read the OS filesystem.
type NotifySource struct {
	scanner *scan.Scanner
	root    string
	logger  *zap.Logger

	// skipped holds the ignored directories seen so far. Their removal
	// must stay silent, yet by then they can no longer be stat'ed to tell
	// a directory-only pattern apart from a file of the same name.
	skipped map[string]struct{}
}

// NewNotifySource creates a notification-driven source for root.
func NewNotifySource(scanner *scan.Scanner, root string, logger *zap.Logger) *NotifySource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySource{
		scanner: scanner,
		root:    filepath.Clean(root),
		logger:  logger,
		skipped: make(map[string]struct{}),
	}
}

// Updates implements tree.Source. The first update replaces the root with a
// full scan taken after the watches are in place.
func (n *NotifySource) Updates(ctx context.Context) (<-chan tree.Update, <-chan error) {
	out := make(chan tree.Update)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(out)
		if err := n.run(ctx, out); err != nil {
			errs <- err
		}
	}()
	return out, errs
}

func (n *NotifySource) run(ctx context.Context, out chan<- tree.Update) (err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		err = multierr.Append(err, w.Close())
	}()

	if err := n.resync(ctx, w, out); err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if err := n.handle(ctx, w, out, ev); err != nil {
				return err
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				n.logger.Warn("event queue overflowed, rescanning", zap.String("root", n.root))
				if err := n.resync(ctx, w, out); err != nil {
					return err
				}
				continue
			}
			n.logger.Warn("watch error", zap.Error(werr))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resync watches every directory under the root and emits a full scan.
func (n *NotifySource) resync(ctx context.Context, w *fsnotify.Watcher, out chan<- tree.Update) error {
	n.skipped = make(map[string]struct{})
	if err := n.watchTree(w, n.root); err != nil {
		return err
	}
	root, err := n.scanner.Scan(n.root)
	if err != nil {
		return fmt.Errorf("scan %s: %w", n.root, err)
	}
	files, dirs := tree.Count(root)
	n.logger.Info("watching root",
		zap.String("root", n.root),
		zap.Int("files", files),
		zap.Int("dirs", dirs),
		zap.Int("watches", len(w.WatchList())),
	)
	return send(ctx, out, tree.Update{Path: tree.Path{}, Entry: root})
}

// watchTree adds a watch for dir and every non-ignored directory below it.
func (n *NotifySource) watchTree(w *fsnotify.Watcher, dir string) error {
	return afero.Walk(n.scanner.Fs(), dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if p != n.root && n.scanner.Ignored(n.root, p, true) {
			n.skipped[p] = struct{}{}
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			if p == n.root {
				return fmt.Errorf("watch %s: %w", p, err)
			}
			n.logger.Debug("cannot watch directory", zap.String("path", p), zap.Error(err))
		}
		return nil
	})
}

func (n *NotifySource) handle(ctx context.Context, w *fsnotify.Watcher, out chan<- tree.Update, ev fsnotify.Event) error {
	name := filepath.Clean(ev.Name)
	if name == n.root {
		if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			return ErrRootRemoved
		}
		return nil
	}

	p, err := tree.RelPath(n.root, name)
	if err != nil {
		return nil
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := n.scanner.Lstat(name)
		if err != nil {
			// Gone again before we looked; the matching Remove follows.
			n.logger.Debug("created entry vanished", zap.String("path", name), zap.Error(err))
			return nil
		}
		if n.scanner.Ignored(n.root, name, info.IsDir()) {
			if info.IsDir() {
				n.skipped[name] = struct{}{}
			}
			return nil
		}
		// Watch before reading so nothing created in between is missed; an
		// entry both watched and scanned is upserted twice, which is harmless.
		if info.IsDir() {
			if err := n.watchTree(w, name); err != nil {
				n.logger.Warn("cannot watch new directory", zap.String("path", name), zap.Error(err))
			}
		}
		entry, err := n.scanner.Build(n.root, name)
		if err != nil {
			n.logger.Debug("created entry vanished", zap.String("path", name), zap.Error(err))
			return nil
		}
		return send(ctx, out, tree.Update{Path: p, Entry: entry})
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if n.forgetSkipped(name) || n.scanner.Ignored(n.root, name, false) {
			return nil
		}
		// A renamed directory keeps its inotify watch under the old name.
		_ = w.Remove(name)
		return send(ctx, out, tree.Update{Path: p})
	}
	// Write and Chmod change content or metadata only.
	return nil
}

// forgetSkipped drops name and any skipped directories below it, reporting
// whether name itself was a skipped directory.
func (n *NotifySource) forgetSkipped(name string) bool {
	_, ok := n.skipped[name]
	prefix := name + string(filepath.Separator)
	for dir := range n.skipped {
		if dir == name || strings.HasPrefix(dir, prefix) {
			delete(n.skipped, dir)
		}
	}
	return ok
}
