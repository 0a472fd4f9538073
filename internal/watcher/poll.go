// Package watcher turns filesystem changes under a root directory into tree
// updates, either from kernel notifications or by periodic rescans.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/treemirror/internal/scan"
	"github.com/fruitsalade/treemirror/pkg/tree"
)

// PollSource rescans the root every interval and emits the difference from
// the previous scan. It works on any afero filesystem and never misses a
// change that persists across a tick, but sees nothing in between.
type PollSource struct {
	scanner  *scan.Scanner
	root     string
	interval time.Duration
	logger   *zap.Logger
}

// NewPollSource creates a polling source for root.
func NewPollSource(scanner *scan.Scanner, root string, interval time.Duration, logger *zap.Logger) *PollSource {
	if interval == 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollSource{
		scanner:  scanner,
		root:     root,
		interval: interval,
		logger:   logger,
	}
}

// Updates implements tree.Source. The first update replaces the root with a
// full scan. The stream ends with an error if the root disappears.
func (p *PollSource) Updates(ctx context.Context) (<-chan tree.Update, <-chan error) {
	out := make(chan tree.Update)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(out)
		if err := p.watchLoop(ctx, out); err != nil {
			errs <- err
		}
	}()
	return out, errs
}

func (p *PollSource) watchLoop(ctx context.Context, out chan<- tree.Update) error {
	state, err := p.scanner.Scan(p.root)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	if err := send(ctx, out, tree.Update{Path: tree.Path{}, Entry: state}); err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			next, err := p.scanner.Scan(p.root)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("root %s removed: %w", p.root, err)
				}
				p.logger.Warn("rescan failed", zap.String("root", p.root), zap.Error(err))
				continue
			}
			updates := Diff(state, next)
			if len(updates) > 0 {
				p.logger.Debug("detected changes", zap.Int("updates", len(updates)))
			}
			for _, u := range updates {
				if err := send(ctx, out, u); err != nil {
					return err
				}
			}
			state = next
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Diff returns the updates that turn before into after, both being
// directory entries for the same root. Only the top-most changed entries are
// emitted: a new directory arrives as one upsert carrying its whole subtree
// and a vanished one as a single delete. Entries whose kind changed are
// replaced. Parents always precede their descendants.
func Diff(before, after *tree.Entry) []tree.Update {
	var updates []tree.Update
	diffDir(tree.Path{}, before, after, &updates)
	return updates
}

func diffDir(p tree.Path, before, after *tree.Entry, updates *[]tree.Update) {
	kept := make(map[string]bool, len(after.Children))
	for _, c := range after.Children {
		kept[c.Name] = true
	}
	for _, c := range before.Children {
		if !kept[c.Name] {
			*updates = append(*updates, tree.Update{Path: p.Child(c.Name)})
		}
	}
	for _, c := range after.Children {
		prev, _ := before.Child(c.Name)
		switch {
		case prev == nil || prev.IsDir != c.IsDir:
			*updates = append(*updates, tree.Update{Path: p.Child(c.Name), Entry: c})
		case c.IsDir:
			diffDir(p.Child(c.Name), prev, c, updates)
		}
	}
}

func send(ctx context.Context, out chan<- tree.Update, u tree.Update) error {
	select {
	case out <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
