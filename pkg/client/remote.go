package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/treemirror/pkg/protocol"
	"github.com/fruitsalade/treemirror/pkg/retry"
	"github.com/fruitsalade/treemirror/pkg/tree"
)

// ErrVersionGap is returned when the event stream skips a version.
var ErrVersionGap = errors.New("event stream skipped a version")

// RemoteSource mirrors the tree served by another treemirror instance. Each
// session subscribes to the event stream, loads a snapshot, emits it as a
// root replacement and then forwards the events newer than the snapshot.
// Lost connections and version gaps start a new session after a backoff.
type RemoteSource struct {
	client *Client
	sse    *SSEClient
	logger *zap.Logger
	policy retry.Config
}

// NewRemoteSource creates a source reading from c and sse, which must point
// at the same server.
func NewRemoteSource(c *Client, sse *SSEClient, logger *zap.Logger) *RemoteSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteSource{
		client: c,
		sse:    sse,
		logger: logger,
		policy: retry.Config{
			InitialWait: time.Second,
			MaxWait:     30 * time.Second,
			Multiplier:  2,
			Jitter:      0.1,
		},
	}
}

// Updates implements tree.Source.
func (s *RemoteSource) Updates(ctx context.Context) (<-chan tree.Update, <-chan error) {
	out := make(chan tree.Update)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(out)
		if err := s.run(ctx, out); err != nil {
			errs <- err
		}
	}()
	return out, errs
}

func (s *RemoteSource) run(ctx context.Context, out chan<- tree.Update) error {
	b := retry.Backoff(s.policy)
	for {
		err := s.session(ctx, out, b.Reset)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isClientError(err) {
			return fmt.Errorf("remote source: %w", err)
		}

		delay := b.NextBackOff()
		s.logger.Warn("remote session ended, resyncing",
			zap.String("url", s.client.BaseURL()),
			zap.Bool("online", s.client.IsOnline()),
			zap.Error(err),
			zap.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one subscribe, snapshot and stream cycle. synced is called
// once the snapshot has been emitted.
func (s *RemoteSource) session(ctx context.Context, out chan<- tree.Update, synced func()) error {
	var since uint64

	onOpen := func() error {
		resp, err := s.client.FetchTree(ctx, "")
		if err != nil {
			return fmt.Errorf("fetch snapshot: %w", err)
		}
		if resp.Root == nil {
			return errors.New("snapshot has no root")
		}
		since = resp.Version
		if err := emit(ctx, out, tree.Update{Path: tree.Path{}, Entry: resp.Root}); err != nil {
			return err
		}
		files, dirs := tree.Count(resp.Root)
		s.logger.Info("remote snapshot loaded",
			zap.Uint64("version", since),
			zap.Int("files", files),
			zap.Int("dirs", dirs),
		)
		synced()
		return nil
	}

	return s.sse.Connect(ctx, onOpen, func(ev protocol.UpdateEvent) error {
		if ev.Version <= since {
			return nil
		}
		if ev.Version != since+1 {
			return fmt.Errorf("have %d, got %d: %w", since, ev.Version, ErrVersionGap)
		}
		u, err := ev.Update()
		if err != nil {
			return err
		}
		since = ev.Version
		return emit(ctx, out, u)
	})
}

func emit(ctx context.Context, out chan<- tree.Update, u tree.Update) error {
	select {
	case out <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isClientError reports whether err is a 4xx response, which a retry cannot
// fix.
func isClientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
}
