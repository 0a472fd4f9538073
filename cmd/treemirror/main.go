// treemirror daemon
//
// Keeps an in-memory mirror of a directory tree and serves it:
// - update sources: fsnotify, periodic rescans or another treemirror instance
// - HTTP API with tree, subtree, find and stats endpoints
// - SSE stream of applied updates
// - Prometheus metrics & structured logging (zap)
// - optional read-only FUSE mount
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/treemirror/internal/api"
	"github.com/fruitsalade/treemirror/internal/config"
	"github.com/fruitsalade/treemirror/internal/events"
	"github.com/fruitsalade/treemirror/internal/logging"
	"github.com/fruitsalade/treemirror/internal/metrics"
	"github.com/fruitsalade/treemirror/internal/mount"
	"github.com/fruitsalade/treemirror/internal/scan"
	"github.com/fruitsalade/treemirror/internal/watcher"
	"github.com/fruitsalade/treemirror/pkg/client"
	"github.com/fruitsalade/treemirror/pkg/tree"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogOutput,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()
	logger := logging.L()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("treemirror stopped", zap.Error(err))
	}
	logger.Info("treemirror stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootPath := cfg.Root
	if cfg.Source == config.SourceRemote {
		rootPath = cfg.RemoteURL
	}
	t, err := tree.New(rootPath)
	if err != nil {
		return err
	}
	h := tree.NewHandle(t)

	src, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	broadcaster := events.NewBroadcaster()
	driver := tree.NewDriver(h, src,
		tree.WithLogger(logger.Named("driver")),
		tree.WithObserver(metrics.RecordUpdate),
		tree.WithObserver(broadcaster.Observe),
	)

	logger.Info("treemirror starting",
		zap.String("root", rootPath),
		zap.String("source", cfg.Source),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	g, gctx := errgroup.WithContext(ctx)

	// A finished source leaves the last tree state readable; keep serving it.
	g.Go(func() error {
		if err := driver.Run(gctx); err != nil {
			logger.Warn("mirror is no longer updating", zap.Error(err))
		}
		return nil
	})

	srv := api.NewServer(h, driver, broadcaster)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}
	serve(g, gctx, httpServer, logger.With(zap.String("server", "api")))

	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", metrics.Handler())
		metricsMux.Handle("/loglevel", logging.LevelHandler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		serve(g, gctx, metricsServer, logger.With(zap.String("server", "metrics")))
	}

	// Periodic tree size update
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.SetTreeSize(h.Count())
			}
		}
	})

	if cfg.MountPoint != "" {
		fuseServer, err := mount.Mount(cfg.MountPoint, h, logger)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("unmounting", zap.String("mount_point", cfg.MountPoint))
			return fuseServer.Unmount()
		})
	}

	return g.Wait()
}

func newSource(cfg *config.Config, logger *zap.Logger) (tree.Source, error) {
	if cfg.Source == config.SourceRemote {
		c := client.New(client.Config{
			BaseURL:   cfg.RemoteURL,
			AuthToken: cfg.RemoteToken,
			Logger:    logger.Named("client"),
		})
		sse := client.NewSSEClient(cfg.RemoteURL, logger.Named("sse"))
		sse.SetAuthToken(cfg.RemoteToken)
		return client.NewRemoteSource(c, sse, logger.Named("remote")), nil
	}

	scanner, err := scan.New(afero.NewOsFs(), scan.Options{
		IncludeHidden: cfg.IncludeHidden,
		Patterns:      cfg.IgnoreRules,
		UseGitignore:  cfg.UseGitignore,
		Logger:        logger.Named("scan"),
	})
	if err != nil {
		return nil, err
	}
	if cfg.Source == config.SourcePoll {
		return watcher.NewPollSource(scanner, cfg.Root, cfg.PollInterval, logger.Named("poll")), nil
	}
	return watcher.NewNotifySource(scanner, cfg.Root, logger.Named("notify")), nil
}

// serve runs s in g and shuts it down gracefully when ctx ends.
func serve(g *errgroup.Group, ctx context.Context, s *http.Server, logger *zap.Logger) {
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", s.Addr))
		if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			return s.Close()
		}
		return nil
	})
}
