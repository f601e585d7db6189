// Command collabd keeps a local directory in sync with a collaboration table:
// local edits are buffered and written, remote changes land back in the directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/cafe-collab/internal/backend"
	"github.com/and161185/cafe-collab/internal/collab"
	"github.com/and161185/cafe-collab/internal/feed/redisfeed"
	"github.com/and161185/cafe-collab/internal/feed/wsfeed"
	"github.com/and161185/cafe-collab/internal/journal"
	"github.com/and161185/cafe-collab/internal/limiter"
	"github.com/and161185/cafe-collab/internal/metrics"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/workdir"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("backend", cfg.Backend.Kind),
		zap.Uint64("table", uint64(cfg.Table)),
		zap.String("dir", cfg.Dir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("collabd", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run wires the client to the directory and blocks until ctx is done.
func run(ctx context.Context, cfg config, log *zap.Logger) error {
	conn, closeBackend, err := backend.Open(ctx, cfg.Backend, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	opts := []collab.Option{
		collab.WithLogger(log.Named("collab")),
		collab.WithMetrics(metrics.New(reg)),
		collab.WithLimiter(limiter.NewGate(clock.WallClock, cfg.GateWindow, cfg.GateFails, cfg.GateBlock)),
	}
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal, cfg.Passphrase)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, collab.WithJournal(j))
	}
	switch cfg.Feed {
	case feedWS:
		opts = append(opts, collab.WithFeed(wsfeed.NewClient(cfg.FeedURL, cfg.feedHeader(), log.Named("feed"))))
	case feedRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		opts = append(opts, collab.WithFeed(redisfeed.New(rdb, log.Named("feed"))))
	}
	client := collab.New(conn, cfg.Timings, opts...)

	dir, err := workdir.New(cfg.Dir, client, cfg.Ext, log.Named("workdir"))
	if err != nil {
		return err
	}
	if err := dir.Scan(); err != nil {
		return err
	}
	wire(client, dir, log)

	sess, err := client.Initialize(ctx, cfg.identity(), cfg.Table)
	if err != nil {
		return err
	}
	client.SetCollaborating(cfg.Collaborate)
	if err := dir.Push(); err != nil {
		log.Warn("local edits not queued", zap.Error(err))
	}
	log.Info("session started",
		zap.String("session", sess.ID.String()),
		zap.String("user", sess.IdentityHandle),
		zap.Bool("localOnly", sess.LocalOnly),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dir.Run(gctx) })
	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           newAdminRouter(client, reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	runErr := g.Wait()

	return errors.Join(runErr, shutdown(client, dir, cfg.Journal != "", log))
}

// wire routes remote changes into the directory and logs presence.
func wire(c *collab.Client, dir *workdir.Dir, log *zap.Logger) {
	c.SetFileContentUpdateCallback(dir.Apply)
	c.SetUserJoinCallback(func(r model.CollaboratorRecord) {
		log.Info("collaborator joined", zap.String("user", r.RemoteUserID), zap.String("name", r.DisplayName))
	})
	c.SetUserLeaveCallback(func(user string) {
		log.Info("collaborator left", zap.String("user", user))
	})
	c.SetCursorMoveCallback(func(r model.CursorRecord) {
		log.Debug("cursor moved",
			zap.String("user", r.RemoteUserID),
			zap.Uint32("file", uint32(r.FileID)),
			zap.Int("line", r.Line),
			zap.Int("column", r.Column),
		)
	})
}

// shutdown writes what is still buffered and ends the session. After a clean
// flush the directory state is checkpointed. When writes fail and a journal holds
// them, the session is suspended so the journal survives for the next start;
// without a journal the directory still differs from its state and is pushed then.
func shutdown(c *collab.Client, dir *workdir.Dir, journaled bool, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := c.Flush(ctx); err != nil && c.PendingCount() > 0 {
		if journaled {
			log.Warn("unsent changes kept in journal", zap.Int("pending", c.PendingCount()), zap.Error(err))
			c.Suspend()
			return nil
		}
		log.Error("unsent changes left on disk", zap.Int("pending", c.PendingCount()), zap.Error(err))
		c.Cleanup()
		return nil
	}
	c.Cleanup()
	if dir == nil {
		return nil
	}
	if err := dir.Checkpoint(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}
