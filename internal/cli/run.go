package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/leakwatch/internal/dropdir"
	"github.com/ppiankov/leakwatch/internal/ioc"
	"github.com/ppiankov/leakwatch/internal/metrics"
	"github.com/ppiankov/leakwatch/internal/model"
	"github.com/ppiankov/leakwatch/internal/pipeline"
	"github.com/ppiankov/leakwatch/internal/repo"
	"github.com/ppiankov/leakwatch/internal/server"
	"github.com/ppiankov/leakwatch/internal/storage"
	"github.com/ppiankov/leakwatch/internal/telegram"
)

// connectTimeout bounds the initial database handshake.
const connectTimeout = 10 * time.Second

// janitorInterval is the cadence of the in-process scratch sweep.
const janitorInterval = time.Hour

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion daemon",
	Long:  "Connects to the database and Telegram, then processes archive attachments from the watched channels until interrupted.",
	RunE:  runDaemon,
}

// sourceMux routes downloads: drop-directory files are copied locally,
// everything else goes through Telegram.
type sourceMux struct {
	local  pipeline.Downloader
	remote pipeline.Downloader
}

func (s *sourceMux) Download(ctx context.Context, f model.FileRef, dest string) error {
	if f.LocalPath != "" {
		return s.local.Download(ctx, f, dest)
	}
	if s.remote == nil {
		return fmt.Errorf("no telegram session for remote file %s", f.RemoteID)
	}
	return s.remote.Download(ctx, f, dest)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repository, err := repo.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	connectCtx, cancelConnect := context.WithTimeout(ctx, connectTimeout)
	defer cancelConnect()
	if err := repository.Connect(connectCtx); err != nil {
		return err
	}
	defer func() { _ = repository.Close() }()
	if err := repository.Bootstrap(ctx); err != nil {
		return err
	}
	logrus.Info("database connected")

	files, err := storage.New(cfg.StoragePath)
	if err != nil {
		return err
	}

	policy, err := ioc.ParsePolicy(cfg.IOCDomains, cfg.IOCEmails, cfg.IOCCIDRs)
	if err != nil {
		return err
	}
	if policy.Empty() {
		logrus.Warn("no IOC watch lists configured, scanning is disabled")
	}
	scanner := ioc.NewScanner(policy)

	m := metrics.New()
	mux := &sourceMux{local: dropdir.Copier{}}
	pipe := pipeline.New(pipeline.Config{
		Workers:    cfg.WorkerCount,
		QueueSize:  cfg.QueueCapacity(),
		Store:      repository,
		Files:      files,
		Scanner:    scanner,
		Downloader: mux,
		Metrics:    m,
	})

	var tgSource *telegram.Source
	if cfg.TelegramAPIID != 0 {
		client, err := telegram.NewMTClient(
			cfg.TelegramAPIID, cfg.TelegramAPIHash, cfg.TelegramPhone,
			filepath.Join(cfg.StoragePath, "sessions"))
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		if err := client.Resolve(ctx, cfg.TelegramChannels); err != nil {
			return err
		}
		tgSource = telegram.NewSource(client, pipe, cfg.MaxFileSizeBytes())
		mux.remote = tgSource
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipe.Run(gctx) })
	g.Go(func() error {
		return server.New(server.Config{Port: cfg.HealthPort}, m).Serve(gctx)
	})
	if tgSource != nil {
		g.Go(func() error { return tgSource.Listen(gctx) })
	}
	if cfg.DropDir != "" {
		drop := dropdir.New(cfg.DropDir, pipe, cfg.MaxFileSizeBytes(), cfg.DropPollInterval)
		g.Go(func() error { return drop.Run(gctx) })
	}
	g.Go(func() error { return sweepScratch(gctx, files, cfg.ScratchMaxAge) })

	logrus.Infof("leakwatch running with %d workers", cfg.WorkerCount)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logrus.Info("shutdown complete")
		return nil
	}
	return err
}

// sweepScratch removes stale scratch directories on a fixed cadence.
func sweepScratch(ctx context.Context, files *storage.Store, maxAge time.Duration) error {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := files.JanitorScratch(maxAge)
			if err != nil {
				logrus.WithError(err).Warn("scratch sweep failed")
				continue
			}
			if n > 0 {
				logrus.Infof("scratch sweep removed %d stale entries", n)
			}
		}
	}
}
