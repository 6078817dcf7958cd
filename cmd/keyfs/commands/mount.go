package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/absfs/keyfs"
	"github.com/absfs/keyfs/config"
	"github.com/absfs/keyfs/control"
	"github.com/absfs/keyfs/fusefs"
	"github.com/absfs/keyfs/internal/logging"
)

var mountCmd = &cobra.Command{
	Use:   "mount [MOUNTPOINT]",
	Short: "Mount the filesystem and serve the control socket",
	Long: `Mount an empty keyfs at MOUNTPOINT (or the configured mountpoint) and
block until it is unmounted or the process is interrupted. All content is
lost on unmount.

Examples:
  keyfs mount /mnt/secret
  KEYFS_KEYS_AUTO=true KEYFS_PASSPHRASE=... keyfs mount /mnt/secret`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMount,
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Mountpoint = args[0]
	}
	if cfg.Mountpoint == "" {
		return errors.New("no mountpoint given")
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	var provider keyfs.KeyProvider
	if cfg.Keys.Auto {
		if provider, err = newKeyProvider(cfg.Keys); err != nil {
			return fmt.Errorf("keys.auto: %w", err)
		}
		logger.Info().Str("kdf", cfg.Keys.KDF).Msg("automatic keys enabled")
	}

	engine, err := keyfs.New(&keyfs.Config{
		Logger:      &logger,
		Metrics:     keyfs.NewMetrics(reg),
		KeyProvider: provider,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctl := control.NewServer(cfg.Control.Socket, control.NewRouter(engine, reg, logger), logger)
	ln, err := ctl.Listen()
	if err != nil {
		return err
	}
	ctlErr := make(chan error, 1)
	go func() { ctlErr <- ctl.Serve(ctx, ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctl.Stop(shutdownCtx)
	}()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics, reg, logger)
	}

	server, err := fusefs.Mount(cfg.Mountpoint, engine, fusefs.Options{
		SingleThreaded: cfg.Fuse.SingleThreaded,
		AllowOther:     cfg.Fuse.AllowOther,
		Debug:          cfg.Fuse.Debug,
		FsName:         cfg.Fuse.FsName,
		Logger:         &logger,
	})
	if err != nil {
		return err
	}

	serveErr := fusefs.Serve(ctx, server)
	logger.Info().Str("mountpoint", cfg.Mountpoint).Msg("unmounted")

	select {
	case err := <-ctlErr:
		if err != nil {
			logger.Error().Err(err).Msg("control API stopped")
		}
	default:
	}
	return serveErr
}

// serveMetrics exposes the registry on a TCP address until ctx is done.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger zerolog.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Listen, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.Listen).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
