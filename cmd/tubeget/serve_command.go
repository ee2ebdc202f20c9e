package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"tubeget/internal/config"
	"tubeget/internal/download"
	"tubeget/internal/logging"
	"tubeget/internal/registry"
	"tubeget/internal/server"
	"tubeget/internal/services/ytdlp"
)

func newServeCommand(configFlag *string) *cobra.Command {
	var bindFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configFlag, bindFlag)
		},
	}

	cmd.Flags().StringVar(&bindFlag, "bind", "", "Listen address, overrides the configured bind")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, bindOverride string) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, path, exists, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if bindOverride != "" {
		cfg.Paths.Bind = bindOverride
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if exists {
		logger.Info("configuration loaded", logging.Args(logging.String("path", path))...)
	} else {
		logger.Info("no configuration file found, using defaults")
	}

	if err := cfg.EnsureStagingDir(); err != nil {
		return fmt.Errorf("ensure staging directory: %w", err)
	}

	// One broker per staging directory. Two instances sweeping the same
	// directory would delete each other's files.
	lock := flock.New(filepath.Join(cfg.Paths.StagingDir, ".tubeget.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire staging lock: %w", err)
	}
	if !locked {
		return errors.New("another tubeget instance is already serving this staging directory")
	}
	defer lock.Unlock()

	reg := registry.New(logger, registry.Options{
		TTL:           time.Duration(cfg.Registry.TTLMinutes) * time.Minute,
		SweepInterval: time.Duration(cfg.Registry.SweepMinutes) * time.Minute,
	})
	reg.Start(signalCtx)
	defer reg.Close()

	inv := ytdlp.ResolveInvocation(cfg.YTDLP)
	tool, err := ytdlp.New(inv, cfg.Paths.StagingDir, cfg.YTDLP.Format, cfg.YTDLP.TimeoutSeconds)
	if err != nil {
		return fmt.Errorf("init downloader: %w", err)
	}
	logger.Info("downloader resolved", logging.Args(logging.String("binary", inv.Binary))...)

	svc := download.NewService(tool, reg, cfg.Paths.StagingDir, logger)
	srv := server.New(cfg, svc, reg, logger)
	if err := srv.Start(signalCtx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Stop()

	<-signalCtx.Done()
	logger.Info("tubeget shutting down")
	return nil
}
