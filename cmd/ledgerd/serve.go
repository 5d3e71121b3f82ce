package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hendripermana/permoney/internal/config"
	"github.com/hendripermana/permoney/internal/dashboard"
	"github.com/hendripermana/permoney/internal/importer"
	"github.com/hendripermana/permoney/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine with dashboard and importer",
	Long: `Run the background sync engine: the worker pool, the pending-sync
poll loop, and the staleness reaper. If enabled in the config, also
start the WebSocket dashboard and the CSV import watcher.

Stops cleanly on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg config.Config) error {
	logger := serveLogger(cfg.Log)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	minDate, err := cfg.Sync.MinSupportedDateTime()
	if err != nil {
		return fmt.Errorf("invalid min_supported_date: %w", err)
	}

	engineConfig := syncer.Config{
		Workers:           cfg.Sync.Workers,
		QueueSize:         cfg.Sync.QueueSize,
		PollInterval:      cfg.Sync.PollInterval.Duration,
		DebounceInterval:  cfg.Sync.DebounceInterval.Duration,
		StaleAfter:        cfg.Sync.StaleAfter.Duration,
		SyncingStaleAfter: cfg.Sync.SyncingStaleAfter.Duration,
		MinimumStaleAge:   cfg.Sync.MinimumStaleAge.Duration,
		CleanInterval:     cfg.Sync.CleanInterval.Duration,
		VisibilityWindow:  cfg.Sync.VisibilityWindow.Duration,
		MaxDailySyncs:     cfg.Sync.MaxDailySyncs,
		RetentionPeriod:   cfg.Sync.RetentionPeriod.Duration,
		MinSupportedDate:  minDate,
		Logger:            logger,
	}

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(st, &dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Logger: logger,
		})
		engineConfig.Broadcaster = dash
	}

	engine := syncer.New(st, engineConfig)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine.Start(ctx)
	defer engine.Stop()

	if dash != nil {
		if err := dash.Start(); err != nil {
			return err
		}
		defer func() {
			if err := dash.Stop(); err != nil {
				logger.Printf("Error stopping dashboard: %v", err)
			}
		}()
		fmt.Printf("Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n",
			cfg.Dashboard.Port, cfg.Dashboard.Port)
	}

	if cfg.Importer.Enabled {
		im := importer.New(st, engine.Scheduler(), logger)
		watcher, err := importer.NewWatcher(im, cfg.Importer.WatchDir, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				logger.Printf("Error stopping import watcher: %v", err)
			}
		}()
		fmt.Printf("Import watch directory: %s\n", cfg.Importer.WatchDir)
	}

	fmt.Println("ledgerd running. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Println("\nShutting down...")
	return nil
}

// serveLogger builds the daemon logger. With a log path configured,
// output goes to a size-rotated file as well as stderr.
func serveLogger(cfg config.Log) *log.Logger {
	if cfg.Path == "" {
		return newLogger("[ledgerd] ")
	}
	rotated := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return log.New(io.MultiWriter(os.Stderr, rotated), "[ledgerd] ", log.LstdFlags)
}
