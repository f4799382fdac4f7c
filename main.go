package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/feedpool/internal/config"
	"github.com/bryan-buckman/feedpool/internal/database"
	"github.com/bryan-buckman/feedpool/internal/log"
	"github.com/bryan-buckman/feedpool/internal/model"
	"github.com/bryan-buckman/feedpool/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "feedpool",
	Short: "Paginated, author-balanced feeds of generated images",
	Long: `feedpool serves community, gallery and recent image feeds from a
record store, and ingests finished generations from upstream RSS/Atom feeds.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (and the ingest poller when enabled)",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("FEEDPOOL_CONFIG"), "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, ingestCmd, sourcesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration, configures logging and opens the store.
func setup() (config.Config, database.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log.Reconfigure(log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, db, nil
}

// applyPollingInterval stores the configured ingest interval, replacing the
// value seeded by the migrations and any change made through the API before
// this start. API changes hold until the next restart.
func applyPollingInterval(db database.Store, cfg config.Config) error {
	if !cfg.Ingest.Enabled {
		return nil
	}
	return db.SetSetting(model.SettingPollingInterval, strconv.Itoa(cfg.Ingest.PollingIntervalMinutes))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	defer db.Close()
	logger := log.WithComponent("main")

	if err := applyPollingInterval(db, cfg); err != nil {
		logger.Warn().Err(err).Msg("could not store polling interval")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, db)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
