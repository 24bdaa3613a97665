package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grabd/grabd/internal/api"
	"github.com/grabd/grabd/internal/app"
	"github.com/grabd/grabd/internal/cache"
	"github.com/grabd/grabd/internal/engine"
	"github.com/grabd/grabd/internal/events"
	"github.com/grabd/grabd/internal/infra/config"
	"github.com/grabd/grabd/internal/infra/logger"
	"github.com/grabd/grabd/internal/resolver"
	"github.com/grabd/grabd/internal/store"
	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download daemon with its HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the configured file; an absent file at the default
// location just means defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := cfgFile
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return config.Load(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return fmt.Errorf("could not open log file: %w", err)
	}
	defer log.Close()

	db, err := store.NewPersistentStore(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("could not open job store: %w", err)
	}
	defer db.Close()

	appCtx := app.NewContext(cfg, log)
	mux := resolver.NewMux(resolver.NewDirect(cfg.Download.CookiesFile))
	appCtx.Resolver = cache.NewResolveCache(mux, 10*time.Minute)
	appCtx.Store = db

	bus := events.NewBus()
	manager := engine.NewQueueManager(appCtx, bus)

	e := echo.New()
	api.RegisterRoutes(e, appCtx, manager)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	// Shut down cleanly on Ctrl+C / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("grabd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown: %v", err)
	}

	// Running transfers are persisted as queued and resume next start.
	manager.Close()
	return nil
}
