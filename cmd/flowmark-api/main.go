package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowmark/flowmark/internal/config"
	"github.com/flowmark/flowmark/internal/database"
	"github.com/flowmark/flowmark/internal/forecast"
	"github.com/flowmark/flowmark/internal/gauges"
	"github.com/flowmark/flowmark/internal/logging"
	"github.com/flowmark/flowmark/internal/observability"
	"github.com/flowmark/flowmark/internal/query"
	"github.com/flowmark/flowmark/internal/scheduler"
	"github.com/flowmark/flowmark/internal/server"
	"github.com/flowmark/flowmark/internal/sources"
	"github.com/flowmark/flowmark/internal/syncer"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowmark-api",
		Short: "Flowmark river gauge engine",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("refresh-interval", defaults.GetString("refresh.interval"), "Background refresh interval for favorite gauges")
	cmd.PersistentFlags().Bool("reset-on-mismatch", false, "Erase the database on schema mismatch (pre-release only)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "refresh.interval", "refresh-interval")
	bindFlag(cmd, "database.reset_on_mismatch", "reset-on-mismatch")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// A local .env file is convenient in development; env vars still win.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, appConfig.ResetOnMismatch, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := gauges.NewStore(gauges.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	httpCfg := sources.DefaultHTTPClientConfig(nil)

	adapters := []sources.Adapter{
		sources.NewUSGSAdapter(sources.USGSConfig{
			BaseURL:    appConfig.USGSBaseURL,
			StateCodes: appConfig.USGSStateCodes,
			HTTP:       httpCfg,
			Logger:     logger,
		}),
		sources.NewEnvironmentCanadaAdapter(sources.EnvironmentCanadaConfig{
			BaseURL:   appConfig.EnvironmentCanadaBaseURL,
			Provinces: appConfig.Provinces,
			HTTP:      httpCfg,
			Logger:    logger,
		}),
		sources.NewLAWAAdapter(sources.LAWAConfig{
			BaseURL: appConfig.LAWABaseURL,
			Regions: appConfig.Regions,
			HTTP:    httpCfg,
			Logger:  logger,
		}),
		sources.NewDWRAdapter(sources.DWRConfig{
			BaseURL: appConfig.DWRBaseURL,
			HTTP:    httpCfg,
			Logger:  logger,
		}),
	}

	coordinator, err := syncer.NewCoordinator(syncer.Config{
		Store:    store,
		Adapters: adapters,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	facade, err := query.NewFacade(query.FacadeConfig{
		Store: store,
		Forecaster: forecast.NewClient(forecast.ClientConfig{
			BaseURL: appConfig.ForecastBaseURL,
			Logger:  logger,
		}),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	// First-launch seeding: a failure leaves the database unseeded so the
	// next launch (or POST /seed) retries from scratch.
	if _, err := coordinator.Seed(ctx); err != nil && !errors.Is(err, gauges.ErrAlreadySeeded) {
		logger.Error("initial seed failed, serving unseeded", zap.Error(err))
	}

	refreshScheduler := scheduler.New(coordinator, appConfig.RefreshInterval, logger)
	if err := refreshScheduler.Start(); err != nil {
		return err
	}
	defer refreshScheduler.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Facade:      facade,
		Coordinator: coordinator,
		Store:       store,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
