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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vehicle-tracker/internal/config"
	"vehicle-tracker/internal/db"
	httpapi "vehicle-tracker/internal/http"
	"vehicle-tracker/internal/repository"
	"vehicle-tracker/internal/scheduler"
	"vehicle-tracker/internal/service"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "trackerd",
		Short: "Vehicle movement tracking and alert inference service",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile)
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one alert-inference sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(configFile)
		},
	}

	rootCmd.AddCommand(serveCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	repo     *repository.TrackingRepository
	tracking *service.TrackingService
	alerts   *service.AlertService
	sweeps   *service.SweepService
}

func setup(configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg)

	conn, err := db.Connect(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		return nil, err
	}

	repo := repository.NewTrackingRepository(conn)
	tracking := service.NewTrackingService(repo, log)
	alerts := service.NewAlertService(repo, log)
	sweeps := service.NewSweepService(repo, tracking,
		cfg.Alerts.InactivityDays, cfg.Alerts.DeliveryMinutes, log)

	return &app{
		cfg:      cfg,
		log:      log,
		repo:     repo,
		tracking: tracking,
		alerts:   alerts,
		sweeps:   sweeps,
	}, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Log.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func runServe(configFile string) error {
	a, err := setup(configFile)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(a.cfg)
	handler := httpapi.NewHandler(a.tracking, a.alerts, a.sweeps, a.log)
	handler.Register(router, httpapi.JWTAuth(a.cfg.Auth.JWTSecret, a.log))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler: router,
	}

	sweepInterval := time.Duration(a.cfg.Alerts.SweepIntervalMinutes) * time.Minute
	sched := scheduler.New(a.sweeps, sweepInterval, a.log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error().Err(err).Msg("server exited with error")
		return err
	}

	a.log.Info().Msg("server stopped")
	return nil
}

func runSweep(configFile string) error {
	a, err := setup(configFile)
	if err != nil {
		return err
	}

	result, err := a.sweeps.Run(context.Background())
	if err != nil {
		a.log.Error().Err(err).Msg("sweep failed")
		return err
	}

	a.log.Info().
		Int("inactivity_alerts", result.InactivityAlerts).
		Int("implicit_delivery_alerts", result.ImplicitDeliveryAlerts).
		Msg("sweep complete")
	return nil
}
