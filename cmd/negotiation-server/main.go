package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/medassist/appointment-negotiation/internal/api"
	"github.com/medassist/appointment-negotiation/internal/appointment"
	"github.com/medassist/appointment-negotiation/internal/availability"
	"github.com/medassist/appointment-negotiation/internal/clinicbackend"
	"github.com/medassist/appointment-negotiation/internal/config"
	"github.com/medassist/appointment-negotiation/internal/db"
	"github.com/medassist/appointment-negotiation/internal/directory"
	"github.com/medassist/appointment-negotiation/internal/metrics"
	"github.com/medassist/appointment-negotiation/internal/negotiation"
	redisclient "github.com/medassist/appointment-negotiation/internal/redis"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := newLogger(cfg.Env)
	defer logger.Sync()

	logger.Info("negotiation-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("clinic_timezone", cfg.ClinicTimezone),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Fatal("load clinic timezone", zap.Error(err))
	}

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	m := metrics.New(prometheus.DefaultRegisterer)

	backend, err := clinicbackend.New(clinicbackend.Options{
		BaseURL:        cfg.ClinicBaseURL,
		Timeout:        cfg.ClinicTimeout,
		ClientCertFile: cfg.ClinicClientCert,
		ClientKeyFile:  cfg.ClinicClientKey,
		CACertFile:     cfg.ClinicCACert,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		logger.Fatal("clinic backend client error", zap.Error(err))
	}

	apptRepo := appointment.NewPgRepository(pgPool)
	dirRepo := directory.NewPgRepository(pgPool)
	branches := directory.NewBranchResolver(dirRepo, apptRepo)

	cache := availability.NewCache(rdb, cfg.ScheduleCacheTTL, m)
	resolver := availability.NewResolver(backend, cache, dirRepo, cfg.HorizonDays, loc, logger)

	leaser := redisclient.NewSlotLeaser(rdb, cfg.LeaseTTL)

	coordinator := negotiation.NewCoordinator(negotiation.Options{
		Backend:      backend,
		Availability: resolver,
		Patients:     dirRepo,
		Branches:     branches,
		Appointments: apptRepo,
		Leaser:       leaser,
		Location:     loc,
		OpenAt:       cfg.OperatingOpen,
		CloseAt:      cfg.OperatingClose,
		Logger:       logger,
		Metrics:      m,
	})

	router := api.NewRouter(api.RouterConfig{
		Service: coordinator,
		PgPool:  pgPool,
		Redis:   rdb,
		Breaker: backend,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutting down negotiation-server")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	return logger
}
