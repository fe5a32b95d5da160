package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/api"
	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/availability"
	"github.com/hackgods/telehealth-scheduling/internal/chat"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/logger"
	"github.com/hackgods/telehealth-scheduling/internal/realtime"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
)

var version = "dev"

func main() {
	boot := logger.New("api-server", "prod", "info")
	if err := run(); err != nil {
		boot.Fatal().Err(err).Msg("api-server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log := logger.New("api-server", cfg.Env, cfg.LogLevel)
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("timezone", cfg.Location.String()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Connect Redis. Booking still works without it, guarded by the
	// database alone, so an unreachable server is only a warning.
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis unreachable at startup, booking locks degraded")
		rdb = redisclient.NewClient(cfg)
	} else {
		log.Info().Msg("connected to Redis")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()

	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait)

	appointments := appointment.NewService(appointment.NewPgRepository(pgPool), locker, cfg, log)
	slots := availability.NewService(availability.NewPgRepository(pgPool, cfg.Location), cfg.Location, log)
	messages := chat.NewService(chat.NewPgRepository(pgPool), log)

	hub := realtime.NewHub(messages, log)
	var wg sync.WaitGroup
	hubCtx, stopHub := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(hubCtx)
	}()

	health := api.NewHealthHandler(
		pgPool.Ping,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		cfg.Env, version,
	)

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointments,
		Availability: slots,
		Messages:     messages,
		Verifier:     auth.NewVerifier(cfg.JWTSecret),
		Health:       health,
		Realtime: realtime.NewHandler(hub, realtime.HandlerOptions{
			AllowedOrigins: cfg.CORSOrigins,
			SendBuffer:     cfg.WSSendBuffer,
		}, log),
		Logger:         log,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	// closing the hub closes every websocket's send queue, which ends its
	// write pump and the hijacked connection with it
	stopHub()
	wg.Wait()

	log.Info().Msg("api-server stopped")
	return nil
}
