package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/meeting-signaling/config"
	"github.com/mossy-p/meeting-signaling/internal/directory"
	"github.com/mossy-p/meeting-signaling/internal/handlers"
	"github.com/mossy-p/meeting-signaling/internal/logging"
	"github.com/mossy-p/meeting-signaling/internal/presence"
	"github.com/mossy-p/meeting-signaling/internal/redis"
	"github.com/mossy-p/meeting-signaling/internal/registry"
	"github.com/mossy-p/meeting-signaling/internal/server"
	"github.com/mossy-p/meeting-signaling/internal/signaling"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	// Load configuration, flags override the environment
	cfg := config.Load()

	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("signaling", pflag.ContinueOnError)
	fs.StringVarP(&cfg.Port, "port", "p", cfg.Port, "http listen port")
	fs.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "log level")
	fs.DurationVar(&cfg.Rooms.TTL, "room-ttl", cfg.Rooms.TTL, "idle time after which a room is evicted")
	fs.DurationVar(&cfg.Rooms.ReaperInterval, "reaper-interval", cfg.Rooms.ReaperInterval, "how often idle rooms are swept")
	fs.IntVar(&cfg.Mirror.Workers, "mirror-workers", cfg.Mirror.Workers, "presence mirror workers")
	if err := fs.Parse(os.Args[1:]); err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to parse loglevel")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Connect to Redis
	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis unavailable")
	}
	defer rdb.Close()
	logger.Info().Str("host", cfg.Redis.Host).Msg("redis connection established")

	users := directory.NewRedis(rdb)
	mirror := presence.NewMirror(presence.Config{
		Store:     presence.NewRedisStore(rdb, cfg.Rooms.TTL),
		Workers:   cfg.Mirror.Workers,
		QueueSize: cfg.Mirror.QueueSize,
		Logger:    &logger,
	})

	conns := signaling.NewConnections()
	reg := registry.New(
		registry.WithTTL(cfg.Rooms.TTL),
		registry.WithSweepInterval(cfg.Rooms.ReaperInterval),
		registry.WithLogger(&logger),
		registry.WithObserver(signaling.NewBroadcaster(conns, &logger), mirror),
	)
	hub := signaling.NewHub(signaling.Config{
		Registry:    reg,
		Connections: conns,
		Directory:   users,
		Logger:      &logger,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := handlers.NewEngine(handlers.Deps{
		Hub:            hub,
		Users:          users,
		Presence:       mirror.Store(),
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         &logger,
	})
	srv := server.New(server.Config{
		Handler:    engine,
		ListenAddr: ":" + cfg.Port,
		Logger:     &logger,
	})

	mirror.Start(ctx)
	reg.Start(ctx)

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go srv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()

	reg.Stop()
	mirror.Stop()
	logger.Info().
		Int("connections", conns.Len()).
		Int64("mirrorDropped", mirror.Dropped()).
		Msg("shutdown complete")
}
