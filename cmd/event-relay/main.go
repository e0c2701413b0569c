package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/db"
	"github.com/hackgods/hospital-appointment-scheduling/internal/events"
	"github.com/hackgods/hospital-appointment-scheduling/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("prod", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Str("exchange", cfg.AMQPExchange).
		Msg("event-relay starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, AppName: "event-relay"})
	cancelPg()
	if err != nil {
		logger.Error().Err(err).Msg("postgres connection error")
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		logger.Error().Err(err).Msg("rabbitmq connection error")
		os.Exit(1)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing rabbitmq")
		}
	}()
	logger.Info().Msg("connected to RabbitMQ")

	repo := appointment.NewPgRepository(pgPool, cfg.LockWait)
	relay := events.NewRelay(repo, publisher, 100, logger)

	relay.Run(rootCtx, cfg.WorkerInterval)
}
