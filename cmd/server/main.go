package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/conversia/backend/internal/config"
	"github.com/conversia/backend/internal/db"
	httpapi "github.com/conversia/backend/internal/http"
	"github.com/conversia/backend/internal/notify"
	"github.com/conversia/backend/internal/presence"
	"github.com/conversia/backend/internal/routing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "conversia-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	tracker, err := presence.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer tracker.Close()

	var notifier notify.Notifier
	if cfg.AMQPURL == "" {
		notifier = notify.Noop{}
		logger.Info().Msg("no AMQP_URL, notifications disabled")
	} else {
		notifier, err = notify.NewAMQP(ctx, notify.DialOptions{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect amqp")
		}
	}
	defer notifier.Close()

	loc, err := time.LoadLocation(cfg.BusinessTZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.BusinessTZ).Msg("invalid business timezone")
	}

	ops := routing.NewOperations(store, notifier, logger)
	rr := routing.NewRoundRobinTracker(store)
	distributor := routing.NewDistributor(routing.DistributorConfig{
		BusinessHoursStart: cfg.BusinessHoursStart,
		BusinessHoursEnd:   cfg.BusinessHoursEnd,
		Location:           loc,
	}, store, ops, rr, tracker, logger)
	inactivity := routing.NewInactivityCloser(ops, cfg.InactivityTimeout, logger)
	botStall := routing.NewBotStallSweep(store, ops, cfg.BotStallTimeout, logger)

	distributor.Start(cfg.DistributionInterval)
	inactivity.Start(cfg.InactivitySweepInterval)
	botStall.Start(cfg.BotSweepInterval)

	router := httpapi.Router(cfg, store, ops, distributor, tracker, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	botStall.Stop()
	inactivity.Stop()
	distributor.Stop()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
