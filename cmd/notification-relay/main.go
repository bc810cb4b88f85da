package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
	"github.com/hackgods/telehealth-scheduling/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config load error: %v", err)
	}

	log := logging.New(cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"env":     cfg.Env,
		"queue":   cfg.NotificationQueueKey,
		"webhook": cfg.RelayWebhookURL,
	}).Info("notification-relay starting up")

	if !cfg.RedisEnabled {
		log.Fatal("notification-relay needs Redis, set REDIS_ENABLED=true")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewClient(rootCtx, cfg)
	if err != nil {
		log.WithError(err).Fatal("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Warn("error closing redis")
		}
	}()
	log.Info("connected to Redis")

	outbox := redisclient.NewOutbox(rdb, cfg.NotificationQueueKey)

	var sender relay.Sender = relay.LogSender{Log: log}
	if cfg.RelayWebhookURL != "" {
		sender = relay.NewWebhookSender(cfg.RelayWebhookURL, 10*time.Second)
	}

	r := relay.New(outbox, sender, log, cfg.RelayPollTimeout)
	if err := r.Run(rootCtx); err != nil {
		log.WithError(err).Error("relay stopped with error")
		return
	}
	log.Info("shutdown signal received, notification-relay stopped")
}
