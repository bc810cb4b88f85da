package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/telehealth-scheduling/internal/api"
	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
	"github.com/hackgods/telehealth-scheduling/internal/realtime"
	redisclient "github.com/hackgods/telehealth-scheduling/internal/redis"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config load error: %v", err)
	}

	log := logging.New(cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"env":       cfg.Env,
		"http_port": cfg.HTTPPort,
		"store":     cfg.StoreDriver,
		"redis":     cfg.RedisEnabled,
	}).Info("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	var (
		pgPool   *pgxpool.Pool
		repo     appointment.Repository
		profiles appointment.ProfileStore
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		if err == nil {
			err = db.Migrate(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			log.WithError(err).Fatal("postgres setup failed")
		}
		defer pgPool.Close()
		log.Info("connected to Postgres")

		repo = appointment.NewPgRepository(pgPool)
		profiles = appointment.NewPgProfileStore(pgPool)
	default:
		log.Warn("using in-memory store, data is lost on restart")
		repo = appointment.NewMemoryRepository()
		profiles = appointment.NewMemoryProfileStore()
	}

	// Redis: slot locks, cross-instance fan-out, notification outbox
	var (
		rdb    *redis.Client
		locker redisclient.Locker
		pubsub *redisclient.PubSub
		outbox *redisclient.Outbox
	)
	if cfg.RedisEnabled {
		rdb, err = redisclient.NewClient(rootCtx, cfg)
		if err != nil {
			log.WithError(err).Fatal("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.WithError(err).Warn("error closing redis")
			}
		}()
		log.Info("connected to Redis")

		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		pubsub = redisclient.NewPubSub(rdb)
		outbox = redisclient.NewOutbox(rdb, cfg.NotificationQueueKey)
	}

	hub := realtime.NewHub()

	// With Redis every instance publishes to the channel and the bridge feeds
	// the local hub; publishing to the hub directly too would deliver twice.
	var opts []realtime.NotifierOption
	if pubsub != nil {
		opts = append(opts, realtime.WithTransport(pubsub), realtime.WithOutbox(outbox))
	} else {
		opts = append(opts, realtime.WithTransport(hub))
	}
	notifier := realtime.NewNotifier(log, cfg.NotifierShards, cfg.NotifierBuffer, opts...)

	svc, err := appointment.NewService(repo, profiles, locker, notifier, log, cfg)
	if err != nil {
		log.WithError(err).Fatal("service setup failed")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret, "telehealth")

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Verifier: verifier,
		Realtime: realtime.NewHandler(hub, log),
		PgPool:   pgPool,
		Redis:    rdb,
		Logger:   log,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return notifier.Run(gctx)
	})

	if pubsub != nil {
		g.Go(func() error {
			return realtime.Bridge(gctx, pubsub, hub, log)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("api-server stopped with error")
		os.Exit(1)
	}
	log.Info("api-server stopped")
}
