package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/connect4/client/internal/cache"
	"github.com/connect4/client/internal/config"
	"github.com/connect4/client/internal/logger"
	"github.com/connect4/client/internal/statsd"
	"github.com/connect4/client/internal/utils"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadEnvFiles(".env.local"); err != nil {
		logger.Warn("Note: could not load .env.local", err)
	}
	logger.Configure(logger.Config{Service: "statsd"})
	log := logger.Default()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("invalid configuration", err)
		os.Exit(1)
	}

	ctx, stop := utils.SignalContext(context.Background())
	defer stop()

	rm := utils.NewResourceManager(log)
	defer rm.Cleanup()

	store, err := statsd.Open(ctx, cfg.Stats.DBDriver, cfg.Stats.DBDSN)
	if err != nil {
		log.Error("Database connection failed", err)
		os.Exit(1)
	}
	rm.AddCleanupFunc(store.Close)
	log.Info("Database ready", map[string]interface{}{"driver": cfg.Stats.DBDriver})

	var responses cache.Store
	if cfg.Stats.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Stats.RedisAddr, "statsd:")
		if err != nil {
			log.Error("Redis connection failed", err)
			rm.Cleanup()
			os.Exit(1)
		}
		rm.AddCleanupFunc(rc.Close)
		responses = rc
	} else {
		mc := cache.NewCache()
		rm.AddCleanupFunc(mc.Close)
		responses = mc
	}

	server := statsd.NewServer(store, responses, statsd.Options{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		CacheTTL:       cfg.Stats.CacheTTL,
		RateLimit:      cfg.Stats.RateLimit,
	})
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Stats.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled {
		consumer, err := statsd.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, server)
		if err != nil {
			log.Warn("Warning: Kafka consumer init failed", err)
		} else {
			rm.AddCleanupFunc(consumer.Close)
			log.Info("Kafka consumer initialized successfully", map[string]interface{}{"topic": cfg.Kafka.Topic})
			g.Go(func() error {
				return consumer.Start(ctx, []string{cfg.Kafka.Topic})
			})
		}
	}

	g.Go(func() error {
		log.Info("Statistics service running", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
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

	if err := g.Wait(); err != nil {
		log.Error("statsd stopped", err)
		rm.Cleanup()
		os.Exit(1)
	}
	log.Info("Statistics service stopped")
}
