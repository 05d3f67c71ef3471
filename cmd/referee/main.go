package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/connect4/client/internal/config"
	"github.com/connect4/client/internal/logger"
	"github.com/connect4/client/internal/referee"
	"github.com/connect4/client/internal/utils"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadEnvFiles(".env.local"); err != nil {
		logger.Warn("Note: could not load .env.local", err)
	}
	logger.Configure(logger.Config{Service: "referee"})
	log := logger.Default()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("invalid configuration", err)
		os.Exit(1)
	}

	ctx, stop := utils.SignalContext(context.Background())
	defer stop()

	hub := referee.NewHub(referee.Options{ReconnectGrace: cfg.Referee.ReconnectGrace})
	srv := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Referee.Port),
		Handler: referee.NewRouter(hub, referee.RouterOptions{
			AllowedOrigins: cfg.Security.AllowedOrigins,
			RateLimit:      cfg.Referee.RateLimit,
			RateBurst:      cfg.Referee.RateBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hub.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("Referee running", map[string]interface{}{"addr": srv.Addr})
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
		log.Error("referee stopped", err)
		os.Exit(1)
	}
	log.Info("Referee stopped")
}
