package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/connect4/client/internal/config"
	"github.com/connect4/client/internal/logger"
	"github.com/connect4/client/internal/metrics"
	"github.com/connect4/client/internal/session"
	"github.com/connect4/client/internal/stats"
	"github.com/connect4/client/internal/utils"
	"github.com/connect4/client/internal/ws"
	"golang.org/x/sync/errgroup"
)

type command int

const (
	cmdNone command = iota
	cmdMove
	cmdReset
	cmdQuit
)

// parseCommand reads one input line: a 1-based column number, r or q.
func parseCommand(line string) (command, int) {
	line = strings.ToLower(strings.TrimSpace(line))
	switch line {
	case "":
		return cmdNone, 0
	case "q", "quit", "exit":
		return cmdQuit, 0
	case "r", "reset":
		return cmdReset, 0
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 {
		return cmdNone, 0
	}
	return cmdMove, n - 1
}

func main() {
	if err := config.LoadEnvFiles(".env.local"); err != nil {
		fmt.Fprintln(os.Stderr, "Note: could not load .env.local:", err)
	}
	// The board owns stdout.
	logger.Configure(logger.Config{Service: "client", Output: os.Stderr})
	log := logger.Default()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("invalid configuration", err)
		os.Exit(1)
	}

	in := bufio.NewScanner(os.Stdin)
	name := cfg.Client.PlayerName
	for !session.ValidNickname(name) {
		fmt.Print("nickname (2-20 characters): ")
		if !in.Scan() {
			return
		}
		name = session.SanitizeNickname(in.Text())
	}

	ctx, stop := utils.SignalContext(context.Background())
	defer stop()

	rm := utils.NewResourceManager(log)
	defer rm.Cleanup()

	submitters := stats.Multi{stats.NewHTTPSubmitter(cfg.Client.StatsURL)}
	if cfg.Kafka.Enabled {
		producer, err := stats.NewKafkaSubmitter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Warn("Warning: Kafka producer init failed", err)
		} else {
			rm.AddCleanupFunc(producer.Close)
			submitters = append(submitters, producer)
		}
	}

	ch := ws.NewChannel(ws.Options{
		URL:           cfg.Client.WSURL,
		MaxAttempts:   cfg.Client.MaxAttempts,
		RetryInterval: cfg.Client.RetryInterval,
	})
	sess := session.New(session.Options{
		GameID:     os.Getenv("GAME_ID"),
		PlayerName: name,
		GameType:   cfg.Client.GameType,
		Channel:    ch,
		Submitter:  submitters,
		RetryDelay: cfg.Client.RetryDelay,
	})
	rm.AddCleanupFunc(func() error {
		err := sess.Close()
		sess.Wait()
		return err
	})
	sess.Subscribe(func(st session.State) { render(os.Stdout, st) })

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ch.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.Client.MetricsAddr != "" {
		serveMetrics(ctx, g, cfg.Client.MetricsAddr)
	}

	log.Info("joining game", map[string]interface{}{"gameId": sess.GameID(), "player": name})
	if err := sess.Start(ctx); err != nil {
		log.Warn("connection failed, retrying", err)
	}
	render(os.Stdout, sess.Snapshot())

	// Scan blocks on stdin, so input is read outside the group.
	go func() {
		readInput(ctx, in, sess)
		stop()
	}()

	if err := g.Wait(); err != nil {
		log.Error("client stopped", err)
	}
}

func readInput(ctx context.Context, in *bufio.Scanner, sess *session.Session) {
	for in.Scan() {
		cmd, col := parseCommand(in.Text())
		switch cmd {
		case cmdQuit:
			return
		case cmdReset:
			if err := sess.Reset(ctx); err != nil {
				fmt.Fprintln(os.Stdout, "! reconnecting:", err)
			}
		case cmdMove:
			if err := session.ValidateMove(sess.Snapshot(), col); err != nil {
				fmt.Fprintln(os.Stdout, "!", err)
				continue
			}
			sess.RequestMove(col)
		}
	}
	if err := in.Err(); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("stdin closed", err)
	}
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
