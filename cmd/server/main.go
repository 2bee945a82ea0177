package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/planning-poker/planpoker/internal/config"
	"github.com/planning-poker/planpoker/internal/health"
	"github.com/planning-poker/planpoker/internal/mock"
	"github.com/planning-poker/planpoker/internal/poker"
	"github.com/planning-poker/planpoker/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	mockMode := flag.Bool("mock", false, "Seat simulated voters in the session")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	envPath := flag.String("env", ".env", "Path to dotenv file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	if err := run(*configPath, *envPath, *port, *mockMode); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string, port int, mockMode bool) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	slog.SetDefault(cfg.Log.NewLogger(os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := poker.NewSession(cfg.SessionOptions())
	dispatcher := poker.NewDispatcher(session, nil)
	broadcaster := ws.NewBroadcaster(dispatcher, ws.OptionsFromConfig(cfg))
	dispatcher.SetPublisher(broadcaster)
	broadcaster.SetOnDrop(dispatcher.Disconnect)
	defer broadcaster.Stop()

	reporter, err := health.NewReporter(ctx, time.Now())
	if err != nil {
		// The health endpoint still answers without process statistics.
		slog.Warn("process statistics unavailable", "error", err)
	}

	server := ws.NewServer(cfg, dispatcher, broadcaster, reporter)
	httpServer := ws.NewHTTPServer(cfg, server.Handler())

	if mockMode {
		slog.Info("starting in mock mode", "voters", cfg.Mock.Voters)
		if err := mock.NewGenerator(dispatcher, cfg.Mock).Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", httpServer.Addr,
			"disconnect_policy", cfg.Session.DisconnectPolicy)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
