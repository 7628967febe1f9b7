package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/voice-bridge/internal/dotenv"
	"github.com/vango-go/voice-bridge/pkg/gateway/config"
	bridgeserver "github.com/vango-go/voice-bridge/pkg/gateway/server"
)

type bridgeDeps struct {
	loadConfig   func() (config.Config, error)
	newBridge    func(config.Config, *slog.Logger) *bridgeserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBridgeDeps() bridgeDeps {
	return bridgeDeps{
		loadConfig: config.LoadFromEnv,
		newBridge: func(cfg config.Config, logger *slog.Logger) *bridgeserver.Server {
			return bridgeserver.New(cfg, logger)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runBridge(ctx context.Context, logger *slog.Logger, level *slog.LevelVar, deps bridgeDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newBridge == nil {
		return errors.New("missing newBridge dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level != nil {
		level.Set(cfg.LogLevel)
	}
	if cfg.APIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; calls will be refused")
	}

	bridge := deps.newBridge(cfg, logger)
	httpSrv := buildHTTPServer(cfg, bridge.Handler())

	logger.Info("starting voice bridge", "addr", cfg.Addr, "media_path", cfg.MediaPath, "model", cfg.AIModel)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		bridge.CloseSessions()
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		bridge.CloseSessions()
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	bridge.SetDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		bridge.CloseSessions()
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Hijacked media streams are not tracked by Shutdown; give live calls
	// the rest of the grace period to hang up on their own.
	if !bridge.WaitSessions(shutdownCtx) {
		bridge.CloseSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voice bridge stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps bridgeDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voice-bridge: %v\n", err)
		return 1
	}

	if err := runBridge(ctx, logger, level, deps); err != nil {
		fmt.Fprintf(stderr, "voice-bridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultBridgeDeps()))
}
