package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/vango-go/voice-bridge/pkg/gateway/config"
	bridgeserver "github.com/vango-go/voice-bridge/pkg/gateway/server"
)

func testConfig() config.Config {
	return config.Config{
		Addr:                 "127.0.0.1:0",
		MediaPath:            "/media-stream",
		APIKey:               "gk",
		AIInputSampleRateHz:  16000,
		AIOutputSampleRateHz: 24000,
		ReadHeaderTimeout:    time.Second,
		ShutdownGracePeriod:  time.Second,
		LogLevel:             slog.LevelDebug,
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, bridgeDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newBridge: func(cfg config.Config, logger *slog.Logger) *bridgeserver.Server {
			t.Fatalf("newBridge should not be called when config load fails")
			return nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunBridge_MissingDependencies(t *testing.T) {
	t.Parallel()
	if err := runBridge(context.Background(), nil, nil, bridgeDeps{}); err == nil {
		t.Fatal("expected error for empty deps")
	}
}

func TestRunBridge_StopsOnSignal(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: level}))
	notified := make(chan chan<- os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runBridge(context.Background(), logger, level, bridgeDeps{
			loadConfig: func() (config.Config, error) { return testConfig(), nil },
			newBridge: func(cfg config.Config, logger *slog.Logger) *bridgeserver.Server {
				return bridgeserver.New(cfg, logger)
			},
			signalNotify: func(c chan<- os.Signal, sig ...os.Signal) { notified <- c },
			signalStop:   func(c chan<- os.Signal) {},
		})
	}()

	select {
	case c := <-notified:
		c <- syscall.SIGTERM
	case <-time.After(2 * time.Second):
		t.Fatal("signal handler never installed")
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runBridge() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runBridge did not stop after SIGTERM")
	}
	if level.Level() != slog.LevelDebug {
		t.Fatalf("log level=%v, want debug from config", level.Level())
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestBridgeHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bridge := bridgeserver.New(testConfig(), logger)

	ts := httptest.NewServer(bridge.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}
