package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/example/chat-gateway/internal/auth"
	"github.com/example/chat-gateway/internal/bus"
	"github.com/example/chat-gateway/internal/gateway"
	"github.com/example/chat-gateway/internal/otelutil"
	"github.com/example/chat-gateway/internal/presence"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func buildValidator() (*auth.Validator, error) {
	if jwksURL := os.Getenv("JWT_JWKS_URL"); jwksURL != "" {
		return auth.NewJWKSValidator(jwksURL, os.Getenv("JWT_ISSUER"))
	}
	secret := envOrDefault("JWT_SECRET", "dev-secret-change-me")
	return auth.NewValidator(secret), nil
}

func main() {
	ctx := context.Background()

	otelShutdown, err := otelutil.Init(ctx)
	if err != nil {
		slog.Error("Failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx)

	addr := envOrDefault("GATEWAY_ADDR", ":8081")
	natsURL := envOrDefault("NATS_URL", "nats://localhost:4222")
	storeMode := envOrDefault("GATEWAY_STORE", "nats")

	validator, err := buildValidator()
	if err != nil {
		slog.Error("Failed to build token validator", "error", err)
		os.Exit(1)
	}
	defer validator.Close()

	slog.Info("Starting chat gateway", "addr", addr, "store", storeMode)

	var (
		store presence.Store
		b     bus.Bus
		nc    *nats.Conn
	)
	switch storeMode {
	case "memory":
		// Single-process mode for local development. Presence and fan-out
		// stay inside this process.
		store = presence.NewMemoryStore()
		b = bus.NewBroker().Bus()
	default:
		for attempt := 1; attempt <= 30; attempt++ {
			nc, err = nats.Connect(natsURL,
				nats.Name("chat-gateway"),
				nats.MaxReconnects(-1),
				nats.ReconnectWait(2*time.Second),
				nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
					slog.Warn("NATS disconnected", "error", err)
				}),
				nats.ReconnectHandler(func(*nats.Conn) {
					slog.Info("NATS reconnected")
				}),
			)
			if err == nil {
				break
			}
			slog.Info("Waiting for NATS", "attempt", attempt, "error", err)
			time.Sleep(2 * time.Second)
		}
		if err != nil {
			slog.Error("NATS not ready", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()

		js, err := nc.JetStream()
		if err != nil {
			slog.Error("Failed to get JetStream context", "error", err)
			os.Exit(1)
		}
		kvStore, err := presence.NewKVStore(js)
		if err != nil {
			slog.Error("Failed to create presence buckets", "error", err)
			os.Exit(1)
		}
		store = kvStore
		b = bus.NewNATSBus(nc)
	}
	defer b.Close()

	relay := gateway.NewRelay(gateway.NewRegistry(), store, b)
	handler := gateway.NewHandler(validator, relay)

	mux := http.NewServeMux()
	mux.Handle("/chat", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Gateway server failed", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("Gateway listening", "addr", addr)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	slog.Info("Shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server shutdown incomplete", "error", err)
	}
	slog.Info("Gateway shutdown complete")
}
