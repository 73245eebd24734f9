// Command conduit-chat is a demonstration chat server: typed handlers over
// WebSocket with room broadcasts, selectable channel layer, and Prometheus
// metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bjaus/conduit"
	"github.com/bjaus/conduit/natschan"
	"github.com/bjaus/conduit/redischan"
	"github.com/bjaus/conduit/wsadapter"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	configPath := flag.String("config", "", "path to yaml config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	transport, cleanup, err := buildTransport(cfg)
	if err != nil {
		slog.Error("transport error", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	reg, err := buildRegistry(conduit.Config{
		CompletionSignals: cfg.CompletionSignals,
		IgnoredActions:    cfg.IgnoredActions,
	})
	if err != nil {
		slog.Error("registry error", "error", err)
		os.Exit(1)
	}
	for _, b := range reg.Bindings() {
		slog.Debug("handler registered", "direction", b.Direction.String(), "action", b.Action, "input", b.Input)
	}

	promReg := prometheus.NewRegistry()
	d := conduit.NewDispatcher(reg, transport,
		conduit.WithLogging(slog.Default()),
		conduit.WithMetrics(conduit.NewMetrics(promReg)),
	)

	adapter := wsadapter.New(d, wsadapter.Anonymous(),
		wsadapter.WithInitialGroups(func(r *http.Request) []string {
			room := r.URL.Query().Get("room")
			if room == "" {
				room = "lobby"
			}
			return []string{room}
		}),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", adapter.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Addr, "transport", cfg.Transport)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger(level string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func buildTransport(cfg serverConfig) (conduit.Transport, func(), error) {
	switch cfg.Transport {
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		t := natschan.New(nc)
		return t, func() {
			_ = t.Close()
			nc.Close()
		}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		t := redischan.New(rdb)
		return t, func() {
			_ = t.Close()
			_ = rdb.Close()
		}, nil
	default:
		return conduit.NewLocalTransport(), func() {}, nil
	}
}
