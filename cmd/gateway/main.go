// Command gateway runs the parking-lock TCP device gateway and its HTTP
// control plane. Grounded on the teacher's cmd/bluetooth-service/main.go:
// flag-based configuration, structured startup logging, background
// watcher goroutines, and signal-triggered graceful shutdown.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/parklock/gateway/internal/gateway"
	"github.com/parklock/gateway/internal/httpapi"
	"github.com/parklock/gateway/pkg/eventbus"
	"github.com/parklock/gateway/pkg/webhook"
)

var (
	deviceAddr = flag.String("device-addr", ":9000", "TCP address the device listener binds")
	httpAddr   = flag.String("http-addr", ":8080", "HTTP address the operator control plane binds")

	// webhook-url and webhook-secret default from NODE_WEBHOOK_URL and
	// LOCK_WEBHOOK_SECRET per spec.md §6.4, with flags as an override for
	// local testing.
	webhookURL     = flag.String("webhook-url", os.Getenv("NODE_WEBHOOK_URL"), "URL to POST heartbeat reports to (empty disables the webhook sink)")
	webhookSecret  = flag.String("webhook-secret", os.Getenv("LOCK_WEBHOOK_SECRET"), "shared secret sent as X-Webhook-Secret")
	webhookQueue   = flag.Int("webhook-queue-size", 1024, "bounded webhook delivery queue size")
	webhookWorkers = flag.Int("webhook-workers", 2, "concurrent webhook delivery workers")
	webhookTimeout = flag.Duration("webhook-timeout", 5*time.Second, "per-delivery HTTP timeout")

	redisAddr = flag.String("redis-addr", os.Getenv("GATEWAY_REDIS_ADDR"), "Redis address for the event bus (empty disables it)")
	redisPass = flag.String("redis-pass", os.Getenv("GATEWAY_REDIS_PASSWORD"), "Redis password")
	redisDB   = flag.Int("redis-db", envInt("GATEWAY_REDIS_DB", 0), "Redis database number")
)

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func main() {
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	log.Infow("starting parking-lock gateway", "device_addr", *deviceAddr, "http_addr", *httpAddr)

	var bus *eventbus.EventBus
	if *redisAddr != "" {
		bus, err = eventbus.New(*redisAddr, *redisPass, *redisDB, log)
		if err != nil {
			log.Fatalw("failed to connect to redis event bus", "error", err)
		}
		log.Infow("connected to redis event bus", "addr", *redisAddr)
	}

	webhookCfg := webhook.Config{
		URL:       *webhookURL,
		Secret:    *webhookSecret,
		QueueSize: *webhookQueue,
		Workers:   *webhookWorkers,
		Timeout:   *webhookTimeout,
	}

	gw := gateway.New(gateway.Config{
		DeviceAddr: *deviceAddr,
		WebhookCfg: webhookCfg,
	}, bus, log)

	if err := gw.Start(); err != nil {
		log.Fatalw("failed to start device listener", "error", err)
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	go gw.WatchCommands(watchCtx)

	router := httpapi.NewRouter(gw, logger)
	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: router,
	}
	go func() {
		log.Infow("http control plane listening", "addr", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infow("shutting down")

	cancelWatch()

	shutdownCtx, cancel := gateway.DefaultStopContext()
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http server shutdown error", "error", err)
	}
	if err := gw.Stop(shutdownCtx); err != nil {
		log.Warnw("gateway shutdown error", "error", err)
	}

	log.Infow("shutdown complete")
}
