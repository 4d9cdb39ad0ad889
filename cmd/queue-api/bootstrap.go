package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/QueueDesk/config"
	"github.com/BearBump/QueueDesk/internal/api/queue_api"
	"github.com/BearBump/QueueDesk/internal/broker/kafka"
	"github.com/BearBump/QueueDesk/internal/cache/rediscache"
	"github.com/BearBump/QueueDesk/internal/integrations/predictor"
	"github.com/BearBump/QueueDesk/internal/integrations/predictor/aihttp"
	"github.com/BearBump/QueueDesk/internal/integrations/predictor/failover"
	"github.com/BearBump/QueueDesk/internal/integrations/predictor/local"
	"github.com/BearBump/QueueDesk/internal/services/archiver"
	"github.com/BearBump/QueueDesk/internal/services/dispatch"
	"github.com/BearBump/QueueDesk/internal/services/status"
	"github.com/BearBump/QueueDesk/internal/storage/pgqueue"
)

type queueAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   queueAPIOpts

	api  *queue_api.QueueAPI
	arch *archiver.Archiver

	closeDB func()
}

func mustBootstrapQueueAPI() *queueAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.QueueDesk.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.QueueEventsTopicName
	if topic == "" {
		topic = "queue.events"
	}
	cacheTTL := time.Duration(cfg.QueueDesk.StatusCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	queueSize := cfg.QueueDesk.ArchiverQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	attempts := cfg.QueueDesk.ArchiverRetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	agg := status.New(st, rc, cacheTTL)
	arch := archiver.New(st, queueSize, attempts)
	pred := buildPredictor(cfg, redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	svc := dispatch.New(st, agg, arch, pred, producer, topic)
	api := queue_api.New(svc, agg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &queueAPIApp{
		ctx:     ctx,
		cancel:  cancel,
		opts:    queueAPIOpts{httpAddr: httpAddr},
		api:     api,
		arch:    arch,
		closeDB: st.Close,
	}
}

// buildPredictor: без predictor_base_url работаем на одной локальной формуле.
func buildPredictor(cfg *config.Config, redisAddr string) predictor.Client {
	fallback := local.New()
	if cfg.QueueDesk.PredictorBaseURL == "" {
		return fallback
	}

	timeout := time.Duration(cfg.QueueDesk.PredictorTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	remote := aihttp.New(cfg.QueueDesk.PredictorBaseURL, timeout)

	fo := failover.New(remote, fallback, timeout)
	if cfg.QueueDesk.PredictorRateLimitPerMinute > 0 {
		rl := rediscache.NewRateLimiter(redisAddr)
		fo = fo.WithRateLimit(rl, int64(cfg.QueueDesk.PredictorRateLimitPerMinute))
	}
	return fo
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgqueue.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgqueue.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *queueAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *queueAPIApp) Run() error {
	return runQueueAPI(a.ctx, a.opts, a.api, a.arch)
}
