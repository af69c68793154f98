package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-pipeline/internal/config"
	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/notify"
	"github.com/ariefcatur/go-order-pipeline/internal/observability"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/ariefcatur/go-order-pipeline/internal/redisx"
	"github.com/ariefcatur/go-order-pipeline/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	h := &worker.Handlers{
		Cache:   notify.NewStatusCache(rdb, logger),
		Dedup:   rdb,
		Service: cfg.WorkerGroup,
		Logger:  logger,
	}

	consumers := []struct {
		topic   string
		handler kafkax.Handler
	}{
		{orders.TopicOrderStatusChanged, h.Status},
		{orders.TopicInventoryHistory, h.History},
	}

	var wg sync.WaitGroup
	for _, c := range consumers {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, c.topic, cfg.WorkerCount, logger)
		wg.Add(1)
		go func(topic string, handler kafkax.Handler) {
			defer wg.Done()
			logger.Info("consumer started",
				zap.String("group", cfg.WorkerGroup), zap.String("topic", topic), zap.Int("workers", cfg.WorkerCount))
			if err := cons.Start(ctx, handler); err != nil {
				logger.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(c.topic, c.handler)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumers")
	cancel()
	wg.Wait()
}
