package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-pipeline/internal/aftersales"
	"github.com/ariefcatur/go-order-pipeline/internal/checkout"
	"github.com/ariefcatur/go-order-pipeline/internal/config"
	"github.com/ariefcatur/go-order-pipeline/internal/httpx"
	"github.com/ariefcatur/go-order-pipeline/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/lifecycle"
	"github.com/ariefcatur/go-order-pipeline/internal/memstore"
	"github.com/ariefcatur/go-order-pipeline/internal/notify"
	"github.com/ariefcatur/go-order-pipeline/internal/observability"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/ariefcatur/go-order-pipeline/internal/postgres"
	"github.com/ariefcatur/go-order-pipeline/internal/redisx"
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

	// Store
	var store orders.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		store = memstore.New()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{})
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
		store = postgres.NewStore(db, cfg.LockTimeout)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := notify.NewStatusCache(rdb, logger)

	// Kafka producers, one per topic
	statusProd := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024, logger)
	statusProd.Start(ctx)
	historyProd := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicInventoryHistory, 1024, logger)
	historyProd.Start(ctx)

	// the Kafka publish is a non-blocking enqueue; the cache write is bounded by
	// notify.DefaultSinkTimeout and repeated by the worker
	sink := notify.Multi{
		&notify.KafkaSink{Producer: statusProd, ServiceName: cfg.ServiceName, Logger: logger},
		cache,
	}
	history := &inventory.KafkaHistory{Producer: historyProd, ServiceName: cfg.ServiceName, Logger: logger}
	ledger := inventory.NewLedger(logger, nil)

	workflow, err := checkout.NewWorkflow(checkout.Deps{
		Store:     store,
		Ledger:    ledger,
		History:   history,
		Notify:    sink,
		Quota:     checkout.StoreQuota{Reader: store, Limit: cfg.OrderDailyLimit},
		TxTimeout: cfg.TxTimeout,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("checkout", zap.Error(err))
	}
	machine, err := lifecycle.NewStateMachine(lifecycle.Deps{
		Store:     store,
		Ledger:    ledger,
		History:   history,
		Notify:    sink,
		TxTimeout: cfg.TxTimeout,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("lifecycle", zap.Error(err))
	}
	window, err := aftersales.NewWindow(aftersales.Deps{
		Store:        store,
		Machine:      machine,
		RefundWindow: cfg.RefundWindow,
		ReturnWindow: cfg.ReturnWindow,
		TxTimeout:    cfg.TxTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("aftersales", zap.Error(err))
	}

	router := httpx.NewRouter(logger)
	oh := &httpx.OrdersHandler{
		Checkout:    workflow,
		Machine:     machine,
		AfterSales:  window,
		Reader:      store,
		Idempotency: redisx.NewIdempotency(rdb),
		Cache:       cache,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	// flush pending events before the loops stop
	statusProd.Close()
	historyProd.Close()
	statusProd.WaitClosed()
	historyProd.WaitClosed()
	cancel()
}
