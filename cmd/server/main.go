package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tickbook/config"
	"tickbook/domain/book"
	"tickbook/infra/kafka"
	"tickbook/jobs/broadcaster"
	"tickbook/jobs/feed"
	"tickbook/persist/pebbledb"
	"tickbook/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	// ---------------- Store ----------------

	store, err := pebbledb.Open(cfg.DataDir)
	if err != nil {
		log.Fatal("store open failed", zap.Error(err))
	}
	defer store.Close()

	// ---------------- Domain ----------------

	b := book.New(log.Named("book"))

	// ---------------- Recovery ----------------

	recovery := service.NewRecoveryManager(cfg.Symbol, store, store, log.Named("recovery"))
	if err := recovery.Restore(b); err != nil {
		log.Fatal("restore failed", zap.Error(err))
	}

	// ---------------- Service ----------------

	svc := service.NewOrderService(cfg.Symbol, b, store, store, recovery, log.Named("service"))

	// ---------------- Background Jobs ----------------

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartCheckpointJob(ctx, cfg.Checkpoint.Interval)

	bc, err := broadcaster.New(
		cfg.Symbol,
		store,
		cfg.Kafka.Brokers,
		cfg.Kafka.EventsTopic,
		cfg.Kafka.DrainInterval,
		log.Named("broadcaster"),
	)
	if err != nil {
		log.Fatal("broadcaster init failed", zap.Error(err))
	}
	defer bc.Close()
	bc.Start(ctx)

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.FeedTopic,
	})
	defer producer.Close()

	pub := feed.NewPublisher(cfg.Symbol, svc, producer, cfg.Kafka.FeedInterval, log.Named("feed"))
	pub.Start(ctx)

	log.Info("engine running",
		zap.String("symbol", cfg.Symbol),
		zap.String("data_dir", cfg.DataDir))

	// ---------------- Shutdown ----------------

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancel()

	// Final checkpoint so the next start replays as little as possible.
	if err := svc.Checkpoint(); err != nil {
		log.Warn("final checkpoint failed", zap.Error(err))
	}
}
