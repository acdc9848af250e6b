// Command consumer runs the stream consumers and the operator rate
// sampler. Which handlers run is selected with the CONSUMERS variable
// so deployments can shard subjects across processes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ark-vote/internal/adapter/catalog"
	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/adapter/queue/stream"
	"github.com/fairyhunter13/ark-vote/internal/adapter/repo/mongodb"
	"github.com/fairyhunter13/ark-vote/internal/config"
	"github.com/fairyhunter13/ark-vote/internal/observability"
	"github.com/fairyhunter13/ark-vote/internal/snowflake"
	"github.com/fairyhunter13/ark-vote/internal/topiccache"
	"github.com/fairyhunter13/ark-vote/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger("consumer", cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	store := redisstore.New(rdb, redisstore.ScoreConfig{
		BaseMultiplier:  cfg.BaseMultiplier,
		LowMultiplier:   cfg.LowMultiplier,
		MaxIPLimit:      cfg.MaxIPLimit,
		IPCounterExpire: cfg.IPCounterExpireSeconds,
	})

	// Mongo
	mcli, err := mongodb.Connect(ctx, cfg.MongoURL)
	if err != nil {
		slog.Error("mongo connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = mcli.Disconnect(context.Background()) }()
	db := mcli.Database(cfg.MongoDatabase)
	archive := mongodb.NewBallotArchive(db)
	deadLetters := mongodb.NewDeadLetterRepo(db)
	rates, err := mongodb.NewOperatorRatesRepo(ctx, db)
	if err != nil {
		slog.Error("operator rates collection init failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Topic cache feeds the rate sampler and the compare-request minter.
	roster, err := catalog.Load(cfg.CharacterTableFile)
	if err != nil {
		slog.Error("character table load failed", slog.Any("error", err))
		os.Exit(1)
	}
	topics := topiccache.NewService(mongodb.NewTopicsRepo(db), roster, logger)
	topics.Start(ctx)

	producer, err := stream.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("stream producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	gen, err := snowflake.New(cfg.SnowflakeEpochMS, cfg.SnowflakeDatacenterID, cfg.SnowflakeWorkerID)
	if err != nil {
		slog.Error("snowflake init failed", slog.Any("error", err))
		os.Exit(1)
	}
	// Challenge minting only; this process never routes saves through an
	// in-memory aggregator.
	ballots := usecase.NewBallotService(topics, store, nil, producer, gen, cfg.BallotTTL)

	handlers, err := buildHandlers(cfg, store, archive, deadLetters, ballots, logger)
	if err != nil {
		slog.Error("handler selection failed", slog.Any("error", err))
		os.Exit(1)
	}

	// One client and poll goroutine per subject keeps a slow batch on
	// one subject from stalling the others.
	retry := stream.NewRetryManager(producer, logger)
	consumers := make([]*stream.Consumer, 0, len(handlers))
	for _, h := range handlers {
		consumer, err := stream.NewConsumer(cfg.KafkaBrokers, h, retry, logger)
		if err != nil {
			slog.Error("stream consumer connect failed", slog.String("subject", h.Subject()), slog.Any("error", err))
			os.Exit(1)
		}
		defer consumer.Close()
		consumers = append(consumers, consumer)
	}

	sampler := usecase.NewRateSampler(topics, store, rates, logger)

	var wg sync.WaitGroup
	wg.Add(len(consumers) + 1)
	for _, consumer := range consumers {
		go func(c *stream.Consumer) {
			defer wg.Done()
			slog.Info("stream consumer starting", slog.String("subject", c.Subject()))
			c.Run(ctx)
		}(consumer)
	}
	go func() {
		defer wg.Done()
		sampler.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")
	for _, consumer := range consumers {
		consumer.Close()
	}
	wg.Wait()
}

func buildHandlers(cfg config.Config, store *redisstore.Store, archive *mongodb.BallotArchive, deadLetters *mongodb.DeadLetterRepo, ballots usecase.BallotService, lg *slog.Logger) ([]stream.BatchHandler, error) {
	handlers := make([]stream.BatchHandler, 0, len(cfg.Consumers))
	for _, name := range cfg.Consumers {
		switch name {
		case "save_score":
			handlers = append(handlers, stream.NewSaveScoreHandler(store, archive, cfg.LowMultiplier, lg))
		case "ballot_skip":
			handlers = append(handlers, stream.NewSkipHandler(store, lg))
		case "new_compare_request":
			handlers = append(handlers, stream.NewNewCompareHandler(ballots, store, lg))
		case "dlq":
			handlers = append(handlers, stream.NewDLQHandler(deadLetters, lg))
		default:
			return nil, fmt.Errorf("unknown consumer %q", name)
		}
	}
	return handlers, nil
}
