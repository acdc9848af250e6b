// Command server starts the voting API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ark-vote/internal/adapter/catalog"
	httpserver "github.com/fairyhunter13/ark-vote/internal/adapter/httpserver"
	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/adapter/queue/stream"
	"github.com/fairyhunter13/ark-vote/internal/adapter/repo/mongodb"
	"github.com/fairyhunter13/ark-vote/internal/aggregator"
	"github.com/fairyhunter13/ark-vote/internal/app"
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

	logger := observability.SetupLogger("server", cfg)
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
	topicsRepo := mongodb.NewTopicsRepo(db)
	archive := mongodb.NewBallotArchive(db)

	// Operator catalog
	roster, err := catalog.Load(cfg.CharacterTableFile)
	if err != nil {
		slog.Error("character table load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("operator catalog loaded", slog.Int("operators", len(roster)))

	if cfg.PresetTopicsFile != "" {
		if err := seedPresetTopics(ctx, topicsRepo, cfg.PresetTopicsFile); err != nil {
			slog.Error("preset topic seeding failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Topic cache with its background refresher
	topics := topiccache.NewService(topicsRepo, roster, logger)
	topics.Start(ctx)

	// Ballot aggregation pipeline
	agg := aggregator.New(store, archive, aggregator.Config{
		QueueSize:     cfg.AggregatorQueueSize,
		LowMultiplier: cfg.LowMultiplier,
	}, logger)
	defer agg.Close()

	// Stream producer for skip notifications
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

	// Usecases
	ballots := usecase.NewBallotService(topics, store, agg, producer, gen, cfg.BallotTTL)
	topicSvc := usecase.NewTopicService(topics)
	results := usecase.NewResultsService(topics, store)

	// HTTP surface
	redisCheck, mongoCheck := app.BuildReadinessChecks(redisAdapter{rdb}, mcli)
	readyz := app.ReadyzHandler(map[string]func(context.Context) error{
		"redis": redisCheck,
		"mongo": mongoCheck,
	})
	srv := httpserver.NewServer(cfg, ballots, topicSvc, results)
	handler := app.BuildRouter(cfg, srv, readyz)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// redisAdapter narrows *redis.Client to the readiness interface.
type redisAdapter struct{ *redis.Client }

func (r redisAdapter) Ping(ctx context.Context) app.RedisPingResult {
	return r.Client.Ping(ctx)
}
