package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/99minutos/authstream/internal/api"
	"github.com/99minutos/authstream/internal/api/handler"
	"github.com/99minutos/authstream/internal/core/domain"
	"github.com/99minutos/authstream/internal/core/ports"
	"github.com/99minutos/authstream/internal/core/service"
	"github.com/99minutos/authstream/internal/infrastructure/config"
	"github.com/99minutos/authstream/internal/infrastructure/db/mongo"
	"github.com/99minutos/authstream/internal/infrastructure/db/postgres"
	"github.com/99minutos/authstream/internal/infrastructure/db/redis"
	"github.com/99minutos/authstream/internal/infrastructure/kafka"
	"github.com/99minutos/authstream/internal/infrastructure/logsink"
	"github.com/99minutos/authstream/internal/infrastructure/queue"
	"github.com/99minutos/authstream/internal/infrastructure/supervisor"
	"github.com/99minutos/authstream/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// @title                      authstream API
// @version                    1.0
// @description                Login, session validation and the login event pipeline.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		l := logger.New(logger.Options{Service: "authstream"})
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "authstream",
	})

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

// run wires dependencies and blocks until ctx is cancelled. Supervised
// connections are started first and closed last, after HTTP, the subscriber
// and the publisher have drained.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	resCtx, stopResources := context.WithCancel(context.Background())
	var resources errgroup.Group
	defer func() {
		stopResources()
		_ = resources.Wait()
	}()

	// --- Supervised connections ---
	pg := supervise[*pgxpool.Pool](cfg, log, "postgres",
		func(ctx context.Context) (*pgxpool.Pool, error) {
			return postgres.Connect(ctx, postgres.Config{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns})
		},
		postgres.Ping,
		func(p *pgxpool.Pool) { p.Close() },
	)

	kafkaCfg := kafka.Config{
		Brokers:           cfg.Kafka.Brokers,
		ClientID:          cfg.Kafka.ClientID,
		GroupID:           cfg.Kafka.GroupID,
		Topics:            domain.Topics(),
		Partitions:        cfg.Kafka.TopicPartitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		Timeout:           cfg.Kafka.PublishTimeout,
	}
	broker := supervise[*kgo.Client](cfg, log, "kafka",
		func(ctx context.Context) (*kgo.Client, error) {
			return kafka.NewProducer(ctx, kafkaCfg, log)
		},
		kafka.Ping,
		kafka.Close,
	)

	cache := supervise[*goredis.Client](cfg, log, "redis",
		func(ctx context.Context) (*goredis.Client, error) {
			return redis.Connect(ctx, redis.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		},
		redis.Ping,
		redis.Close,
	)

	deps := []handler.Dependency{
		{Resource: pg, Required: true},
		{Resource: broker, Required: true},
		{Resource: cache},
	}
	resources.Go(func() error { return pg.Run(resCtx) })
	resources.Go(func() error { return broker.Run(resCtx) })
	resources.Go(func() error { return cache.Run(resCtx) })

	var sink ports.LogSink
	if strings.EqualFold(cfg.AuditSink, "mongo") {
		docs := supervise[*mongodriver.Client](cfg, log, "mongo",
			func(ctx context.Context) (*mongodriver.Client, error) {
				return mongo.Connect(ctx, mongo.Config{URI: cfg.Mongo.URI})
			},
			mongo.Ping,
			mongo.Close,
		)
		resources.Go(func() error { return docs.Run(resCtx) })
		deps = append(deps, handler.Dependency{Resource: docs, Required: true})
		sink = mongo.NewLogRepository(docs, cfg.Mongo.Database)
	} else {
		sink = logsink.New(log)
	}

	// --- Services ---
	users := postgres.NewUserRepository(pg)
	tokens := postgres.NewTokenRepository(pg)

	publisher := queue.NewDispatcher(cfg.Kafka.PublishWorkers, queue.FromClient(broker), cfg.Kafka.PublishTimeout, log)
	authService := service.NewAuthService(users, tokens, publisher, cfg.JWTSecret, log)
	sessionService := service.NewSessionService(users, tokens, cfg.JWTSecret, log,
		service.WithStoreCheck(cfg.SessionCheckStore))
	auditService := service.NewAuditService(sink, redis.NewDedupChecker(cache, 0), log, nil)

	subscriber := queue.NewSubscriber(func() (queue.RecordSource, error) {
		cl, err := kafka.NewConsumer(kafkaCfg, log)
		if err != nil {
			return nil, err
		}
		return cl, nil
	}, auditService, log, queue.WithRestartDelay(cfg.Kafka.RestartDelay))

	e := api.NewRouter(api.Deps{
		Auth:         authService,
		Sessions:     sessionService,
		Dependencies: deps,
		Log:          log,
	})

	// --- Application ---
	g, gctx := errgroup.WithContext(ctx)

	// The publisher outlives HTTP shutdown so events from in-flight requests
	// are still queued and drained.
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()
	publisher.Start(pubCtx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-broker.Ready():
		}
		sub := subscriber.Start(gctx)
		<-sub.Done()
		return sub.Stop()
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.Env).Msg("starting HTTP server")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := e.Shutdown(shutdownCtx)
		stopPublisher()
		publisher.Wait()
		return err
	})

	return g.Wait()
}

func supervise[T any](
	cfg *config.Config,
	log zerolog.Logger,
	name string,
	dial supervisor.Dialer[T],
	ping supervisor.Pinger[T],
	closeFn supervisor.Closer[T],
) *supervisor.Resource[T] {
	return supervisor.NewResource(name, dial,
		supervisor.WithRetryInterval[T](cfg.Supervisor.RetryInterval),
		supervisor.WithHealthCheck(ping, cfg.Supervisor.HealthInterval),
		supervisor.WithCloser(closeFn),
		supervisor.WithLogger[T](log),
	)
}
