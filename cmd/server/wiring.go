package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"agegate/internal/monitoring"
	"agegate/internal/monitoring/alerts"
	"agegate/internal/platform/aws"
	"agegate/internal/platform/config"
	"agegate/internal/platform/postgres"
	"agegate/internal/platform/redis"
	rlmetrics "agegate/internal/ratelimit/metrics"
	rlports "agegate/internal/ratelimit/ports"
	ratelimit "agegate/internal/ratelimit/service"
	"agegate/internal/ratelimit/store/window"
	"agegate/internal/verification/lock"
	"agegate/internal/verification/ports"
	"agegate/internal/verification/store/dynamo"
	subjectmemory "agegate/internal/verification/store/memory"
	"agegate/internal/verification/store/photos"
	subjectpostgres "agegate/internal/verification/store/postgres"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/platform/audit/publisher"
	"agegate/pkg/platform/audit/publishers/kafka"
	auditmemory "agegate/pkg/platform/audit/store/memory"
	auditpostgres "agegate/pkg/platform/audit/store/postgres"
	"agegate/pkg/platform/audit/worker"
)

const auditBuffer = 1024

// infra holds the shared clients. Nil fields are not configured.
type infra struct {
	db     *sql.DB
	redis  *redis.Client
	aws    *awssdk.Config
	awsCfg config.AWS
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Verification.StoreBackend == "dynamo" ||
		cfg.Verification.PhotoBackend == "s3" ||
		cfg.SNS.AlertTopicARN != ""
}

func connect(ctx context.Context, cfg *config.Config) (*infra, error) {
	deps := &infra{awsCfg: cfg.AWS}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	deps.db = db

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		deps.close(slog.Default())
		return nil, err
	}
	deps.redis = rc

	if needsAWS(cfg) {
		awsCfg, err := aws.Load(ctx, cfg.AWS)
		if err != nil {
			deps.close(slog.Default())
			return nil, err
		}
		deps.aws = &awsCfg
	}
	return deps, nil
}

func (d *infra) close(log *slog.Logger) {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			log.Warn("failed to close redis", "error", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.Warn("failed to close postgres", "error", err)
		}
	}
}

// buildAudit stores events in the Postgres outbox when a database is
// configured and relays them to Kafka from a worker. Without a database,
// events go straight to Kafka, or to memory when Kafka is not configured
// either.
// The returned cleanup flushes the publisher before closing Kafka.
func buildAudit(ctx context.Context, g *errgroup.Group, cfg *config.Config, deps *infra, log *slog.Logger) (*publisher.Publisher, func(), error) {
	var sink *kafka.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, kafka.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		if err := p.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("could not ensure audit topic", "topic", cfg.Kafka.AuditTopic, "error", err)
		}
		sink = p
	}

	var store audit.Store
	switch {
	case deps.db != nil:
		outbox := auditpostgres.New(deps.db)
		if err := outbox.EnsureSchema(ctx); err != nil {
			if sink != nil {
				_ = sink.Close(ctx)
			}
			return nil, nil, fmt.Errorf("audit outbox schema: %w", err)
		}
		store = outbox
		if sink != nil {
			relay := worker.NewWorker(outbox, sink, worker.PostgresTx(outbox),
				worker.WithInterval(cfg.Kafka.RelayInterval),
				worker.WithBatchSize(cfg.Kafka.RelayBatchSize),
				worker.WithLogger(log),
			)
			g.Go(func() error { return relay.Run(ctx) })
		}
	case sink != nil:
		store = sink
	default:
		store = auditmemory.NewInMemoryStore()
	}

	pub := publisher.NewPublisher(store,
		publisher.WithAsyncBuffer(auditBuffer),
		publisher.WithLogger(log),
	)
	cleanup := func() {
		pub.Close()
		if sink == nil {
			return
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.Close(closeCtx); err != nil {
			log.Warn("failed to flush audit producer", "error", err)
		}
	}
	return pub, cleanup, nil
}

func buildMonitor(cfg *config.Config, deps *infra, emitter *publisher.Publisher, log *slog.Logger) (*monitoring.Monitor, func(), error) {
	opts := []monitoring.Option{
		monitoring.WithLogger(log),
		monitoring.WithAlertSink(alerts.NewLogSink(log)),
		monitoring.WithAlertSink(alerts.NewAuditSink(emitter)),
	}
	closeFn := func() {}
	if cfg.SNS.AlertTopicARN != "" {
		sink, err := alerts.NewSNSSink(aws.NewSNS(*deps.aws, deps.awsCfg), cfg.SNS.AlertTopicARN,
			alerts.WithSNSLogger(log),
			alerts.WithBufferSize(cfg.SNS.BufferSize),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("sns alert sink: %w", err)
		}
		opts = append(opts, monitoring.WithAlertSink(sink))
		closeFn = sink.Close
	}
	return monitoring.New(opts...), closeFn, nil
}

func buildLimiter(cfg *config.Config, deps *infra, emitter *publisher.Publisher, reg prometheus.Registerer, log *slog.Logger) (*ratelimit.Limiter, error) {
	var store rlports.WindowStore
	switch cfg.RateLimit.Backend {
	case "memory":
		store = window.NewInMemoryWindowStore(window.WithHighWater(cfg.RateLimit.HighWater))
	case "redis":
		store = window.NewRedisWindowStore(deps.redis.Client, "")
	default:
		return nil, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", cfg.RateLimit.Backend)
	}
	return ratelimit.New(store,
		ratelimit.WithLimit(cfg.RateLimit.Limit, cfg.RateLimit.Window),
		ratelimit.WithMetrics(rlmetrics.New(reg)),
		ratelimit.WithAuditPublisher(emitter),
		ratelimit.WithLogger(log),
	)
}

func buildSubjectStore(ctx context.Context, cfg *config.Config, deps *infra) (ports.SubjectStore, error) {
	switch cfg.Verification.StoreBackend {
	case "memory":
		return subjectmemory.NewInMemoryStore(), nil
	case "postgres":
		store := subjectpostgres.NewPostgres(deps.db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("subject schema: %w", err)
		}
		return store, nil
	case "dynamo":
		return dynamo.New(aws.NewDynamoDB(*deps.aws, deps.awsCfg), cfg.DynamoDB.Table)
	}
	return nil, fmt.Errorf("unknown VERIFICATION_STORE %q", cfg.Verification.StoreBackend)
}

func buildPhotoStore(cfg *config.Config, deps *infra) (ports.PhotoStore, error) {
	switch cfg.Verification.PhotoBackend {
	case "memory":
		return photos.NewInMemoryStore(), nil
	case "s3":
		return photos.NewS3Store(aws.NewS3(*deps.aws, deps.awsCfg), cfg.S3.Bucket, cfg.S3.Prefix)
	}
	return nil, fmt.Errorf("unknown VERIFICATION_PHOTO_STORE %q", cfg.Verification.PhotoBackend)
}

// buildLocker shares locks across replicas through Redis when available.
func buildLocker(deps *infra, log *slog.Logger) ports.Locker {
	if deps.redis == nil {
		log.Warn("subject lock is process-local; configure REDIS_URL for multiple replicas")
		return lock.NewLocal()
	}
	return lock.NewRedis(deps.redis.Client, lock.WithLogger(log))
}
