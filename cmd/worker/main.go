// The worker binary runs the three consumers: admission events, the
// backpressure replay loop, and the dead-letter archiver.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kbyunghoon/ticket-service/internal/admission"
	"github.com/kbyunghoon/ticket-service/internal/backpressure"
	"github.com/kbyunghoon/ticket-service/internal/broker"
	"github.com/kbyunghoon/ticket-service/internal/config"
	"github.com/kbyunghoon/ticket-service/internal/deadletter"
	"github.com/kbyunghoon/ticket-service/internal/gate"
	"github.com/kbyunghoon/ticket-service/internal/objectstore"
	"github.com/kbyunghoon/ticket-service/internal/replay"
	"github.com/kbyunghoon/ticket-service/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	g := gate.NewRedisGate(rdb, cfg.GateKey, cfg.Threshold, cfg.CounterTTL)

	publisher, err := broker.NewKafkaPublisher(cfg.KafkaBrokers)
	if err != nil {
		log.Fatalf("kafka publisher: %v", err)
	}
	defer publisher.Close()

	admittedSource, err := broker.NewKafkaConsumer(cfg.KafkaBrokers, cfg.AdmittedTopic, cfg.ConsumerGroup)
	if err != nil {
		log.Fatalf("admitted consumer: %v", err)
	}
	defer admittedSource.Close()

	requestsSource, err := broker.NewKafkaConsumer(cfg.KafkaBrokers, cfg.RequestsTopic, cfg.ConsumerGroup)
	if err != nil {
		log.Fatalf("requests consumer: %v", err)
	}
	defer requestsSource.Close()

	var fallback backpressure.FallbackSink
	if cfg.MinIOEndpoint != "" {
		sink, err := objectstore.NewMinIOStore(cfg.MinIOEndpoint, cfg.MinIOAccess, cfg.MinIOSecret,
			cfg.MinIOBucket, cfg.MinIOPrefix, cfg.MinIOSSL)
		if err != nil {
			log.Fatalf("minio: %v", err)
		}
		fallback = sink
	}

	replayer := replay.NewHTTPReplayer(cfg.ReplayBaseURL)
	replayConsumer := backpressure.NewConsumer(requestsSource, publisher, replayer, g, fallback,
		backpressure.ConsumerConfig{
			RequestsTopic: cfg.RequestsTopic,
			DLQTopic:      cfg.DLQTopic,
			MaxRetries:    cfg.MaxRetries,
			RetryBackoff:  cfg.RetryBackoff,
			ServiceName:   cfg.ServiceName,
			Environment:   cfg.Environment,
		})

	admissionConsumer := admission.NewConsumer(admittedSource, g, func(ctx context.Context, ev admission.Event) error {
		// Admission is announced; the user's next request passes the
		// filter on the slot this consumer just took.
		return nil
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return admissionConsumer.Run(ctx) })
	group.Go(func() error { return replayConsumer.Run(ctx) })

	if cfg.PostgresDSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		if !cfg.SkipMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatalf("migrate: %v", err)
			}
		}
		dlqSource, err := broker.NewKafkaConsumer(cfg.KafkaBrokers, cfg.DLQTopic, cfg.ConsumerGroup)
		if err != nil {
			log.Fatalf("dlq consumer: %v", err)
		}
		defer dlqSource.Close()
		archiver := deadletter.NewArchiver(dlqSource, pg)
		group.Go(func() error { return archiver.Run(ctx) })
	}

	log.Printf("worker: consuming %s, %s", cfg.AdmittedTopic, cfg.RequestsTopic)
	if err := group.Wait(); err != nil {
		log.Fatalf("worker exited: %v", err)
	}
}
