// The api binary serves the queue admin API and the admission filter,
// and runs the periodic batch admission scheduler.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kbyunghoon/ticket-service/internal/admission"
	"github.com/kbyunghoon/ticket-service/internal/api"
	"github.com/kbyunghoon/ticket-service/internal/backpressure"
	"github.com/kbyunghoon/ticket-service/internal/broker"
	"github.com/kbyunghoon/ticket-service/internal/config"
	"github.com/kbyunghoon/ticket-service/internal/filter"
	"github.com/kbyunghoon/ticket-service/internal/gate"
	"github.com/kbyunghoon/ticket-service/internal/lock"
	"github.com/kbyunghoon/ticket-service/internal/scheduler"
	"github.com/kbyunghoon/ticket-service/internal/server"
	"github.com/kbyunghoon/ticket-service/internal/settings"
	"github.com/kbyunghoon/ticket-service/internal/store"
	"github.com/kbyunghoon/ticket-service/internal/waitqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	if cfg.SettingsPath != "" {
		s := settings.Load(cfg.SettingsPath)
		cfg.Threshold = s.Threshold
		cfg.BatchSize = s.BatchSize
		cfg.AdmitInterval = time.Duration(s.AdmitIntervalMs) * time.Millisecond
		cfg.ReportInterval = time.Duration(s.ReportIntervalMs) * time.Millisecond
		cfg.ReentryPolicy = s.ReentryPolicy
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	queue := waitqueue.NewRedisStoreWithClient(rdb, cfg.QueueKey, waitqueue.ReentryPolicy(cfg.ReentryPolicy))
	g := gate.NewRedisGate(rdb, cfg.GateKey, cfg.Threshold, cfg.CounterTTL)
	locker := lock.NewRedisLocker(rdb, "lock:")

	publisher, err := broker.NewKafkaPublisher(cfg.KafkaBrokers)
	if err != nil {
		log.Fatalf("kafka publisher: %v", err)
	}
	defer publisher.Close()

	orch := admission.NewOrchestrator(queue, locker, publisher, admission.Config{
		AdmittedTopic: cfg.AdmittedTopic,
		LockWait:      cfg.LockWait,
		LockLease:     cfg.LockLease,
	})

	// Backlog ahead of a new deferral is the queue size; ticket wait
	// estimates derive from it.
	producer := backpressure.NewProducer(publisher, cfg.RequestsTopic, func(ctx context.Context) int64 {
		size, err := queue.Size(ctx)
		if err != nil {
			return 0
		}
		return size
	}, cfg.AvgProcessingSeconds, cfg.Threshold)

	var archive store.Store
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
		archive = pg
	}

	handler := &api.Handler{Orchestrator: orch, Queue: queue, Gate: g, Archive: archive}
	f := filter.New(g, producer, []string{"/api"})

	// Protected tier stub: real business handlers mount here.
	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detail":"ok"}`))
	})

	svc := server.New(cfg, handler, f, protected)
	sched := scheduler.New(orch, scheduler.Config{
		AdmitInterval:  cfg.AdmitInterval,
		BatchSize:      cfg.BatchSize,
		ReportInterval: cfg.ReportInterval,
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return svc.Run(ctx) })
	group.Go(func() error { sched.AdmitLoop(ctx); return nil })
	group.Go(func() error { sched.ReportLoop(ctx); return nil })

	if err := group.Wait(); err != nil {
		log.Fatalf("api exited: %v", err)
	}
}
