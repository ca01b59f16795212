// Package scheduler drives the periodic admission and reporting cycles.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/kbyunghoon/ticket-service/internal/admission"
)

// Config tunes the two loops.
type Config struct {
	// AdmitInterval is how often a batch admission cycle runs.
	AdmitInterval time.Duration
	// BatchSize caps how many users one cycle may admit.
	BatchSize int64
	// ReportInterval is how often the queue status report is logged.
	ReportInterval time.Duration
	// BacklogWarn is the queue size above which the report escalates.
	BacklogWarn int64
}

func (c Config) withDefaults() Config {
	if c.AdmitInterval <= 0 {
		c.AdmitInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = 30 * time.Second
	}
	if c.BacklogWarn <= 0 {
		c.BacklogWarn = 1000
	}
	return c
}

// Scheduler runs admission cycles against one orchestrator. Multiple
// instances may run concurrently; the admission lock keeps their cycles
// from overlapping.
type Scheduler struct {
	orch *admission.Orchestrator
	cfg  Config
}

func New(orch *admission.Orchestrator, cfg Config) *Scheduler {
	return &Scheduler{orch: orch, cfg: cfg.withDefaults()}
}

// AdmitLoop admits batches on the configured cadence until ctx ends.
func (s *Scheduler) AdmitLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := s.runAdmitCycle(ctx); err != nil {
			log.Printf("scheduler: admit cycle: %v", err)
		}
		timer.Reset(s.cfg.AdmitInterval)
	}
}

// runAdmitCycle checks the queue and admits at most one batch. An empty
// queue is the common case and costs one size read.
func (s *Scheduler) runAdmitCycle(ctx context.Context) error {
	size, err := s.orch.QueueSize(ctx)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	count := s.cfg.BatchSize
	if size < count {
		count = size
	}
	_, err = s.orch.AdmitBatch(ctx, count)
	return err
}

// ReportLoop logs a periodic queue status line until ctx ends.
func (s *Scheduler) ReportLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		size, err := s.orch.QueueSize(ctx)
		if err != nil {
			log.Printf("scheduler: status report: %v", err)
			continue
		}
		if size > s.cfg.BacklogWarn {
			log.Printf("scheduler: WARNING queue backlog %d exceeds %d", size, s.cfg.BacklogWarn)
			continue
		}
		log.Printf("scheduler: queue size %d", size)
	}
}
