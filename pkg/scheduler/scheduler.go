package scheduler

import (
	"context"
	"time"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
	"github.com/hangarlabs/hangar/pkg/worker"
)

// Scheduler periodically refreshes every ready project so that crashed
// or idle containers are noticed without waiting for user traffic.
type Scheduler struct {
	store    storage.ProjectStore
	worker   *worker.TaskWorker
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler creates a scheduler sweeping at the standard interval.
func NewScheduler(store storage.ProjectStore, w *worker.TaskWorker) *Scheduler {
	return &Scheduler{
		store:    store,
		worker:   w,
		interval: types.HealthCheckInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop
func (s *Scheduler) Start() {
	go s.run()
	log.WithComponent("scheduler").Info().
		Dur("interval", s.interval).
		Msg("Health sweep scheduler started")
}

// Stop stops the scheduler and waits for an in-flight sweep to finish
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	log.WithComponent("scheduler").Info().Msg("Health sweep scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
			// drop ticks that fired while sweeping so slow sweeps
			// do not pile up back to back
			for len(ticker.C) > 0 {
				<-ticker.C
			}
		case <-s.stopCh:
			return
		}
	}
}

// sweep enqueues one refresh task per ready project and awaits each one,
// so a single sweep never floods the queue.
func (s *Scheduler) sweep() {
	logger := log.WithComponent("scheduler")

	if !s.worker.HasCapacity() {
		logger.Warn().Msg("Worker near capacity, skipping health sweep")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	projects, err := s.store.ReadyProjects(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list ready projects")
		return
	}

	checked := 0
	for _, p := range projects {
		select {
		case <-s.stopCh:
			return
		default:
		}

		handle, err := s.worker.Enqueue(worker.NewTask(p.Name).Refresh())
		if err != nil {
			logger.Warn().Err(err).Str("project", p.Name).
				Msg("Failed to enqueue health refresh")
			continue
		}
		if _, err := handle.Wait(ctx); err != nil {
			logger.Debug().Err(err).Str("project", p.Name).
				Msg("Health refresh did not complete cleanly")
		}
		checked++
	}

	if checked > 0 {
		logger.Debug().Int("projects", checked).Msg("Health sweep completed")
	}
}
