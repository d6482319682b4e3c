// Package tasks is a small in-process job runner: a fixed worker pool fed by
// a queue, with delayed and periodic submission. Jobs are independent; a
// panicking job is logged and the worker keeps going.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a unit of queued work.
type Job struct {
	Name string
	Run  func(ctx context.Context)
}

// Scheduler owns the worker pool.
type Scheduler struct {
	queue  chan Job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	timers sync.WaitGroup
}

// New creates a scheduler with the given worker count and queue depth.
func New(workers, depth int, logger zerolog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		queue:  make(chan Job, depth),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "tasks").Logger(),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.queue:
			s.execute(id, job)
		}
	}
}

func (s *Scheduler) execute(worker int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Int("worker", worker).Str("job", job.Name).
				Interface("panic", r).Msg("job panicked")
		}
	}()
	job.Run(s.ctx)
}

// Enqueue submits a job. It returns false once the scheduler is stopped or
// when the queue is full.
func (s *Scheduler) Enqueue(job Job) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.queue <- job:
		return true
	case <-s.ctx.Done():
		return false
	default:
		s.logger.Warn().Str("job", job.Name).Msg("queue full, job dropped")
		return false
	}
}

// EnqueueAfter submits a job once the delay elapses.
func (s *Scheduler) EnqueueAfter(delay time.Duration, job Job) {
	s.timers.Add(1)
	go func() {
		defer s.timers.Done()
		select {
		case <-s.ctx.Done():
		case <-time.After(delay):
			s.Enqueue(job)
		}
	}()
}

// Every submits the job now and then again at each interval tick until the
// scheduler stops.
func (s *Scheduler) Every(interval time.Duration, job Job) {
	s.Enqueue(job)
	s.timers.Add(1)
	go func() {
		defer s.timers.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Enqueue(job)
			}
		}
	}()
}

// Stop cancels the run context and waits for workers and timers to exit.
// Queued but unstarted jobs are discarded.
func (s *Scheduler) Stop() {
	s.cancel()
	s.timers.Wait()
	s.wg.Wait()
}
