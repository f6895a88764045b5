package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/convoq/convoq/internal/chatlog"
	"github.com/convoq/convoq/internal/config"
	"github.com/convoq/convoq/internal/dispatch"
	"github.com/convoq/convoq/internal/queue"
)

// Scheduler runs the periodic maintenance jobs: a queue-cleanup backstop
// for quiet periods (the dispatcher cleans up after every pass, but an idle
// queue would otherwise retain terminal invocations indefinitely) and
// database maintenance.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       *config.SchedulerConfig
	queue     *queue.Queue
	store     chatlog.Store
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a scheduler instance using gocron.
func NewScheduler(logger *slog.Logger, cfg *config.SchedulerConfig, q *queue.Queue, store chatlog.Store) (*Scheduler, error) {
	log := logger.With("component", "scheduler")

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    log,
		cfg:       cfg,
		queue:     q,
		store:     store,
	}, nil
}

// Start registers the maintenance jobs and begins the scheduler's ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	jobs := []struct {
		name     string
		schedule string
		task     func(context.Context)
	}{
		{
			name:     "queue_cleanup",
			schedule: s.cfg.QueueCleanupSchedule,
			task: func(ctx context.Context) {
				removed := s.queue.Cleanup(dispatch.TerminalRetention)
				if removed > 0 {
					s.logger.InfoContext(ctx, "Queue cleanup removed terminal invocations", "removed", removed)
				}
			},
		},
		{
			name:     "db_maintenance",
			schedule: s.cfg.DBMaintenanceSchedule,
			task: func(ctx context.Context) {
				if err := s.store.RunMaintenance(ctx); err != nil {
					s.logger.ErrorContext(ctx, "Database maintenance failed", "error", err)
				}
			},
		},
	}

	for _, job := range jobs {
		if job.schedule == "" {
			s.logger.Warn("Job has empty schedule, skipping", "job_name", job.name)
			continue
		}
		name := job.name
		task := job.task
		_, err := s.scheduler.NewJob(
			gocron.CronJob(job.schedule, false),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()

				start := time.Now()
				s.logger.DebugContext(ctx, "Running scheduled job", "job_name", name)
				task(ctx)
				s.logger.DebugContext(ctx, "Scheduled job finished", "job_name", name, "duration", time.Since(start))
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", name, err)
		}
		s.logger.Info("Scheduled job registered", "job_name", name, "schedule", job.schedule)
	}

	s.scheduler.Start()
	s.running = true
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	return nil
}
