package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Akhil-Ferry/Smart-city/internal/config"
)

// Task is one periodic sweep owned by the scheduler.
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error

	entryID  cron.EntryID
	runCount int64
	errCount int64
	lastRun  time.Time
}

// Scheduler drives the background sweeps: expiring stale alerts, retrying
// failed notifications and pruning old resolved alerts.
type Scheduler struct {
	cfg    config.SchedulerConfig
	logger *slog.Logger
	cron   *cron.Cron
	tasks  map[string]*Task
	mu     sync.RWMutex
}

func New(cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		tasks:  make(map[string]*Task),
	}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("task already registered: %s", task.Name)
	}

	entryID, err := s.cron.AddFunc(task.Schedule, func() { s.execute(task) })
	if err != nil {
		return fmt.Errorf("invalid schedule for task %s: %w", task.Name, err)
	}

	task.entryID = entryID
	s.tasks[task.Name] = task
	s.logger.Info("scheduled task registered", "task", task.Name, "schedule", task.Schedule)
	return nil
}

// Start begins running registered tasks on their schedules.
func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		s.logger.Info("scheduler disabled")
		return
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop halts scheduling and waits for any running task to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// Stats reports per-task run counters.
func (s *Scheduler) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]interface{}, len(s.tasks))
	for name, task := range s.tasks {
		stats[name] = map[string]interface{}{
			"runs":     task.runCount,
			"errors":   task.errCount,
			"last_run": task.lastRun,
		}
	}
	return stats
}

func (s *Scheduler) execute(task *Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	err := task.Run(ctx)

	s.mu.Lock()
	task.runCount++
	task.lastRun = start
	if err != nil {
		task.errCount++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled task failed",
			"task", task.Name,
			"duration", time.Since(start),
			"error", err)
		return
	}
	s.logger.Debug("scheduled task completed",
		"task", task.Name,
		"duration", time.Since(start))
}
