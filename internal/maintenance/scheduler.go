package maintenance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler manages and executes maintenance tasks on their schedules
type Scheduler struct {
	config    Config
	cron      *cron.Cron
	tasks     map[string]Task
	schedules map[string]string
	status    map[string]TaskStatus
	mu        sync.RWMutex
	running   bool
	logger    *log.Logger
}

// NewScheduler creates a new maintenance scheduler
func NewScheduler(config Config, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}

	return &Scheduler{
		config:    config,
		cron:      cron.New(cron.WithSeconds()),
		tasks:     make(map[string]Task),
		schedules: make(map[string]string),
		status:    make(map[string]TaskStatus),
		logger:    logger,
	}
}

// RegisterTask registers a maintenance task. An empty schedule uses the
// configured default.
func (s *Scheduler) RegisterTask(task Task, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule == "" {
		schedule = s.config.Schedule
	}

	name := task.Name()
	s.tasks[name] = task
	s.schedules[name] = schedule

	s.status[name] = TaskStatus{
		Name:        name,
		Description: task.Description(),
		Enabled:     task.ShouldRun(),
		Schedule:    schedule,
	}

	s.logger.Printf("[Maintenance] Registered task: %s", name)
	return nil
}

// Start begins the maintenance scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if !s.config.Enabled {
		s.logger.Println("[Maintenance] Scheduler disabled in configuration")
		return nil
	}

	for name, task := range s.tasks {
		name, task := name, task
		_, err := s.cron.AddFunc(s.schedules[name], func() {
			s.executeTask(context.Background(), name, task, false)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", name, err)
		}
		s.logger.Printf("[Maintenance] Scheduled task %s with schedule: %s", name, s.schedules[name])
	}

	s.cron.Start()
	s.running = true

	s.logger.Printf("[Maintenance] Scheduler started with %d tasks", len(s.tasks))
	return nil
}

// Stop stops the maintenance scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx := s.cron.Stop()
	s.running = false

	// Wait for any running tasks to complete
	select {
	case <-ctx.Done():
		s.logger.Println("[Maintenance] Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Println("[Maintenance] Scheduler stop timed out")
	}

	return nil
}

// RunNow executes all maintenance tasks immediately. With force set,
// destructive tasks run even outside the maintenance window.
func (s *Scheduler) RunNow(ctx context.Context, force bool) error {
	s.mu.RLock()
	tasks := make(map[string]Task, len(s.tasks))
	for name, task := range s.tasks {
		tasks[name] = task
	}
	s.mu.RUnlock()

	s.logger.Printf("[Maintenance] Running %d tasks immediately", len(tasks))

	for name, task := range tasks {
		s.executeTask(ctx, name, task, force)
	}

	return nil
}

// RunTask executes a specific maintenance task by name
func (s *Scheduler) RunTask(ctx context.Context, taskName string, force bool) error {
	s.mu.RLock()
	task, exists := s.tasks[taskName]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("task %s not found", taskName)
	}

	s.executeTask(ctx, taskName, task, force)
	return nil
}

// GetStatus returns the current status of all maintenance tasks
func (s *Scheduler) GetStatus() map[string]TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := make(map[string]TaskStatus, len(s.status))
	for name, stat := range s.status {
		status[name] = stat
	}

	return status
}

// IsRunning returns true if the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// executeTask runs a single maintenance task and updates its status.
// Destructive tasks only run inside the maintenance window unless forced.
func (s *Scheduler) executeTask(ctx context.Context, name string, task Task, force bool) {
	if !task.ShouldRun() {
		return
	}

	if !force && task.IsDestructive() && !s.isMaintenanceWindow() {
		s.logger.Printf("[Maintenance] Skipping task %s - outside maintenance window", name)
		return
	}

	s.logger.Printf("[Maintenance] Starting task: %s", name)

	start := time.Now()
	result := task.Execute(ctx)
	result.Duration = time.Since(start)

	s.mu.Lock()
	status := s.status[name]
	status.LastRun = start
	status.LastResult = result
	s.status[name] = status
	s.mu.Unlock()

	if result.Success {
		s.logger.Printf("[Maintenance] Task %s completed successfully in %v: %s",
			name, result.Duration, result.Message)

		if result.RecordsProcessed > 0 {
			s.logger.Printf("[Maintenance] Task %s processed %d records",
				name, result.RecordsProcessed)
		}

		if result.SpaceReclaimed > 0 {
			s.logger.Printf("[Maintenance] Task %s reclaimed %d bytes",
				name, result.SpaceReclaimed)
		}
	} else {
		s.logger.Printf("[Maintenance] Task %s failed after %v: %s",
			name, result.Duration, result.Message)
		if result.Error != nil {
			s.logger.Printf("[Maintenance] Task %s error: %v", name, result.Error)
		}
	}
}

// isMaintenanceWindow checks if current time is within the configured maintenance window
func (s *Scheduler) isMaintenanceWindow() bool {
	if s.config.Window.StartHour == s.config.Window.EndHour {
		return true // No window restrictions
	}

	loc, err := time.LoadLocation(s.config.Window.TimeZone)
	if err != nil {
		loc = time.UTC
	}

	now := time.Now().In(loc)
	hour := now.Hour()

	startHour := s.config.Window.StartHour
	endHour := s.config.Window.EndHour

	// Handle window that crosses midnight
	if startHour > endHour {
		return hour >= startHour || hour < endHour
	}

	return hour >= startHour && hour < endHour
}
