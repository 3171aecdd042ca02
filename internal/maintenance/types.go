package maintenance

import (
	"context"
	"time"
)

// Task represents a maintenance task that can be scheduled and executed
type Task interface {
	// Name returns the name of the maintenance task
	Name() string

	// Description returns a human-readable description of what the task does
	Description() string

	// Execute runs the maintenance task
	Execute(ctx context.Context) TaskResult

	// ShouldRun determines if the task is enabled at all
	ShouldRun() bool

	// IsDestructive returns true if the task deletes data
	IsDestructive() bool
}

// TaskResult represents the result of executing a maintenance task
type TaskResult struct {
	Success          bool          `json:"success"`
	Duration         time.Duration `json:"duration"`
	Message          string        `json:"message"`
	RecordsProcessed int           `json:"records_processed,omitempty"`
	SpaceReclaimed   int64         `json:"space_reclaimed,omitempty"`
	Error            error         `json:"error,omitempty"`
}

// TaskStatus represents the status of a maintenance task
type TaskStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	LastRun     time.Time  `json:"last_run"`
	LastResult  TaskResult `json:"last_result"`
	Enabled     bool       `json:"enabled"`
	Schedule    string     `json:"schedule"`
}

// Config represents maintenance configuration
type Config struct {
	Enabled bool `json:"enabled"`

	// Schedule is the default cron expression for archive tasks.
	// Six fields, seconds first.
	Schedule string `json:"schedule"`

	// SweepSchedule drives the high-frequency tasks (stream sweep,
	// recall sync).
	SweepSchedule string `json:"sweep_schedule"`

	Retention RetentionConfig `json:"retention"`
	Database  DatabaseConfig  `json:"database"`
	Streams   StreamConfig    `json:"streams"`
	Window    WindowConfig    `json:"window"`
}

// RetentionConfig configures transcript pruning
type RetentionConfig struct {
	Enabled bool `json:"enabled"`
	Days    int  `json:"days"`
}

// DatabaseConfig configures archive database maintenance operations
type DatabaseConfig struct {
	VacuumEnabled       bool  `json:"vacuum_enabled"`
	VacuumThreshold     int64 `json:"vacuum_threshold"` // vacuum when DB > threshold MB
	BackupBeforeVacuum  bool  `json:"backup_before_vacuum"`
	BackupRetentionDays int   `json:"backup_retention_days"`
	OptimizeIndexes     bool  `json:"optimize_indexes"`
}

// StreamConfig configures stale tool stream sweeping
type StreamConfig struct {
	MaxAgeMinutes int `json:"max_age_minutes"`
}

// WindowConfig defines maintenance windows to avoid peak usage
type WindowConfig struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	TimeZone  string `json:"time_zone"`
}

// DefaultConfig returns the default maintenance configuration
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Schedule:      "0 0 2 * * *", // Daily at 2 AM
		SweepSchedule: "0 * * * * *", // Every minute
		Retention: RetentionConfig{
			Enabled: true,
			Days:    90,
		},
		Database: DatabaseConfig{
			VacuumEnabled:       true,
			VacuumThreshold:     100, // 100 MB
			BackupBeforeVacuum:  true,
			BackupRetentionDays: 7,
			OptimizeIndexes:     true,
		},
		Streams: StreamConfig{
			MaxAgeMinutes: 10,
		},
		Window: WindowConfig{
			StartHour: 2,
			EndHour:   6,
			TimeZone:  "UTC",
		},
	}
}
