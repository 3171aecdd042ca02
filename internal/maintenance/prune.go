package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	"parley/internal/history"
)

// HistoryPruneTask deletes archived messages past the retention period.
type HistoryPruneTask struct {
	store  *history.Store
	config RetentionConfig
	logger *log.Logger
}

// NewHistoryPruneTask creates a new transcript pruning task
func NewHistoryPruneTask(store *history.Store, config RetentionConfig, logger *log.Logger) *HistoryPruneTask {
	if logger == nil {
		logger = log.Default()
	}

	return &HistoryPruneTask{
		store:  store,
		config: config,
		logger: logger,
	}
}

// Name returns the task name
func (t *HistoryPruneTask) Name() string {
	return "history_prune"
}

// Description returns the task description
func (t *HistoryPruneTask) Description() string {
	return fmt.Sprintf("Delete archived messages older than %d days", t.config.Days)
}

// Execute runs the pruning task
func (t *HistoryPruneTask) Execute(ctx context.Context) TaskResult {
	if !t.config.Enabled || t.config.Days <= 0 {
		return TaskResult{
			Success: true,
			Message: "History pruning disabled in configuration",
		}
	}

	cutoff := time.Now().AddDate(0, 0, -t.config.Days)

	removed, err := t.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return TaskResult{
			Success: false,
			Message: "Failed to prune archived messages",
			Error:   err,
		}
	}

	return TaskResult{
		Success:          true,
		RecordsProcessed: int(removed),
		Message:          fmt.Sprintf("Pruned %d messages older than %s", removed, cutoff.Format("2006-01-02")),
	}
}

// ShouldRun determines if the task is enabled
func (t *HistoryPruneTask) ShouldRun() bool {
	return t.config.Enabled && t.config.Days > 0
}

// IsDestructive returns true since this task deletes data
func (t *HistoryPruneTask) IsDestructive() bool {
	return true
}
