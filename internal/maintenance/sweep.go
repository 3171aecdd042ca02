package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	"parley/internal/recall"
	"parley/internal/streams"
)

// StreamSweepTask releases tool streams that stopped receiving events
// without ever completing, usually after a dropped connection.
type StreamSweepTask struct {
	agg    *streams.Aggregator
	config StreamConfig
	logger *log.Logger
}

// NewStreamSweepTask creates a new stale stream sweeping task
func NewStreamSweepTask(agg *streams.Aggregator, config StreamConfig, logger *log.Logger) *StreamSweepTask {
	if logger == nil {
		logger = log.Default()
	}

	return &StreamSweepTask{
		agg:    agg,
		config: config,
		logger: logger,
	}
}

// Name returns the task name
func (t *StreamSweepTask) Name() string {
	return "stream_sweep"
}

// Description returns the task description
func (t *StreamSweepTask) Description() string {
	return fmt.Sprintf("Release tool streams idle for more than %d minutes", t.config.MaxAgeMinutes)
}

// Execute runs the sweep
func (t *StreamSweepTask) Execute(ctx context.Context) TaskResult {
	maxAge := time.Duration(t.config.MaxAgeMinutes) * time.Minute
	if maxAge <= 0 {
		return TaskResult{
			Success: true,
			Message: "Stream sweeping disabled in configuration",
		}
	}

	swept := t.agg.SweepStale(maxAge)
	return TaskResult{
		Success:          true,
		RecordsProcessed: swept,
		Message:          fmt.Sprintf("Released %d stale streams", swept),
	}
}

// ShouldRun determines if the task is enabled
func (t *StreamSweepTask) ShouldRun() bool {
	return t.config.MaxAgeMinutes > 0
}

// IsDestructive returns false; swept streams were already abandoned
func (t *StreamSweepTask) IsDestructive() bool {
	return false
}

// RecallSyncTask keeps the recall index aligned with the archive.
type RecallSyncTask struct {
	syncer *recall.Syncer
	logger *log.Logger
}

// NewRecallSyncTask creates a new recall synchronization task
func NewRecallSyncTask(syncer *recall.Syncer, logger *log.Logger) *RecallSyncTask {
	if logger == nil {
		logger = log.Default()
	}

	return &RecallSyncTask{
		syncer: syncer,
		logger: logger,
	}
}

// Name returns the task name
func (t *RecallSyncTask) Name() string {
	return "recall_sync"
}

// Description returns the task description
func (t *RecallSyncTask) Description() string {
	return "Sweep the archive into the recall index and drop stale entries"
}

// Execute runs one sync sweep
func (t *RecallSyncTask) Execute(ctx context.Context) TaskResult {
	result, err := t.syncer.SyncNow(ctx)
	if err != nil {
		return TaskResult{
			Success: false,
			Message: "Recall sync failed",
			Error:   err,
		}
	}

	return TaskResult{
		Success:          true,
		RecordsProcessed: result.MessagesIndexed + result.MessagesRemoved,
		Message: fmt.Sprintf("Indexed %d, removed %d, skipped %d messages",
			result.MessagesIndexed, result.MessagesRemoved, result.MessagesSkipped),
	}
}

// ShouldRun determines if the task is enabled
func (t *RecallSyncTask) ShouldRun() bool {
	return t.syncer != nil
}

// IsDestructive returns false; the index can always be rebuilt
func (t *RecallSyncTask) IsDestructive() bool {
	return false
}
