package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// ArchiveOptimizeTask handles archive database optimization (VACUUM,
// index statistics, backup rotation).
type ArchiveOptimizeTask struct {
	db     *sql.DB
	dbPath string
	config DatabaseConfig
	logger *log.Logger
}

// NewArchiveOptimizeTask creates a new archive optimization task
func NewArchiveOptimizeTask(db *sql.DB, dbPath string, config DatabaseConfig, logger *log.Logger) *ArchiveOptimizeTask {
	if logger == nil {
		logger = log.Default()
	}

	return &ArchiveOptimizeTask{
		db:     db,
		dbPath: dbPath,
		config: config,
		logger: logger,
	}
}

// Name returns the task name
func (t *ArchiveOptimizeTask) Name() string {
	return "archive_optimize"
}

// Description returns the task description
func (t *ArchiveOptimizeTask) Description() string {
	return "Optimize the archive database (VACUUM, index statistics, backup rotation)"
}

// Execute runs the optimization task
func (t *ArchiveOptimizeTask) Execute(ctx context.Context) TaskResult {
	if !t.config.VacuumEnabled && !t.config.OptimizeIndexes {
		return TaskResult{
			Success: true,
			Message: "Archive optimization disabled in configuration",
		}
	}

	result := TaskResult{Success: true}
	var totalSpaceReclaimed int64

	dbSize, err := t.getDatabaseSize()
	if err != nil {
		return TaskResult{
			Success: false,
			Message: "Failed to get database size",
			Error:   err,
		}
	}
	dbSizeMB := dbSize / (1024 * 1024)

	// Only vacuum once the file is big enough to be worth it.
	if t.config.VacuumEnabled && dbSizeMB > t.config.VacuumThreshold {
		if t.config.BackupBeforeVacuum {
			backupResult := t.createBackup(ctx)
			if !backupResult.Success {
				return backupResult
			}
		}

		vacuumResult := t.performVacuum(ctx)
		if !vacuumResult.Success {
			return vacuumResult
		}
		totalSpaceReclaimed += vacuumResult.SpaceReclaimed
	}

	if t.config.OptimizeIndexes {
		indexResult := t.optimizeIndexes(ctx)
		if !indexResult.Success {
			return indexResult
		}
	}

	if t.config.BackupRetentionDays > 0 {
		removed := t.rotateBackups()
		result.RecordsProcessed += removed
	}

	result.SpaceReclaimed = totalSpaceReclaimed
	result.Message = fmt.Sprintf("Archive optimization completed. Database size: %.1f MB",
		float64(dbSizeMB))
	if totalSpaceReclaimed > 0 {
		result.Message += fmt.Sprintf(", Space reclaimed: %.1f MB",
			float64(totalSpaceReclaimed)/(1024*1024))
	}

	return result
}

// ShouldRun determines if the task is enabled
func (t *ArchiveOptimizeTask) ShouldRun() bool {
	return t.config.VacuumEnabled || t.config.OptimizeIndexes
}

// IsDestructive returns false since VACUUM is generally safe
func (t *ArchiveOptimizeTask) IsDestructive() bool {
	return false
}

// getDatabaseSize returns the size of the database file in bytes
func (t *ArchiveOptimizeTask) getDatabaseSize() (int64, error) {
	if t.dbPath == "" {
		var size int64
		err := t.db.QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&size)
		return size, err
	}

	stat, err := os.Stat(t.dbPath)
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// createBackup snapshots the database before VACUUM rewrites it.
func (t *ArchiveOptimizeTask) createBackup(ctx context.Context) TaskResult {
	if t.dbPath == "" {
		return TaskResult{
			Success: false,
			Message: "Cannot create backup: database path not available",
		}
	}

	backupPath := fmt.Sprintf("%s.backup.%s", t.dbPath, time.Now().Format("20060102-150405"))

	// VACUUM INTO writes a compact copy; fall back to a plain file copy.
	backupQuery := fmt.Sprintf("VACUUM INTO '%s'", backupPath)
	if _, err := t.db.ExecContext(ctx, backupQuery); err != nil {
		return t.copyFileBackup(backupPath)
	}

	t.logger.Printf("[ArchiveOptimize] Created backup: %s", backupPath)
	return TaskResult{
		Success: true,
		Message: fmt.Sprintf("Created backup: %s", backupPath),
	}
}

// copyFileBackup creates a backup by copying the database file
func (t *ArchiveOptimizeTask) copyFileBackup(backupPath string) TaskResult {
	input, err := os.ReadFile(t.dbPath)
	if err != nil {
		return TaskResult{
			Success: false,
			Message: "Failed to read database file for backup",
			Error:   err,
		}
	}

	if err := os.WriteFile(backupPath, input, 0644); err != nil {
		return TaskResult{
			Success: false,
			Message: "Failed to write backup file",
			Error:   err,
		}
	}

	t.logger.Printf("[ArchiveOptimize] Created file backup: %s", backupPath)
	return TaskResult{
		Success: true,
		Message: fmt.Sprintf("Created backup: %s", backupPath),
	}
}

// performVacuum executes the VACUUM operation
func (t *ArchiveOptimizeTask) performVacuum(ctx context.Context) TaskResult {
	initialSize, _ := t.getDatabaseSize()

	t.logger.Println("[ArchiveOptimize] Starting VACUUM operation...")

	if _, err := t.db.ExecContext(ctx, "VACUUM"); err != nil {
		return TaskResult{
			Success: false,
			Message: "VACUUM operation failed",
			Error:   err,
		}
	}

	finalSize, _ := t.getDatabaseSize()
	spaceReclaimed := initialSize - finalSize
	if spaceReclaimed < 0 {
		spaceReclaimed = 0
	}

	t.logger.Printf("[ArchiveOptimize] VACUUM completed. Space reclaimed: %.1f MB",
		float64(spaceReclaimed)/(1024*1024))

	return TaskResult{
		Success:        true,
		SpaceReclaimed: spaceReclaimed,
		Message:        "VACUUM operation completed successfully",
	}
}

// optimizeIndexes refreshes SQLite query planner statistics
func (t *ArchiveOptimizeTask) optimizeIndexes(ctx context.Context) TaskResult {
	t.logger.Println("[ArchiveOptimize] Optimizing indexes...")

	if _, err := t.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return TaskResult{
			Success: false,
			Message: "Index analysis failed",
			Error:   err,
		}
	}

	if _, err := t.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		t.logger.Printf("[ArchiveOptimize] Warning: PRAGMA optimize failed: %v", err)
		// Not worth failing the task over
	}

	return TaskResult{
		Success: true,
		Message: "Index optimization completed successfully",
	}
}

// rotateBackups removes backup files older than the retention period and
// returns how many were deleted.
func (t *ArchiveOptimizeTask) rotateBackups() int {
	if t.dbPath == "" {
		return 0
	}

	matches, err := filepath.Glob(t.dbPath + ".backup.*")
	if err != nil {
		t.logger.Printf("[ArchiveOptimize] Backup rotation glob failed: %v", err)
		return 0
	}

	cutoff := time.Now().AddDate(0, 0, -t.config.BackupRetentionDays)
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			t.logger.Printf("[ArchiveOptimize] Failed to remove old backup %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		t.logger.Printf("[ArchiveOptimize] Removed %d backups older than %d days",
			removed, t.config.BackupRetentionDays)
	}
	return removed
}
