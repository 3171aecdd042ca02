package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"parley/internal/config"
	"parley/internal/history"
	"parley/internal/maintenance"
	"parley/internal/recall"
)

var (
	maintenanceJSONOutput bool
	maintenanceVerbose    bool
	maintenanceForce      bool
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Archive maintenance operations",
	Long: `Run and inspect the maintenance tasks that normally execute on a
schedule inside a chat session: transcript pruning, archive vacuum and
index optimization, and recall index sync.`,
}

var maintenanceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all maintenance tasks now",
	RunE:  runMaintenanceTasks,
}

var maintenanceRunTaskCmd = &cobra.Command{
	Use:   "run-task <task-name>",
	Short: "Run a specific maintenance task",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpecificMaintenanceTask,
}

var maintenanceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the registered tasks and their schedules",
	RunE:  showMaintenanceStatus,
}

var maintenanceConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective maintenance configuration",
	RunE:  showMaintenanceConfig,
}

func init() {
	maintenanceCmd.AddCommand(maintenanceRunCmd)
	maintenanceCmd.AddCommand(maintenanceRunTaskCmd)
	maintenanceCmd.AddCommand(maintenanceStatusCmd)
	maintenanceCmd.AddCommand(maintenanceConfigCmd)

	maintenanceCmd.PersistentFlags().BoolVar(&maintenanceJSONOutput, "json", false, "Output results in JSON format")
	maintenanceCmd.PersistentFlags().BoolVar(&maintenanceVerbose, "verbose-output", false, "Show detailed task output")

	maintenanceRunCmd.Flags().BoolVar(&maintenanceForce, "force", false, "Run destructive tasks even outside the maintenance window")
	maintenanceRunTaskCmd.Flags().BoolVar(&maintenanceForce, "force", false, "Run destructive tasks even outside the maintenance window")
}

// maintenanceEnv is the slice of the stack the one-shot maintenance
// commands need: the archive and, when enabled, the recall syncer.
type maintenanceEnv struct {
	cfg     *config.Config
	archive *history.Store
	index   *recall.Index
	syncer  *recall.Syncer
	path    string
}

func (e *maintenanceEnv) close() {
	if e.index != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		e.index.Save(ctx)
		cancel()
		e.index.Close()
	}
	if e.archive != nil {
		e.archive.Close()
	}
}

// openMaintenanceEnv opens the archive (and recall index when enabled)
// standalone, without connecting to the gateway.
func openMaintenanceEnv() (*maintenanceEnv, error) {
	dd, cfg, err := loadEnvironment()
	if err != nil {
		return nil, err
	}

	e := &maintenanceEnv{cfg: cfg, path: cfg.ArchivePath(dd.DatabaseDir())}
	e.archive, err = history.NewStore(e.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	if cfg.Recall.Enabled {
		index, err := recall.NewIndex(recall.Config{
			DBPath:    cfg.RecallPath(dd.DatabaseDir()),
			ChunkSize: cfg.Recall.ChunkSize,
			EmbedDims: cfg.Recall.EmbedDims,
		})
		if err != nil {
			log.Printf("[CLI] Recall index unavailable: %v", err)
		} else {
			e.index = index
			e.syncer = recall.NewSyncer(index, e.archive)
		}
	}
	return e, nil
}

// newMaintenanceScheduler registers the archive tasks on a scheduler.
// The stream sweep task is not registered here: tool streams only exist
// inside a live chat session.
func newMaintenanceScheduler(e *maintenanceEnv, logger *log.Logger) (*maintenance.Scheduler, error) {
	scheduler := maintenance.NewScheduler(e.cfg.Maintenance, logger)

	prune := maintenance.NewHistoryPruneTask(e.archive, e.cfg.Maintenance.Retention, logger)
	if err := scheduler.RegisterTask(prune, e.cfg.Maintenance.Schedule); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", prune.Name(), err)
	}

	optimize := maintenance.NewArchiveOptimizeTask(e.archive.DB(), e.path, e.cfg.Maintenance.Database, logger)
	if err := scheduler.RegisterTask(optimize, e.cfg.Maintenance.Schedule); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", optimize.Name(), err)
	}

	if e.syncer != nil {
		sync := maintenance.NewRecallSyncTask(e.syncer, logger)
		if err := scheduler.RegisterTask(sync, e.cfg.Maintenance.SweepSchedule); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", sync.Name(), err)
		}
	}

	return scheduler, nil
}

func maintenanceLogger() *log.Logger {
	logger := log.New(os.Stdout, "[Maintenance] ", log.LstdFlags)
	if !maintenanceVerbose {
		logger.SetOutput(os.Stderr) // Send logs to stderr for clean JSON output
	}
	return logger
}

// runMaintenanceTasks executes all registered maintenance tasks
func runMaintenanceTasks(cmd *cobra.Command, args []string) error {
	e, err := openMaintenanceEnv()
	if err != nil {
		return err
	}
	defer e.close()

	scheduler, err := newMaintenanceScheduler(e, maintenanceLogger())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := scheduler.RunNow(ctx, maintenanceForce); err != nil {
		return fmt.Errorf("failed to run maintenance tasks: %w", err)
	}

	return displayMaintenanceResults(scheduler.GetStatus())
}

// runSpecificMaintenanceTask executes a single maintenance task
func runSpecificMaintenanceTask(cmd *cobra.Command, args []string) error {
	taskName := args[0]

	e, err := openMaintenanceEnv()
	if err != nil {
		return err
	}
	defer e.close()

	scheduler, err := newMaintenanceScheduler(e, maintenanceLogger())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := scheduler.RunTask(ctx, taskName, maintenanceForce); err != nil {
		return fmt.Errorf("failed to run maintenance task %s: %w", taskName, err)
	}

	status := scheduler.GetStatus()
	if taskStatus, exists := status[taskName]; exists {
		return displayTaskResult(taskName, taskStatus)
	}
	return fmt.Errorf("task %s not found", taskName)
}

// showMaintenanceStatus displays the registered tasks without running them
func showMaintenanceStatus(cmd *cobra.Command, args []string) error {
	e, err := openMaintenanceEnv()
	if err != nil {
		return err
	}
	defer e.close()

	scheduler, err := newMaintenanceScheduler(e, maintenanceLogger())
	if err != nil {
		return err
	}
	status := scheduler.GetStatus()

	if maintenanceJSONOutput {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"enabled": e.cfg.Maintenance.Enabled,
			"tasks":   status,
		})
	}

	fmt.Printf("Maintenance enabled: %t\n\n", e.cfg.Maintenance.Enabled)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tENABLED\tSCHEDULE\tDESCRIPTION")
	fmt.Fprintln(w, "----\t-------\t--------\t-----------")
	for name, s := range status {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", name, s.Enabled, s.Schedule, s.Description)
	}
	w.Flush()

	fmt.Printf("\nNote: the stream sweep task runs only inside a live chat session.\n")
	fmt.Printf("Run 'parley maintenance run' to execute tasks immediately.\n")
	return nil
}

// showMaintenanceConfig displays the current maintenance configuration
func showMaintenanceConfig(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadEnvironment()
	if err != nil {
		return err
	}
	mc := cfg.Maintenance

	if maintenanceJSONOutput {
		return json.NewEncoder(os.Stdout).Encode(mc)
	}

	fmt.Println("Maintenance Configuration:")
	fmt.Printf("  Enabled: %t\n", mc.Enabled)
	fmt.Printf("  Schedule: %s\n", mc.Schedule)
	fmt.Printf("  Sweep Schedule: %s\n", mc.SweepSchedule)

	fmt.Println("\nRetention:")
	fmt.Printf("  Enabled: %t\n", mc.Retention.Enabled)
	fmt.Printf("  Days: %d\n", mc.Retention.Days)

	fmt.Println("\nDatabase:")
	fmt.Printf("  Vacuum Enabled: %t\n", mc.Database.VacuumEnabled)
	fmt.Printf("  Vacuum Threshold: %d MB\n", mc.Database.VacuumThreshold)
	fmt.Printf("  Backup Before Vacuum: %t\n", mc.Database.BackupBeforeVacuum)
	fmt.Printf("  Backup Retention Days: %d\n", mc.Database.BackupRetentionDays)
	fmt.Printf("  Optimize Indexes: %t\n", mc.Database.OptimizeIndexes)

	fmt.Println("\nStreams:")
	fmt.Printf("  Max Age Minutes: %d\n", mc.Streams.MaxAgeMinutes)

	fmt.Println("\nMaintenance Window:")
	fmt.Printf("  Start Hour: %d\n", mc.Window.StartHour)
	fmt.Printf("  End Hour: %d\n", mc.Window.EndHour)
	fmt.Printf("  Time Zone: %s\n", mc.Window.TimeZone)

	return nil
}

// displayMaintenanceResults shows the results of maintenance task execution
func displayMaintenanceResults(status map[string]maintenance.TaskStatus) error {
	if maintenanceJSONOutput {
		return json.NewEncoder(os.Stdout).Encode(status)
	}

	fmt.Println("Maintenance Task Results:")
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tDURATION\tRECORDS\tMESSAGE")
	fmt.Fprintln(w, "----\t------\t--------\t-------\t-------")

	for name, taskStatus := range status {
		result := taskStatus.LastResult

		statusStr := "FAILED"
		if result.Success {
			statusStr = "SUCCESS"
		}
		if taskStatus.LastRun.IsZero() {
			statusStr = "SKIPPED"
		}

		duration := result.Duration.Round(time.Millisecond)
		records := fmt.Sprintf("%d", result.RecordsProcessed)
		if result.RecordsProcessed == 0 {
			records = "-"
		}

		message := result.Message
		if len(message) > 50 {
			message = message[:47] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", name, statusStr, duration, records, message)
	}

	w.Flush()

	// Show any errors
	for name, taskStatus := range status {
		if !taskStatus.LastRun.IsZero() && !taskStatus.LastResult.Success && taskStatus.LastResult.Error != nil {
			fmt.Printf("\nError in %s: %v\n", name, taskStatus.LastResult.Error)
		}
	}

	return nil
}

// displayTaskResult shows the result of a single task execution
func displayTaskResult(taskName string, taskStatus maintenance.TaskStatus) error {
	if maintenanceJSONOutput {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"task":   taskName,
			"status": taskStatus,
		})
	}

	result := taskStatus.LastResult

	if taskStatus.LastRun.IsZero() {
		fmt.Printf("Task: %s\n", taskName)
		fmt.Printf("Status: SKIPPED (disabled, or destructive outside the maintenance window)\n")
		return nil
	}

	fmt.Printf("Task: %s\n", taskName)
	fmt.Printf("Status: %s\n", map[bool]string{true: "SUCCESS", false: "FAILED"}[result.Success])
	fmt.Printf("Duration: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("Message: %s\n", result.Message)

	if result.RecordsProcessed > 0 {
		fmt.Printf("Records Processed: %d\n", result.RecordsProcessed)
	}

	if result.SpaceReclaimed > 0 {
		fmt.Printf("Space Reclaimed: %.1f MB\n", float64(result.SpaceReclaimed)/(1024*1024))
	}

	if result.Error != nil {
		fmt.Printf("Error: %v\n", result.Error)
	}

	return nil
}
