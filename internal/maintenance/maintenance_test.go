package maintenance

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"parley/internal/chat"
	"parley/internal/history"
	"parley/internal/recall"
	"parley/internal/streams"
)

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[Test] ", log.LstdFlags)
}

func newTestStore(t *testing.T) (*history.Store, string) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := history.NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func TestHistoryPruneTask(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -45)
	fresh := time.Now().AddDate(0, 0, -5)

	seed := []struct {
		chatID string
		id     string
		at     time.Time
	}{
		{"chat-old", "m1", old},
		{"chat-old", "m2", old},
		{"chat-live", "m3", fresh},
	}
	for _, s := range seed {
		err := store.RecordMessage(ctx, s.chatID, chat.Message{
			ID: s.id, Role: chat.RoleUser, Content: "content " + s.id, CreatedAt: s.at,
		})
		if err != nil {
			t.Fatalf("Failed to record message: %v", err)
		}
	}
	// Pin chat-old's activity in the past so the sweep can drop it.
	if err := store.TouchChat(ctx, "chat-old", "Old chat", old); err != nil {
		t.Fatalf("Failed to touch chat: %v", err)
	}

	task := NewHistoryPruneTask(store, RetentionConfig{Enabled: true, Days: 30}, testLogger())
	result := task.Execute(ctx)

	if !result.Success {
		t.Fatalf("Prune task failed: %s (%v)", result.Message, result.Error)
	}
	if result.RecordsProcessed != 2 {
		t.Errorf("Expected 2 messages pruned, got %d", result.RecordsProcessed)
	}

	chats, err := store.Chats(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != "chat-live" {
		t.Errorf("Expected only chat-live to survive, got %v", chats)
	}
}

func TestHistoryPruneTaskDisabled(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.RecordMessage(ctx, "chat-1", chat.Message{
		ID: "m1", Role: chat.RoleUser, Content: "keep me", CreatedAt: time.Now().AddDate(-1, 0, 0),
	})
	if err != nil {
		t.Fatalf("Failed to record message: %v", err)
	}

	task := NewHistoryPruneTask(store, RetentionConfig{Enabled: false, Days: 30}, testLogger())
	if task.ShouldRun() {
		t.Error("Disabled task should not want to run")
	}

	result := task.Execute(ctx)
	if !result.Success {
		t.Fatalf("Disabled prune should succeed: %s", result.Message)
	}

	msgs, err := store.RecentMessages(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("Failed to load messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("Expected message to survive disabled prune, got %d", len(msgs))
	}
}

func TestArchiveOptimizeTask(t *testing.T) {
	store, dbPath := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3"} {
		err := store.RecordMessage(ctx, "chat-1", chat.Message{
			ID: id, Role: chat.RoleUser, Content: "content", CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Failed to record message: %v", err)
		}
	}

	config := DatabaseConfig{
		VacuumEnabled:      true,
		VacuumThreshold:    0,     // Always vacuum for testing
		BackupBeforeVacuum: false, // Skip backup for testing
		OptimizeIndexes:    true,
	}

	task := NewArchiveOptimizeTask(store.DB(), dbPath, config, testLogger())
	result := task.Execute(ctx)

	if !result.Success {
		t.Errorf("Optimize task failed: %s (%v)", result.Message, result.Error)
	}
}

func TestStreamSweepTask(t *testing.T) {
	agg := streams.New(streams.Config{})
	task := NewStreamSweepTask(agg, StreamConfig{MaxAgeMinutes: 10}, testLogger())

	result := task.Execute(context.Background())
	if !result.Success {
		t.Fatalf("Sweep task failed: %s", result.Message)
	}
	if result.RecordsProcessed != 0 {
		t.Errorf("Expected nothing to sweep, got %d", result.RecordsProcessed)
	}

	disabled := NewStreamSweepTask(agg, StreamConfig{}, testLogger())
	if disabled.ShouldRun() {
		t.Error("Zero max age should disable the task")
	}
}

func TestRecallSyncTask(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		err := store.RecordMessage(ctx, "chat-1", chat.Message{
			ID: id, Role: chat.RoleUser, Content: "searchable content " + id,
		})
		if err != nil {
			t.Fatalf("Failed to record message: %v", err)
		}
	}

	ix, err := recall.NewIndex(recall.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}
	defer ix.Close()

	task := NewRecallSyncTask(recall.NewSyncer(ix, store), testLogger())
	result := task.Execute(ctx)

	if !result.Success {
		t.Fatalf("Recall sync task failed: %s (%v)", result.Message, result.Error)
	}
	if result.RecordsProcessed != 2 {
		t.Errorf("Expected 2 messages indexed, got %d", result.RecordsProcessed)
	}
}

func TestScheduler(t *testing.T) {
	config := DefaultConfig()
	config.Window.StartHour = 0
	config.Window.EndHour = 0 // Same start/end hour = no restrictions

	scheduler := NewScheduler(config, testLogger())

	testTask := &TestTask{name: "test_task"}
	if err := scheduler.RegisterTask(testTask, ""); err != nil {
		t.Fatalf("Failed to register test task: %v", err)
	}

	status := scheduler.GetStatus()
	if len(status) != 1 {
		t.Errorf("Expected 1 task, got %d", len(status))
	}
	if stat, exists := status["test_task"]; !exists {
		t.Error("Test task not found in status")
	} else if stat.Schedule != config.Schedule {
		t.Errorf("Expected default schedule %s, got %s", config.Schedule, stat.Schedule)
	}

	ctx := context.Background()
	if err := scheduler.RunTask(ctx, "test_task", false); err != nil {
		t.Errorf("Failed to run test task: %v", err)
	}
	if !testTask.executed {
		t.Error("Test task was not executed")
	}

	if err := scheduler.RunTask(ctx, "missing", false); err == nil {
		t.Error("Expected error for unknown task")
	}
}

func TestSchedulerPerTaskSchedule(t *testing.T) {
	scheduler := NewScheduler(DefaultConfig(), testLogger())

	sweep := &TestTask{name: "sweepish"}
	if err := scheduler.RegisterTask(sweep, "0 * * * * *"); err != nil {
		t.Fatalf("Failed to register task: %v", err)
	}

	status := scheduler.GetStatus()
	if status["sweepish"].Schedule != "0 * * * * *" {
		t.Errorf("Expected per-task schedule, got %s", status["sweepish"].Schedule)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	config := DefaultConfig()
	scheduler := NewScheduler(config, testLogger())

	if err := scheduler.RegisterTask(&TestTask{name: "noop"}, ""); err != nil {
		t.Fatalf("Failed to register task: %v", err)
	}

	if err := scheduler.Start(); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	if !scheduler.IsRunning() {
		t.Error("Scheduler should be running after Start")
	}

	if err := scheduler.Start(); err == nil {
		t.Error("Expected error starting scheduler twice")
	}

	if err := scheduler.Stop(); err != nil {
		t.Errorf("Failed to stop scheduler: %v", err)
	}
	if scheduler.IsRunning() {
		t.Error("Scheduler should not be running after Stop")
	}
}

func TestSchedulerDisabled(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false

	scheduler := NewScheduler(config, testLogger())
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Disabled start should succeed: %v", err)
	}
	if scheduler.IsRunning() {
		t.Error("Disabled scheduler should not report running")
	}
}

func TestRunNowWindowGating(t *testing.T) {
	// A window that can never match the current hour.
	config := DefaultConfig()
	now := time.Now().UTC().Hour()
	config.Window.StartHour = (now + 2) % 24
	config.Window.EndHour = (now + 3) % 24

	scheduler := NewScheduler(config, testLogger())

	destructive := &TestTask{name: "destructive_task", destructive: true}
	if err := scheduler.RegisterTask(destructive, ""); err != nil {
		t.Fatalf("Failed to register task: %v", err)
	}

	if err := scheduler.RunNow(context.Background(), false); err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if destructive.executed {
		t.Error("Unforced RunNow should skip destructive tasks outside the window")
	}

	if err := scheduler.RunNow(context.Background(), true); err != nil {
		t.Fatalf("Forced RunNow failed: %v", err)
	}
	if !destructive.executed {
		t.Error("Forced RunNow should execute destructive tasks outside the window")
	}
}

// TestTask is a simple task implementation for testing
type TestTask struct {
	name        string
	executed    bool
	destructive bool
}

func (t *TestTask) Name() string {
	return t.name
}

func (t *TestTask) Description() string {
	return "Test task for unit testing"
}

func (t *TestTask) Execute(ctx context.Context) TaskResult {
	t.executed = true
	return TaskResult{
		Success: true,
		Message: "Test task executed successfully",
	}
}

func (t *TestTask) ShouldRun() bool {
	return true
}

func (t *TestTask) IsDestructive() bool {
	return t.destructive
}
