package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"parley/internal/api"
	"parley/internal/catalog"
	"parley/internal/chat"
	"parley/internal/config"
	"parley/internal/datadir"
	"parley/internal/events"
	"parley/internal/history"
	"parley/internal/maintenance"
	"parley/internal/recall"
	"parley/internal/streams"
	"parley/internal/transport"
	"parley/internal/tui"
	"parley/internal/version"
)

// clientStack holds the wired client: socket, REST backend, archive,
// recall index, tool catalog, and the chat manager on top of them.
type clientStack struct {
	cfg     *config.Config
	dd      *datadir.DataDir
	bus     *events.Bus
	socket  *transport.Socket
	backend *api.Client
	archive *history.Store
	index   *recall.Index
	syncer  *recall.Syncer
	tools   *catalog.Catalog
	agg     *streams.Aggregator
	manager *chat.Manager
	sched   *maintenance.Scheduler
}

// buildStack assembles the client from configuration. The archive and
// the chat manager are required; recall and tool manifests degrade to
// log warnings when they cannot be opened.
func buildStack(dd *datadir.DataDir, cfg *config.Config) (*clientStack, error) {
	s := &clientStack{cfg: cfg, dd: dd}

	s.bus = events.New()

	s.socket = transport.New(transport.Config{
		URL:                  cfg.Server.SocketURL,
		Token:                cfg.Server.Token,
		Bus:                  s.bus,
		PingInterval:         time.Duration(cfg.Server.PingIntervalSeconds) * time.Second,
		MaxReconnectAttempts: cfg.Server.ReconnectAttempts,
		QueueLimit:           cfg.Server.QueueLimit,
	})

	s.backend = api.New(api.Config{
		BaseURL:  cfg.Server.APIURL,
		Token:    cfg.Server.Token,
		ClientID: s.socket.ClientID(),
	})

	archive, err := history.NewStore(cfg.ArchivePath(dd.DatabaseDir()))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	s.archive = archive

	if cfg.Recall.Enabled {
		index, err := recall.NewIndex(recall.Config{
			DBPath:    cfg.RecallPath(dd.DatabaseDir()),
			ChunkSize: cfg.Recall.ChunkSize,
			EmbedDims: cfg.Recall.EmbedDims,
		})
		if err != nil {
			log.Printf("[CLI] Recall index unavailable: %v", err)
		} else {
			s.index = index
			s.syncer = recall.NewSyncer(index, archive)
			archive.SetRecordedCallback(s.syncer.Hook())
		}
	}

	s.tools = catalog.Default()
	manifestDir := cfg.Tools.ManifestDir
	if manifestDir == "" {
		manifestDir = dd.ToolsDir()
	}
	if n, err := s.tools.LoadDir(manifestDir); err != nil {
		log.Printf("[CLI] Failed to load tool manifests: %v", err)
	} else if n > 0 {
		log.Printf("[CLI] Loaded %d tool manifests from %s", n, manifestDir)
	}

	s.agg = streams.New(streams.Config{
		ToolNames: func(name string) string {
			return s.tools.Lookup(name).Title
		},
	})

	s.manager = chat.NewManager(chat.Config{
		Wire:       s.socket,
		Backend:    s.backend,
		Aggregator: s.agg,
		Bus:        s.bus,
		History:    archive,
		NoticeTTL:  cfg.NoticeTTL(),
	})
	if err := s.manager.Start(); err != nil {
		s.closePartial()
		return nil, fmt.Errorf("failed to start chat manager: %w", err)
	}

	return s, nil
}

// connect performs the initial dial. A failure is not fatal: outbound
// frames queue while offline and Ctrl+R retries from the TUI.
func (s *clientStack) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.socket.Connect(ctx); err != nil {
		log.Printf("[CLI] Gateway not reachable: %v (starting offline)", err)
	}
}

// syncRecall backfills the recall index from the archive in the
// background so searches cover messages recorded before recall was
// enabled.
func (s *clientStack) syncRecall() {
	if s.syncer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		res, err := s.syncer.SyncNow(ctx)
		if err != nil {
			log.Printf("[CLI] Recall sync failed: %v", err)
			return
		}
		if res.MessagesIndexed > 0 {
			log.Printf("[CLI] Recall indexed %d messages across %d chats", res.MessagesIndexed, res.ChatsScanned)
		}
	}()
}

// startMaintenance registers the background maintenance tasks and
// starts the scheduler. A no-op when maintenance is disabled.
func (s *clientStack) startMaintenance() {
	if !s.cfg.Maintenance.Enabled {
		return
	}
	logger := log.New(os.Stderr, "[Maintenance] ", log.LstdFlags)
	sched := maintenance.NewScheduler(s.cfg.Maintenance, logger)

	register := func(task maintenance.Task, schedule string) {
		if err := sched.RegisterTask(task, schedule); err != nil {
			logger.Printf("Failed to register %s: %v", task.Name(), err)
		}
	}

	archivePath := s.cfg.ArchivePath(s.dd.DatabaseDir())
	register(maintenance.NewHistoryPruneTask(s.archive, s.cfg.Maintenance.Retention, logger), s.cfg.Maintenance.Schedule)
	register(maintenance.NewArchiveOptimizeTask(s.archive.DB(), archivePath, s.cfg.Maintenance.Database, logger), s.cfg.Maintenance.Schedule)
	register(maintenance.NewStreamSweepTask(s.agg, s.cfg.Maintenance.Streams, logger), s.cfg.Maintenance.SweepSchedule)
	if s.syncer != nil {
		register(maintenance.NewRecallSyncTask(s.syncer, logger), s.cfg.Maintenance.SweepSchedule)
	}

	if err := sched.Start(); err != nil {
		logger.Printf("Failed to start scheduler: %v", err)
		return
	}
	s.sched = sched
}

// tuiOptions builds the TUI wiring from the stack.
func (s *clientStack) tuiOptions() tui.Options {
	return tui.Options{
		Manager:       s.manager,
		Socket:        s.socket,
		Bus:           s.bus,
		Archive:       s.archive,
		Recall:        s.index,
		Catalog:       s.tools,
		AssistantName: s.cfg.Chat.AssistantName,
		ServerURL:     s.cfg.Server.SocketURL,
		Version:       version.Info(),
		Location:      s.cfg.GetLocation(),
	}
}

// Close tears the stack down in reverse dependency order.
func (s *clientStack) Close() {
	if s.sched != nil {
		if err := s.sched.Stop(); err != nil {
			log.Printf("[CLI] Scheduler stop: %v", err)
		}
	}
	if s.manager != nil {
		s.manager.Stop()
	}
	s.closePartial()
}

// closePartial releases the connection and storage handles. Used both
// by Close and by buildStack's own error path.
func (s *clientStack) closePartial() {
	if s.socket != nil {
		s.socket.Close()
	}
	if s.index != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.index.Save(ctx); err != nil {
			log.Printf("[CLI] Failed to save recall index: %v", err)
		}
		cancel()
		if err := s.index.Close(); err != nil {
			log.Printf("[CLI] Failed to close recall index: %v", err)
		}
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			log.Printf("[CLI] Failed to close archive: %v", err)
		}
	}
}
