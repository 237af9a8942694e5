// Command mcp-reminder provides an MCP server for reminder management.
//
// The server exposes the reminder store as tools and, when the scheduler
// is enabled, delivers due reminders and forwards them to the client as
// notifications.
//
// Usage:
//
//	./mcp-reminder                     # Start MCP server (stdio)
//	./mcp-reminder --config path.yaml  # Use another config file
//	./mcp-reminder --help              # Show help
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/notexe/live-reminder/internal/config"
	"github.com/notexe/live-reminder/internal/engine"
	"github.com/notexe/live-reminder/internal/logging"
	"github.com/notexe/live-reminder/internal/notify"
	"github.com/notexe/live-reminder/internal/reminder"
	"github.com/notexe/live-reminder/internal/server"
	"github.com/notexe/live-reminder/internal/watch"
)

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	flag.Usage = printHelp
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := reminder.NewStore(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	// stdout carries the MCP transport.
	presenter, err := notify.New(cfg.Notify, logger.Named("notify"), io.Discard)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating notifier: %v\n", err)
		os.Exit(1)
	}

	eng := engine.New(store, presenter,
		engine.WithLogger(logger),
		engine.WithRepeatInterval(cfg.Scheduler.RepeatInterval),
		engine.WithRetryDelay(cfg.Scheduler.RetryDelay),
	)
	s := server.New(eng, logger.Named("server"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Scheduler.Enabled {
		eng.Start(ctx)
	} else {
		eng.Close()
	}
	defer eng.Close()

	if cfg.Scheduler.WatchDB {
		onChange, err := watch.Foreign(ctx, store.DataVersion, logger.Named("watch"), func() { eng.External(ctx) })
		if err != nil {
			logger.Warn("database watcher disabled", zap.Error(err))
		} else if w, err := watch.New(cfg.Store.Path, watch.DefaultDebounce, logger.Named("watch"), onChange); err != nil {
			logger.Warn("database watcher disabled", zap.Error(err))
		} else {
			defer w.Close()
		}
	}

	stdio := mcpserver.NewStdioServer(s.MCPServer())
	stdio.SetErrorLogger(zap.NewStdLog(logger.Named("stdio")))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("server error", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Fprintln(os.Stderr, `MCP Reminder Server - Reminder management via MCP protocol

USAGE:
    mcp-reminder [--config path]   Start MCP server (communicates via stdio)
    mcp-reminder --help            Show this help

CONFIGURATION:
    Default file: ~/.live-reminder/config.yaml
    Every key can be set with LIVE_REMINDER_<SECTION>__<KEY>, for example
    LIVE_REMINDER_STORE__PATH or LIVE_REMINDER_SCHEDULER__ENABLED=false.
    Set scheduler.enabled to false when another process delivers reminders.

TOOLS:
    add_reminder          Add a reminder (title, reminder_time, text)
    update_reminder       Edit title, text or reminder_time
    get_reminder          Get one reminder
    list_reminders        List active reminders, pinned first
    list_archived         List archived reminders
    search_reminders      Search titles and text
    archive_reminder      Archive a reminder
    restore_reminder      Restore an archived reminder
    delete_reminder       Delete a reminder permanently
    clear_archive         Delete every archived reminder
    toggle_pin            Pin or unpin; pinned reminders repeat until viewed
    mark_viewed           Acknowledge a fired reminder
    next_reminder         Show the next reminder to fire
    unacknowledged_count  Count fired reminders not yet viewed

NOTIFICATIONS:
    reminder/due, reminder/unacknowledged, reminder/activated, reminder/changed`)
}
