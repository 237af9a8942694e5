package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/notexe/live-reminder/internal/config"
	"github.com/notexe/live-reminder/internal/engine"
	"github.com/notexe/live-reminder/internal/logging"
	"github.com/notexe/live-reminder/internal/notify"
	"github.com/notexe/live-reminder/internal/reminder"
	"github.com/notexe/live-reminder/internal/repl"
	"github.com/notexe/live-reminder/internal/watch"
)

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	dbPath := flag.String("db", "", "Path to the reminder database (overrides config)")
	channels := flag.String("channels", "", "Notification channels, comma separated (overrides config)")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *dbPath != "" {
		cfg.Store.Path = config.ExpandPath(*dbPath)
	}
	if *channels != "" {
		cfg.Notify.Channels = *channels
	}
	if *noColor {
		cfg.UI.ColoredOutput = false
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		if cfg.Notify.Telegram.BotToken == "" {
			fmt.Fprintf(os.Stderr, "Tip: the telegram channel needs TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID\n")
		}
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

	rl, err := repl.NewReadline("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating REPL: %v\n", err)
		os.Exit(1)
	}

	presenter, err := notify.New(cfg.Notify, logger.Named("notify"), rl.Stdout())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating notifier: %v\n", err)
		os.Exit(1)
	}

	eng := engine.New(store, presenter,
		engine.WithLogger(logger),
		engine.WithRepeatInterval(cfg.Scheduler.RepeatInterval),
		engine.WithRetryDelay(cfg.Scheduler.RetryDelay),
	)
	replInstance := repl.NewREPL(eng, cfg, rl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Scheduler.Enabled {
		eng.Start(ctx)
	} else {
		// Another process delivers; this one only edits.
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
		replInstance.Stop()
	}()

	if err := replInstance.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
