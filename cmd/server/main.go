package main

import (
	"context"
	"embed"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/repositories"
	"chat-relay/runtime/workers"
	"chat-relay/server"
)

//go:embed censored/*
var censoredFolder embed.FS

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so deferred cleanups (database close)
// always execute before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	history := repositories.NewHistoryRepository(db, log)

	// 3. Optional moderation
	var filter *moderation.Filter
	if config.ModerationEnabled {
		mask, err := maskRune(config.ModerationMask)
		if err != nil {
			return err
		}
		lists, err := moderation.LoadWordLists(censoredFolder, "censored")
		if err != nil {
			return fmt.Errorf("loading censored words: %w", err)
		}
		log.Info(fmt.Sprintf("%d censored words loaded [%s]",
			len(lists.Words), strings.Join(lists.Languages, ",")))
		filter, err = moderation.NewFilter(lists.Words, mask)
		if err != nil {
			return fmt.Errorf("building moderation filter: %w", err)
		}
	}

	// 4. Relay server under supervision
	relay := server.NewServer(log, server.Options{
		Addr:          fmt.Sprintf("%s:%d", config.Host, config.Port),
		OutboxSize:    config.OutboxSize,
		HistoryReplay: config.HistoryReplay,
		MaxFileBytes:  config.MaxFileBytes,
		WriteTimeout:  config.WriteTimeout,
	}, history, filter)

	if config.DebugPort > 0 {
		internal.StartDebugServer(history, relay.Rooms(), config.DebugPort)
		log.Info("Debug inspector enabled", "port", config.DebugPort)
	}

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := workers.NewSupervisor(log)
	sup.Add(relay)
	sup.Run(ctx)

	log.Info("Program stopped cleanly")
	return nil
}
