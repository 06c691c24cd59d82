// Package main is the entry point for the keygate database migration tool.
// This tool applies the embedded schema to the configured SQLite or PostgreSQL database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/keygate/internal/config"
	"github.com/prn-tf/keygate/internal/repository/factory"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	switch command {
	case "version":
		fmt.Printf("keygate migration tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "up", "status":
		if err := run(command, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func run(command, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().
		Level(zerolog.InfoLevel)

	store, err := factory.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	before, err := store.Migrator.Version(ctx)
	if err != nil {
		return err
	}

	if command == "status" {
		fmt.Printf("driver:  %s\n", store.Driver)
		fmt.Printf("version: %d\n", before)
		return nil
	}

	if err := store.Migrator.Migrate(ctx); err != nil {
		return err
	}

	after, err := store.Migrator.Version(ctx)
	if err != nil {
		return err
	}

	if after == before {
		fmt.Printf("%s schema is up to date at version %d\n", store.Driver, after)
	} else {
		fmt.Printf("%s schema migrated from version %d to %d\n", store.Driver, before, after)
	}
	return nil
}

func printUsage() {
	fmt.Println(`keygate migration tool

Usage:
  keygate-migrate [-config path] <command>

Commands:
  up          Apply all pending migrations
  status      Show the driver and current schema version
  version     Print version information
  help        Show this help message

Configuration is read from config.yaml (., ./configs, /etc/keygate) and
KEYGATE_* environment variables, e.g.:
  KEYGATE_DATABASE_DRIVER=postgres
  KEYGATE_DATABASE_HOST=localhost

Examples:
  keygate-migrate up
  keygate-migrate -config /etc/keygate/config.yaml status`)
}
