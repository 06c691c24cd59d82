// Package main is the entry point for the keygate admin CLI.
// This tool runs administrative key operations directly against the configured store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/keygate/internal/app"
	"github.com/prn-tf/keygate/internal/auth"
	"github.com/prn-tf/keygate/internal/config"
	"github.com/prn-tf/keygate/internal/domain"
	"github.com/prn-tf/keygate/internal/handler"
	"github.com/prn-tf/keygate/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// origin is recorded as the IP of audit events written by this tool.
const origin = "cli"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command, rest := args[0], args[1:]

	switch command {
	case "version":
		fmt.Printf("keygate admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "hash-token":
		exitOnError(hashToken(rest))

	case "help", "-h", "--help":
		printUsage()

	case "generate", "info", "reset", "delete", "stats":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err := run(ctx, *configPath, command, rest, os.Stdout)
		stop()
		exitOnError(err)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// run executes one key command against the configured store and writes its
// JSON result to out.
func run(ctx context.Context, configPath, command string, args []string, out io.Writer) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	a, err := open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := a.Close(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	switch command {
	case "generate":
		return generate(ctx, a.Keys, args, out)
	case "info":
		return info(ctx, a.Keys, args, out)
	case "reset":
		return reset(ctx, a.Keys, args, out)
	case "delete":
		return remove(ctx, a.Keys, args, out)
	case "stats":
		return stats(ctx, a.Keys, out)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// newLogger sends diagnostics to stderr and keeps routine messages quiet so
// stdout carries only command output.
func newLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	cfg.Output = "stderr"
	cfg.Format = "console"
	if level, err := zerolog.ParseLevel(cfg.Level); err == nil && level < zerolog.WarnLevel {
		cfg.Level = zerolog.WarnLevel.String()
	}
	return app.NewLogger(cfg)
}

// open assembles the application with synchronous audit writes so that every
// event is stored before the process exits.
func open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, app.Options{
		Authorizer: auth.Trusted{},
		SyncAudit:  true,
	})
}

func generate(ctx context.Context, keys *service.KeyService, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	amount := fs.Int("amount", 1, "number of keys to generate")
	days := fs.Int("days", 0, "validity in days (default from config)")
	maxResets := fs.Int("max-resets", -1, "owner reset allowance (default from config)")
	notes := fs.String("notes", "", "annotation stored with each key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := service.GenerateInput{Amount: amount, Notes: *notes, Origin: origin}
	if *days > 0 {
		in.Days = days
	}
	if *maxResets >= 0 {
		in.MaxResets = maxResets
	}

	res, err := keys.Generate(ctx, in)
	if err != nil {
		var partial *domain.PartialGenerationError
		if errors.As(err, &partial) {
			_ = printJSON(out, map[string]any{"persisted": partial.Persisted})
		}
		return err
	}
	return printJSON(out, handler.NewGenerateResponse(res))
}

func info(ctx context.Context, keys *service.KeyService, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	key := fs.String("key", "", "license key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := keys.Info(ctx, *key)
	if err != nil {
		return err
	}
	return printJSON(out, handler.NewInfoResponse(res))
}

func reset(ctx context.Context, keys *service.KeyService, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	key := fs.String("key", "", "license key")
	reason := fs.String("reason", "", "reason recorded in the audit log")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Trusted authorizes any non-empty credential.
	res, err := keys.Reset(ctx, service.ResetInput{
		Key:        *key,
		Credential: domain.AdminActor,
		Reason:     *reason,
		Origin:     origin,
	})
	if err != nil {
		return err
	}
	return printJSON(out, handler.NewResetResponse(res))
}

func remove(ctx context.Context, keys *service.KeyService, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	key := fs.String("key", "", "license key")
	reason := fs.String("reason", "", "reason recorded in the audit log")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := keys.Delete(ctx, service.DeleteInput{Key: *key, Reason: *reason, Origin: origin}); err != nil {
		return err
	}
	return printJSON(out, handler.NewDeleteResponse(*key, *reason))
}

func stats(ctx context.Context, keys *service.KeyService, out io.Writer) error {
	res, err := keys.Stats(ctx, "")
	if err != nil {
		return err
	}
	return printJSON(out, handler.NewStatsResponse(res))
}

func hashToken(args []string) error {
	fs := flag.NewFlagSet("hash-token", flag.ExitOnError)
	token := fs.String("token", "", "admin token to hash (default: KEYGATE_ADMIN_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		*token = os.Getenv("KEYGATE_ADMIN_TOKEN")
	}

	hash, err := auth.HashToken(*token)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error [%s]: %v\n", domain.Code(err), err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`keygate admin CLI

Usage:
  keygate-admin [-config path] <command> [arguments]

Commands:
  generate    Issue keys (-amount, -days, -max-resets, -notes)
  info        Show a key (-key)
  reset       Clear the hardware binding of a key (-key, -reason)
  delete      Delete a key (-key, -reason)
  stats       Print totals, recent audit events and every key
  hash-token  Print a bcrypt hash for admin.token_hash (-token)
  version     Print version information
  help        Show this help message

Examples:
  keygate-admin generate -amount 5 -days 30 -notes "reseller batch"
  keygate-admin info -key ABCD-EFGH-2345-WXYZ
  keygate-admin reset -key ABCD-EFGH-2345-WXYZ -reason "support ticket"
  keygate-admin -config /etc/keygate/config.yaml stats`)
}
