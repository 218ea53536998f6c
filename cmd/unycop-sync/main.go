// unycop-sync runs connector operations from cron or a shell.
// Each command performs a single operation and prints its result as JSON,
// making it composable for scripts.
//
// Commands:
//
//	unycop-sync quick
//	unycop-sync chunk [-offset N] [-size N] [-reset] [-token T] [-target sync|migration]
//	unycop-sync run [-size N] [-resume] [-target sync|migration]
//	unycop-sync migrate [-size N] [-resume]
//	unycop-sync export [-status S] [-from DATE] [-to DATE]
//	unycop-sync status [-target sync|migration]
//	unycop-sync reset [-target sync|migration]
//	unycop-sync hourly
//
// Examples:
//
//	OFFSET=0; TOKEN=
//	unycop-sync chunk -offset $OFFSET -size 200 -token "$TOKEN"
//	unycop-sync export -from 2026-03-01 -to 2026-03-31
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"unycop-connector/internal/app"
	"unycop-connector/internal/batch"
	"unycop-connector/internal/config"
	"unycop-connector/internal/export"
	"unycop-connector/internal/handler"
)

// command runs one operation against the wired handler and returns the view
// to print.
type command func(ctx context.Context, h *handler.Handler, args []string) (any, error)

var commands = map[string]command{
	"quick":   runQuick,
	"chunk":   runChunk,
	"run":     runAll,
	"migrate": runMigrate,
	"export":  runExport,
	"status":  runStatus,
	"reset":   runReset,
	"hourly":  runHourly,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	switch name {
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := run(cmd, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd command, args []string) error {
	logger := initLogger()

	// Interrupts stop the run between chunks; progress already saved stays.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	view, err := cmd(ctx, a.Handler, args)
	if view != nil {
		if perr := printJSON(view); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func runQuick(ctx context.Context, h *handler.Handler, args []string) (any, error) {
	fs := flag.NewFlagSet("quick", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: unycop-sync quick\n\nUpdate stock and prices of existing products in one pass.\n")
	}
	fs.Parse(args)
	v, err := h.QuickSync(ctx)
	return orNil(v, err)
}

func runChunk(ctx context.Context, h *handler.Handler, args []string) (any, error) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	offset := fs.Int("offset", 0, "Rows already processed (0 starts a new run)")
	size := fs.Int("size", 0, "Rows to process (default from config)")
	reset := fs.Bool("reset", false, "Discard persisted progress first")
	token := fs.String("token", "", "Run token returned by the previous chunk")
	target := fs.String("target", handler.TargetSync, "sync or migration")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: unycop-sync chunk [options]\n\nProcess one chunk and print the next offset.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if *offset < 0 {
		return nil, fmt.Errorf("-offset must not be negative")
	}
	v, err := h.RunChunk(ctx, *target, batch.Request{
		Offset:    *offset,
		ChunkSize: *size,
		Reset:     *reset,
		RunToken:  *token,
	})
	return orNil(v, err)
}

func runAll(ctx context.Context, h *handler.Handler, args []string) (any, error) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	size := fs.Int("size", 0, "Rows per chunk (default from config)")
	resume := fs.Bool("resume", false, "Continue from persisted progress instead of starting over")
	target := fs.String("target", handler.TargetSync, "sync or migration")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: unycop-sync run [options]\n\nProcess the whole feed chunk by chunk.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	v, err := h.RunAll(ctx, *target, *size, *resume)
	return orNil(v, err)
}

func runMigrate(ctx context.Context, h *handler.Handler, args []string) (any, error) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	size := fs.Int("size", 0, "Rows per chunk (default from config)")
	resume := fs.Bool("resume", false, "Continue from persisted progress instead of starting over")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: unycop-sync migrate [options]\n\nRewrite product SKUs to national codes.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	v, err := h.RunAll(ctx, handler.TargetMigration, *size, *resume)
	return orNil(v, err)
}

func runExport(ctx context.Context, h *handler.Handler, args []string) (any, error) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	status := fs.String("status", "", "Order status to export (default from config)")
	from := fs.String("from", "", "Earliest creation date, RFC 3339 or YYYY-MM-DD")
	to := fs.String("to", "", "Latest creation date, RFC 3339 or YYYY-MM-DD (whole day)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: unycop-sync export [options]\n\nRegenerate the order export file.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	lo, err := h.ParseBound(*from, false)
	if err != nil {
		return nil, err
	}
	hi, err := h.ParseBound(*to, true)
	if err != nil {
		return nil, err
	}
	res, err := h.ExportOrders(ctx, export.Filter{Status: *status, From: lo, To: hi})
	return orNil(res, err)
}

func runStatus(ctx context.Context, h *handler.Handler, args []string) (any, error) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	target := fs.String("target", handler.TargetSync, "sync or migration")
	fs.Parse(args)
	v, err := h.Status(ctx, *target)
	return orNil(v, err)
}

func runReset(ctx context.Context, h *handler.Handler, args []string) (any, error) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	target := fs.String("target", handler.TargetSync, "sync or migration")
	fs.Parse(args)
	v, err := h.Reset(ctx, *target)
	return orNil(v, err)
}

func runHourly(ctx context.Context, h *handler.Handler, args []string) (any, error) {
	fs := flag.NewFlagSet("hourly", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: unycop-sync hourly\n\nRun a full sync from the top, then export orders.\n")
	}
	fs.Parse(args)
	v, err := h.Hourly(ctx)
	return orNil(v, err)
}

// orNil keeps a typed nil view from printing as "null".
func orNil[T any](v *T, err error) (any, error) {
	if v == nil {
		return nil, err
	}
	return v, err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `unycop-sync - Unycop stock feed and WooCommerce order connector

Usage:
  unycop-sync <command> [options]

Commands:
  quick     Update stock and prices of existing products in one pass
  chunk     Process one chunk of the sync (or migration) run
  run       Process the whole feed chunk by chunk
  migrate   Rewrite product SKUs to national codes
  export    Regenerate the order export file
  status    Show persisted progress
  reset     Discard persisted progress
  hourly    Full sync followed by order export

Configuration comes from CONFIG_FILE or environment variables
(STORE_URL, STORE_API_KEY, STORE_API_SECRET, FEED_PATH, ...).

Run 'unycop-sync <command> -h' for command-specific options.
`)
}

// initLogger creates a structured logger configured for the environment.
// Logs go to stderr; stdout carries the command result.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
