package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Output formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Options configures a Generator.
type Options struct {
	Path     string // target file, overwritten on every run
	Format   string // csv (default) or xlsx
	Location *time.Location
	BOM      bool   // prefix CSV output with a UTF-8 BOM
	Status   string // default filter status
	Guard    *Guard // shared guard; nil gives the generator its own
	Logger   *slog.Logger
}

// Result reports one export.
type Result struct {
	RowCount int    `json:"row_count"`
	Orders   int    `json:"orders"`
	FilePath string `json:"file_path"`
	Skipped  bool   `json:"skipped"` // another export was running
}

// Generator writes the order export file.
type Generator struct {
	source OrderSource
	opts   Options
	guard  *Guard
	logger *slog.Logger
}

// New creates a Generator.
func New(source OrderSource, opts Options) *Generator {
	g := &Generator{source: source, opts: opts, guard: opts.Guard, logger: opts.Logger}
	if g.opts.Format == "" {
		g.opts.Format = FormatCSV
	}
	if g.opts.Location == nil {
		g.opts.Location = time.UTC
	}
	if g.opts.Status == "" {
		g.opts.Status = DefaultStatus
	}
	if g.guard == nil {
		g.guard = &Guard{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Export replaces the target file with the orders matching f. If another
// export holds the guard it returns at once with Skipped set.
func (g *Generator) Export(ctx context.Context, f Filter) (*Result, error) {
	release, ok := g.guard.TryAcquire()
	if !ok {
		g.logger.Info("order export already running, skipping")
		return &Result{FilePath: g.opts.Path, Skipped: true}, nil
	}
	defer release()

	if g.opts.Path == "" {
		return nil, fmt.Errorf("export path not configured")
	}
	if f.Status == "" {
		f.Status = g.opts.Status
	}

	orders, err := g.source.ListOrders(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	sortOrders(orders)
	rows := Rows(orders, g.opts.Location)

	err = writeAtomic(g.opts.Path, func(w io.Writer) error {
		switch g.opts.Format {
		case FormatXLSX:
			return writeXLSX(w, rows)
		case FormatCSV:
			cw := NewWriter(w)
			if g.opts.BOM {
				if err := cw.WriteBOM(); err != nil {
					return err
				}
			}
			if err := cw.Write(Header); err != nil {
				return err
			}
			return cw.WriteAll(rows)
		default:
			return fmt.Errorf("unknown export format %q", g.opts.Format)
		}
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("orders exported",
		"path", g.opts.Path,
		"format", g.opts.Format,
		"orders", len(orders),
		"rows", len(rows),
		"status", f.Status,
	)
	return &Result{RowCount: len(rows), Orders: len(orders), FilePath: g.opts.Path}, nil
}

// writeAtomic writes to a temporary file next to path and renames it over
// path, so readers never see a partial file.
func writeAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name) // no-op after a successful rename

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing export: %w", err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		return fmt.Errorf("setting export permissions: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("replacing export: %w", err)
	}
	return nil
}
