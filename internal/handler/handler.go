// Package handler exposes the sync, migration and export operations to the
// entrypoints. The CLI calls the methods directly; the MCP server wraps the
// same methods as tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"unycop-connector/internal/batch"
	"unycop-connector/internal/export"
	"unycop-connector/internal/model"
	"unycop-connector/internal/progress"
	"unycop-connector/internal/reconcile"
)

// Targets name the persisted runs a caller can inspect or reset.
const (
	TargetSync      = "sync"
	TargetMigration = "migration"
)

// Deps holds what the handler drives. Migration and Export may be nil.
type Deps struct {
	Sync      *batch.Controller
	Migration *batch.Controller
	Export    *export.Generator
	Store     progress.Store // for the migration marker; nil skips it in Status
	Location  *time.Location // interprets date-only export bounds
	ChunkSize int            // default for RunAll and Hourly
	Logger    *slog.Logger
}

// Handler holds dependencies for the operations.
type Handler struct {
	sync      *batch.Controller
	migration *batch.Controller
	exporter  *export.Generator
	store     progress.Store
	loc       *time.Location
	chunkSize int
	logger    *slog.Logger
}

// New creates a Handler.
func New(d Deps) *Handler {
	h := &Handler{
		sync:      d.Sync,
		migration: d.Migration,
		exporter:  d.Export,
		store:     d.Store,
		loc:       d.Location,
		chunkSize: d.ChunkSize,
		logger:    d.Logger,
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// === Views ===
// Results carry timestamps as RFC 3339 strings so tool schemas stay plain.

// ProgressView is the persisted state of a run.
type ProgressView struct {
	Offset     int      `json:"offset"`
	ChunkSize  int      `json:"chunk_size"`
	Processed  int      `json:"processed"`
	Updated    int      `json:"updated"`
	Created    int      `json:"created"`
	Unchanged  int      `json:"unchanged"`
	Skipped    int      `json:"skipped"`
	ErrorCount int      `json:"error_count"`
	Errors     []string `json:"errors"`
	RunToken   string   `json:"run_token,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
	Done       bool     `json:"done"`
}

func progressView(p *progress.Progress) *ProgressView {
	if p == nil {
		return nil
	}
	v := &ProgressView{
		Offset:     p.Offset,
		ChunkSize:  p.ChunkSize,
		Processed:  p.Processed,
		Updated:    p.Updated,
		Created:    p.Created,
		Unchanged:  p.Unchanged,
		Skipped:    p.Skipped,
		ErrorCount: p.ErrorCount,
		Errors:     p.Errors,
		RunToken:   p.RunToken,
		Done:       p.Done,
	}
	if v.Errors == nil {
		v.Errors = []string{}
	}
	if !p.Timestamp.IsZero() {
		v.Timestamp = p.Timestamp.UTC().Format(time.RFC3339)
	}
	return v
}

// ChunkView reports one chunk or the last chunk of a loop.
type ChunkView struct {
	Target        string             `json:"target"`
	Offset        int                `json:"offset"`
	NewOffset     int                `json:"new_offset"`
	MoreRemaining bool               `json:"more_remaining"`
	Rows          int                `json:"rows"`
	Chunk         reconcile.Counters `json:"chunk"`
	ChunkErrors   []string           `json:"chunk_errors,omitempty"`
	RunToken      string             `json:"run_token"`
	Progress      *ProgressView      `json:"progress,omitempty"`
}

func chunkView(target string, r *batch.Result) *ChunkView {
	if r == nil {
		return nil
	}
	return &ChunkView{
		Target:        target,
		Offset:        r.Offset,
		NewOffset:     r.NewOffset,
		MoreRemaining: r.MoreRemaining,
		Rows:          r.Rows,
		Chunk:         r.Chunk,
		ChunkErrors:   r.ChunkErrors,
		RunToken:      r.RunToken,
		Progress:      progressView(r.Progress),
	}
}

// QuickView reports a quick sync.
type QuickView struct {
	Rows       int                `json:"rows"`
	Counters   reconcile.Counters `json:"counters"`
	Errors     []string           `json:"errors,omitempty"`
	DurationMS int64              `json:"duration_ms"`
}

// StatusView reports the persisted state of a target.
type StatusView struct {
	Target        string        `json:"target"`
	Exists        bool          `json:"exists"`
	Progress      *ProgressView `json:"progress,omitempty"`
	MigrationDone bool          `json:"migration_done"`
}

// ResetView confirms a reset.
type ResetView struct {
	Target string `json:"target"`
	Reset  bool   `json:"reset"`
}

// HourlyView reports the combined scheduled job.
type HourlyView struct {
	Sync        *ChunkView     `json:"sync,omitempty"`
	SyncError   string         `json:"sync_error,omitempty"`
	Export      *export.Result `json:"export,omitempty"`
	ExportError string         `json:"export_error,omitempty"`
}

// === Operations ===

// QuickSync runs the quick policy over the whole feed.
func (h *Handler) QuickSync(ctx context.Context) (*QuickView, error) {
	c, _, err := h.controller(TargetSync)
	if err != nil {
		return nil, err
	}
	sum, err := c.RunQuick(ctx)
	if err != nil {
		return nil, err
	}
	return &QuickView{
		Rows:       sum.Rows,
		Counters:   sum.Counters,
		Errors:     sum.Errors,
		DurationMS: sum.Duration.Milliseconds(),
	}, nil
}

// RunChunk processes one chunk of the target run.
func (h *Handler) RunChunk(ctx context.Context, target string, req batch.Request) (*ChunkView, error) {
	c, target, err := h.controller(target)
	if err != nil {
		return nil, err
	}
	res, err := c.RunChunk(ctx, req)
	if err != nil {
		return nil, err
	}
	return chunkView(target, res), nil
}

// RunAll loops the target run to the end. With resume set it continues the
// persisted run instead of starting over.
func (h *Handler) RunAll(ctx context.Context, target string, chunkSize int, resume bool) (*ChunkView, error) {
	c, target, err := h.controller(target)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = h.chunkSize
	}
	var res *batch.Result
	if resume {
		res, err = c.Resume(ctx, chunkSize)
	} else {
		res, err = c.RunAll(ctx, chunkSize)
	}
	// an interrupted loop still reports how far it got
	return chunkView(target, res), err
}

// Status reports the persisted progress of target.
func (h *Handler) Status(ctx context.Context, target string) (*StatusView, error) {
	c, target, err := h.controller(target)
	if err != nil {
		return nil, err
	}
	p, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	v := &StatusView{Target: target, Exists: p != nil, Progress: progressView(p)}
	if h.store != nil {
		done, err := progress.Exists(ctx, h.store, progress.MigrationDone)
		if err != nil {
			return nil, err
		}
		v.MigrationDone = done
	}
	return v, nil
}

// Reset discards the persisted progress of target.
func (h *Handler) Reset(ctx context.Context, target string) (*ResetView, error) {
	c, target, err := h.controller(target)
	if err != nil {
		return nil, err
	}
	if err := c.Reset(ctx); err != nil {
		return nil, err
	}
	return &ResetView{Target: target, Reset: true}, nil
}

// ExportOrders writes the order export file.
func (h *Handler) ExportOrders(ctx context.Context, f export.Filter) (*export.Result, error) {
	if h.exporter == nil {
		return nil, fmt.Errorf("%w: order export not configured", model.ErrInvalidRequest)
	}
	return h.exporter.Export(ctx, f)
}

// Hourly runs a full sync from the top and then the order export. The
// export runs even when the sync fails.
func (h *Handler) Hourly(ctx context.Context) (*HourlyView, error) {
	v := &HourlyView{}

	syncRes, syncErr := h.RunAll(ctx, TargetSync, h.chunkSize, false)
	v.Sync = syncRes
	if syncErr != nil {
		v.SyncError = syncErr.Error()
		h.logger.Error("hourly sync failed", "error", syncErr)
	}

	var exportErr error
	if h.exporter != nil {
		v.Export, exportErr = h.exporter.Export(ctx, export.Filter{})
		if exportErr != nil {
			v.ExportError = exportErr.Error()
			h.logger.Error("hourly export failed", "error", exportErr)
		}
	}
	return v, errors.Join(syncErr, exportErr)
}

// ParseBound reads an export date bound: RFC 3339, or a bare date
// (2006-01-02) taken in the handler's time zone. A bare date used as the
// upper bound covers the whole day.
func (h *Handler) ParseBound(s string, upper bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, h.loc)
	if err != nil {
		return time.Time{}, model.NewValidationError("date", fmt.Sprintf("%q is neither RFC 3339 nor YYYY-MM-DD", s))
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

// controller resolves target, defaulting to the sync run.
func (h *Handler) controller(target string) (*batch.Controller, string, error) {
	switch target {
	case "", TargetSync:
		if h.sync == nil {
			return nil, "", fmt.Errorf("%w: sync not configured", model.ErrInvalidRequest)
		}
		return h.sync, TargetSync, nil
	case TargetMigration:
		if h.migration == nil {
			return nil, "", fmt.Errorf("%w: migration not configured", model.ErrInvalidRequest)
		}
		return h.migration, TargetMigration, nil
	default:
		return nil, "", model.NewValidationError("target", fmt.Sprintf("unknown target %q (sync or migration)", target))
	}
}
