// Package batch drives a row handler over a feed in bounded, resumable
// chunks. Each RunChunk call reads the feed from the top, skips the rows
// earlier chunks consumed, handles up to ChunkSize more and persists the
// running totals before returning, so an external caller can keep asking
// for the next chunk until MoreRemaining is false.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"unycop-connector/internal/feed"
	"unycop-connector/internal/model"
	"unycop-connector/internal/progress"
	"unycop-connector/internal/reconcile"
)

// DefaultChunkSize is used when a request does not name one.
const DefaultChunkSize = 100

// RowHandler handles one valid feed record. Implementations must be
// idempotent per national code so a replayed chunk is safe.
type RowHandler interface {
	HandleRow(ctx context.Context, rec feed.Record) reconcile.Outcome
}

// RunStarter is implemented by handlers that keep per-run state.
// StartRun is called when a run starts from offset 0 or is reset.
type RunStarter interface {
	StartRun(ctx context.Context) error
}

// RunFinisher is implemented by handlers that act when the feed is exhausted.
type RunFinisher interface {
	FinishRun(ctx context.Context, p *progress.Progress) error
}

// Options configures a Controller.
type Options struct {
	Name         string // progress record name
	Source       feed.Source
	Feed         feed.Options
	Store        progress.Store
	Locker       progress.Locker // optional; guards RunAll and Resume
	Handler      RowHandler      // chunked runs
	QuickHandler RowHandler      // RunQuick; nil disables it
	ChunkSize    int

	// RequireMigration makes RunQuick refuse until the key migration
	// marker exists in Store.
	RequireMigration bool

	Logger   *slog.Logger
	Now      func() time.Time
	NewToken func() string
}

// Request selects the slice of the feed to process.
type Request struct {
	Offset    int    `json:"offset"`
	ChunkSize int    `json:"chunk_size,omitempty"`
	Reset     bool   `json:"reset,omitempty"`
	RunToken  string `json:"run_token,omitempty"`
}

// Result reports one chunk.
type Result struct {
	Offset        int                `json:"offset"`
	NewOffset     int                `json:"new_offset"`
	MoreRemaining bool               `json:"more_remaining"`
	Rows          int                `json:"rows"`
	Chunk         reconcile.Counters `json:"chunk"`
	ChunkErrors   []string           `json:"chunk_errors,omitempty"`
	Errors        []string           `json:"errors,omitempty"` // whole run, in order
	Progress      *progress.Progress `json:"progress"`
	RunToken      string             `json:"run_token"`
}

// Controller runs chunks for one feed and one progress record.
type Controller struct {
	name             string
	source           feed.Source
	feedOpts         feed.Options
	store            progress.Store
	locker           progress.Locker
	handler          RowHandler
	quick            RowHandler
	chunkSize        int
	requireMigration bool
	logger           *slog.Logger
	now              func() time.Time
	newToken         func() string
}

// New creates a Controller. Name defaults to progress.SyncName.
func New(opts Options) *Controller {
	c := &Controller{
		name:             opts.Name,
		source:           opts.Source,
		feedOpts:         opts.Feed,
		store:            opts.Store,
		locker:           opts.Locker,
		handler:          opts.Handler,
		quick:            opts.QuickHandler,
		chunkSize:        opts.ChunkSize,
		requireMigration: opts.RequireMigration,
		logger:           opts.Logger,
		now:              opts.Now,
		newToken:         opts.NewToken,
	}
	if c.name == "" {
		c.name = progress.SyncName
	}
	if c.store == nil {
		c.store = progress.NewMemory()
	}
	if c.chunkSize <= 0 {
		c.chunkSize = DefaultChunkSize
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newToken == nil {
		c.newToken = uuid.NewString
	}
	return c
}

// Name returns the progress record name.
func (c *Controller) Name() string {
	return c.name
}

// RunChunk processes up to ChunkSize rows starting at Offset.
func (c *Controller) RunChunk(ctx context.Context, req Request) (*Result, error) {
	if c.handler == nil {
		return nil, fmt.Errorf("%w: no row handler", model.ErrInvalidRequest)
	}
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", model.ErrInvalidRequest, req.Offset)
	}
	size := req.ChunkSize
	if size <= 0 {
		size = c.chunkSize
	}

	// the feed is opened first so a missing file leaves progress untouched
	rc, err := c.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	reader, err := feed.NewReader(rc, c.feedOpts)
	if err != nil {
		return nil, err
	}

	prog, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	skipped, err := reader.Skip(req.Offset)
	if err != nil {
		return nil, fmt.Errorf("skipping to offset %d: %w", req.Offset, err)
	}
	if skipped < req.Offset {
		c.logger.Warn("offset beyond end of feed", "name", c.name, "offset", req.Offset, "rows", skipped)
	}

	res := &Result{Offset: req.Offset, RunToken: prog.RunToken}
	for res.Rows < size {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading feed at offset %d: %w", skipped+res.Rows, err)
		}
		res.Rows++
		c.handle(ctx, row, res)
	}

	more, err := reader.More()
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}
	res.MoreRemaining = more
	res.NewOffset = skipped + res.Rows

	prog.Offset = res.NewOffset
	prog.ChunkSize = size
	prog.Processed += res.Chunk.Processed
	prog.Updated += res.Chunk.Updated
	prog.Created += res.Chunk.Created
	prog.Unchanged += res.Chunk.Unchanged
	prog.Skipped += res.Chunk.Skipped
	prog.ErrorCount += res.Chunk.Errors
	prog.AppendErrors(res.ChunkErrors...)
	prog.Timestamp = c.now().UTC()
	prog.Done = !more

	if err := progress.Save(ctx, c.store, c.name, prog); err != nil {
		return nil, err
	}

	if prog.Done {
		if f, ok := c.handler.(RunFinisher); ok {
			if err := f.FinishRun(ctx, prog); err != nil {
				return nil, fmt.Errorf("finishing run: %w", err)
			}
		}
	}

	res.Errors = prog.Errors
	res.Progress = prog

	c.logger.Info("chunk processed",
		"name", c.name,
		"offset", req.Offset,
		"new_offset", res.NewOffset,
		"rows", res.Rows,
		"updated", res.Chunk.Updated,
		"created", res.Chunk.Created,
		"errors", res.Chunk.Errors,
		"more_remaining", res.MoreRemaining,
	)
	return res, nil
}

// begin resolves the progress record the chunk adds to.
func (c *Controller) begin(ctx context.Context, req Request) (*progress.Progress, error) {
	if req.Reset || req.Offset == 0 {
		if err := c.store.Delete(ctx, c.name); err != nil {
			return nil, fmt.Errorf("discarding %s: %w", c.name, err)
		}
		if s, ok := c.handler.(RunStarter); ok {
			if err := s.StartRun(ctx); err != nil {
				return nil, fmt.Errorf("starting run: %w", err)
			}
		}
		token := c.newToken()
		c.logger.Info("run started", "name", c.name, "offset", req.Offset, "reset", req.Reset, "run_token", token)
		return &progress.Progress{RunToken: token}, nil
	}

	prog, err := progress.Load(ctx, c.store, c.name)
	if err != nil {
		return nil, err
	}
	if prog == nil {
		c.logger.Warn("no persisted progress, continuing at requested offset", "name", c.name, "offset", req.Offset)
		token := req.RunToken
		if token == "" {
			token = c.newToken()
		}
		return &progress.Progress{RunToken: token}, nil
	}
	if req.RunToken != "" && prog.RunToken != "" && req.RunToken != prog.RunToken {
		return nil, fmt.Errorf("%w: token %s does not match current run %s", model.ErrRunConflict, req.RunToken, prog.RunToken)
	}
	if prog.Offset != req.Offset {
		c.logger.Warn("requested offset differs from persisted progress",
			"name", c.name, "offset", req.Offset, "persisted_offset", prog.Offset)
	}
	return prog, nil
}

// handle runs one row and folds its outcome into res.
func (c *Controller) handle(ctx context.Context, row feed.Row, res *Result) {
	if row.Err != nil {
		res.Chunk.Errors++
		res.ChunkErrors = append(res.ChunkErrors, row.Err.Error())
		c.logger.Warn("feed row rejected", "line", row.Line, "error", row.Err.Message)
		return
	}
	out := c.handler.HandleRow(ctx, row.Record)
	res.Chunk.Add(out.Counters)
	if out.Err != nil {
		res.ChunkErrors = append(res.ChunkErrors, out.Err.Error())
	}
}

// RunAll loops chunks from offset 0 until the feed is exhausted. It stops
// between chunks when ctx is cancelled and returns the last result with
// ctx.Err().
func (c *Controller) RunAll(ctx context.Context, chunkSize int) (*Result, error) {
	return c.drive(ctx, Request{Offset: 0, ChunkSize: chunkSize})
}

// Resume continues the persisted run. Without persisted progress it starts
// from offset 0; a finished run is reported as is.
func (c *Controller) Resume(ctx context.Context, chunkSize int) (*Result, error) {
	prog, err := progress.Load(ctx, c.store, c.name)
	if err != nil {
		return nil, err
	}
	if prog == nil {
		return c.RunAll(ctx, chunkSize)
	}
	if prog.Done {
		return &Result{
			Offset:    prog.Offset,
			NewOffset: prog.Offset,
			Errors:    prog.Errors,
			Progress:  prog,
			RunToken:  prog.RunToken,
		}, nil
	}
	return c.drive(ctx, Request{Offset: prog.Offset, ChunkSize: chunkSize, RunToken: prog.RunToken})
}

func (c *Controller) drive(ctx context.Context, req Request) (res *Result, err error) {
	if c.locker != nil {
		lease, err := c.locker.Acquire(ctx, c.source.ID())
		if err != nil {
			return nil, err
		}
		defer func() {
			if rerr := lease.Release(); rerr != nil {
				c.logger.Error("releasing run lock", "error", rerr)
			}
		}()
	}

	for {
		res, err = c.RunChunk(ctx, req)
		if err != nil {
			return res, err
		}
		if !res.MoreRemaining {
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			c.logger.Info("run interrupted", "name", c.name, "offset", res.NewOffset)
			return res, err
		}
		req = Request{Offset: res.NewOffset, ChunkSize: req.ChunkSize, RunToken: res.RunToken}
	}
}

// Status returns the persisted progress, or nil if none.
func (c *Controller) Status(ctx context.Context) (*progress.Progress, error) {
	return progress.Load(ctx, c.store, c.name)
}

// Reset discards the persisted progress.
func (c *Controller) Reset(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.name); err != nil {
		return fmt.Errorf("discarding %s: %w", c.name, err)
	}
	c.logger.Info("progress reset", "name", c.name)
	return nil
}
