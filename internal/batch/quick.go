package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"unycop-connector/internal/feed"
	"unycop-connector/internal/model"
	"unycop-connector/internal/progress"
	"unycop-connector/internal/reconcile"
)

// Summary reports a quick run over the whole feed.
type Summary struct {
	Rows     int                `json:"rows"`
	Counters reconcile.Counters `json:"counters"`
	Errors   []string           `json:"errors,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// RunQuick applies the quick handler to every row in one pass, without
// chunking or persisted progress.
func (c *Controller) RunQuick(ctx context.Context) (*Summary, error) {
	if c.quick == nil {
		return nil, fmt.Errorf("%w: quick sync not configured", model.ErrInvalidRequest)
	}
	if c.requireMigration {
		done, err := progress.Exists(ctx, c.store, progress.MigrationDone)
		if err != nil {
			return nil, fmt.Errorf("checking migration marker: %w", err)
		}
		if !done {
			return nil, model.ErrMigrationPending
		}
	}

	if c.locker != nil {
		lease, err := c.locker.Acquire(ctx, c.source.ID())
		if err != nil {
			return nil, err
		}
		defer lease.Release()
	}

	start := c.now()
	rc, err := c.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	reader, err := feed.NewReader(rc, c.feedOpts)
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading feed at row %d: %w", sum.Rows, err)
		}
		sum.Rows++
		if row.Err != nil {
			sum.Counters.Errors++
			sum.Errors = append(sum.Errors, row.Err.Error())
			continue
		}
		out := c.quick.HandleRow(ctx, row.Record)
		sum.Counters.Add(out.Counters)
		if out.Err != nil {
			sum.Errors = append(sum.Errors, out.Err.Error())
		}
	}
	sum.Duration = c.now().Sub(start)

	c.logger.Info("quick sync finished",
		"rows", sum.Rows,
		"updated", sum.Counters.Updated,
		"unchanged", sum.Counters.Unchanged,
		"stock_changes", sum.Counters.StockChanges,
		"price_changes", sum.Counters.PriceChanges,
		"errors", sum.Counters.Errors,
		"duration", sum.Duration,
	)
	return sum, nil
}
