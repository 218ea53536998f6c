// Package migrate repairs catalogs whose earlier syncs keyed products by
// barcode instead of national code. The Pass is a batch row handler: it is
// driven chunk by chunk like a normal sync, under its own progress record.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"unycop-connector/internal/catalog"
	"unycop-connector/internal/feed"
	"unycop-connector/internal/model"
	"unycop-connector/internal/progress"
	"unycop-connector/internal/reconcile"
)

// KeyIndex is the set of catalog keys, built once per run.
type KeyIndex struct {
	keys map[string]struct{}
}

// BuildIndex lists every catalog key.
func BuildIndex(ctx context.Context, adapter catalog.Adapter) (*KeyIndex, error) {
	keys, err := adapter.ListAllKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing catalog keys: %w", err)
	}
	if keys == nil {
		keys = make(map[string]struct{})
	}
	return &KeyIndex{keys: keys}, nil
}

// Has reports whether key is a catalog key.
func (k *KeyIndex) Has(key string) bool {
	if key == "" {
		return false
	}
	_, ok := k.keys[key]
	return ok
}

// Rekey moves an entry from one key to another.
func (k *KeyIndex) Rekey(from, to string) {
	delete(k.keys, from)
	k.keys[to] = struct{}{}
}

// Remove drops a key.
func (k *KeyIndex) Remove(key string) {
	delete(k.keys, key)
}

// Len returns the number of keys.
func (k *KeyIndex) Len() int {
	return len(k.keys)
}

// Options configures a Pass.
type Options struct {
	Store  progress.Store // receives the completion marker
	Now    func() time.Time
	Logger *slog.Logger
}

// Pass rekeys catalog entries to their national code.
type Pass struct {
	adapter catalog.Adapter
	store   progress.Store
	index   *KeyIndex
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Pass.
func New(adapter catalog.Adapter, opts Options) *Pass {
	p := &Pass{
		adapter: adapter,
		store:   opts.Store,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// StartRun drops the cached index so the next row rebuilds it.
func (p *Pass) StartRun(ctx context.Context) error {
	p.index = nil
	return nil
}

// FinishRun records that the migration ran to completion.
func (p *Pass) FinishRun(ctx context.Context, prog *progress.Progress) error {
	if p.store == nil {
		return nil
	}
	stamp := p.now().UTC().Format(time.RFC3339)
	if err := p.store.Save(ctx, progress.MigrationDone, []byte(stamp)); err != nil {
		return fmt.Errorf("saving migration marker: %w", err)
	}
	p.logger.Info("key migration complete", "updated", prog.Updated, "errors", prog.ErrorCount)
	return nil
}

// HandleRow canonicalises the catalog key of one record.
func (p *Pass) HandleRow(ctx context.Context, rec feed.Record) (out reconcile.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = p.failed(rec, fmt.Errorf("panic: %v", r))
		}
	}()

	if p.index == nil {
		idx, err := BuildIndex(ctx, p.adapter)
		if err != nil {
			return p.failed(rec, err)
		}
		p.index = idx
		p.logger.Info("catalog key index built", "keys", idx.Len())
	}

	out.Counters.Processed = 1

	key := ""
	switch {
	case p.index.Has(rec.NationalCode):
		key = rec.NationalCode
	case p.index.Has(rec.Barcode):
		key = rec.Barcode
	default:
		out.Kind = reconcile.KindNoOp
		out.Counters.Skipped = 1
		return out
	}

	entry, err := p.adapter.FindByKey(ctx, key)
	if err != nil {
		return p.failed(rec, err)
	}
	if entry == nil {
		// deleted since the index was built
		p.index.Remove(key)
		out.Kind = reconcile.KindNoOp
		out.Counters.Skipped = 1
		return out
	}
	out.EntryID = entry.ID

	if key == rec.NationalCode &&
		entry.Meta[catalog.MetaNationalCode] == rec.NationalCode &&
		entry.Meta[catalog.MetaBarcode] == rec.Barcode {
		out.Kind = reconcile.KindUpdateNoChange
		out.Counters.Unchanged = 1
		return out
	}

	fields := catalog.Fields{SKU: catalog.Ptr(rec.NationalCode)}
	fields.SetMeta(catalog.MetaNationalCode, rec.NationalCode)
	fields.SetMeta(catalog.MetaBarcode, rec.Barcode)
	if err := p.adapter.Update(ctx, entry.ID, fields); err != nil {
		return p.failed(rec, err)
	}
	p.index.Rekey(key, rec.NationalCode)

	if key != rec.NationalCode {
		p.logger.Info("catalog entry rekeyed",
			"id", entry.ID, "from", key, "national_code", rec.NationalCode, "line", rec.Line)
	}
	out.Kind = reconcile.KindUpdate
	out.Counters.Updated = 1
	return out
}

func (p *Pass) failed(rec feed.Record, err error) reconcile.Outcome {
	p.logger.Warn("key migration failed", "national_code", rec.NationalCode, "line", rec.Line, "error", err)
	return reconcile.Outcome{
		Kind:     reconcile.KindNoOp,
		Counters: reconcile.Counters{Processed: 1, Errors: 1},
		Err:      model.NewReconcileError(rec.Line, rec.NationalCode, err),
	}
}
