// Package reconcile decides, per feed record, what the catalog needs: nothing,
// a new entry, or an update. It then applies the decision through a
// catalog.Adapter and re-reads the entry to confirm the write persisted.
//
// Two policies exist. The full policy writes every field on every match and is
// used by chunked syncs. The quick policy writes only stock and price, and only
// when they differ, and is used for frequent small updates.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"unycop-connector/internal/catalog"
	"unycop-connector/internal/feed"
	"unycop-connector/internal/model"
)

// Policy selects which fields are compared and written.
type Policy int

const (
	PolicyFull Policy = iota
	PolicyQuick
)

func (p Policy) String() string {
	if p == PolicyQuick {
		return "quick"
	}
	return "full"
}

// Kind is the outcome of Decide.
type Kind int

const (
	KindNoOp           Kind = iota // unmatched, creation disabled
	KindCreate                     // unmatched, creation enabled
	KindUpdate                     // matched, fields to write
	KindUpdateNoChange             // matched, nothing differs
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindUpdateNoChange:
		return "unchanged"
	default:
		return "noop"
	}
}

// Decision describes the catalog mutation for one record.
type Decision struct {
	Kind         Kind
	EntryID      string         // set for updates
	Fields       catalog.Fields // fields to write for Create and Update
	MatchedBy    string         // lookup strategy that found the entry
	MatchedKey   string         // SKU of the entry as found
	StockChanged bool
	PriceChanged bool
}

// Options configures a Reconciler.
type Options struct {
	Policy         Policy
	AutoCreate     bool
	Verify         bool
	PriceTolerance *decimal.Decimal // nil means model.DefaultPriceTolerance; zero compares exactly
	Lookups        []LookupStrategy // nil means DefaultLookups
	Now            func() time.Time // nil means time.Now
	Logger         *slog.Logger
}

// DefaultOptions returns the full policy with verification on and creation off.
func DefaultOptions() Options {
	return Options{Policy: PolicyFull, Verify: true}
}

// Reconciler applies feed records to a catalog.
type Reconciler struct {
	adapter   catalog.Adapter
	opts      Options
	tolerance decimal.Decimal
	lookups   []LookupStrategy
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Reconciler over the given adapter.
func New(adapter catalog.Adapter, opts Options) *Reconciler {
	r := &Reconciler{
		adapter:   adapter,
		opts:      opts,
		tolerance: model.DefaultPriceTolerance,
		lookups:   opts.Lookups,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if opts.PriceTolerance != nil {
		r.tolerance = *opts.PriceTolerance
	}
	if r.lookups == nil {
		r.lookups = DefaultLookups()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Policy returns the configured policy.
func (r *Reconciler) Policy() Policy {
	return r.opts.Policy
}

// Decide looks the record up and computes the mutation without writing.
func (r *Reconciler) Decide(ctx context.Context, rec feed.Record) (Decision, error) {
	entry, matchedBy, err := Find(ctx, r.adapter, r.lookups, rec)
	if err != nil {
		return Decision{}, err
	}

	if entry == nil {
		if !r.opts.AutoCreate {
			return Decision{Kind: KindNoOp}, nil
		}
		return Decision{Kind: KindCreate, Fields: r.fullFields(rec, true)}, nil
	}

	d := Decision{EntryID: entry.ID, MatchedBy: matchedBy, MatchedKey: entry.SKU}
	switch r.opts.Policy {
	case PolicyQuick:
		d.Fields, d.StockChanged, d.PriceChanged = r.quickFields(entry, rec)
		if d.Fields.IsEmpty() {
			d.Kind = KindUpdateNoChange
		} else {
			d.Kind = KindUpdate
		}
	default:
		d.Kind = KindUpdate
		d.Fields = r.fullFields(rec, false)
		d.StockChanged = entry.StockOrZero() != rec.Stock
		d.PriceChanged = !model.PricesEqual(entry.RegularPrice, rec.PriceWithTax, r.tolerance)
	}
	return d, nil
}

// Apply decides, writes, verifies and counts one record.
// Failures, including adapter panics, come back in Outcome.Err.
func (r *Reconciler) Apply(ctx context.Context, rec feed.Record) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = r.failed(rec, fmt.Errorf("panic: %v", p))
		}
	}()

	d, err := r.Decide(ctx, rec)
	if err != nil {
		return r.failed(rec, err)
	}

	out = Outcome{Kind: d.Kind, EntryID: d.EntryID}
	out.Counters.Processed = 1

	switch d.Kind {
	case KindNoOp:
		out.Counters.Skipped = 1
		r.logger.Debug("no catalog entry, creation disabled", "national_code", rec.NationalCode, "line", rec.Line)
		return out

	case KindUpdateNoChange:
		out.Counters.Unchanged = 1
		return out

	case KindCreate:
		id, err := r.adapter.Create(ctx, d.Fields)
		if err != nil {
			return r.failed(rec, err)
		}
		out.EntryID = id
		out.Counters.Created = 1
		r.logger.Info("catalog entry created", "national_code", rec.NationalCode, "line", rec.Line, "id", id)

	case KindUpdate:
		if err := r.adapter.Update(ctx, d.EntryID, d.Fields); err != nil {
			return r.failed(rec, err)
		}
		out.Counters.Updated = 1
		if d.StockChanged {
			out.Counters.StockChanges = 1
		}
		if d.PriceChanged {
			out.Counters.PriceChanges = 1
		}
		r.logger.Debug("catalog entry updated",
			"national_code", rec.NationalCode,
			"line", rec.Line,
			"id", d.EntryID,
			"matched_by", d.MatchedBy,
			"fields", d.Fields.Names(),
		)
	}

	if r.opts.Verify {
		if mismatch := r.verify(ctx, rec, d); mismatch != nil {
			r.logger.Error("write not persisted",
				"code", mismatch.Code,
				"national_code", rec.NationalCode,
				"line", rec.Line,
				"error", mismatch.Message,
			)
			out.Counters.Created = 0
			out.Counters.Updated = 0
			out.Counters.StockChanges = 0
			out.Counters.PriceChanges = 0
			out.Counters.Errors = 1
			out.Err = mismatch
		}
	}
	return out
}

// HandleRow makes a Reconciler usable as a batch row handler.
func (r *Reconciler) HandleRow(ctx context.Context, rec feed.Record) Outcome {
	return r.Apply(ctx, rec)
}

func (r *Reconciler) failed(rec feed.Record, err error) Outcome {
	rowErr := model.NewReconcileError(rec.Line, rec.NationalCode, err)
	r.logger.Warn("reconcile failed",
		"national_code", rec.NationalCode,
		"line", rec.Line,
		"error", err,
	)
	return Outcome{
		Kind:     KindNoOp,
		Counters: Counters{Processed: 1, Errors: 1},
		Err:      rowErr,
	}
}

// fullFields builds the unconditional write of the full policy.
func (r *Reconciler) fullFields(rec feed.Record, create bool) catalog.Fields {
	price, computed := writtenPrices(rec)
	f := catalog.Fields{
		SKU:           catalog.Ptr(rec.NationalCode),
		Description:   catalog.Ptr(rec.Description),
		Stock:         catalog.Ptr(rec.Stock),
		RegularPrice:  &price,
		ComputedPrice: &computed,
	}
	if create {
		f.Name = catalog.Ptr(rec.Description)
	}
	f.Meta = RecordMeta(rec)
	f.Meta[catalog.MetaLastSynced] = r.now().UTC().Format(time.RFC3339)
	return f
}

// quickFields returns only the stock and price fields that differ.
func (r *Reconciler) quickFields(entry *catalog.Entry, rec feed.Record) (catalog.Fields, bool, bool) {
	var f catalog.Fields
	stockChanged := entry.StockOrZero() != rec.Stock
	if stockChanged {
		f.Stock = catalog.Ptr(rec.Stock)
	}
	priceChanged := !model.PricesEqual(entry.RegularPrice, rec.PriceWithTax, r.tolerance)
	if priceChanged {
		price, computed := writtenPrices(rec)
		f.RegularPrice = &price
		f.ComputedPrice = &computed
	}
	return f, stockChanged, priceChanged
}

// writtenPrices returns the regular and computed prices as stores keep
// them, in whole cents.
func writtenPrices(rec feed.Record) (regular, computed decimal.Decimal) {
	return rec.PriceWithTax.Round(2), rec.PriceWithoutTax().Round(2)
}

// verify re-reads the entry under the key it holds after the write and
// compares the written stock and prices.
func (r *Reconciler) verify(ctx context.Context, rec feed.Record, d Decision) *model.RowError {
	written := d.Fields
	key := rec.NationalCode
	switch {
	case written.SKU != nil:
		key = *written.SKU
	case d.MatchedKey != "":
		key = d.MatchedKey
	}
	got, err := r.adapter.FindByKey(ctx, key)
	if err != nil {
		return model.NewReconcileError(rec.Line, rec.NationalCode, fmt.Errorf("read back: %w", err))
	}
	if got == nil {
		return model.NewVerificationMismatch(rec.Line, rec.NationalCode, "sku", key, "nothing")
	}
	if written.Stock != nil && got.StockOrZero() != *written.Stock {
		return model.NewVerificationMismatch(rec.Line, rec.NationalCode, "stock",
			fmt.Sprint(*written.Stock), fmt.Sprint(got.StockOrZero()))
	}
	if written.RegularPrice != nil && !got.RegularPrice.Equal(*written.RegularPrice) {
		return model.NewVerificationMismatch(rec.Line, rec.NationalCode, "regular_price",
			model.FormatAmount(*written.RegularPrice), model.FormatAmount(got.RegularPrice))
	}
	if written.ComputedPrice != nil && !got.ComputedPrice.Equal(*written.ComputedPrice) {
		return model.NewVerificationMismatch(rec.Line, rec.NationalCode, "price",
			model.FormatAmount(*written.ComputedPrice), model.FormatAmount(got.ComputedPrice))
	}
	return nil
}

// RecordMeta returns the metadata the feed owns for a record.
func RecordMeta(rec feed.Record) map[string]string {
	return map[string]string{
		catalog.MetaNationalCode:   rec.NationalCode,
		catalog.MetaBarcode:        rec.Barcode,
		catalog.MetaLeafletURL:     rec.LeafletURL,
		catalog.MetaCostPrice:      model.FormatAmount(rec.CostPrice),
		catalog.MetaFamily:         rec.Family,
		catalog.MetaCategory:       rec.Category,
		catalog.MetaSubcategory:    rec.Subcategory,
		catalog.MetaLab:            rec.Lab,
		catalog.MetaSecondaryPrice: model.FormatAmount(rec.SecondaryPrice),
		catalog.MetaLocations:      rec.Locations,
		catalog.MetaManaged:        catalog.ManagedValue,
	}
}
