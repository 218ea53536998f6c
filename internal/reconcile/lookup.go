package reconcile

import (
	"context"
	"fmt"

	"unycop-connector/internal/catalog"
	"unycop-connector/internal/feed"
)

// LookupStrategy finds the catalog entry for a record by one identifier.
// A nil entry with nil error means not found.
type LookupStrategy interface {
	Name() string
	Lookup(ctx context.Context, adapter catalog.Adapter, rec feed.Record) (*catalog.Entry, error)
}

// ByNationalCode looks the entry up by its canonical key.
type ByNationalCode struct{}

func (ByNationalCode) Name() string { return "national_code" }

func (ByNationalCode) Lookup(ctx context.Context, adapter catalog.Adapter, rec feed.Record) (*catalog.Entry, error) {
	return adapter.FindByKey(ctx, rec.NationalCode)
}

// ByBarcode looks the entry up by barcode, for catalogs keyed by the wrong
// identifier in an earlier sync.
type ByBarcode struct{}

func (ByBarcode) Name() string { return "barcode" }

func (ByBarcode) Lookup(ctx context.Context, adapter catalog.Adapter, rec feed.Record) (*catalog.Entry, error) {
	if rec.Barcode == "" {
		return nil, nil
	}
	return adapter.FindByKey(ctx, rec.Barcode)
}

// DefaultLookups returns national code first, then barcode.
func DefaultLookups() []LookupStrategy {
	return []LookupStrategy{ByNationalCode{}, ByBarcode{}}
}

// Find tries each strategy in order and returns the first match together
// with the name of the strategy that produced it.
func Find(ctx context.Context, adapter catalog.Adapter, lookups []LookupStrategy, rec feed.Record) (*catalog.Entry, string, error) {
	for _, s := range lookups {
		entry, err := s.Lookup(ctx, adapter, rec)
		if err != nil {
			return nil, "", fmt.Errorf("lookup by %s: %w", s.Name(), err)
		}
		if entry != nil {
			return entry, s.Name(), nil
		}
	}
	return nil, "", nil
}
