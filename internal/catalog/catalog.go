// Package catalog defines the narrow interface the sync engine uses to read
// and write the product store.
// Each store (WooCommerce REST, in-memory for tests) provides its own implementation.
package catalog

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Metadata keys written by the sync engine.
const (
	MetaNationalCode   = "_unycop_cn"
	MetaBarcode        = "_unycop_ean13"
	MetaLeafletURL     = "_prospecto_url"
	MetaCostPrice      = "_unycop_cost_price"
	MetaFamily         = "_unycop_family"
	MetaCategory       = "_unycop_category"
	MetaSubcategory    = "_unycop_subcategory"
	MetaLab            = "_unycop_lab"
	MetaSecondaryPrice = "_unycop_pvp2"
	MetaLocations      = "_unycop_locations"
	MetaManaged        = "_unycop_managed"
	MetaLastSynced     = "_unycop_last_sync"
)

// ManagedValue marks entries owned by the feed.
const ManagedValue = "yes"

// Adapter abstracts the product store.
//
// The engine never holds an Entry across calls: it looks one up, decides,
// and sends only the fields it wants set.
type Adapter interface {
	// FindByKey returns the entry whose SKU equals key, or nil if none.
	FindByKey(ctx context.Context, key string) (*Entry, error)

	// Create inserts a new entry and returns its ID.
	Create(ctx context.Context, fields Fields) (string, error)

	// Update sets the given fields on an existing entry.
	Update(ctx context.Context, id string, fields Fields) error

	// ListAllKeys returns the SKU of every entry.
	ListAllKeys(ctx context.Context) (map[string]struct{}, error)
}

// Entry is a snapshot of one catalog product.
type Entry struct {
	ID            string
	SKU           string
	Name          string
	Description   string
	Stock         *int // nil when the store does not track stock for the entry
	RegularPrice  decimal.Decimal
	ComputedPrice decimal.Decimal
	Meta          map[string]string
}

// StockOrZero treats absent stock as 0.
func (e *Entry) StockOrZero() int {
	if e == nil || e.Stock == nil {
		return 0
	}
	return *e.Stock
}

// Fields is a partial write. Nil pointers and missing map keys are left
// untouched by Update.
type Fields struct {
	SKU           *string
	Name          *string
	Description   *string
	Stock         *int
	RegularPrice  *decimal.Decimal
	ComputedPrice *decimal.Decimal
	Meta          map[string]string
}

// IsEmpty returns true if the write would change nothing.
func (f Fields) IsEmpty() bool {
	return f.SKU == nil && f.Name == nil && f.Description == nil && f.Stock == nil &&
		f.RegularPrice == nil && f.ComputedPrice == nil && len(f.Meta) == 0
}

// Names lists the set fields, sorted, for logging.
func (f Fields) Names() []string {
	var names []string
	if f.SKU != nil {
		names = append(names, "sku")
	}
	if f.Name != nil {
		names = append(names, "name")
	}
	if f.Description != nil {
		names = append(names, "description")
	}
	if f.Stock != nil {
		names = append(names, "stock")
	}
	if f.RegularPrice != nil {
		names = append(names, "regular_price")
	}
	if f.ComputedPrice != nil {
		names = append(names, "price")
	}
	for k := range f.Meta {
		names = append(names, "meta:"+k)
	}
	sort.Strings(names)
	return names
}

// SetMeta adds a metadata value, allocating the map on first use.
func (f *Fields) SetMeta(key, value string) {
	if f.Meta == nil {
		f.Meta = make(map[string]string)
	}
	f.Meta[key] = value
}

// Apply copies the set fields onto e.
func (f Fields) Apply(e *Entry) {
	if f.SKU != nil {
		e.SKU = *f.SKU
	}
	if f.Name != nil {
		e.Name = *f.Name
	}
	if f.Description != nil {
		e.Description = *f.Description
	}
	if f.Stock != nil {
		stock := *f.Stock
		e.Stock = &stock
	}
	if f.RegularPrice != nil {
		e.RegularPrice = *f.RegularPrice
	}
	if f.ComputedPrice != nil {
		e.ComputedPrice = *f.ComputedPrice
	}
	if len(f.Meta) > 0 {
		if e.Meta == nil {
			e.Meta = make(map[string]string, len(f.Meta))
		}
		for k, v := range f.Meta {
			e.Meta[k] = v
		}
	}
}

// Ptr returns a pointer to v. Handy when filling Fields.
func Ptr[T any](v T) *T {
	return &v
}
