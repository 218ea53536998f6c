// Package export writes completed store orders as the fixed-column flat file
// the pharmacy ERP imports.
package export

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultStatus is the order status exported when a filter names none.
const DefaultStatus = "completed"

// ReferenceMetaKey holds an operator-supplied order reference.
const ReferenceMetaKey = "observaciones_unycop"

// Filter selects the orders to export. Zero From/To means unbounded.
type Filter struct {
	Status string    `json:"status,omitempty"`
	From   time.Time `json:"from,omitempty"`
	To     time.Time `json:"to,omitempty"`
}

// Matches reports whether o passes the filter.
func (f Filter) Matches(o Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && o.Created.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && o.Created.After(f.To) {
		return false
	}
	return true
}

// Order is the part of a store order the export reads.
type Order struct {
	ID            int64
	Status        string
	Created       time.Time
	CustomerID    int64 // 0 for guest checkouts
	Billing       Address
	Meta          map[string]string
	Total         decimal.Decimal // amount paid
	ShippingTotal decimal.Decimal
	Items         []Item
}

// Address is the billing contact of an order.
type Address struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	DNI       string
	Address1  string
	Postcode  string
	City      string
	State     string
}

// Item is one order line.
type Item struct {
	SKU         string
	Quantity    int
	Subtotal    decimal.Decimal // before discounts, excl. tax
	SubtotalTax decimal.Decimal
	Total       decimal.Decimal // after discounts, excl. tax
	TotalTax    decimal.Decimal
}

// ProductsTotal sums the line subtotals.
func (o Order) ProductsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Subtotal)
	}
	return sum
}

// OrderSource lists orders matching a filter.
type OrderSource interface {
	ListOrders(ctx context.Context, f Filter) ([]Order, error)
}

// MemorySource serves a fixed order list.
type MemorySource struct {
	Orders []Order
}

func (m *MemorySource) ListOrders(ctx context.Context, f Filter) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Order
	for _, o := range m.Orders {
		if f.Matches(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

// sortOrders orders by ID; items keep their source order.
func sortOrders(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}
