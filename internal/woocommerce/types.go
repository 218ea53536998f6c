// Package woocommerce implements the catalog adapter and the order source
// for WooCommerce stores using the REST API v3.
// All WooCommerce-specific types, conversions, and HTTP client logic live here.
package woocommerce

import (
	"encoding/json"
	"strconv"
	"strings"
)

// === WooCommerce REST API Types ===

// WooProduct is a product as returned by GET /products.
type WooProduct struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	SKU           string    `json:"sku"`
	Status        string    `json:"status"`
	Description   string    `json:"description"`
	RegularPrice  string    `json:"regular_price"` // "12.50" - string decimal
	Price         string    `json:"price"`         // read-only, active price
	ManageStock   bool      `json:"manage_stock"`
	StockQuantity *int      `json:"stock_quantity"` // null when stock is not managed
	MetaData      []WooMeta `json:"meta_data,omitempty"`
}

// WooProductWrite is the body of POST /products and PUT /products/{id}.
// Unset pointers are omitted so an update only touches what it names.
type WooProductWrite struct {
	Name          *string   `json:"name,omitempty"`
	SKU           *string   `json:"sku,omitempty"`
	Type          string    `json:"type,omitempty"`
	Status        string    `json:"status,omitempty"`
	Description   *string   `json:"description,omitempty"`
	RegularPrice  *string   `json:"regular_price,omitempty"`
	ManageStock   *bool     `json:"manage_stock,omitempty"`
	StockQuantity *int      `json:"stock_quantity,omitempty"`
	MetaData      []WooMeta `json:"meta_data,omitempty"`
}

// WooMeta is a custom field. Values written by this package are strings,
// but plugins store arrays and objects too, so reads keep the raw JSON.
type WooMeta struct {
	ID    int64           `json:"id,omitempty"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// String renders the value. JSON strings are unquoted; numbers, bools and
// composite values come back as their JSON text.
func (m WooMeta) String() string {
	if len(m.Value) == 0 || string(m.Value) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Value, &s); err == nil {
		return s
	}
	return string(m.Value)
}

// stringMeta builds a WooMeta holding a JSON string.
func stringMeta(key, value string) WooMeta {
	raw, _ := json.Marshal(value)
	return WooMeta{Key: key, Value: raw}
}

// metaMap flattens meta_data. When a key repeats the last value wins,
// matching get_post_meta with single=true on the newest row.
func metaMap(meta []WooMeta) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for _, m := range meta {
		out[m.Key] = m.String()
	}
	return out
}

// WooOrder is an order as returned by GET /orders.
type WooOrder struct {
	ID             int64         `json:"id"`
	Number         string        `json:"number"`
	Status         string        `json:"status"`
	DateCreatedGMT string        `json:"date_created_gmt"` // "2026-03-01T17:30:00", no zone
	CustomerID     int64         `json:"customer_id"`
	Billing        WooBilling    `json:"billing"`
	Total          string        `json:"total"`
	ShippingTotal  string        `json:"shipping_total"`
	LineItems      []WooLineItem `json:"line_items"`
	MetaData       []WooMeta     `json:"meta_data,omitempty"`
}

// WooBilling is the billing block of an order. DNI is not a core field;
// checkout plugins that collect it either add it here or in order meta.
type WooBilling struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	DNI       string `json:"dni,omitempty"`
	NIF       string `json:"nif,omitempty"`
}

// WooLineItem is one order line.
type WooLineItem struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	ProductID   int64           `json:"product_id"`
	Quantity    json.Number     `json:"quantity"`
	Subtotal    string          `json:"subtotal"` // "99.00" - string decimal
	SubtotalTax string          `json:"subtotal_tax"`
	Total       string          `json:"total"`
	TotalTax    string          `json:"total_tax"`
	SKU         string          `json:"sku"`
	Price       json.RawMessage `json:"price,omitempty"` // number in v3, unused
}

// quantity tolerates "2", 2 and 2.0 from different store versions.
func (li WooLineItem) quantity() int {
	s := strings.TrimSpace(li.Quantity.String())
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

// WooErrorResponse represents a WooCommerce API error.
type WooErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}
