package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"unycop-connector/internal/catalog"
	"unycop-connector/internal/export"
	"unycop-connector/internal/model"
	"unycop-connector/internal/transport"
)

// =============================================================================
// REST API v3 ACCESS
// =============================================================================
//
// The sync engine reaches the store through the authenticated REST API
// (/wp-json/wc/v3) with consumer key and secret over HTTP Basic auth. Every
// feed row costs one lookup, at most one write, and one read-back, so the
// client is kept small: no caching, no batching.
//
// The tax-exclusive price the engine computes has no writable REST field
// (product "price" is read-only and follows regular/sale price), so it is
// stored under MetaComputedPrice and read back from there.
//
// Listing endpoints paginate; the total page count comes back in the
// X-WP-TotalPages header.
//
// =============================================================================

// restAPIPath is the base path for WooCommerce REST API v3 endpoints.
const restAPIPath = "/wp-json/wc/v3"

// userAgent identifies the connector to store WAFs and access logs.
const userAgent = "Unycop-Connector/1.0"

// MetaComputedPrice holds the tax-exclusive price on the product.
const MetaComputedPrice = "_unycop_price_excl_tax"

// DefaultPerPage is the page size for listing calls; 100 is the API maximum.
const DefaultPerPage = 100

// gmtLayout is the format of the *_gmt date fields.
const gmtLayout = "2006-01-02T15:04:05"

// dniMetaKeys are the order meta keys checkout plugins use for the
// customer's tax ID, in lookup order.
var dniMetaKeys = []string{"_billing_dni", "billing_dni", "_billing_nif", "billing_nif", "NIF"}

// Config holds WooCommerce-specific adapter configuration.
type Config struct {
	StoreURL    string
	APIKey      string // consumer key, ck_...
	APISecret   string // consumer secret, cs_...
	Timeout     time.Duration
	Fingerprint transport.Fingerprint
	PerPage     int
	HTTPClient  *http.Client // overrides Timeout and Fingerprint; used by tests
	Logger      *slog.Logger
}

// Client implements catalog.Adapter and export.OrderSource for a
// WooCommerce store.
type Client struct {
	httpClient *http.Client
	storeURL   string
	apiKey     string
	apiSecret  string
	perPage    int
	logger     *slog.Logger
}

var (
	_ catalog.Adapter    = (*Client)(nil)
	_ export.OrderSource = (*Client)(nil)
)

// New creates a WooCommerce client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("API credentials are required")
	}
	if _, err := url.Parse(cfg.StoreURL); err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = transport.NewClient(transport.Options{
			Timeout:     cfg.Timeout,
			Fingerprint: cfg.Fingerprint,
			UserAgent:   userAgent,
		})
	}
	perPage := cfg.PerPage
	if perPage <= 0 || perPage > DefaultPerPage {
		perPage = DefaultPerPage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: httpClient,
		storeURL:   strings.TrimSuffix(cfg.StoreURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		perPage:    perPage,
		logger:     logger,
	}, nil
}

// === Catalog ===

// FindByKey returns the product whose SKU equals key, or nil if none.
// Drafts and private products count: a hidden product still owns its SKU.
func (c *Client) FindByKey(ctx context.Context, key string) (*catalog.Entry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	q := url.Values{}
	q.Set("sku", key)
	q.Set("status", "any")
	q.Set("per_page", "10")

	var products []WooProduct
	if _, err := c.do(ctx, http.MethodGet, "/products", q, nil, &products, "product"); err != nil {
		return nil, err
	}
	for _, p := range products {
		if p.SKU == key {
			return toEntry(p), nil
		}
	}
	return nil, nil
}

// Create inserts a simple product with managed stock and returns its ID.
func (c *Client) Create(ctx context.Context, fields catalog.Fields) (string, error) {
	body := toWrite(fields)
	body.Type = "simple"
	body.Status = "publish"

	var created WooProduct
	if _, err := c.do(ctx, http.MethodPost, "/products", nil, body, &created, "product"); err != nil {
		return "", err
	}
	if created.ID == 0 {
		return "", model.NewUpstreamError("WooCommerce", fmt.Errorf("create returned no product id"))
	}
	return strconv.FormatInt(created.ID, 10), nil
}

// Update sets the given fields on product id.
func (c *Client) Update(ctx context.Context, id string, fields catalog.Fields) error {
	if fields.IsEmpty() {
		return nil
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return model.NewValidationError("product id", fmt.Sprintf("%q is not numeric", id))
	}
	_, err := c.do(ctx, http.MethodPut, "/products/"+id, nil, toWrite(fields), nil, "product")
	return err
}

// ListAllKeys returns every non-empty SKU in the store.
func (c *Client) ListAllKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	q := url.Values{}
	q.Set("status", "any")
	q.Set("_fields", "id,sku")

	err := c.paginate(ctx, "/products", q, "product", func(body []byte) (int, error) {
		var page []WooProduct
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		for _, p := range page {
			if p.SKU != "" {
				keys[p.SKU] = struct{}{}
			}
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// toEntry converts a REST product to a catalog entry.
func toEntry(p WooProduct) *catalog.Entry {
	e := &catalog.Entry{
		ID:           strconv.FormatInt(p.ID, 10),
		SKU:          p.SKU,
		Name:         p.Name,
		Description:  p.Description,
		RegularPrice: model.ParseAmount(p.RegularPrice),
		Meta:         metaMap(p.MetaData),
	}
	if p.ManageStock && p.StockQuantity != nil {
		stock := *p.StockQuantity
		e.Stock = &stock
	}
	if v, ok := e.Meta[MetaComputedPrice]; ok {
		e.ComputedPrice = model.ParseAmount(v)
	} else {
		e.ComputedPrice = model.ParseAmount(p.Price)
	}
	return e
}

// toWrite converts a partial write to a REST request body.
func toWrite(f catalog.Fields) WooProductWrite {
	w := WooProductWrite{
		Name:        f.Name,
		SKU:         f.SKU,
		Description: f.Description,
	}
	if f.Stock != nil {
		stock := *f.Stock
		w.StockQuantity = &stock
		w.ManageStock = catalog.Ptr(true)
	}
	if f.RegularPrice != nil {
		w.RegularPrice = catalog.Ptr(model.FormatAmount(*f.RegularPrice))
	}

	meta := make(map[string]string, len(f.Meta)+1)
	for k, v := range f.Meta {
		meta[k] = v
	}
	if f.ComputedPrice != nil {
		meta[MetaComputedPrice] = model.FormatAmount(*f.ComputedPrice)
	}
	for _, k := range sortedKeys(meta) {
		w.MetaData = append(w.MetaData, stringMeta(k, meta[k]))
	}
	return w
}

// === Orders ===

// ListOrders returns the orders matching f, oldest first as the API sends
// them. Date bounds are applied inclusively.
func (c *Client) ListOrders(ctx context.Context, f export.Filter) ([]export.Order, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	// after/before are exclusive on the server; widen by a second and
	// filter locally.
	if !f.From.IsZero() {
		q.Set("after", f.From.UTC().Add(-time.Second).Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		q.Set("before", f.To.UTC().Add(time.Second).Format(time.RFC3339))
	}
	if q.Has("after") || q.Has("before") {
		q.Set("dates_are_gmt", "true")
	}
	q.Set("orderby", "id")
	q.Set("order", "asc")

	var orders []export.Order
	err := c.paginate(ctx, "/orders", q, "order", func(body []byte) (int, error) {
		var page []WooOrder
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		for _, wo := range page {
			o, err := toOrder(wo)
			if err != nil {
				return 0, err
			}
			if f.Matches(o) {
				orders = append(orders, o)
			}
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// toOrder converts a REST order to the export model.
func toOrder(wo WooOrder) (export.Order, error) {
	created, err := time.ParseInLocation(gmtLayout, wo.DateCreatedGMT, time.UTC)
	if err != nil {
		return export.Order{}, fmt.Errorf("order %d: invalid date_created_gmt %q: %w", wo.ID, wo.DateCreatedGMT, err)
	}
	meta := metaMap(wo.MetaData)

	o := export.Order{
		ID:         wo.ID,
		Status:     wo.Status,
		Created:    created,
		CustomerID: wo.CustomerID,
		Billing: export.Address{
			FirstName: wo.Billing.FirstName,
			LastName:  wo.Billing.LastName,
			Email:     wo.Billing.Email,
			Phone:     wo.Billing.Phone,
			DNI:       billingDNI(wo.Billing, meta),
			Address1:  wo.Billing.Address1,
			Postcode:  wo.Billing.Postcode,
			City:      wo.Billing.City,
			State:     wo.Billing.State,
		},
		Meta:          meta,
		Total:         model.ParseAmount(wo.Total),
		ShippingTotal: model.ParseAmount(wo.ShippingTotal),
	}
	for _, li := range wo.LineItems {
		o.Items = append(o.Items, export.Item{
			SKU:         li.SKU,
			Quantity:    li.quantity(),
			Subtotal:    model.ParseAmount(li.Subtotal),
			SubtotalTax: model.ParseAmount(li.SubtotalTax),
			Total:       model.ParseAmount(li.Total),
			TotalTax:    model.ParseAmount(li.TotalTax),
		})
	}
	return o, nil
}

func billingDNI(b WooBilling, meta map[string]string) string {
	if b.DNI != "" {
		return b.DNI
	}
	if b.NIF != "" {
		return b.NIF
	}
	for _, k := range dniMetaKeys {
		if v := strings.TrimSpace(meta[k]); v != "" {
			return v
		}
	}
	return ""
}

// === HTTP ===

// paginate walks a listing endpoint page by page. decode returns the item
// count of each page; a short page or the last advertised page ends the walk.
func (c *Client) paginate(ctx context.Context, path string, q url.Values, resource string, decode func([]byte) (int, error)) error {
	q.Set("per_page", strconv.Itoa(c.perPage))
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.Set("page", strconv.Itoa(page))

		var raw json.RawMessage
		header, err := c.do(ctx, http.MethodGet, path, q, nil, &raw, resource)
		if err != nil {
			return err
		}
		n, err := decode(raw)
		if err != nil {
			return fmt.Errorf("decoding %s page %d: %w", resource, page, err)
		}

		total, _ := strconv.Atoi(header.Get("X-WP-TotalPages"))
		c.logger.Debug("woocommerce page fetched", "path", path, "page", page, "total_pages", total, "items", n)
		if n < c.perPage || (total > 0 && page >= total) {
			return nil
		}
	}
}

// do sends one request. body is JSON-encoded when non-nil; out receives the
// decoded response when non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any, resource string) (http.Header, error) {
	target := c.storeURL + restAPIPath + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setRESTHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.NewUpstreamError("WooCommerce", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, respBody, resource)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, model.NewUpstreamError("WooCommerce", fmt.Errorf("decoding %s response: %w", resource, err))
		}
	}
	return resp.Header, nil
}

// setRESTHeaders adds Basic auth and content negotiation headers.
func (c *Client) setRESTHeaders(req *http.Request) {
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

// parseErrorResponse converts a WooCommerce error to APIError.
func parseErrorResponse(statusCode int, body []byte, resource string) error {
	var wcErr WooErrorResponse
	json.Unmarshal(body, &wcErr) // Best effort parse

	switch statusCode {
	case 404:
		return model.NewNotFoundError(resource)
	case 401, 403:
		return model.NewUnauthorizedError("WooCommerce authentication failed")
	case 400:
		msg := wcErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError(resource, msg)
	case 429:
		return model.NewRateLimitError("WooCommerce")
	default:
		return model.NewUpstreamError("WooCommerce",
			fmt.Errorf("status %d: %s - %s", statusCode, wcErr.Code, wcErr.Message))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
