package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"unycop-connector/internal/batch"
	"unycop-connector/internal/catalog"
	"unycop-connector/internal/export"
	"unycop-connector/internal/feed"
	"unycop-connector/internal/migrate"
	"unycop-connector/internal/model"
	"unycop-connector/internal/progress"
	"unycop-connector/internal/reconcile"
)

const testFeed = "CN;Stock;PVP;IVA;Prospecto;EAN13;Descripcion\n" +
	"524;25;12.50;21;https://cima.example/524.pdf;8470000052446;IBUPROFENO 400MG\n" +
	"000002;15;8.75;10;;;PARACETAMOL 1G\n" +
	";3;1.00;21;;;SIN CODIGO\n" +
	"000003;0;4.20;4;;8470000000031;TIRITAS\n"

// rig wires a handler over in-memory collaborators.
type rig struct {
	h          *Handler
	catalog    *catalog.Memory
	progress   *progress.Memory
	exportPath string
	orders     *export.MemorySource
}

func newRig(t *testing.T, data string) *rig {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.NewMemory()
	ps := progress.NewMemory()
	locker := progress.NewMemoryLocker()
	src := feed.BytesSource{Name: "test", Data: []byte(data)}

	sync := batch.New(batch.Options{
		Name:    progress.SyncName,
		Source:  src,
		Store:   ps,
		Locker:  locker,
		Handler: reconcile.New(cat, reconcile.Options{Policy: reconcile.PolicyFull, AutoCreate: true, Verify: true, Logger: logger}),
		QuickHandler: reconcile.New(cat, reconcile.Options{
			Policy: reconcile.PolicyQuick, Verify: true, PriceTolerance: &model.DefaultPriceTolerance, Logger: logger,
		}),
		Logger: logger,
	})
	mig := batch.New(batch.Options{
		Name:    progress.MigrationName,
		Source:  src,
		Store:   ps,
		Locker:  locker,
		Handler: migrate.New(cat, migrate.Options{Store: ps, Logger: logger}),
		Logger:  logger,
	})

	orders := &export.MemorySource{Orders: []export.Order{{
		ID:      7,
		Status:  "completed",
		Created: time.Date(2026, 3, 1, 17, 30, 0, 0, time.UTC),
		Billing: export.Address{FirstName: "Ana", LastName: "García", Email: "ana@example.com"},
		Total:   decimal.RequireFromString("12.50"),
		Items: []export.Item{{
			SKU: "000524", Quantity: 1,
			Subtotal: decimal.RequireFromString("10.33"), SubtotalTax: decimal.RequireFromString("2.17"),
			Total: decimal.RequireFromString("10.33"), TotalTax: decimal.RequireFromString("2.17"),
		}},
	}}}
	path := filepath.Join(t.TempDir(), "orders.csv")
	gen := export.New(orders, export.Options{Path: path, Logger: logger})

	return &rig{
		h: New(Deps{
			Sync:      sync,
			Migration: mig,
			Export:    gen,
			Store:     ps,
			ChunkSize: 2,
			Logger:    logger,
		}),
		catalog:    cat,
		progress:   ps,
		exportPath: path,
		orders:     orders,
	}
}

func TestRunChunk_DrivesToEnd(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, testFeed)

	first, err := r.h.RunChunk(ctx, "", batch.Request{Offset: 0, ChunkSize: 2})
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if first.Target != TargetSync || !first.MoreRemaining || first.NewOffset != 2 {
		t.Fatalf("first = %+v", first)
	}
	second, err := r.h.RunChunk(ctx, TargetSync, batch.Request{Offset: 2, ChunkSize: 2, RunToken: first.RunToken})
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}
	if second.MoreRemaining || second.NewOffset != 4 {
		t.Errorf("second = %+v", second)
	}

	p := second.Progress
	if p == nil || !p.Done || p.Created != 3 || p.ErrorCount != 1 || len(p.Errors) != 1 {
		t.Errorf("progress = %+v", p)
	}
	if p != nil && p.Timestamp == "" {
		t.Error("progress timestamp empty")
	}
	if r.catalog.Len() != 3 {
		t.Errorf("catalog has %d entries, want 3", r.catalog.Len())
	}
}

func TestRunChunk_WrongTokenConflicts(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, testFeed)
	if _, err := r.h.RunChunk(ctx, TargetSync, batch.Request{Offset: 0, ChunkSize: 2}); err != nil {
		t.Fatal(err)
	}
	_, err := r.h.RunChunk(ctx, TargetSync, batch.Request{Offset: 2, ChunkSize: 2, RunToken: "stale"})
	if !errors.Is(err, model.ErrRunConflict) {
		t.Errorf("error = %v, want ErrRunConflict", err)
	}
}

func TestRunAll_AndResume(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, testFeed)

	v, err := r.h.RunAll(ctx, TargetSync, 0, false)
	if err != nil {
		t.Fatalf("RunAll() error: %v", err)
	}
	if v.MoreRemaining || v.Progress == nil || !v.Progress.Done {
		t.Errorf("RunAll() = %+v", v)
	}

	again, err := r.h.RunAll(ctx, TargetSync, 0, true)
	if err != nil {
		t.Fatalf("resume error: %v", err)
	}
	if again.NewOffset != v.NewOffset || again.Rows != 0 {
		t.Errorf("resume of finished run = %+v, want same offset and no rows", again)
	}
}

func TestMigrationThenQuickSync(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, testFeed)
	// legacy entry keyed by barcode
	r.catalog.Seed(catalog.Entry{
		SKU:          "8470000052446",
		Name:         "IBUPROFENO 400MG",
		Stock:        catalog.Ptr(1),
		RegularPrice: decimal.RequireFromString("12.00"),
	})

	st, err := r.h.Status(ctx, TargetMigration)
	if err != nil {
		t.Fatal(err)
	}
	if st.Exists || st.MigrationDone {
		t.Errorf("status before migration = %+v", st)
	}

	if _, err := r.h.RunAll(ctx, TargetMigration, 10, false); err != nil {
		t.Fatalf("migration: %v", err)
	}
	st, _ = r.h.Status(ctx, TargetMigration)
	if !st.Exists || !st.MigrationDone {
		t.Errorf("status after migration = %+v", st)
	}

	e, _ := r.catalog.FindByKey(ctx, "000524")
	if e == nil {
		t.Fatal("entry not rekeyed to national code")
	}

	q, err := r.h.QuickSync(ctx)
	if err != nil {
		t.Fatalf("QuickSync() error: %v", err)
	}
	if q.Rows != 4 || q.Counters.StockChanges != 1 || q.Counters.PriceChanges != 1 {
		t.Errorf("quick = %+v", q)
	}
	e, _ = r.catalog.FindByKey(ctx, "000524")
	if e.StockOrZero() != 25 || !e.RegularPrice.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("entry after quick = stock %d price %s", e.StockOrZero(), e.RegularPrice)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, testFeed)
	if _, err := r.h.RunChunk(ctx, TargetSync, batch.Request{Offset: 0, ChunkSize: 1}); err != nil {
		t.Fatal(err)
	}

	v, err := r.h.Reset(ctx, "")
	if err != nil || !v.Reset || v.Target != TargetSync {
		t.Fatalf("Reset() = %+v, %v", v, err)
	}
	st, _ := r.h.Status(ctx, TargetSync)
	if st.Exists {
		t.Error("progress survived reset")
	}
}

func TestUnknownTarget(t *testing.T) {
	r := newRig(t, testFeed)
	_, err := r.h.Status(context.Background(), "orders")
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
}

func TestNotConfigured(t *testing.T) {
	h := New(Deps{})
	ctx := context.Background()
	if _, err := h.QuickSync(ctx); !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("QuickSync() error = %v", err)
	}
	if _, err := h.RunChunk(ctx, TargetMigration, batch.Request{}); !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("RunChunk() error = %v", err)
	}
	if _, err := h.ExportOrders(ctx, export.Filter{}); !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("ExportOrders() error = %v", err)
	}
}

func TestHourly(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, testFeed)

	v, err := r.h.Hourly(ctx)
	if err != nil {
		t.Fatalf("Hourly() error: %v", err)
	}
	if v.Sync == nil || v.Sync.MoreRemaining || v.Export == nil || v.Export.RowCount != 1 {
		t.Errorf("Hourly() = %+v", v)
	}
	data, err := os.ReadFile(r.exportPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "000524") {
		t.Errorf("export missing order line:\n%s", data)
	}
}

func TestHourly_ExportsDespiteSyncFailure(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, testFeed)
	r.h.sync = batch.New(batch.Options{
		Source:  feed.BytesSource{Name: "missing"},
		Handler: reconcile.New(r.catalog, reconcile.DefaultOptions()),
	})

	v, err := r.h.Hourly(ctx)
	if !errors.Is(err, model.ErrFeedNotFound) {
		t.Errorf("Hourly() error = %v, want ErrFeedNotFound", err)
	}
	if v.SyncError == "" || v.Export == nil {
		t.Errorf("Hourly() = %+v", v)
	}
	if _, err := os.Stat(r.exportPath); err != nil {
		t.Errorf("export not written: %v", err)
	}
}

func TestParseBound(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skip("tzdata not available")
	}
	h := New(Deps{Location: madrid})

	tests := []struct {
		in      string
		upper   bool
		want    time.Time
		wantErr bool
	}{
		{"", false, time.Time{}, false},
		{"2026-03-01T10:00:00Z", false, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"2026-03-01", false, time.Date(2026, 3, 1, 0, 0, 0, 0, madrid), false},
		{"2026-03-01", true, time.Date(2026, 3, 1, 23, 59, 59, 999999999, madrid), false},
		{"01/03/2026", false, time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := h.ParseBound(tt.in, tt.upper)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBound(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseBound(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
