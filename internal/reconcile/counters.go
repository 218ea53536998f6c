package reconcile

import (
	"unycop-connector/internal/model"
)

// Counters accumulate per-record outcomes.
type Counters struct {
	Processed    int `json:"processed"`
	Updated      int `json:"updated"`
	Created      int `json:"created"`
	Unchanged    int `json:"unchanged"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
	StockChanges int `json:"stock_changes"`
	PriceChanges int `json:"price_changes"`
}

// Add merges o into c.
func (c *Counters) Add(o Counters) {
	c.Processed += o.Processed
	c.Updated += o.Updated
	c.Created += o.Created
	c.Unchanged += o.Unchanged
	c.Skipped += o.Skipped
	c.Errors += o.Errors
	c.StockChanges += o.StockChanges
	c.PriceChanges += o.PriceChanges
}

// Outcome is the result of handling one record.
type Outcome struct {
	Kind     Kind
	EntryID  string
	Counters Counters
	Err      *model.RowError // nil on success
}
