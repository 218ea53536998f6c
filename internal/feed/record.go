// Package feed parses the Unycop stock feed: a ";"-delimited text file with
// one header row followed by one product per line.
package feed

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"unycop-connector/internal/model"
)

// Delimiter separates feed columns.
const Delimiter = ';'

// MinColumns is the default minimum column count: up to and including the
// description column.
const MinColumns = 7

// NationalCodeWidth is the canonical width of a national code.
const NationalCodeWidth = 6

// Column positions in the feed.
const (
	colNationalCode = iota
	colStock
	colPriceWithTax
	colTaxRate
	colLeafletURL
	colBarcode
	colDescription
	colCostPrice
	colFamily
	colCategory
	colSubcategory
	colLab
	colSecondaryPrice
	colLocations
)

// Record is one validated row of the feed.
type Record struct {
	Line           int // physical line in the feed, header is line 1
	NationalCode   string
	Barcode        string
	Stock          int
	PriceWithTax   decimal.Decimal
	TaxRatePercent decimal.Decimal
	Description    string

	LeafletURL     string
	CostPrice      decimal.Decimal
	Family         string
	Category       string
	Subcategory    string
	Lab            string
	SecondaryPrice decimal.Decimal
	Locations      string
}

// PriceWithoutTax returns the tax-exclusive price derived from the record.
func (r Record) PriceWithoutTax() decimal.Decimal {
	return model.PriceWithoutTax(r.PriceWithTax, r.TaxRatePercent)
}

// ParseLine splits a raw line on ";" and parses it. Quoting is not
// interpreted here; use Reader for whole streams.
func ParseLine(line string, lineNumber, minColumns int) (Record, *model.RowError) {
	line = strings.TrimRight(line, "\r\n")
	return ParseFields(strings.Split(line, string(Delimiter)), lineNumber, minColumns)
}

// ParseFields builds a Record from already split columns.
// It fails only when columns are missing or a required field is empty;
// malformed numbers become zero.
func ParseFields(fields []string, lineNumber, minColumns int) (Record, *model.RowError) {
	if minColumns <= 0 {
		minColumns = MinColumns
	}
	if len(fields) < minColumns {
		return Record{}, model.NewParseError(lineNumber,
			fmt.Sprintf("expected at least %d columns, got %d", minColumns, len(fields)))
	}

	col := func(i int) string {
		if i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	rawCode := col(colNationalCode)
	if rawCode == "" {
		return Record{}, model.NewParseError(lineNumber, "missing national code")
	}
	code, err := NormalizeNationalCode(rawCode)
	if err != nil {
		return Record{}, model.NewParseError(lineNumber, err.Error())
	}

	description := col(colDescription)
	if description == "" {
		rowErr := model.NewParseError(lineNumber, "missing description")
		rowErr.Key = code
		return Record{}, rowErr
	}

	return Record{
		Line:           lineNumber,
		NationalCode:   code,
		Barcode:        col(colBarcode),
		Stock:          parseStock(col(colStock)),
		PriceWithTax:   model.ParseNonNegativeAmount(col(colPriceWithTax)),
		TaxRatePercent: model.ParseNonNegativeAmount(col(colTaxRate)),
		Description:    description,
		LeafletURL:     col(colLeafletURL),
		CostPrice:      model.ParseNonNegativeAmount(col(colCostPrice)),
		Family:         col(colFamily),
		Category:       col(colCategory),
		Subcategory:    col(colSubcategory),
		Lab:            col(colLab),
		SecondaryPrice: model.ParseNonNegativeAmount(col(colSecondaryPrice)),
		Locations:      col(colLocations),
	}, nil
}

// NormalizeNationalCode returns the canonical 6-digit national code.
//
// Shorter codes are left-padded with zeros ("524" → "000524"). Longer codes
// lose leading zeros down to six digits ("0012985" → "012985"). A code with
// more than six significant digits is rejected rather than truncated, since
// truncation could map two products onto one key.
func NormalizeNationalCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "", fmt.Errorf("missing national code")
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("national code %q is not numeric", raw)
		}
	}
	if len(code) > NationalCodeWidth {
		trimmed := strings.TrimLeft(code, "0")
		if len(trimmed) > NationalCodeWidth {
			return "", fmt.Errorf("national code %q has more than %d significant digits", raw, NationalCodeWidth)
		}
		code = trimmed
	}
	return strings.Repeat("0", NationalCodeWidth-len(code)) + code, nil
}

// parseStock reads an integer stock level. Decimal stock ("12.0") is
// accepted and truncated; anything unreadable or negative is 0.
func parseStock(s string) int {
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	d := model.ParseAmount(s)
	if d.IsNegative() {
		return 0
	}
	return int(d.IntPart())
}
