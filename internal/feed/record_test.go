package feed

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"unycop-connector/internal/model"
)

func TestNormalizeNationalCode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"short code padded", "524", "000524", false},
		{"already canonical", "000524", "000524", false},
		{"seven digits with leading zeros", "0012985", "012985", false},
		{"many leading zeros", "000000712", "000712", false},
		{"surrounding whitespace", " 524 ", "000524", false},
		{"seven significant digits rejected", "1234567", "", true},
		{"non numeric rejected", "52A4", "", true},
		{"empty rejected", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeNationalCode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeNationalCode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeNationalCode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseLine_FullRow(t *testing.T) {
	line := "524;25;12.50;21;https://cima.example/p.pdf;8470000052446;IBUPROFENO 400MG;6.10;MEDICAMENTO;ANALGESICO;ORAL;CINFA;11,90;A1-03\r\n"

	rec, rowErr := ParseLine(line, 2, MinColumns)
	if rowErr != nil {
		t.Fatalf("ParseLine() error: %v", rowErr)
	}

	if rec.NationalCode != "000524" {
		t.Errorf("NationalCode = %q, want 000524", rec.NationalCode)
	}
	if rec.Barcode != "8470000052446" {
		t.Errorf("Barcode = %q, want 8470000052446", rec.Barcode)
	}
	if rec.Stock != 25 {
		t.Errorf("Stock = %d, want 25", rec.Stock)
	}
	if !rec.PriceWithTax.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("PriceWithTax = %s, want 12.50", rec.PriceWithTax)
	}
	if !rec.TaxRatePercent.Equal(decimal.NewFromInt(21)) {
		t.Errorf("TaxRatePercent = %s, want 21", rec.TaxRatePercent)
	}
	if rec.Description != "IBUPROFENO 400MG" {
		t.Errorf("Description = %q", rec.Description)
	}
	if !rec.SecondaryPrice.Equal(decimal.RequireFromString("11.90")) {
		t.Errorf("SecondaryPrice = %s, want 11.90", rec.SecondaryPrice)
	}
	if rec.Locations != "A1-03" {
		t.Errorf("Locations = %q, want A1-03", rec.Locations)
	}
	if rec.Line != 2 {
		t.Errorf("Line = %d, want 2", rec.Line)
	}
	if got := rec.PriceWithoutTax(); !got.Equal(decimal.RequireFromString("10.33")) {
		t.Errorf("PriceWithoutTax() = %s, want 10.33", got)
	}
}

func TestParseLine_MinimalRow(t *testing.T) {
	rec, rowErr := ParseLine("1;3;4.00;0;;;GASAS", 5, MinColumns)
	if rowErr != nil {
		t.Fatalf("ParseLine() error: %v", rowErr)
	}
	if rec.NationalCode != "000001" {
		t.Errorf("NationalCode = %q, want 000001", rec.NationalCode)
	}
	if rec.Family != "" || rec.Locations != "" {
		t.Error("optional columns should be empty")
	}
	if !rec.PriceWithoutTax().Equal(decimal.RequireFromString("4.00")) {
		t.Errorf("zero tax rate should keep the price, got %s", rec.PriceWithoutTax())
	}
}

func TestParseLine_TolerantNumbers(t *testing.T) {
	rec, rowErr := ParseLine("000524;n/a;gratis;-;;;IBUPROFENO", 3, MinColumns)
	if rowErr != nil {
		t.Fatalf("malformed numbers must not fail the row: %v", rowErr)
	}
	if rec.Stock != 0 {
		t.Errorf("Stock = %d, want 0", rec.Stock)
	}
	if !rec.PriceWithTax.IsZero() {
		t.Errorf("PriceWithTax = %s, want 0", rec.PriceWithTax)
	}
	if !rec.TaxRatePercent.IsZero() {
		t.Errorf("TaxRatePercent = %s, want 0", rec.TaxRatePercent)
	}
}

func TestParseLine_NegativeAndDecimalStock(t *testing.T) {
	tests := []struct {
		stock string
		want  int
	}{
		{"-4", 0},
		{"12.0", 12},
		{"7,9", 7},
		{"", 0},
	}
	for _, tt := range tests {
		rec, rowErr := ParseLine("524;"+tt.stock+";1;0;;;X", 2, MinColumns)
		if rowErr != nil {
			t.Fatalf("ParseLine() error: %v", rowErr)
		}
		if rec.Stock != tt.want {
			t.Errorf("stock %q parsed as %d, want %d", tt.stock, rec.Stock, tt.want)
		}
	}
}

func TestParseLine_Rejections(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too few columns", "000524;25;12.50;21"},
		{"empty national code", ";25;12.50;21;;8470000052446;IBUPROFENO"},
		{"blank national code", "   ;25;12.50;21;;8470000052446;IBUPROFENO"},
		{"empty description", "000524;25;12.50;21;;8470000052446;  "},
		{"oversized national code", "1234567;25;12.50;21;;;IBUPROFENO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rowErr := ParseLine(tt.line, 7, MinColumns)
			if rowErr == nil {
				t.Fatal("expected ParseError")
			}
			if rowErr.Code != model.CodeParseError {
				t.Errorf("Code = %q, want %q", rowErr.Code, model.CodeParseError)
			}
			if rowErr.Line != 7 {
				t.Errorf("Line = %d, want 7", rowErr.Line)
			}
			if !errors.Is(rowErr, model.ErrParse) {
				t.Error("error should wrap ErrParse")
			}
		})
	}
}
