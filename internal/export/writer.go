package export

import (
	"bufio"
	"io"
	"strings"
)

// CSV dialect expected by the ERP importer.
const (
	Delimiter = ';'
	Quote     = '"'
	Escape    = '\\'
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// Writer emits rows with the quoting rules of PHP's fputcsv: a field is
// enclosed when it holds the delimiter, quote, escape character, CR, LF,
// tab or space; enclosed quotes are doubled unless they follow the escape
// character. Lines end with "\n".
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteBOM writes a UTF-8 byte order mark.
func (w *Writer) WriteBOM() error {
	_, err := w.w.Write(bom)
	return err
}

// Write writes one row.
func (w *Writer) Write(record []string) error {
	for i, field := range record {
		if i > 0 {
			if err := w.w.WriteByte(Delimiter); err != nil {
				return err
			}
		}
		if _, err := w.w.WriteString(encodeField(field)); err != nil {
			return err
		}
	}
	return w.w.WriteByte('\n')
}

// WriteAll writes rows and flushes.
func (w *Writer) WriteAll(records [][]string) error {
	for _, r := range records {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

func needsQuotes(field string) bool {
	return strings.ContainsAny(field, string([]byte{Delimiter, Quote, Escape, '\n', '\r', '\t', ' '}))
}

func encodeField(field string) string {
	if !needsQuotes(field) {
		return field
	}
	var b strings.Builder
	b.Grow(len(field) + 2)
	b.WriteByte(Quote)
	escaped := false
	for i := 0; i < len(field); i++ {
		c := field[i]
		switch {
		case c == Escape:
			escaped = true
		case !escaped && c == Quote:
			b.WriteByte(Quote)
		default:
			escaped = false
		}
		b.WriteByte(c)
	}
	b.WriteByte(Quote)
	return b.String()
}
