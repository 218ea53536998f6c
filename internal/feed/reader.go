package feed

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"unycop-connector/internal/model"
)

// Encoding selects how feed bytes are decoded.
type Encoding string

const (
	// EncodingAuto decodes as UTF-8 when the head of the stream is valid
	// UTF-8, otherwise as Windows-1252 (a superset of Latin-1 for printable text).
	EncodingAuto   Encoding = "auto"
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "latin1"
)

// sniffSize is how many bytes are inspected for encoding detection.
const sniffSize = 64 << 10

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options configures a Reader.
type Options struct {
	Encoding   Encoding
	MinColumns int
}

// Row is one data row: either a parsed Record or the reason it was rejected.
type Row struct {
	Line   int
	Record Record
	Err    *model.RowError
}

// Reader iterates the data rows of a feed in order. The feed has no random
// access; offsets are reached with Skip.
type Reader struct {
	csv        *csv.Reader
	minColumns int
	header     []string
	peeked     *Row
	done       bool
	consumed   int
}

// NewReader decodes r, consumes the header row and returns a Reader
// positioned on the first data row. An empty stream yields a Reader with
// no rows.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	decoded, err := decode(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(decoded)
	cr.Comma = Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	minColumns := opts.MinColumns
	if minColumns <= 0 {
		minColumns = MinColumns
	}

	fr := &Reader{csv: cr, minColumns: minColumns}
	header, err := cr.Read()
	switch {
	case errors.Is(err, io.EOF):
		fr.done = true
	case err != nil:
		return nil, fmt.Errorf("reading feed header: %w", err)
	default:
		fr.header = header
	}
	return fr, nil
}

// Header returns the header columns as read from the feed.
func (r *Reader) Header() []string {
	return r.header
}

// Consumed returns the number of data rows returned or skipped so far.
func (r *Reader) Consumed() int {
	return r.consumed
}

// Next returns the next data row. It returns io.EOF when the feed is
// exhausted. Malformed rows come back as a Row with Err set, not as an
// error; only I/O failures are returned as errors.
func (r *Reader) Next() (Row, error) {
	if r.peeked != nil {
		row := *r.peeked
		r.peeked = nil
		r.consumed++
		return row, nil
	}
	row, err := r.read()
	if err != nil {
		return Row{}, err
	}
	r.consumed++
	return row, nil
}

// More reports whether at least one unread data row remains.
func (r *Reader) More() (bool, error) {
	if r.peeked != nil {
		return true, nil
	}
	row, err := r.read()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.peeked = &row
	return true, nil
}

// Skip discards up to n data rows, valid or not, and returns how many were
// discarded. Fewer than n means the feed ended.
func (r *Reader) Skip(n int) (int, error) {
	skipped := 0
	for skipped < n {
		if _, err := r.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return skipped, nil
			}
			return skipped, err
		}
		skipped++
	}
	return skipped, nil
}

func (r *Reader) read() (Row, error) {
	if r.done {
		return Row{}, io.EOF
	}
	fields, err := r.csv.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return Row{
				Line: parseErr.StartLine,
				Err:  model.NewParseError(parseErr.StartLine, parseErr.Err.Error()),
			}, nil
		}
		if errors.Is(err, io.EOF) {
			r.done = true
		}
		return Row{}, err
	}

	line, _ := r.csv.FieldPos(0)
	rec, rowErr := ParseFields(fields, line, r.minColumns)
	if rowErr != nil {
		return Row{Line: line, Err: rowErr}, nil
	}
	return Row{Line: line, Record: rec}, nil
}

// decode strips a UTF-8 BOM and picks a decoder for the stream.
func decode(r io.Reader, enc Encoding) (io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffSize)
	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("reading feed: %w", err)
	}

	if bytes.HasPrefix(head, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, fmt.Errorf("reading feed: %w", err)
		}
		return br, nil
	}

	switch enc {
	case EncodingUTF8:
		return br, nil
	case EncodingLatin1:
		return charmap.Windows1252.NewDecoder().Reader(br), nil
	default:
		if utf8.Valid(trimPartialRune(head)) {
			return br, nil
		}
		return charmap.Windows1252.NewDecoder().Reader(br), nil
	}
}

// trimPartialRune drops a multi-byte sequence cut off by the sniff window.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}
