// Package dataset loads an uploaded CSV file into an in-memory table and
// produces row samples for prompt construction.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrNoColumns is returned for input without a header row.
var ErrNoColumns = errors.New("no columns to parse from file")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a parsed CSV file: a header row and data rows of equal width.
// Short rows are padded with empty cells; rows wider than the header are an
// error.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Load reads and parses the CSV file at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses CSV from r. The first record is the header.
func Read(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoColumns
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}

	t := &Table{Columns: cols}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading rows: %w", err)
		}
		switch {
		case len(rec) > len(cols):
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected %d fields, saw %d", line, len(cols), len(rec))
		case len(rec) < len(cols):
			// missing trailing cells read as empty, i.e. null
			rec = append(rec, make([]string, len(cols)-len(rec))...)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Head returns a table holding at most the first n rows. n <= 0 returns all rows.
func (t *Table) Head(n int) *Table {
	if n <= 0 || n >= len(t.Rows) {
		return t
	}
	return &Table{Columns: t.Columns, Rows: t.Rows[:n]}
}

// Records converts every row into a Record keyed by column name.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = Record{columns: t.Columns, values: row}
	}
	return out
}

// Record is one row with its column names. It marshals to a JSON object whose
// keys keep the file's column order.
type Record struct {
	columns []string
	values  []string
}

// Get returns the value for column, or "" when absent.
func (r Record) Get(column string) string {
	for i, c := range r.columns {
		if c == column && i < len(r.values) {
			return r.values[i]
		}
	}
	return ""
}

// MarshalJSON emits numbers as JSON numbers and empty cells as null.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		var v string
		if i < len(r.values) {
			v = r.values[i]
		}
		buf.Write(cellJSON(v))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func cellJSON(v string) []byte {
	s := strings.TrimSpace(v)
	if s == "" {
		return []byte("null")
	}
	// Identifiers with leading zeros (MRNs, invoice numbers) stay strings.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if strconv.FormatInt(n, 10) == s {
			return []byte(s)
		}
		b, _ := json.Marshal(v)
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "xXnN") {
		return []byte(strconv.FormatFloat(f, 'f', -1, 64))
	}
	b, _ := json.Marshal(v)
	return b
}
