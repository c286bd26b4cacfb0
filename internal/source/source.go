package source

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/timmy/ipenrich/internal/domain"
)

var (
	ErrColumnNotFound = errors.New("column not found in header")
	ErrEmptySource    = errors.New("source has no header row")
)

// Row is one data row, keyed by header name, with its 0-based position in
// the stream (the header is not counted).
type Row struct {
	Index  int
	Fields domain.RowData
}

// Get returns the value of the named column.
func (r Row) Get(name string) (string, bool) {
	return r.Fields.Get(name)
}

// RowReader is a pull iterator over a tabular source. Next returns io.EOF
// after the last row.
type RowReader interface {
	Header() []string
	Next() (Row, error)
	Close() error
}

// Open picks a reader by file extension: .xlsx is read with excelize,
// anything else as CSV.
func Open(name string, r io.Reader) (RowReader, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return NewXLSXReader(r)
	}
	return NewCSVReader(r)
}

// RequireColumn checks that column is present in header.
func RequireColumn(header []string, column string) error {
	for _, h := range header {
		if h == column {
			return nil
		}
	}
	return fmt.Errorf("ip column %q not found in header: %w", column, ErrColumnNotFound)
}

// buildRow pairs cells with header names, padding missing trailing cells.
func buildRow(index int, header, cells []string) Row {
	fields := make(domain.RowData, len(header))
	for i, name := range header {
		value := ""
		if i < len(cells) {
			value = cells[i]
		}
		fields[i] = domain.Field{Name: name, Value: value}
	}
	return Row{Index: index, Fields: fields}
}

func cleanHeader(cells []string) []string {
	header := make([]string, len(cells))
	for i, c := range cells {
		header[i] = strings.TrimSpace(c)
	}
	return header
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
