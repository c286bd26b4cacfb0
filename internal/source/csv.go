package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// CSVReader streams rows from CSV text without loading it into memory.
type CSVReader struct {
	reader *csv.Reader
	header []string
	next   int
}

// NewCSVReader reads the header row from r. A UTF-8 byte order mark is
// skipped, quotes are parsed leniently and rows may have any width.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	buffered := bufio.NewReader(r)
	if prefix, err := buffered.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = buffered.Discard(len(byteOrderMark))
	}

	reader := csv.NewReader(buffered)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	c := &CSVReader{reader: reader}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil, ErrEmptySource
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv header: %w", err)
		}
		if isBlank(record) {
			continue
		}
		c.header = cleanHeader(record)
		return c, nil
	}
}

func (c *CSVReader) Header() []string {
	return append([]string(nil), c.header...)
}

// Next returns the next data record. Empty lines are dropped by encoding/csv;
// records whose cells are all blank are still rows.
func (c *CSVReader) Next() (Row, error) {
	record, err := c.reader.Read()
	if err == io.EOF {
		return Row{}, io.EOF
	}
	if err != nil {
		return Row{}, fmt.Errorf("failed to read csv row %d: %w", c.next, err)
	}
	row := buildRow(c.next, c.header, record)
	c.next++
	return row, nil
}

func (c *CSVReader) Close() error {
	return nil
}
