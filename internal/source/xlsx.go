package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSXReader streams rows from the first sheet of a workbook.
type XLSXReader struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
	next   int

	// blank rows seen before held, a non-blank row not yet returned
	blanks int
	held   []string
}

// NewXLSXReader opens a workbook and reads its header row.
func NewXLSXReader(r io.Reader) (*XLSXReader, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	x := &XLSXReader{file: f, rows: rows}
	for {
		cells, err := x.read()
		if err != nil {
			_ = x.Close()
			if err == io.EOF {
				return nil, ErrEmptySource
			}
			return nil, err
		}
		if isBlank(cells) {
			continue
		}
		x.header = cleanHeader(cells)
		return x, nil
	}
}

func (x *XLSXReader) read() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, fmt.Errorf("failed to read xlsx row: %w", err)
		}
		return nil, io.EOF
	}
	cells, err := x.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read xlsx row: %w", err)
	}
	return cells, nil
}

func (x *XLSXReader) Header() []string {
	return append([]string(nil), x.header...)
}

// Next returns the next data row. Blank rows between data rows are returned
// as rows of empty cells; blank rows after the last data row are dropped, since
// sheets often carry formatted but empty rows at the end.
func (x *XLSXReader) Next() (Row, error) {
	if x.blanks == 0 && x.held == nil {
		for {
			cells, err := x.read()
			if err != nil {
				return Row{}, err
			}
			if !isBlank(cells) {
				x.held = cells
				break
			}
			x.blanks++
		}
	}

	var cells []string
	if x.blanks > 0 {
		x.blanks--
	} else {
		cells, x.held = x.held, nil
	}
	row := buildRow(x.next, x.header, cells)
	x.next++
	return row, nil
}

func (x *XLSXReader) Close() error {
	rowsErr := x.rows.Close()
	if err := x.file.Close(); err != nil {
		return err
	}
	return rowsErr
}
