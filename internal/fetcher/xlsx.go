package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects the worksheet to read. The zero value reads the first
// sheet, which is where ZIP dataset workbooks keep their data.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// pick resolves the requested worksheet, by name when set, by index otherwise.
func (o XLSXOptions) pick(f *xlsx.File) (*xlsx.Sheet, error) {
	if o.SheetName != "" {
		sheet, ok := f.Sheet[o.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", o.SheetName)
		}
		return sheet, nil
	}
	if o.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", o.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[o.SheetIndex], nil
}

// ReadXLSX reads one sheet of an XLSX workbook and returns every row as a
// string slice, header row included.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, err := opts.pick(f)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, len(sheet.Rows))
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows[i] = cells
	}
	return rows, nil
}
