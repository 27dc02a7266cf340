package zipdata

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mykull23/us-census-map-shanir/internal/fetcher"
)

// ParseXLSX reads the gazetteer's spreadsheet export. First row is the
// header; the column mapping matches ParseCSV.
func ParseXLSX(path string) (*ParseResult, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "zipdata: read xlsx")
	}
	if len(rows) == 0 {
		return &ParseResult{}, nil
	}

	cols, err := columnMap(rows[0])
	if err != nil {
		return nil, err
	}

	res := &ParseResult{}
	for i, row := range rows[1:] {
		line := i + 2
		rec, err := recordFromRow(cols, row, line)
		if err != nil {
			res.Errors = append(res.Errors, RowError{Line: line, Err: err})
			continue
		}
		res.Records = append(res.Records, rec)
	}

	zap.L().Debug("zipdata: xlsx parsed",
		zap.Int("records", len(res.Records)),
		zap.Int("rejected", len(res.Errors)),
	)
	return res, nil
}
