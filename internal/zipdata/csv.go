package zipdata

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mykull23/us-census-map-shanir/internal/fetcher"
)

// ParseCSV streams a comma-delimited dataset and maps rows onto ZipRecords
// by header name. Unknown columns are ignored; rows that fail to parse or
// validate land in the result's Errors.
func ParseCSV(ctx context.Context, r io.Reader) (*ParseResult, error) {
	return parseDelimited(ctx, r, ',')
}

// ParseTSV is ParseCSV for tab-delimited files, the format the Census
// gazetteer ships as .txt.
func ParseTSV(ctx context.Context, r io.Reader) (*ParseResult, error) {
	return parseDelimited(ctx, r, '\t')
}

func parseDelimited(ctx context.Context, r io.Reader, delim rune) (*ParseResult, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Delimiter: delim,
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	res := &ParseResult{}
	var cols map[string]int
	line := 1

	for row := range rowCh {
		if cols == nil {
			select {
			case header := <-headerCh:
				m, err := columnMap(header)
				if err != nil {
					return nil, err
				}
				cols = m
			default:
				return nil, eris.New("zipdata: csv has no header row")
			}
		}

		line++
		rec, err := recordFromRow(cols, row, line)
		if err != nil {
			res.Errors = append(res.Errors, RowError{Line: line, Err: err})
			continue
		}
		res.Records = append(res.Records, rec)
	}

	for err := range errCh {
		if err != nil {
			return nil, eris.Wrap(err, "zipdata: csv stream")
		}
	}

	zap.L().Debug("zipdata: csv parsed",
		zap.Int("records", len(res.Records)),
		zap.Int("rejected", len(res.Errors)),
	)
	return res, nil
}
