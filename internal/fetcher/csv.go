package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser. Gazetteer files from the
// Census Bureau are tab-delimited with a single header row, so callers
// loading those set Delimiter '\t', HasHeader, and TrimSpace.
type CSVOptions struct {
	Delimiter  rune            // ',' when unset
	HasHeader  bool            // first row is withheld from the row channel
	HeaderCh   chan<- []string // receives the header row when HasHeader is set
	Comment    rune            // rows starting with this rune are skipped (0 disables)
	LazyQuotes bool
	TrimSpace  bool // trim whitespace from every field
}

func (o CSVOptions) newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	if o.Delimiter != 0 {
		cr.Comma = o.Delimiter
	}
	if o.Comment != 0 {
		cr.Comment = o.Comment
	}
	cr.LazyQuotes = o.LazyQuotes
	cr.FieldsPerRecord = -1 // gazetteer vintages disagree on column count
	return cr
}

// sendRow delivers record unless ctx ends first.
func sendRow(ctx context.Context, ch chan<- []string, record []string) bool {
	select {
	case ch <- record:
		return true
	case <-ctx.Done():
		return false
	}
}

// StreamCSV reads CSV rows from r and sends them to the returned row channel.
// The caller must drain the row channel. At most one error is sent on the
// error channel, and both channels are closed when parsing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := opts.newReader(r)
		header := opts.HasHeader
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i := range record {
					record[i] = strings.TrimSpace(record[i])
				}
			}

			if header {
				header = false
				if opts.HeaderCh != nil && !sendRow(ctx, opts.HeaderCh, record) {
					errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
					return
				}
				continue
			}

			if !sendRow(ctx, rowCh, record) {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
