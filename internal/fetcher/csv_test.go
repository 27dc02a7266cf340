package fetcher

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	return rows, <-errCh
}

// drainErr empties both channels and returns the error, if one was sent.
func drainErr(rowCh <-chan []string, errCh <-chan error) error {
	for range rowCh { //nolint:revive
	}
	return <-errCh
}

func TestStreamCSV_Basic(t *testing.T) {
	input := "zip,city,state\n90210,Beverly Hills,CA\n10001,New York,NY\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"zip", "city", "state"}, rows[0])
	assert.Equal(t, []string{"90210", "Beverly Hills", "CA"}, rows[1])
	assert.Equal(t, []string{"10001", "New York", "NY"}, rows[2])
}

func TestStreamCSV_TabDelimited(t *testing.T) {
	// Gazetteer files are tab-delimited.
	input := "GEOID\tINTPTLAT\tINTPTLONG\n90210\t34.100517\t-118.414801\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: '\t',
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"GEOID", "INTPTLAT", "INTPTLONG"}, rows[0])
	assert.Equal(t, []string{"90210", "34.100517", "-118.414801"}, rows[1])
}

func TestStreamCSV_WithHeader(t *testing.T) {
	input := "zip,city\n90210,Beverly Hills\n10001,New York\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)

	// Data rows should not include the header
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"90210", "Beverly Hills"}, rows[0])
	assert.Equal(t, []string{"10001", "New York"}, rows[1])

	header := <-headerCh
	assert.Equal(t, []string{"zip", "city"}, header)
}

func TestStreamCSV_HasHeaderNoHeaderCh(t *testing.T) {
	// HasHeader without a HeaderCh just skips the header row.
	input := "zip,city\n90210,Beverly Hills\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
	})

	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"90210", "Beverly Hills"}, rows[0])
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	// Gazetteer fields arrive padded with trailing whitespace.
	input := " GEOID , NAME \n 90210 , 90210 \n"
	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		TrimSpace: true,
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"90210", "90210"}, rows[0])

	header := <-headerCh
	assert.Equal(t, []string{"GEOID", "NAME"}, header)
}

func TestStreamCSV_Comment(t *testing.T) {
	input := "# source: 2023 gazetteer\nzip,city\n90210,Beverly Hills\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Comment: '#',
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"zip", "city"}, rows[0])
}

func TestStreamCSV_LazyQuotes(t *testing.T) {
	input := `zip,name
90210,"The "Hills" area"
`
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		LazyQuotes: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestStreamCSV_VariableFields(t *testing.T) {
	// Older vintages have fewer columns, newer ones more.
	input := "a,b,c\n1,2\n3,4,5,6\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})

	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Len(t, rows[0], 3)
	assert.Len(t, rows[1], 2)
	assert.Len(t, rows[2], 4)
}

func TestStreamCSV_Empty(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_ReadError(t *testing.T) {
	r := &failingReader{
		data:    "zip,city\n90210,Beverly Hills\n",
		failAt:  10,
		failErr: io.ErrUnexpectedEOF,
	}

	rowCh, errCh := StreamCSV(context.Background(), r, CSVOptions{})

	gotErr := drainErr(rowCh, errCh)
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "csv: read row")
}

// failingReader returns an error after reading failAt bytes.
type failingReader struct {
	data    string
	pos     int
	failAt  int
	failErr error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.pos >= r.failAt {
		return 0, r.failErr
	}
	remaining := r.data[r.pos:]
	n := copy(p, remaining)
	if r.pos+n >= r.failAt {
		n = r.failAt - r.pos
		r.pos = r.failAt
		return n, nil
	}
	r.pos += n
	return n, nil
}

func TestStreamCSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10000; i++ {
		sb.WriteString("90210,Beverly Hills,CA\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	seen := 0
	for range rowCh {
		seen++
		if seen == 5 {
			cancel()
			break
		}
	}

	// Either we get a cancellation error or the goroutine finished before noticing.
	if gotErr := drainErr(rowCh, errCh); gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
	cancel()
}

func TestStreamCSV_HeaderSendContextCancelled(t *testing.T) {
	input := "zip,city\n90210,Beverly Hills\n"

	// Unbuffered header channel blocks the send until cancellation.
	headerCh := make(chan []string)

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	cancel()

	if gotErr := drainErr(rowCh, errCh); gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
}
