package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, fields := range rows {
			row := sheet.AddRow()
			for _, field := range fields {
				row.AddCell().SetString(field)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "workbook.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX_FirstSheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"zip", "population", "median_income"},
			{"90210", "19635", "112543"},
			{"10001", "27004", "101409"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"zip", "population", "median_income"}, rows[0])
	assert.Equal(t, []string{"90210", "19635", "112543"}, rows[1])
	assert.Equal(t, []string{"10001", "27004", "101409"}, rows[2])
}

func TestReadXLSX_SheetByName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Notes": {{"scratch"}},
		"Data":  {{"zip", "lat"}, {"90210", "34.1"}},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "Data"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"90210", "34.1"}, rows[1])
}

func TestReadXLSX_SheetSelectionErrors(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	cases := []struct {
		name string
		opts XLSXOptions
		want string
	}{
		{"missing name", XLSXOptions{SheetName: "Missing"}, "not found"},
		{"index past end", XLSXOptions{SheetIndex: 5}, "out of range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadXLSX(path, tc.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestReadXLSX_OpenErrors(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "missing.xlsx"), XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")

	bad := filepath.Join(t.TempDir(), "bad.xlsx")
	writeFixture(t, bad, "this is not an xlsx file")
	_, err = ReadXLSX(bad, XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")
}
