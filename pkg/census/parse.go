package census

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// zctaColumn is the geography column name the API returns for ZCTA queries.
const zctaColumn = "zip code tabulation area"

// parseBatchResponse decodes the API's array-of-arrays JSON into per-ZCTA
// variable maps. The first row is the header; each following row is one
// matched ZCTA. Requested ZCTAs the API did not match have no row.
func parseBatchResponse(data []byte) (map[string]map[string]string, error) {
	var raw [][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "census: unmarshal response")
	}
	if len(raw) < 2 {
		return map[string]map[string]string{}, nil
	}

	header := raw[0]
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[col] = i
	}
	zctaIdx, ok := colIdx[zctaColumn]
	if !ok {
		return nil, eris.Errorf("census: response missing %q column", zctaColumn)
	}

	out := make(map[string]map[string]string, len(raw)-1)
	for _, record := range raw[1:] {
		if zctaIdx >= len(record) || record[zctaIdx] == "" {
			continue
		}
		vals := make(map[string]string, len(header)-1)
		for name, idx := range colIdx {
			if idx == zctaIdx || idx >= len(record) {
				continue
			}
			vals[name] = record[idx]
		}
		out[record[zctaIdx]] = vals
	}
	return out, nil
}
