package zipdata

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ParseResult carries parsed records plus per-row failures. A bad row never
// aborts a parse.
type ParseResult struct {
	Records []ZipRecord
	Errors  []RowError
}

// RowError records one rejected input row.
type RowError struct {
	Line int
	Err  error
}

// Column aliases seen across the gazetteer CSV, its spreadsheet export, and
// ZCTA attribute tables.
var columnAliases = map[string][]string{
	"zip":         {"zip", "zcta5", "zcta5ce", "geoid"},
	"lat":         {"lat", "latitude", "intptlat"},
	"lng":         {"lng", "lon", "long", "longitude", "intptlon", "intptlong"},
	"city":        {"city"},
	"state_id":    {"state_id", "state", "stusps"},
	"county_fips": {"county_fips"},
	"county_name": {"county_name", "county"},
	"population":  {"population", "pop"},
	"density":     {"density"},
	"timezone":    {"timezone"},
	"zcta":        {"zcta"},
}

// columnMap resolves a header row into canonical column name to index.
// The zip column is mandatory, everything else optional.
func columnMap(header []string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.ToLower(strings.TrimSpace(h))] = i
	}

	cols := make(map[string]int)
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			if idx, ok := byName[alias]; ok {
				cols[canonical] = idx
				break
			}
		}
	}

	if _, ok := cols["zip"]; !ok {
		return nil, eris.Errorf("zipdata: no zip column in header %v", header)
	}
	return cols, nil
}

func recordFromRow(cols map[string]int, row []string, line int) (ZipRecord, error) {
	get := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	rec := ZipRecord{
		Zip:        NormalizeZip(get("zip")),
		City:       get("city"),
		StateID:    strings.ToUpper(get("state_id")),
		CountyFIPS: get("county_fips"),
		CountyName: get("county_name"),
		Timezone:   get("timezone"),
		ZCTA:       parseBool(get("zcta")),
	}

	var err error
	if rec.Lat, err = parseCoord(get("lat")); err != nil {
		return ZipRecord{}, eris.Wrapf(err, "zipdata: line %d lat", line)
	}
	if rec.Lng, err = parseCoord(get("lng")); err != nil {
		return ZipRecord{}, eris.Wrapf(err, "zipdata: line %d lng", line)
	}
	if rec.Population, err = parseCount(get("population")); err != nil {
		return ZipRecord{}, eris.Wrapf(err, "zipdata: line %d population", line)
	}
	if rec.Density, err = parseFloat(get("density")); err != nil {
		return ZipRecord{}, eris.Wrapf(err, "zipdata: line %d density", line)
	}

	if err := rec.Validate(); err != nil {
		return ZipRecord{}, err
	}
	return rec, nil
}

// parseCoord returns nil for an empty field. TIGER attribute tables prefix
// coordinates with an explicit plus sign.
func parseCoord(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimPrefix(s, "+"), 64)
	if err != nil {
		return nil, eris.Wrapf(err, "parse coordinate %q", s)
	}
	return &v, nil
}

// parseCount tolerates spreadsheet exports that render counts as floats.
func parseCount(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse count %q", s)
	}
	return int(v), nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse number %q", s)
	}
	return v, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "t", "1", "yes", "y":
		return true
	}
	return false
}
