// Package zipdata defines the ZIP record model and the dataset parsers that
// produce it from CSV, XLSX, and TIGER/Line ZCTA shapefile sources.
package zipdata

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ZipRecord is one row of the national ZIP dataset. Lat and Lng are nil for
// ZIPs without a usable centroid; those records stay queryable by ZIP, state,
// city, and county but never appear in spatial results.
type ZipRecord struct {
	Zip        string   `json:"zip"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
	City       string   `json:"city,omitempty"`
	StateID    string   `json:"state_id,omitempty"`
	CountyFIPS string   `json:"county_fips,omitempty"`
	CountyName string   `json:"county_name,omitempty"`
	Population int      `json:"population,omitempty"`
	Density    float64  `json:"density,omitempty"`
	Timezone   string   `json:"timezone,omitempty"`
	ZCTA       bool     `json:"zcta"`
}

// HasCoords reports whether the record carries a centroid.
func (r *ZipRecord) HasCoords() bool {
	return r.Lat != nil && r.Lng != nil
}

// NormalizeZip trims whitespace and left-pads with zeros to the canonical
// 5-character form, so "501" and "00501" address the same record.
func NormalizeZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if zip == "" || len(zip) >= 5 {
		return zip
	}
	return strings.Repeat("0", 5-len(zip)) + zip
}

// Validate checks a normalized record. Records failing validation are
// rejected individually at load time; the load itself proceeds.
func (r *ZipRecord) Validate() error {
	if r.Zip == "" {
		return eris.New("zipdata: empty zip")
	}
	if len(r.Zip) != 5 {
		return eris.Errorf("zipdata: zip %q is not 5 characters", r.Zip)
	}
	for _, c := range r.Zip {
		if c < '0' || c > '9' {
			return eris.Errorf("zipdata: zip %q contains non-digits", r.Zip)
		}
	}
	if (r.Lat == nil) != (r.Lng == nil) {
		return eris.Errorf("zipdata: zip %s has only one coordinate", r.Zip)
	}
	if r.Lat != nil {
		if *r.Lat < -90 || *r.Lat > 90 {
			return eris.Errorf("zipdata: zip %s latitude %g out of range", r.Zip, *r.Lat)
		}
		if *r.Lng < -180 || *r.Lng > 180 {
			return eris.Errorf("zipdata: zip %s longitude %g out of range", r.Zip, *r.Lng)
		}
	}
	if r.StateID != "" && len(r.StateID) != 2 {
		return eris.Errorf("zipdata: zip %s state %q is not a 2-letter code", r.Zip, r.StateID)
	}
	if r.Population < 0 {
		return eris.Errorf("zipdata: zip %s negative population", r.Zip)
	}
	if r.Density < 0 {
		return eris.Errorf("zipdata: zip %s negative density", r.Zip)
	}
	return nil
}
