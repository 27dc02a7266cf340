package zipdata

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// ParseShapefile reads a TIGER/Line ZCTA shapefile. The ZCTA5 code and the
// internal-point attributes carry the ZIP and centroid; when a record lacks
// usable internal-point fields the centroid is computed from the polygon
// itself. Shapefile records have no city, county, or population attributes.
func ParseShapefile(path string) (*ParseResult, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "zipdata: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		fieldIdx[name] = i
	}

	zipIdx, ok := findField(fieldIdx, "zcta5ce")
	if !ok {
		return nil, eris.Errorf("zipdata: shapefile %s has no ZCTA5CE field", path)
	}
	latIdx, hasLat := findField(fieldIdx, "intptlat")
	lonIdx, hasLon := findField(fieldIdx, "intptlon")

	res := &ParseResult{}
	line := 0
	for reader.Next() {
		line++
		_, shape := reader.Shape()

		rec := ZipRecord{
			Zip:  NormalizeZip(attr(reader, zipIdx)),
			ZCTA: true,
		}

		if hasLat && hasLon {
			lat, latErr := parseCoord(attr(reader, latIdx))
			lng, lngErr := parseCoord(attr(reader, lonIdx))
			if latErr == nil && lngErr == nil && lat != nil && lng != nil {
				rec.Lat, rec.Lng = lat, lng
			}
		}
		if !rec.HasCoords() {
			rec.Lat, rec.Lng = shapeCentroid(shape)
		}

		if err := rec.Validate(); err != nil {
			res.Errors = append(res.Errors, RowError{Line: line, Err: err})
			continue
		}
		res.Records = append(res.Records, rec)
	}

	zap.L().Debug("zipdata: shapefile parsed",
		zap.String("path", path),
		zap.Int("records", len(res.Records)),
		zap.Int("rejected", len(res.Errors)),
	)
	return res, nil
}

// findField resolves an attribute by name prefix: TIGER vintages suffix
// attribute names with the census year (ZCTA5CE20, INTPTLAT20).
func findField(fieldIdx map[string]int, prefix string) (int, bool) {
	if idx, ok := fieldIdx[prefix]; ok {
		return idx, true
	}
	for name, idx := range fieldIdx {
		if strings.HasPrefix(name, prefix) {
			return idx, true
		}
	}
	return 0, false
}

func attr(r *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(r.Attribute(idx), "\x00"))
}

// shapeCentroid computes the areal centroid of a shapefile polygon.
// Returns nils for non-polygon or degenerate shapes.
func shapeCentroid(shape shp.Shape) (*float64, *float64) {
	poly, ok := shape.(*shp.Polygon)
	if !ok || poly == nil {
		return nil, nil
	}
	g := polygonToGeom(poly)
	if g == nil {
		return nil, nil
	}
	c, err := xy.Centroid(g)
	if err != nil || len(c) < 2 {
		return nil, nil
	}
	lat, lng := c[1], c[0]
	return &lat, &lng
}

// polygonToGeom converts a shapefile polygon into a geom.Polygon with one
// ring per part.
func polygonToGeom(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	poly := geom.NewPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("zipdata: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if poly.NumLinearRings() == 0 {
		return nil
	}
	return poly
}
