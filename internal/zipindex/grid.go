package zipindex

import (
	"math"
	"sort"

	"github.com/umahmood/haversine"

	"github.com/mykull23/us-census-map-shanir/internal/zipdata"
)

// cellSize is the grid bucket edge in degrees. Longitude bucketing is not
// latitude-corrected; US data never gets near the poles where that matters.
const cellSize = 0.5

// kmPerDegreeLat is the spherical approximation used for bounding-box
// pruning. The exact distance check afterwards uses Haversine.
const kmPerDegreeLat = 111.32

// maxQueryLat keeps cos(lat) away from zero when sizing the longitude span.
const maxQueryLat = 89.9999

type cellKey struct {
	latIdx int
	lngIdx int
}

// stub carries just enough per record to run the distance check without
// touching the record map.
type stub struct {
	zip string
	lat float64
	lng float64
}

type stubMatch struct {
	stub
	km float64
}

type grid struct {
	cells map[cellKey][]stub
}

func newGrid() *grid {
	return &grid{cells: make(map[cellKey][]stub)}
}

// buildGrid buckets every coordinate-bearing record into its cell. A record
// lands in exactly one cell, decided by its own coordinates.
func buildGrid(records map[string]zipdata.ZipRecord) *grid {
	g := newGrid()
	for zip, rec := range records {
		if !rec.HasCoords() {
			continue
		}
		key := cellKeyFor(*rec.Lat, *rec.Lng)
		g.cells[key] = append(g.cells[key], stub{zip: zip, lat: *rec.Lat, lng: *rec.Lng})
	}
	return g
}

func cellKeyFor(lat, lng float64) cellKey {
	return cellKey{
		latIdx: int(math.Floor(lat / cellSize)),
		lngIdx: int(math.Floor(lng / cellSize)),
	}
}

// boundingBox sizes a candidate box around the query point. One degree of
// longitude spans 111.32*cos(lat) km, with cos taken at the query latitude
// only; the error of that shortcut stays small at continental scale.
func boundingBox(lat, lng, radiusKm float64) (minLat, minLng, maxLat, maxLng float64) {
	latDelta := radiusKm / kmPerDegreeLat
	clamped := math.Max(-maxQueryLat, math.Min(maxQueryLat, lat))
	lngDelta := radiusKm / (kmPerDegreeLat * math.Cos(clamped*math.Pi/180))
	return lat - latDelta, lng - lngDelta, lat + latDelta, lng + lngDelta
}

// searchRadius scans every cell overlapping the bounding box and verifies
// candidates with the exact great-circle distance. The moment limit matches
// accumulate it returns them as-is, tail order arbitrary; a scan that
// finishes under limit is sorted ascending by distance. limit <= 0 means
// unlimited.
func (g *grid) searchRadius(lat, lng, radiusKm float64, limit int) []stubMatch {
	minLat, minLng, maxLat, maxLng := boundingBox(lat, lng, radiusKm)
	minKey := cellKeyFor(minLat, minLng)
	maxKey := cellKeyFor(maxLat, maxLng)

	origin := haversine.Coord{Lat: lat, Lon: lng}
	var matches []stubMatch

	for li := minKey.latIdx; li <= maxKey.latIdx; li++ {
		for gi := minKey.lngIdx; gi <= maxKey.lngIdx; gi++ {
			for _, s := range g.cells[cellKey{latIdx: li, lngIdx: gi}] {
				_, km := haversine.Distance(origin, haversine.Coord{Lat: s.lat, Lon: s.lng})
				if km > radiusKm {
					continue
				}
				matches = append(matches, stubMatch{stub: s, km: km})
				if limit > 0 && len(matches) >= limit {
					return matches
				}
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].km < matches[j].km })
	return matches
}

// searchBoundingBox returns stubs inside the exact bounds, up to limit.
func (g *grid) searchBoundingBox(minLat, minLng, maxLat, maxLng float64, limit int) []stub {
	minKey := cellKeyFor(minLat, minLng)
	maxKey := cellKeyFor(maxLat, maxLng)

	var out []stub
	for li := minKey.latIdx; li <= maxKey.latIdx; li++ {
		for gi := minKey.lngIdx; gi <= maxKey.lngIdx; gi++ {
			for _, s := range g.cells[cellKey{latIdx: li, lngIdx: gi}] {
				if s.lat < minLat || s.lat > maxLat || s.lng < minLng || s.lng > maxLng {
					continue
				}
				out = append(out, s)
				if limit > 0 && len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}
