// Package zipindex is the in-memory ZIP index: exact and categorical lookups
// over the national ZIP dataset plus a coarse spatial grid for radius and
// bounding-box queries. Load and Clear take the write lock; queries run under
// read locks and are safe to issue concurrently.
package zipindex

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mykull23/us-census-map-shanir/internal/zipdata"
)

// Index composes the record store, the categorical indices, and the spatial
// grid behind one query surface.
type Index struct {
	mu       sync.RWMutex
	records  map[string]zipdata.ZipRecord
	byState  map[string][]string
	byCounty map[string][]string
	byCity   map[string][]string // folded city + "|" + lowercase state
	grid     *grid
	loadedAt time.Time
}

// Match is one radius query hit.
type Match struct {
	Record     zipdata.ZipRecord `json:"record"`
	DistanceKm float64           `json:"distance_km"`
}

// LoadStats summarizes one Load call.
type LoadStats struct {
	Loaded   int           `json:"loaded"`
	Rejected int           `json:"rejected"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Stats reports index composition.
type Stats struct {
	Records    int       `json:"records"`
	WithCoords int       `json:"with_coords"`
	States     int       `json:"states"`
	Cities     int       `json:"cities"`
	Counties   int       `json:"counties"`
	GridCells  int       `json:"grid_cells"`
	LoadedAt   time.Time `json:"loaded_at"`
}

// New returns an empty index.
func New() *Index {
	idx := &Index{}
	idx.reset()
	return idx
}

func (idx *Index) reset() {
	idx.records = make(map[string]zipdata.ZipRecord)
	idx.byState = make(map[string][]string)
	idx.byCounty = make(map[string][]string)
	idx.byCity = make(map[string][]string)
	idx.grid = newGrid()
	idx.loadedAt = time.Time{}
}

// Load ingests records, last write wins per ZIP. Invalid records are rejected
// individually and reported in the stats. The spatial grid is rebuilt at the
// end so queries issued after Load returns see the new data.
func (idx *Index) Load(records []zipdata.ZipRecord) LoadStats {
	start := time.Now()
	var stats LoadStats

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, rec := range records {
		rec.Zip = zipdata.NormalizeZip(rec.Zip)
		if err := rec.Validate(); err != nil {
			stats.Rejected++
			stats.Errors = append(stats.Errors, err.Error())
			continue
		}

		if old, ok := idx.records[rec.Zip]; ok {
			idx.removeFromCategories(old)
		}
		idx.records[rec.Zip] = rec
		idx.addToCategories(rec)
		stats.Loaded++
	}

	idx.grid = buildGrid(idx.records)
	idx.loadedAt = time.Now()
	stats.Duration = time.Since(start)

	zap.L().Info("zipindex: load complete",
		zap.Int("loaded", stats.Loaded),
		zap.Int("rejected", stats.Rejected),
		zap.Duration("duration", stats.Duration),
	)
	return stats
}

// BuildIndex rebuilds the spatial grid from the current records. Load already
// does this; it exists for callers that assemble records through several
// loads and want an explicit rebuild point.
func (idx *Index) BuildIndex() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.grid = buildGrid(idx.records)
}

// Get looks up one record. Input is left-zero-padded to the canonical
// 5-character form first, so Get("1") and Get("00001") are the same lookup.
func (idx *Index) Get(zip string) (zipdata.ZipRecord, bool) {
	key := zipdata.NormalizeZip(zip)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rec, ok := idx.records[key]
	return rec, ok
}

// ByState returns up to limit records for a 2-letter state code, in indexing
// insertion order. limit <= 0 means unlimited.
func (idx *Index) ByState(code string, limit int) []zipdata.ZipRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.collect(idx.byState[strings.ToUpper(strings.TrimSpace(code))], limit)
}

// ByCounty returns up to limit records for a county FIPS code.
func (idx *Index) ByCounty(fips string, limit int) []zipdata.ZipRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.collect(idx.byCounty[strings.TrimSpace(fips)], limit)
}

// ByCity returns records whose city name contains name, case-insensitively
// and ignoring diacritics, optionally constrained to a state. Matching city
// keys are visited in sorted order so results are stable for a given dataset.
func (idx *Index) ByCity(name, state string, limit int) []zipdata.ZipRecord {
	q := foldCity(strings.TrimSpace(name))
	if q == "" {
		return nil
	}
	st := strings.ToLower(strings.TrimSpace(state))

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var keys []string
	for key := range idx.byCity {
		city, keyState, _ := strings.Cut(key, "|")
		if !strings.Contains(city, q) {
			continue
		}
		if st != "" && keyState != st {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []zipdata.ZipRecord
	for _, key := range keys {
		for _, zip := range idx.byCity[key] {
			if limit > 0 && len(out) >= limit {
				return out
			}
			if rec, ok := idx.records[zip]; ok {
				out = append(out, rec)
			}
		}
	}
	return out
}

// SearchRadius returns records within radiusKm of the query point with their
// great-circle distance. When the scan fills limit early the tail ordering is
// arbitrary; otherwise results come back sorted ascending by distance.
func (idx *Index) SearchRadius(lat, lng, radiusKm float64, limit int) []Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stubs := idx.grid.searchRadius(lat, lng, radiusKm, limit)
	out := make([]Match, 0, len(stubs))
	for _, sm := range stubs {
		if rec, ok := idx.records[sm.zip]; ok {
			out = append(out, Match{Record: rec, DistanceKm: sm.km})
		}
	}
	return out
}

// SearchBoundingBox returns up to limit records inside the bounds.
func (idx *Index) SearchBoundingBox(minLat, minLng, maxLat, maxLng float64, limit int) []zipdata.ZipRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stubs := idx.grid.searchBoundingBox(minLat, minLng, maxLat, maxLng, limit)
	out := make([]zipdata.ZipRecord, 0, len(stubs))
	for _, s := range stubs {
		if rec, ok := idx.records[s.zip]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Stats reports the current index composition.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	withCoords := 0
	for _, rec := range idx.records {
		if rec.HasCoords() {
			withCoords++
		}
	}
	return Stats{
		Records:    len(idx.records),
		WithCoords: withCoords,
		States:     len(idx.byState),
		Cities:     len(idx.byCity),
		Counties:   len(idx.byCounty),
		GridCells:  len(idx.grid.cells),
		LoadedAt:   idx.loadedAt,
	}
}

// Clear drops all records and indices under one write lock; readers never
// observe a partially cleared state.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reset()
	zap.L().Info("zipindex: cleared")
}

// collect resolves zip keys to records under the caller's read lock.
func (idx *Index) collect(zips []string, limit int) []zipdata.ZipRecord {
	n := len(zips)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]zipdata.ZipRecord, 0, n)
	for _, zip := range zips {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec, ok := idx.records[zip]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (idx *Index) addToCategories(rec zipdata.ZipRecord) {
	if rec.StateID != "" {
		key := strings.ToUpper(rec.StateID)
		idx.byState[key] = append(idx.byState[key], rec.Zip)
	}
	if rec.CountyFIPS != "" {
		idx.byCounty[rec.CountyFIPS] = append(idx.byCounty[rec.CountyFIPS], rec.Zip)
	}
	if rec.City != "" {
		key := cityKey(rec.City, rec.StateID)
		idx.byCity[key] = append(idx.byCity[key], rec.Zip)
	}
}

// removeFromCategories drops a ZIP from the lists its old record occupied,
// keeping category membership unique across repeated loads.
func (idx *Index) removeFromCategories(rec zipdata.ZipRecord) {
	if rec.StateID != "" {
		key := strings.ToUpper(rec.StateID)
		idx.byState[key] = removeZip(idx.byState[key], rec.Zip)
		if len(idx.byState[key]) == 0 {
			delete(idx.byState, key)
		}
	}
	if rec.CountyFIPS != "" {
		idx.byCounty[rec.CountyFIPS] = removeZip(idx.byCounty[rec.CountyFIPS], rec.Zip)
		if len(idx.byCounty[rec.CountyFIPS]) == 0 {
			delete(idx.byCounty, rec.CountyFIPS)
		}
	}
	if rec.City != "" {
		key := cityKey(rec.City, rec.StateID)
		idx.byCity[key] = removeZip(idx.byCity[key], rec.Zip)
		if len(idx.byCity[key]) == 0 {
			delete(idx.byCity, key)
		}
	}
}

func removeZip(zips []string, zip string) []string {
	for i, z := range zips {
		if z == zip {
			return append(zips[:i], zips[i+1:]...)
		}
	}
	return zips
}

func cityKey(city, state string) string {
	return foldCity(city) + "|" + strings.ToLower(state)
}

// foldCity lowercases and strips diacritics, so a query for "espanola"
// matches a record stored as "Española".
func foldCity(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}
