package zipindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellKeyFor(t *testing.T) {
	tests := []struct {
		lat, lng float64
		want     cellKey
	}{
		{40.75, -73.99, cellKey{latIdx: 81, lngIdx: -148}},
		{40.0, -74.0, cellKey{latIdx: 80, lngIdx: -148}},
		{39.99, -74.0, cellKey{latIdx: 79, lngIdx: -148}},
		{0.0, 0.0, cellKey{latIdx: 0, lngIdx: 0}},
		{-0.1, -0.1, cellKey{latIdx: -1, lngIdx: -1}},
		{18.18, -66.75, cellKey{latIdx: 36, lngIdx: -134}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cellKeyFor(tt.lat, tt.lng), "cellKeyFor(%v, %v)", tt.lat, tt.lng)
	}
}

func TestBoundingBox_Equator(t *testing.T) {
	// 111.32 km is one degree of latitude, and of longitude at the equator.
	minLat, minLng, maxLat, maxLng := boundingBox(0, 0, kmPerDegreeLat)
	assert.InDelta(t, -1.0, minLat, 1e-9)
	assert.InDelta(t, 1.0, maxLat, 1e-9)
	assert.InDelta(t, -1.0, minLng, 1e-6)
	assert.InDelta(t, 1.0, maxLng, 1e-6)
}

func TestBoundingBox_LongitudeWidensNorth(t *testing.T) {
	_, minLngEq, _, maxLngEq := boundingBox(0, 0, 50)
	_, minLngN, _, maxLngN := boundingBox(60, 0, 50)

	// At 60N a degree of longitude covers half the distance, so the box
	// must span twice the degrees.
	assert.InDelta(t, 2*(maxLngEq-minLngEq), maxLngN-minLngN, 1e-6)
}

func TestBoundingBox_PolarClamp(t *testing.T) {
	_, minLng, _, maxLng := boundingBox(90, 0, 10)
	assert.False(t, minLng < -1e9 || maxLng > 1e9, "longitude span must stay finite at the pole")
}

func TestSearchRadius_CrossesCellBoundary(t *testing.T) {
	// 40.0 is a cell edge; neighbors on each side must both be candidates.
	g := newGrid()
	g.cells[cellKeyFor(39.995, -74.0)] = append(g.cells[cellKeyFor(39.995, -74.0)], stub{zip: "08817", lat: 39.995, lng: -74.0})
	g.cells[cellKeyFor(40.005, -74.0)] = append(g.cells[cellKeyFor(40.005, -74.0)], stub{zip: "08818", lat: 40.005, lng: -74.0})

	matches := g.searchRadius(40.0, -74.0, 5, 0)
	require.Len(t, matches, 2)
}
