package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

func TestCellForStability(t *testing.T) {
	g := newGrid(50)

	a := g.cellFor(10.0, 10.0)
	b := g.cellFor(10.0001, 10.0001)
	assert.Equal(t, a, b, "nearby points share a cell")

	far := g.cellFor(40.0, 40.0)
	assert.NotEqual(t, a, far)
}

func TestNeighborhoodCoversRadius(t *testing.T) {
	g := newGrid(50)

	// Any point within the correlation radius of the query must land in
	// one of the neighborhood cells, otherwise correlation misses merges.
	cases := []struct {
		name               string
		lat, lon           float64
		otherLat, otherLon float64
	}{
		{"equator close", 0, 0, 0.3, 0.3},
		{"mid latitude", 45, 45, 45.3, 45.4},
		{"high latitude lon stretch", 70, 10, 70, 11.2},
		{"cell boundary", 10, 10, 10.44, 10.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.LessOrEqual(t, DistanceKm(tc.lat, tc.lon, tc.otherLat, tc.otherLon), 50.0,
				"test point must be inside the radius")
			cells := g.neighborhood(tc.lat, tc.lon)
			assert.Contains(t, cells, g.cellFor(tc.otherLat, tc.otherLon))
		})
	}
}

func TestNeighborhoodContainsCenter(t *testing.T) {
	g := newGrid(50)
	for _, lat := range []float64{-89, -45, 0, 45, 89} {
		cells := g.neighborhood(lat, 100)
		assert.Contains(t, cells, g.cellFor(lat, 100))
	}
}

func TestCellsForBox(t *testing.T) {
	g := newGrid(50)

	box := model.BoundingBox{MinLat: 9, MinLon: 9, MaxLat: 12, MaxLon: 12}
	cells := g.cellsForBox(box)
	assert.Contains(t, cells, g.cellFor(10, 10))
	assert.Contains(t, cells, g.cellFor(11.5, 11.5))
	assert.NotContains(t, cells, g.cellFor(40, 40))
}

func TestCellsForBoxAntimeridian(t *testing.T) {
	g := newGrid(50)

	box := model.BoundingBox{MinLat: -10, MinLon: 170, MaxLat: 10, MaxLon: -170}
	cells := g.cellsForBox(box)
	assert.Contains(t, cells, g.cellFor(0, 175))
	assert.Contains(t, cells, g.cellFor(0, -175))
	assert.NotContains(t, cells, g.cellFor(0, 0))
}

func TestCellCountForBoxMatchesCells(t *testing.T) {
	g := newGrid(50)

	boxes := []model.BoundingBox{
		{MinLat: 9, MinLon: 9, MaxLat: 12, MaxLon: 12},
		{MinLat: -10, MinLon: 170, MaxLat: 10, MaxLon: -170},
		{MinLat: 10, MinLon: 10, MaxLat: 10, MaxLon: 10},
		{MinLat: -40, MinLon: -60, MaxLat: 30, MaxLon: 80},
	}
	for _, box := range boxes {
		assert.Equal(t, int64(len(g.cellsForBox(box))), g.cellCountForBox(box))
	}
}

func TestCellCountForBoxWorldFineGrid(t *testing.T) {
	// The count is pure arithmetic; materializing these cells would need
	// gigabytes.
	g := newGrid(1)
	world := model.BoundingBox{MinLat: -90, MinLon: -180, MaxLat: 90, MaxLon: 180}
	assert.Greater(t, g.cellCountForBox(world), int64(100_000_000))
}

func TestDistanceKm(t *testing.T) {
	// London to Paris, roughly 344 km.
	d := DistanceKm(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 344, d, 10)

	assert.Zero(t, DistanceKm(10, 10, 10, 10))

	// One degree of latitude at any longitude.
	assert.InDelta(t, 111.2, DistanceKm(0, 50, 1, 50), 1)
}
