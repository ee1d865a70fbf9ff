package store

import (
	"math"

	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

// kmPerDegreeLat is the approximate surface distance of one degree of
// latitude. Longitude degrees shrink toward the poles; grid math accounts
// for that when expanding search neighborhoods.
const kmPerDegreeLat = 110.574

// cell identifies one fixed-degree grid cell. The grid is a coarse prefilter
// for proximity queries; exact distances are always rechecked with haversine.
type cell struct {
	X int
	Y int
}

// grid maps coordinates to cells sized so that anything within the
// correlation radius of a point lives in the point's immediate cell
// neighborhood.
type grid struct {
	cellDeg  float64
	radiusKm float64
}

func newGrid(radiusKm float64) grid {
	return grid{
		cellDeg:  radiusKm / kmPerDegreeLat,
		radiusKm: radiusKm,
	}
}

// cellFor returns the cell containing the point.
func (g grid) cellFor(lat, lon float64) cell {
	return cell{
		X: int(math.Floor((lon + 180) / g.cellDeg)),
		Y: int(math.Floor((lat + 90) / g.cellDeg)),
	}
}

// neighborhood returns every cell that can contain a point within the
// correlation radius of (lat, lon). Latitude needs one cell each side;
// longitude needs more near the poles where degrees are narrow.
func (g grid) neighborhood(lat, lon float64) []cell {
	center := g.cellFor(lat, lon)

	lonSpan := 1
	if cosLat := math.Cos(lat * math.Pi / 180); cosLat > 0.01 {
		lonSpan = int(math.Ceil(1 / cosLat))
	} else {
		// Polar caps: a radius circle can wrap most of the ring.
		lonSpan = int(math.Ceil(360 / g.cellDeg / 2))
	}

	cells := make([]cell, 0, 3*(2*lonSpan+1))
	for dy := -1; dy <= 1; dy++ {
		for dx := -lonSpan; dx <= lonSpan; dx++ {
			cells = append(cells, cell{X: center.X + dx, Y: center.Y + dy})
		}
	}
	return cells
}

// cellsForBox returns the cells overlapping a bounding box. Boxes crossing
// the antimeridian are split into two spans.
func (g grid) cellsForBox(box model.BoundingBox) []cell {
	if box.MinLon > box.MaxLon {
		west := box
		west.MaxLon = 180
		east := box
		east.MinLon = -180
		return append(g.cellsForBox(west), g.cellsForBox(east)...)
	}

	minC := g.cellFor(box.MinLat, box.MinLon)
	maxC := g.cellFor(box.MaxLat, box.MaxLon)

	cells := make([]cell, 0, (maxC.X-minC.X+1)*(maxC.Y-minC.Y+1))
	for y := minC.Y; y <= maxC.Y; y++ {
		for x := minC.X; x <= maxC.X; x++ {
			cells = append(cells, cell{X: x, Y: y})
		}
	}
	return cells
}

// cellCountForBox returns how many cells cellsForBox would produce, without
// materializing them. Callers use it to size-gate queries: a world-sized box
// over a fine grid spans hundreds of millions of cells.
func (g grid) cellCountForBox(box model.BoundingBox) int64 {
	if box.MinLon > box.MaxLon {
		west := box
		west.MaxLon = 180
		east := box
		east.MinLon = -180
		return g.cellCountForBox(west) + g.cellCountForBox(east)
	}

	minC := g.cellFor(box.MinLat, box.MinLon)
	maxC := g.cellFor(box.MaxLat, box.MaxLon)
	return int64(maxC.X-minC.X+1) * int64(maxC.Y-minC.Y+1)
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
