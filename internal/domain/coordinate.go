package domain

import (
	"fmt"
	"math"
)

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64
	Lon float64
}

// GridCell is a coordinate quantized to a 0.01° grid (roughly 1.1 km of
// latitude). Cells are the cache key for reverse-geocoding results: two
// coordinates inside the same cell share one lookup. Axes are stored as
// hundredths of a degree so cells compare and hash exactly.
type GridCell struct {
	LatE2 int32
	LonE2 int32
}

// Quantize maps a coordinate to its grid cell. Pure and deterministic:
// the same coordinate always yields the same cell, and coordinates within
// the grid resolution of each other coalesce. Flat decimal rounding is used
// on both axes; longitude cells narrow toward the poles, which is accepted
// for a cache key.
func Quantize(c Coordinate) GridCell {
	return GridCell{
		LatE2: int32(math.Round(c.Lat * 100)),
		LonE2: int32(math.Round(c.Lon * 100)),
	}
}

// Center returns the representative coordinate of the cell, suitable for
// handing to a reverse geocoder on behalf of every coordinate in the cell.
func (g GridCell) Center() Coordinate {
	return Coordinate{
		Lat: float64(g.LatE2) / 100,
		Lon: float64(g.LonE2) / 100,
	}
}

// Key returns the canonical string form of the cell, used as the storage
// primary key.
func (g GridCell) Key() string {
	return fmt.Sprintf("%d,%d", g.LatE2, g.LonE2)
}

func (g GridCell) String() string {
	c := g.Center()
	return fmt.Sprintf("(%.2f,%.2f)", c.Lat, c.Lon)
}
