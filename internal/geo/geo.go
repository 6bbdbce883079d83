package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/drivelab/copilot-sim/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Corridor positions are stored as planar XY geometry: X is the lateral
// offset from the road center, Y the distance from the start line, both in
// metres. There is no spatial reference system; SQLite keeps the WKB as a blob.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// PointFromPosition converts a corridor position to a planar point.
func PointFromPosition(p core.Position) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.Lateral, Y: p.Distance},
		Type: geom.DimXY,
	})
}

// PositionFromPoint is the inverse of PointFromPosition. An empty point maps to the origin.
func PositionFromPoint(pt geom.Point) core.Position {
	c, ok := pt.Coordinates()
	if !ok {
		return core.Position{}
	}
	return core.Position{Lateral: c.X, Distance: c.Y}
}

// LineStringFromTrajectory builds the vehicle path. Fewer than two samples
// yield an empty line string.
func LineStringFromTrajectory(path []core.Position) geom.LineString {
	if len(path) < 2 {
		return geom.LineString{}
	}
	flat := make([]float64, 0, len(path)*2)
	for _, p := range path {
		flat = append(flat, p.Lateral, p.Distance)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}

// TrajectoryFromLineString is the inverse of LineStringFromTrajectory.
func TrajectoryFromLineString(ls geom.LineString) []core.Position {
	seq := ls.Coordinates()
	n := seq.Length()
	if n == 0 {
		return nil
	}
	path := make([]core.Position, n)
	for i := 0; i < n; i++ {
		xy := seq.GetXY(i)
		path[i] = core.Position{Lateral: xy.X, Distance: xy.Y}
	}
	return path
}

// PositionFromString parses "lateral,distance" as used by the command line.
func PositionFromString(coords string) (core.Position, error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 2 {
		return core.Position{}, ErrInvalidCoordinates
	}
	lateral, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.Position{}, fmt.Errorf("%w: lateral %q", ErrInvalidCoordinates, parts[0])
	}
	distance, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.Position{}, fmt.Errorf("%w: distance %q", ErrInvalidCoordinates, parts[1])
	}
	return core.Position{Lateral: lateral, Distance: distance}, nil
}
