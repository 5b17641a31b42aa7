/*
Copyright © 2021 the SphereMap authors.
This file is part of SphereMap.

SphereMap is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SphereMap is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SphereMap.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package spheremap builds and validates sparse conservative-remapping
// matrices between point samplings of the sphere, and derives the
// pooling and unpooling operators that map signals between resolution
// levels of a sampling hierarchy.
package spheremap

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
	"gonum.org/v1/gonum/integrate/quad"
)

// Scheme identifies a spherical sampling scheme.
type Scheme string

// The supported sampling schemes. Each is parameterized by a single
// resolution integer whose meaning is scheme-specific: the number of
// latitude rings (Equiangular, GaussLegendre), the HEALPix nside,
// the subdivision depth (Icosahedral), the number of cells along a
// cube-face edge (CubedSphere), or the point count (Random).
const (
	Equiangular   Scheme = "equiangular"
	HEALPix       Scheme = "healpix"
	Icosahedral   Scheme = "icosahedral"
	CubedSphere   Scheme = "cubedsphere"
	GaussLegendre Scheme = "gausslegendre"
	Random        Scheme = "random"
)

const (
	// DefaultAreaTolerance is the default relative tolerance for the
	// requirement that cell areas sum to the sphere surface area.
	DefaultAreaTolerance = 1.e-6

	sphereArea = 4 * math.Pi
)

// InvalidSamplingError means a sampling scheme was requested with a
// resolution it does not support, or that the constructed cell areas
// failed to account for the whole sphere.
type InvalidSamplingError struct {
	Scheme     Scheme
	Resolution int
	Reason     string
}

func (e *InvalidSamplingError) Error() string {
	return fmt.Sprintf("spheremap: invalid sampling %s-%d: %s",
		e.Scheme, e.Resolution, e.Reason)
}

// SphereGrid is an ordered point sampling of the unit sphere. The
// index of a point within Points is its permanent identifier for the
// lifetime of the grid. Grids are constructed once per scheme and
// resolution and must not be mutated afterwards; every derived matrix
// and operator holds a reference to its endpoint grids.
type SphereGrid struct {
	Scheme     Scheme
	Resolution int

	// Points holds the cell center coordinates, with X the longitude
	// and Y the latitude, both in degrees.
	Points []geom.Point

	// CellArea holds the area of each point's cell in steradians.
	// The areas sum to 4π within the construction tolerance.
	CellArea []float64
}

// NewGrid constructs the sampling for the given scheme and resolution,
// checking areas against DefaultAreaTolerance.
func NewGrid(scheme Scheme, resolution int) (*SphereGrid, error) {
	return NewGridTolerance(scheme, resolution, DefaultAreaTolerance)
}

// NewGridTolerance is like NewGrid but with a caller-chosen relative
// tolerance for the total-area check.
func NewGridTolerance(scheme Scheme, resolution int, areaTolerance float64) (*SphereGrid, error) {
	var g *SphereGrid
	var err error
	switch scheme {
	case Equiangular:
		g, err = newEquiangular(resolution)
	case HEALPix:
		g, err = newHEALPix(resolution)
	case Icosahedral:
		g, err = newIcosahedral(resolution)
	case CubedSphere:
		g, err = newCubedSphere(resolution)
	case GaussLegendre:
		g, err = newGaussLegendre(resolution)
	case Random:
		g, err = newRandom(resolution)
	default:
		return nil, &InvalidSamplingError{Scheme: scheme, Resolution: resolution,
			Reason: "unknown scheme"}
	}
	if err != nil {
		return nil, err
	}
	if err := g.CheckArea(areaTolerance); err != nil {
		return nil, err
	}
	return g, nil
}

// Size returns the number of points in the grid.
func (g *SphereGrid) Size() int { return len(g.Points) }

func (g *SphereGrid) String() string {
	return fmt.Sprintf("%s-%d", g.Scheme, g.Resolution)
}

// CheckArea verifies that every cell area is positive and that the
// areas sum to 4π within the given relative tolerance.
func (g *SphereGrid) CheckArea(tolerance float64) error {
	if tolerance <= 0 {
		tolerance = DefaultAreaTolerance
	}
	if len(g.Points) != len(g.CellArea) {
		return &InvalidSamplingError{Scheme: g.Scheme, Resolution: g.Resolution,
			Reason: fmt.Sprintf("%d points but %d cell areas",
				len(g.Points), len(g.CellArea))}
	}
	sum := 0.
	for i, a := range g.CellArea {
		if a <= 0 {
			return &InvalidSamplingError{Scheme: g.Scheme, Resolution: g.Resolution,
				Reason: fmt.Sprintf("cell %d has non-positive area %g", i, a)}
		}
		sum += a
	}
	if math.Abs(sum-sphereArea)/sphereArea > tolerance {
		return &InvalidSamplingError{Scheme: g.Scheme, Resolution: g.Resolution,
			Reason: fmt.Sprintf("cell areas sum to %g instead of 4π "+
				"(relative deviation %g, tolerance %g)",
				sum, math.Abs(sum-sphereArea)/sphereArea, tolerance)}
	}
	return nil
}

// WriteToShp writes the sampling to a point shapefile in directory
// outdir, with the point index and cell area as attributes.
func (g *SphereGrid) WriteToShp(outdir string) error {
	name := g.String()
	for _, ext := range []string{".shp", ".prj", ".dbf", ".shx"} {
		os.Remove(filepath.Join(outdir, name+ext))
	}
	fields := make([]goshp.Field, 2)
	fields[0] = goshp.NumberField("index", 10)
	fields[1] = goshp.FloatField("area", 16, 10)
	shpf, err := shp.NewEncoderFromFields(filepath.Join(outdir, name+".shp"),
		goshp.POINT, fields...)
	if err != nil {
		return fmt.Errorf("spheremap: creating shapefile for grid %s: %v", g, err)
	}
	for i, p := range g.Points {
		if err := shpf.EncodeFields(p, i, g.CellArea[i]); err != nil {
			return err
		}
	}
	shpf.Close()
	return nil
}

// normLon wraps a longitude in degrees into [-180, 180).
func normLon(lon float64) float64 {
	for lon >= 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// newEquiangular creates a regular longitude-latitude sampling with
// nlat latitude rings and 2·nlat longitudes per ring. Cell areas are
// the exact areas of the bounding longitude-latitude boxes, so bands
// near the poles are much smaller than bands at the equator.
func newEquiangular(nlat int) (*SphereGrid, error) {
	if nlat < 2 {
		return nil, &InvalidSamplingError{Scheme: Equiangular, Resolution: nlat,
			Reason: "at least 2 latitude rings are required"}
	}
	nlon := 2 * nlat
	g := &SphereGrid{
		Scheme:     Equiangular,
		Resolution: nlat,
		Points:     make([]geom.Point, 0, nlat*nlon),
		CellArea:   make([]float64, 0, nlat*nlon),
	}
	dLat := 180. / float64(nlat)
	dLon := 360. / float64(nlon)
	for i := 0; i < nlat; i++ {
		south := -90. + float64(i)*dLat
		north := south + dLat
		band := 2 * math.Pi / float64(nlon) *
			(math.Sin(north*math.Pi/180) - math.Sin(south*math.Pi/180))
		lat := south + dLat/2
		for j := 0; j < nlon; j++ {
			lon := normLon(-180. + (float64(j)+0.5)*dLon)
			g.Points = append(g.Points, geom.Point{X: lon, Y: lat})
			g.CellArea = append(g.CellArea, band)
		}
	}
	return g, nil
}

// newGaussLegendre creates a Gauss–Legendre sampling: nlat rings at
// the Legendre nodes in sin(latitude) and 2·nlat longitudes per ring.
// Cell areas are the quadrature weights scaled by the longitude step,
// so integrating a signal against the areas is the spectral-transform
// quadrature rule.
func newGaussLegendre(nlat int) (*SphereGrid, error) {
	if nlat < 2 {
		return nil, &InvalidSamplingError{Scheme: GaussLegendre, Resolution: nlat,
			Reason: "at least 2 latitude rings are required"}
	}
	nlon := 2 * nlat
	x := make([]float64, nlat)
	w := make([]float64, nlat)
	quad.Legendre{}.FixedLocations(x, w, -1, 1)
	g := &SphereGrid{
		Scheme:     GaussLegendre,
		Resolution: nlat,
		Points:     make([]geom.Point, 0, nlat*nlon),
		CellArea:   make([]float64, 0, nlat*nlon),
	}
	dLon := 360. / float64(nlon)
	for i := 0; i < nlat; i++ {
		lat := math.Asin(x[i]) * 180 / math.Pi
		area := w[i] * 2 * math.Pi / float64(nlon)
		for j := 0; j < nlon; j++ {
			lon := normLon(-180. + (float64(j)+0.5)*dLon)
			g.Points = append(g.Points, geom.Point{X: lon, Y: lat})
			g.CellArea = append(g.CellArea, area)
		}
	}
	return g, nil
}

// cubeCornerArea is the solid angle of the gnomonic-projection region
// [0,x]×[0,y] on a cube face tangent to the unit sphere.
func cubeCornerArea(x, y float64) float64 {
	return math.Atan2(x*y, math.Sqrt(1+x*x+y*y))
}

// cubeFacePoint maps tangent-plane coordinates (x, y) on face f of the
// circumscribing cube to a direction vector.
func cubeFacePoint(f int, x, y float64) (px, py, pz float64) {
	switch f {
	case 0: // +X
		return 1, x, y
	case 1: // +Y
		return -x, 1, y
	case 2: // -X
		return -1, -x, y
	case 3: // -Y
		return x, -1, y
	case 4: // +Z
		return -y, x, 1
	default: // -Z
		return y, x, -1
	}
}

// newCubedSphere creates an equal-angle gnomonic cubed-sphere
// sampling with c×c cells on each of the six faces. Cell areas are
// the exact solid angles of the gnomonic cells.
func newCubedSphere(c int) (*SphereGrid, error) {
	if c < 1 {
		return nil, &InvalidSamplingError{Scheme: CubedSphere, Resolution: c,
			Reason: "at least 1 cell per cube edge is required"}
	}
	n := 6 * c * c
	g := &SphereGrid{
		Scheme:     CubedSphere,
		Resolution: c,
		Points:     make([]geom.Point, 0, n),
		CellArea:   make([]float64, 0, n),
	}
	dα := (math.Pi / 2) / float64(c)
	for f := 0; f < 6; f++ {
		for i := 0; i < c; i++ {
			α0 := -math.Pi/4 + float64(i)*dα
			α1 := α0 + dα
			x0, x1 := math.Tan(α0), math.Tan(α1)
			xc := math.Tan(α0 + dα/2)
			for j := 0; j < c; j++ {
				β0 := -math.Pi/4 + float64(j)*dα
				β1 := β0 + dα
				y0, y1 := math.Tan(β0), math.Tan(β1)
				yc := math.Tan(β0 + dα/2)

				area := cubeCornerArea(x1, y1) - cubeCornerArea(x0, y1) -
					cubeCornerArea(x1, y0) + cubeCornerArea(x0, y0)

				px, py, pz := cubeFacePoint(f, xc, yc)
				r := math.Sqrt(px*px + py*py + pz*pz)
				lat := math.Asin(pz/r) * 180 / math.Pi
				lon := normLon(math.Atan2(py, px) * 180 / math.Pi)
				g.Points = append(g.Points, geom.Point{X: lon, Y: lat})
				g.CellArea = append(g.CellArea, area)
			}
		}
	}
	return g, nil
}

// newRandom creates n points drawn uniformly from the sphere surface
// with a seed fixed by n, so a given resolution always produces the
// same sampling. Cell areas are the uniform estimate 4π/n; the exact
// Voronoi areas are the remap service's concern, not ours.
func newRandom(n int) (*SphereGrid, error) {
	if n < 2 {
		return nil, &InvalidSamplingError{Scheme: Random, Resolution: n,
			Reason: "at least 2 points are required"}
	}
	rng := rand.New(rand.NewSource(int64(n)))
	g := &SphereGrid{
		Scheme:     Random,
		Resolution: n,
		Points:     make([]geom.Point, n),
		CellArea:   make([]float64, n),
	}
	area := sphereArea / float64(n)
	for i := 0; i < n; i++ {
		z := 2*rng.Float64() - 1
		lat := math.Asin(z) * 180 / math.Pi
		lon := normLon(360*rng.Float64() - 180)
		g.Points[i] = geom.Point{X: lon, Y: lat}
		g.CellArea[i] = area
	}
	return g, nil
}
