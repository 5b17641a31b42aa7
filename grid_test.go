/*
Copyright © 2026 the SphereMap authors.
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

package spheremap

import (
	"math"
	"reflect"
	"testing"
)

const testTolerance = 1.e-9

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

func absDifferent(a, b, tolerance float64) bool {
	return math.Abs(a-b) > tolerance
}

func TestGridSizes(t *testing.T) {
	tests := []struct {
		scheme     Scheme
		resolution int
		size       int
	}{
		{Equiangular, 4, 32},   // 4 rings × 8 longitudes
		{HEALPix, 1, 12},
		{HEALPix, 2, 48},
		{Icosahedral, 0, 12},
		{Icosahedral, 2, 162},  // 10·4² + 2
		{CubedSphere, 3, 54},   // 6 faces × 3×3
		{GaussLegendre, 4, 32},
		{Random, 100, 100},
	}
	for _, test := range tests {
		g, err := NewGrid(test.scheme, test.resolution)
		if err != nil {
			t.Errorf("%s-%d: %v", test.scheme, test.resolution, err)
			continue
		}
		if g.Size() != test.size {
			t.Errorf("%s: size is %d, want %d", g, g.Size(), test.size)
		}
		if len(g.CellArea) != g.Size() {
			t.Errorf("%s: %d areas for %d points", g, len(g.CellArea), g.Size())
		}
	}
}

func TestGridAreas(t *testing.T) {
	tests := []struct {
		scheme     Scheme
		resolution int
	}{
		{Equiangular, 6},
		{HEALPix, 4},
		{Icosahedral, 3},
		{CubedSphere, 4},
		{GaussLegendre, 6},
		{Random, 500},
	}
	for _, test := range tests {
		g, err := NewGrid(test.scheme, test.resolution)
		if err != nil {
			t.Errorf("%s-%d: %v", test.scheme, test.resolution, err)
			continue
		}
		sum := 0.
		for i, a := range g.CellArea {
			if a <= 0 {
				t.Errorf("%s: cell %d has non-positive area %g", g, i, a)
			}
			sum += a
		}
		if different(sum, 4*math.Pi, testTolerance) {
			t.Errorf("%s: areas sum to %g, want 4π", g, sum)
		}
		for i, p := range g.Points {
			if p.X < -180 || p.X >= 180 || p.Y < -90 || p.Y > 90 {
				t.Errorf("%s: point %d (%g, %g) out of range", g, i, p.X, p.Y)
			}
		}
	}
}

func TestHEALPixRings(t *testing.T) {
	g, err := NewGrid(HEALPix, 1)
	if err != nil {
		t.Fatal(err)
	}
	capLat := math.Asin(2./3.) * 180 / math.Pi
	want := []struct{ lon, lat float64 }{
		{45, capLat}, {135, capLat}, {-135, capLat}, {-45, capLat},
		{0, 0}, {90, 0}, {-180, 0}, {-90, 0},
		{45, -capLat}, {135, -capLat}, {-135, -capLat}, {-45, -capLat},
	}
	for i, w := range want {
		p := g.Points[i]
		if absDifferent(p.X, w.lon, 1.e-12) || absDifferent(p.Y, w.lat, 1.e-12) {
			t.Errorf("pixel %d is (%g, %g), want (%g, %g)", i, p.X, p.Y, w.lon, w.lat)
		}
	}
}

func TestInvalidSampling(t *testing.T) {
	tests := []struct {
		scheme     Scheme
		resolution int
	}{
		{HEALPix, 0},
		{HEALPix, 3}, // not a power of two
		{HEALPix, -4},
		{Equiangular, 1},
		{GaussLegendre, 0},
		{Icosahedral, -1},
		{Icosahedral, 11},
		{CubedSphere, 0},
		{Random, 1},
		{Scheme("octahedral"), 4},
	}
	for _, test := range tests {
		_, err := NewGrid(test.scheme, test.resolution)
		if err == nil {
			t.Errorf("%s-%d: expected error", test.scheme, test.resolution)
			continue
		}
		if _, ok := err.(*InvalidSamplingError); !ok {
			t.Errorf("%s-%d: error is %T, want *InvalidSamplingError",
				test.scheme, test.resolution, err)
		}
	}
}

func TestRandomDeterminism(t *testing.T) {
	a, err := NewGrid(Random, 50)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewGrid(Random, 50)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Points, b.Points) {
		t.Error("two random samplings at the same resolution differ")
	}
}

func TestGridString(t *testing.T) {
	g, err := NewGrid(HEALPix, 4)
	if err != nil {
		t.Fatal(err)
	}
	if g.String() != "healpix-4" {
		t.Errorf("String() = %q, want %q", g.String(), "healpix-4")
	}
}

func TestCheckArea(t *testing.T) {
	g, err := NewGrid(HEALPix, 2)
	if err != nil {
		t.Fatal(err)
	}
	g.CellArea[0] *= 2
	if err := g.CheckArea(1.e-6); err == nil {
		t.Error("expected error after perturbing an area")
	}
	g.CellArea[0] = -g.CellArea[0]
	if err := g.CheckArea(1.e-6); err == nil {
		t.Error("expected error for a negative area")
	}
}

func TestWriteToShp(t *testing.T) {
	g, err := NewGrid(Icosahedral, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.WriteToShp(t.TempDir()); err != nil {
		t.Fatal(err)
	}
}
