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

package spheremap

import (
	"math"

	"github.com/ctessum/geom"
)

type vec3 struct{ x, y, z float64 }

func (v vec3) normalized() vec3 {
	r := math.Sqrt(v.x*v.x + v.y*v.y + v.z*v.z)
	return vec3{v.x / r, v.y / r, v.z / r}
}

// newIcosahedral creates a geodesic sampling from an icosahedron whose
// triangular faces have been subdivided s times, with every vertex
// projected onto the sphere. The vertex count is 10·4^s + 2. Cell
// areas use the uniform estimate 4π/N; like the random sampling, the
// exact Voronoi areas are left to the remap service.
func newIcosahedral(s int) (*SphereGrid, error) {
	if s < 0 || s > 10 {
		return nil, &InvalidSamplingError{Scheme: Icosahedral, Resolution: s,
			Reason: "subdivision depth must be between 0 and 10"}
	}
	verts, faces := icosahedron()
	for i := 0; i < s; i++ {
		verts, faces = subdivide(verts, faces)
	}
	n := len(verts)
	g := &SphereGrid{
		Scheme:     Icosahedral,
		Resolution: s,
		Points:     make([]geom.Point, n),
		CellArea:   make([]float64, n),
	}
	area := sphereArea / float64(n)
	for i, v := range verts {
		lat := math.Asin(v.z) * 180 / math.Pi
		lon := normLon(math.Atan2(v.y, v.x) * 180 / math.Pi)
		g.Points[i] = geom.Point{X: lon, Y: lat}
		g.CellArea[i] = area
	}
	return g, nil
}

// icosahedron returns the 12 unit vertices and 20 faces of a regular
// icosahedron.
func icosahedron() ([]vec3, [][3]int) {
	t := (1 + math.Sqrt(5)) / 2
	raw := []vec3{
		{-1, t, 0}, {1, t, 0}, {-1, -t, 0}, {1, -t, 0},
		{0, -1, t}, {0, 1, t}, {0, -1, -t}, {0, 1, -t},
		{t, 0, -1}, {t, 0, 1}, {-t, 0, -1}, {-t, 0, 1},
	}
	verts := make([]vec3, len(raw))
	for i, v := range raw {
		verts[i] = v.normalized()
	}
	faces := [][3]int{
		{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
		{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
		{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
		{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
	}
	return verts, faces
}

// subdivide splits every triangle into four, deduplicating the new
// edge-midpoint vertices so shared edges stay shared.
func subdivide(verts []vec3, faces [][3]int) ([]vec3, [][3]int) {
	type edge struct{ a, b int }
	midpoints := make(map[edge]int)
	midpoint := func(a, b int) int {
		if a > b {
			a, b = b, a
		}
		if idx, ok := midpoints[edge{a, b}]; ok {
			return idx
		}
		va, vb := verts[a], verts[b]
		m := vec3{va.x + vb.x, va.y + vb.y, va.z + vb.z}.normalized()
		verts = append(verts, m)
		idx := len(verts) - 1
		midpoints[edge{a, b}] = idx
		return idx
	}
	out := make([][3]int, 0, 4*len(faces))
	for _, f := range faces {
		ab := midpoint(f[0], f[1])
		bc := midpoint(f[1], f[2])
		ca := midpoint(f[2], f[0])
		out = append(out,
			[3]int{f[0], ab, ca},
			[3]int{f[1], bc, ab},
			[3]int{f[2], ca, bc},
			[3]int{ab, bc, ca},
		)
	}
	return verts, out
}
