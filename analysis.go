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
	"fmt"

	"github.com/GaryBoone/GoStats/stats"
)

// RoundTripError returns, for each coarse pixel, the fraction of its
// signal that does not return to it after unpooling and pooling
// again: 1 − diag(Pool·Unpool). It is exactly zero everywhere iff no
// coarse pixel's source footprint overlaps another's, which holds for
// exactly nested samplings (true HEALPix parent/child pixels) but not
// for Voronoi-cell approximations.
func RoundTripError(pool, unpool *Operator) ([]float64, error) {
	nd, ns := pool.M.Shape[0], pool.M.Shape[1]
	if unpool.M.Shape[0] != ns || unpool.M.Shape[1] != nd {
		return nil, fmt.Errorf("spheremap: pool shape %v and unpool shape %v "+
			"are not transposes", pool.M.Shape, unpool.M.Shape)
	}
	diag := make([]float64, nd)
	for idx, p := range pool.M.Elements {
		i, j := idx/ns, idx%ns
		diag[i] += p * unpool.M.Get(j, i)
	}
	out := make([]float64, nd)
	for i, d := range diag {
		out[i] = 1 - d
	}
	return out, nil
}

// MixingFraction summarizes RoundTripError as the mean fraction of
// signal irreducibly blended across pixels by an unpool-then-pool
// round trip.
func MixingFraction(pool, unpool *Operator) (float64, error) {
	rt, err := RoundTripError(pool, unpool)
	if err != nil {
		return 0, err
	}
	var s stats.Stats
	for _, v := range rt {
		s.Update(v)
	}
	return s.Mean(), nil
}

// DegreeStats summarizes the bipartite overlap graph of an
// interpolation matrix: how many source pixels each destination pixel
// draws from, and how sparse the matrix is overall.
type DegreeStats struct {
	MinDegree, MaxDegree int
	MeanDegree           float64
	StdDevDegree         float64
	NNZ                  int
	Sparsity             float64 // NNZ / (rows·columns)
}

// DegreeStats computes per-destination degree statistics, used to
// sanity-check a resolution pairing before committing to it.
func (m *InterpMatrix) DegreeStats() DegreeStats {
	nd, ns := m.W.Shape[0], m.W.Shape[1]
	counts := make([]int, nd)
	for idx := range m.W.Elements {
		counts[idx/ns]++
	}
	var s stats.Stats
	for _, c := range counts {
		s.Update(float64(c))
	}
	d := DegreeStats{
		MinDegree:  int(s.Min()),
		MaxDegree:  int(s.Max()),
		MeanDegree: s.Mean(),
		NNZ:        len(m.W.Elements),
		Sparsity:   float64(len(m.W.Elements)) / (float64(nd) * float64(ns)),
	}
	if s.Count() > 1 {
		d.StdDevDegree = s.SampleStandardDeviation()
	}
	return d
}
