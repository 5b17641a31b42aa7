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
	"testing"

	"github.com/ctessum/sparse"
)

// nestedOperators builds the operator pair for an exactly nested
// 4→2 pooling: each coarse pixel is the union of two equal-area fine
// pixels, and no fine pixel is shared.
func nestedOperators(t *testing.T) (pool, unpool *Operator) {
	t.Helper()
	src := syntheticGrid("fine", []float64{math.Pi, math.Pi, math.Pi, math.Pi})
	dst := syntheticGrid("coarse", []float64{2 * math.Pi, 2 * math.Pi})
	raw := &RawOverlap{
		SrcIndex:  []int{0, 1, 2, 3},
		DstIndex:  []int{0, 0, 1, 1},
		Weight:    []float64{0.5, 0.5, 0.5, 0.5},
		SrcArea:   src.CellArea,
		DstArea:   dst.CellArea,
		SrcMask:   []int{1, 1, 1, 1},
		DstMask:   []int{1, 1},
		SrcCenter: src.Points,
		DstCenter: dst.Points,
	}
	m, err := BuildMatrix(raw, src, dst, 0)
	if err != nil {
		t.Fatal(err)
	}
	pool, unpool, err = m.Operators(0)
	if err != nil {
		t.Fatal(err)
	}
	return pool, unpool
}

func TestRoundTripNested(t *testing.T) {
	pool, unpool := nestedOperators(t)
	rt, err := RoundTripError(pool, unpool)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range rt {
		if absDifferent(v, 0, testTolerance) {
			t.Errorf("round-trip error at pixel %d is %g, want 0", i, v)
		}
	}
	mix, err := MixingFraction(pool, unpool)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(mix, 0, testTolerance) {
		t.Errorf("mixing fraction is %g, want 0", mix)
	}

	// With disjoint footprints, pooling after unpooling is the
	// identity on the coarse grid.
	eye := sparse.ZerosSparse(2, 2)
	eye.Set(1, 0, 0)
	eye.Set(1, 1, 1)
	if d := maxAbsDiff(matMul(pool.M, unpool.M), eye); d > testTolerance {
		t.Errorf("Pool·Unpool differs from the identity by %g", d)
	}
}

func TestRoundTripOverlapping(t *testing.T) {
	// Two coarse pixels that each draw half their area from both of
	// two fine pixels blend the halves irreversibly: half of each
	// coarse pixel's signal ends up in the other after an
	// unpool-then-pool round trip.
	g2a := syntheticGrid("a", []float64{2 * math.Pi, 2 * math.Pi})
	g2b := syntheticGrid("b", []float64{2 * math.Pi, 2 * math.Pi})
	half := sparse.ZerosSparse(2, 2)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			half.Set(0.5, i, j)
		}
	}
	pool := &Operator{M: half, In: g2a, Out: g2b}
	unpool := &Operator{M: half.Copy(), In: g2b, Out: g2a}

	rt, err := RoundTripError(pool, unpool)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range rt {
		if absDifferent(v, 0.5, testTolerance) {
			t.Errorf("round-trip error at pixel %d is %g, want 0.5", i, v)
		}
	}
	mix, err := MixingFraction(pool, unpool)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(mix, 0.5, testTolerance) {
		t.Errorf("mixing fraction is %g, want 0.5", mix)
	}
}

func TestRoundTripShapeMismatch(t *testing.T) {
	pool, _ := nestedOperators(t)
	bad := &Operator{M: sparse.ZerosSparse(3, 2), In: pool.Out, Out: pool.In}
	if _, err := RoundTripError(pool, bad); err == nil {
		t.Error("expected error for non-transposed shapes")
	}
}

func TestDegreeStats(t *testing.T) {
	raw, src, dst := fourToTwo()
	m, err := BuildMatrix(raw, src, dst, 0)
	if err != nil {
		t.Fatal(err)
	}
	ds := m.DegreeStats()
	if ds.MinDegree != 2 || ds.MaxDegree != 2 {
		t.Errorf("degree range is [%d, %d], want [2, 2]", ds.MinDegree, ds.MaxDegree)
	}
	if different(ds.MeanDegree, 2, testTolerance) {
		t.Errorf("mean degree is %g, want 2", ds.MeanDegree)
	}
	if absDifferent(ds.StdDevDegree, 0, testTolerance) {
		t.Errorf("degree standard deviation is %g, want 0", ds.StdDevDegree)
	}
	if ds.NNZ != 4 {
		t.Errorf("NNZ is %d, want 4", ds.NNZ)
	}
	if different(ds.Sparsity, 0.5, testTolerance) {
		t.Errorf("sparsity is %g, want 0.5", ds.Sparsity)
	}
}

func TestDegreeStatsUneven(t *testing.T) {
	w := sparse.ZerosSparse(2, 4)
	w.Set(1, 0, 0)
	w.Set(1, 0, 1)
	w.Set(1, 0, 2)
	w.Set(1, 1, 3)
	m := &InterpMatrix{W: w,
		Src: syntheticGrid("fine", []float64{1, 1, 1, 1}),
		Dst: syntheticGrid("coarse", []float64{3, 1})}
	ds := m.DegreeStats()
	if ds.MinDegree != 1 || ds.MaxDegree != 3 {
		t.Errorf("degree range is [%d, %d], want [1, 3]", ds.MinDegree, ds.MaxDegree)
	}
	if different(ds.MeanDegree, 2, testTolerance) {
		t.Errorf("mean degree is %g, want 2", ds.MeanDegree)
	}
	if different(ds.StdDevDegree, math.Sqrt2, testTolerance) {
		t.Errorf("degree standard deviation is %g, want √2", ds.StdDevDegree)
	}
}
