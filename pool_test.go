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
)

func testOperators(t *testing.T) (m *InterpMatrix, pool, unpool *Operator) {
	t.Helper()
	raw, src, dst := fourToTwo()
	m, err := BuildMatrix(raw, src, dst, 0)
	if err != nil {
		t.Fatal(err)
	}
	pool, unpool, err = m.Operators(0)
	if err != nil {
		t.Fatal(err)
	}
	return m, pool, unpool
}

func TestOperators(t *testing.T) {
	_, pool, unpool := testOperators(t)

	wantPool := map[[2]int]float64{
		{0, 0}: 0.25, {0, 1}: 0.75,
		{1, 2}: 0.75, {1, 3}: 0.25,
	}
	for ij, v := range wantPool {
		if got := pool.M.Get(ij[0], ij[1]); different(got, v, testTolerance) {
			t.Errorf("pool[%d,%d] = %g, want %g", ij[0], ij[1], got, v)
		}
	}
	// Each source pixel overlaps exactly one destination pixel here,
	// so every unpool entry is 1.
	wantUnpool := map[[2]int]float64{
		{0, 0}: 1, {1, 0}: 1, {2, 1}: 1, {3, 1}: 1,
	}
	for ij, v := range wantUnpool {
		if got := unpool.M.Get(ij[0], ij[1]); different(got, v, testTolerance) {
			t.Errorf("unpool[%d,%d] = %g, want %g", ij[0], ij[1], got, v)
		}
	}
	for _, o := range []*Operator{pool, unpool} {
		for i, s := range rowSums(o.M) {
			if different(s, 1, testTolerance) {
				t.Errorf("row %d of %s→%s sums to %g, want 1", i, o.In, o.Out, s)
			}
		}
	}
}

func TestOperatorsOrphans(t *testing.T) {
	raw, src, dst := fourToTwo()
	m, err := BuildMatrix(raw, src, dst, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Zero out row 1: destination pixel 1 receives nothing.
	orphanDst := &InterpMatrix{W: m.W.Copy(), Src: src, Dst: dst}
	delete(orphanDst.W.Elements, orphanDst.W.Index1d(1, 2))
	delete(orphanDst.W.Elements, orphanDst.W.Index1d(1, 3))
	_, _, err = orphanDst.Operators(0)
	if e, ok := err.(*OrphanDestinationPixelError); !ok {
		t.Errorf("error is %T (%v), want *OrphanDestinationPixelError", err, err)
	} else if e.Index != 1 {
		t.Errorf("error names pixel %d, want 1", e.Index)
	}

	// Zero out column 2: source pixel 2 contributes nothing.
	orphanSrc := &InterpMatrix{W: m.W.Copy(), Src: src, Dst: dst}
	delete(orphanSrc.W.Elements, orphanSrc.W.Index1d(1, 2))
	_, _, err = orphanSrc.Operators(0)
	if e, ok := err.(*OrphanSourcePixelError); !ok {
		t.Errorf("error is %T (%v), want *OrphanSourcePixelError", err, err)
	} else if e.Index != 2 {
		t.Errorf("error names pixel %d, want 2", e.Index)
	}
}

func TestApply(t *testing.T) {
	_, pool, unpool := testOperators(t)

	// A constant field is a fixed point of any row-stochastic
	// operator.
	constant := []float64{3, 3, 3, 3}
	out, err := pool.Apply(constant)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if different(v, 3, testTolerance) {
			t.Errorf("pooled constant: pixel %d is %g, want 3", i, v)
		}
	}
	back, err := unpool.Apply(out)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range back {
		if different(v, 3, testTolerance) {
			t.Errorf("unpooled constant: pixel %d is %g, want 3", i, v)
		}
	}

	if _, err := pool.Apply([]float64{1, 2}); err == nil {
		t.Error("expected error for a signal of the wrong length")
	}
}

func TestPoolConservesIntegral(t *testing.T) {
	_, pool, _ := testOperators(t)
	signal := []float64{1, 2, 3, 4}
	fine, err := Integral(signal, pool.In)
	if err != nil {
		t.Fatal(err)
	}
	pooled, err := pool.Apply(signal)
	if err != nil {
		t.Fatal(err)
	}
	coarse, err := Integral(pooled, pool.Out)
	if err != nil {
		t.Fatal(err)
	}
	if different(fine, coarse, testTolerance) {
		t.Errorf("pooling changed the integral from %g to %g", fine, coarse)
	}
	if _, err := Integral(signal, pool.Out); err == nil {
		t.Error("expected error for a signal of the wrong length")
	}
}

func TestIntegral(t *testing.T) {
	g := syntheticGrid("g", []float64{math.Pi, 3 * math.Pi})
	got, err := Integral([]float64{2, 4}, g)
	if err != nil {
		t.Fatal(err)
	}
	if different(got, 14*math.Pi, testTolerance) {
		t.Errorf("integral is %g, want %g", got, 14*math.Pi)
	}
}
