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

	"github.com/ctessum/sparse"
)

// OrphanDestinationPixelError means some destination pixel receives no
// overlap from any source pixel, so no pooling operator can be
// normalized for it.
type OrphanDestinationPixelError struct {
	Index int
}

func (e *OrphanDestinationPixelError) Error() string {
	return fmt.Sprintf("spheremap: destination pixel %d has zero overlap "+
		"with every source pixel", e.Index)
}

// OrphanSourcePixelError means some source pixel contributes to no
// destination pixel, so no unpooling operator can be normalized
// for it.
type OrphanSourcePixelError struct {
	Index int
}

func (e *OrphanSourcePixelError) Error() string {
	return fmt.Sprintf("spheremap: source pixel %d has zero overlap "+
		"with every destination pixel", e.Index)
}

// Operator is a row-stochastic linear operator mapping a per-pixel
// signal on the In grid to one on the Out grid. Consumers apply it as
// a fixed, non-trainable layer, once per channel.
type Operator struct {
	M       *sparse.SparseArray // shape (Out.Size(), In.Size())
	In, Out *SphereGrid
}

// Operators derives the pooling and unpooling operator pair from an
// interpolation matrix. Pool maps a signal on the source (finer) grid
// to the destination (coarser) grid by row-normalizing the matrix;
// Unpool maps the other way by column-normalizing and transposing.
// Both are verified to be row-stochastic before being returned.
//
// Whether unpooling would better be the pseudo-inverse of pooling for
// non-nested samplings is an open question; column normalization is
// what is implemented.
func (m *InterpMatrix) Operators(tol float64) (pool, unpool *Operator, err error) {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	nd, ns := m.W.Shape[0], m.W.Shape[1]

	rows := rowSums(m.W)
	for i, s := range rows {
		if s == 0 {
			return nil, nil, &OrphanDestinationPixelError{Index: i}
		}
	}
	cols := colSums(m.W)
	for j, s := range cols {
		if s == 0 {
			return nil, nil, &OrphanSourcePixelError{Index: j}
		}
	}

	p := sparse.ZerosSparse(nd, ns)
	u := sparse.ZerosSparse(ns, nd)
	for idx, v := range m.W.Elements {
		i, j := idx/ns, idx%ns
		p.Set(v/rows[i], i, j)
		u.Set(v/cols[j], j, i)
	}

	pool = &Operator{M: p, In: m.Src, Out: m.Dst}
	unpool = &Operator{M: u, In: m.Dst, Out: m.Src}
	if err := pool.checkRowStochastic(tol, "pool row"); err != nil {
		return nil, nil, err
	}
	if err := unpool.checkRowStochastic(tol, "unpool row"); err != nil {
		return nil, nil, err
	}
	return pool, unpool, nil
}

// checkRowStochastic verifies that every row of the operator sums
// to 1 within the given relative tolerance.
func (o *Operator) checkRowStochastic(tol float64, axis string) error {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	ones := make([]float64, o.M.Shape[0])
	for i := range ones {
		ones[i] = 1
	}
	return compareSums(rowSums(o.M), ones, axis, tol)
}

// Apply maps a signal on the In grid to the Out grid.
func (o *Operator) Apply(signal []float64) ([]float64, error) {
	if len(signal) != o.In.Size() {
		return nil, fmt.Errorf("spheremap: signal has %d values but grid %s has %d points",
			len(signal), o.In, o.In.Size())
	}
	nIn := o.M.Shape[1]
	out := make([]float64, o.M.Shape[0])
	for idx, v := range o.M.Elements {
		out[idx/nIn] += v * signal[idx%nIn]
	}
	return out, nil
}

// Integral is the area integral of a per-pixel signal over a grid.
// Pooling an area-weighted conservative matrix preserves this
// quantity; the diagnostics report uses it as a cross-check.
func Integral(signal []float64, g *SphereGrid) (float64, error) {
	if len(signal) != g.Size() {
		return 0, fmt.Errorf("spheremap: signal has %d values but grid %s has %d points",
			len(signal), g, g.Size())
	}
	sum := 0.
	for i, v := range signal {
		sum += v * g.CellArea[i]
	}
	return sum, nil
}
