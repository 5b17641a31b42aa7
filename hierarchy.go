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
	"context"
	"fmt"
)

// Hierarchy is an ordered sequence of grids from finest to coarsest
// with one interpolation matrix and derived operator pair per
// consecutive level transition. Index k describes the transition from
// level k down to level k+1.
type Hierarchy struct {
	Grids    []*SphereGrid
	Matrices []*InterpMatrix
	Pools    []*Operator
	Unpools  []*Operator

	tol float64
}

// NewHierarchy builds a hierarchy over the given grids, ordered
// finest to coarsest. The level transitions are independent, so they
// are computed concurrently; each matrix and operator is written
// exactly once by the worker that owns its transition.
func NewHierarchy(ctx context.Context, b *Builder, grids []*SphereGrid, tol float64) (*Hierarchy, error) {
	if len(grids) < 2 {
		return nil, fmt.Errorf("spheremap: a hierarchy needs at least 2 levels; got %d",
			len(grids))
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}
	n := len(grids) - 1
	h := &Hierarchy{
		Grids:    grids,
		Matrices: make([]*InterpMatrix, n),
		Pools:    make([]*Operator, n),
		Unpools:  make([]*Operator, n),
		tol:      tol,
	}
	errChan := make(chan error)
	for k := 0; k < n; k++ {
		go func(k int) {
			m, err := b.Matrix(ctx, grids[k], grids[k+1])
			if err != nil {
				errChan <- fmt.Errorf("spheremap: hierarchy level %d→%d: %v", k, k+1, err)
				return
			}
			pool, unpool, err := m.Operators(tol)
			if err != nil {
				errChan <- fmt.Errorf("spheremap: hierarchy level %d→%d: %v", k, k+1, err)
				return
			}
			h.Matrices[k], h.Pools[k], h.Unpools[k] = m, pool, unpool
			errChan <- nil
		}(k)
	}
	var firstErr error
	for k := 0; k < n; k++ {
		if err := <-errChan; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return h, nil
}

// Levels returns the number of levels in the hierarchy.
func (h *Hierarchy) Levels() int { return len(h.Grids) }

func (h *Hierarchy) checkSpan(from, to int) error {
	if from < 0 || to >= len(h.Grids) || from >= to {
		return fmt.Errorf("spheremap: invalid level span %d→%d in a %d-level hierarchy",
			from, to, len(h.Grids))
	}
	return nil
}

// ChainedPool composes the per-transition pooling operators to map a
// signal from level `from` down to level `to`. Chaining through
// intermediate levels is generally not equivalent to a direct remap
// between the endpoints, because a destination footprint can span
// several intermediate-level parents; the chained operator is still
// required to be row-stochastic, and that is checked, not assumed.
func (h *Hierarchy) ChainedPool(from, to int) (*Operator, error) {
	if err := h.checkSpan(from, to); err != nil {
		return nil, err
	}
	m := h.Pools[from].M
	for k := from + 1; k < to; k++ {
		m = matMul(h.Pools[k].M, m)
	}
	op := &Operator{M: m, In: h.Grids[from], Out: h.Grids[to]}
	if err := op.checkRowStochastic(h.tol, fmt.Sprintf("chained pool %d→%d row", from, to)); err != nil {
		return nil, err
	}
	return op, nil
}

// ChainedUnpool composes the per-transition unpooling operators to
// map a signal from level `to` back up to level `from`.
func (h *Hierarchy) ChainedUnpool(from, to int) (*Operator, error) {
	if err := h.checkSpan(from, to); err != nil {
		return nil, err
	}
	m := h.Unpools[from].M
	for k := from + 1; k < to; k++ {
		m = matMul(m, h.Unpools[k].M)
	}
	op := &Operator{M: m, In: h.Grids[to], Out: h.Grids[from]}
	if err := op.checkRowStochastic(h.tol, fmt.Sprintf("chained unpool %d→%d row", to, from)); err != nil {
		return nil, err
	}
	return op, nil
}

// CompareDirect computes a direct interpolation matrix between levels
// `from` and `to` and reports the largest elementwise difference
// between the directly-derived pooling operator and the chained one.
// A nonzero difference is an expected property of chaining, recorded
// as a diagnostic and never reconciled.
func (h *Hierarchy) CompareDirect(ctx context.Context, b *Builder, from, to int) (float64, error) {
	chained, err := h.ChainedPool(from, to)
	if err != nil {
		return 0, err
	}
	direct, err := b.Matrix(ctx, h.Grids[from], h.Grids[to])
	if err != nil {
		return 0, err
	}
	directPool, _, err := direct.Operators(h.tol)
	if err != nil {
		return 0, err
	}
	return maxAbsDiff(chained.M, directPool.M), nil
}
