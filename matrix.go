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
	"math"

	"github.com/ctessum/sparse"
)

// DefaultTolerance is the default relative tolerance for conservation
// checks. Different sampling and resolution combinations warrant
// different slack, so every check takes the tolerance as a parameter
// and falls back to this value when given zero.
const DefaultTolerance = 1.e-6

// UnsupportedMaskError means the remap service reported an invalid
// point. Masked remapping is not supported: every point of both grids
// must participate.
type UnsupportedMaskError struct {
	Grid  string // "source" or "destination"
	Index int
}

func (e *UnsupportedMaskError) Error() string {
	return fmt.Sprintf("spheremap: %s point %d is masked out; "+
		"masked remapping is not supported", e.Grid, e.Index)
}

// AreaMismatchError means the per-point areas reported by the remap
// service disagree with the grid descriptor, indicating the service
// worked on different cell geometry than this engine believes in.
type AreaMismatchError struct {
	Grid      string
	Index     int
	Want, Got float64
	Deviation float64 // relative
	Tolerance float64
}

func (e *AreaMismatchError) Error() string {
	return fmt.Sprintf("spheremap: %s point %d area from remap service (%g) "+
		"does not match grid descriptor (%g): relative deviation %g exceeds %g",
		e.Grid, e.Index, e.Got, e.Want, e.Deviation, e.Tolerance)
}

// NonConservativeRemapError means the fractional weights for some
// destination point do not sum to 1, indicating a geometry or
// coordinate-system mismatch upstream. It is never silently
// corrected; renormalizing here would mask the upstream bug.
type NonConservativeRemapError struct {
	Index     int
	Sum       float64
	Deviation float64
	Tolerance float64
}

func (e *NonConservativeRemapError) Error() string {
	return fmt.Sprintf("spheremap: fractional weights for destination point %d "+
		"sum to %g instead of 1: deviation %g exceeds tolerance %g",
		e.Index, e.Sum, e.Deviation, e.Tolerance)
}

// ConservationViolationError means a row or column sum of a physical
// overlap matrix, or a row sum of a derived stochastic operator,
// failed its conservation check. It reports the worst-offending index.
type ConservationViolationError struct {
	Axis      string
	Index     int
	Want, Got float64
	Deviation float64 // relative
	Tolerance float64
}

func (e *ConservationViolationError) Error() string {
	return fmt.Sprintf("spheremap: %s sum at index %d is %g instead of %g: "+
		"relative deviation %g exceeds tolerance %g",
		e.Axis, e.Index, e.Got, e.Want, e.Deviation, e.Tolerance)
}

// InterpMatrix is a sparse matrix of physical overlap areas between
// two grids: W.Get(i, j) is the area in steradians shared by
// destination cell i and source cell j. Its row sums equal the
// destination cell areas and its column sums equal the source cell
// areas; BuildMatrix refuses to produce a matrix for which that does
// not hold.
type InterpMatrix struct {
	W        *sparse.SparseArray // shape (dst.Size(), src.Size())
	Src, Dst *SphereGrid
}

// BuildMatrix converts validated raw overlap data into an
// interpolation matrix. tol is the relative tolerance used for every
// check; zero selects DefaultTolerance.
//
// The fractional weights are checked for unit row sums before
// physical scaling, and the physical matrix is independently checked
// against both grids' areas afterwards: the two checks together catch
// unit errors and summation bugs that either one alone would miss.
func BuildMatrix(raw *RawOverlap, src, dst *SphereGrid, tol float64) (*InterpMatrix, error) {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	ns, nd := src.Size(), dst.Size()

	for i, m := range raw.SrcMask {
		if m == 0 {
			return nil, &UnsupportedMaskError{Grid: "source", Index: i}
		}
	}
	for i, m := range raw.DstMask {
		if m == 0 {
			return nil, &UnsupportedMaskError{Grid: "destination", Index: i}
		}
	}

	if err := compareAreas(raw.SrcArea, src.CellArea, "source", tol); err != nil {
		return nil, err
	}
	if err := compareAreas(raw.DstArea, dst.CellArea, "destination", tol); err != nil {
		return nil, err
	}

	// Assemble the fractional matrix. The service may emit several
	// fragments for one pixel pair; they accumulate.
	frac := sparse.ZerosSparse(nd, ns)
	for k := range raw.Weight {
		i, j := raw.DstIndex[k], raw.SrcIndex[k]
		if i < 0 || i >= nd {
			return nil, fmt.Errorf("spheremap: overlap entry %d: destination index "+
				"%d out of range [0,%d)", k, i, nd)
		}
		if j < 0 || j >= ns {
			return nil, fmt.Errorf("spheremap: overlap entry %d: source index "+
				"%d out of range [0,%d)", k, j, ns)
		}
		if raw.Weight[k] < 0 {
			return nil, fmt.Errorf("spheremap: overlap entry %d: negative weight %g",
				k, raw.Weight[k])
		}
		frac.AddVal(raw.Weight[k], i, j)
	}

	// Unit row sums under the fractional convention.
	fracRows := rowSums(frac)
	for _, s := range fracRows {
		if math.Abs(s-1) > tol {
			return nil, worstFracRow(fracRows, tol)
		}
	}

	// Scale each row by the destination cell area, undoing the
	// service's row normalization.
	w := sparse.ZerosSparse(nd, ns)
	for idx, v := range frac.Elements {
		ij := frac.IndexNd(idx)
		w.Set(v*dst.CellArea[ij[0]], ij[0], ij[1])
	}

	m := &InterpMatrix{W: w, Src: src, Dst: dst}
	if err := m.checkConservation(tol); err != nil {
		return nil, err
	}
	return m, nil
}

// worstFracRow reports the fractional row with the largest deviation
// from 1, so the error names the most useful pixel to look at.
func worstFracRow(sums []float64, tol float64) error {
	worst := 0
	for i, s := range sums {
		if math.Abs(s-1) > math.Abs(sums[worst]-1) {
			worst = i
		}
	}
	return &NonConservativeRemapError{
		Index:     worst,
		Sum:       sums[worst],
		Deviation: math.Abs(sums[worst] - 1),
		Tolerance: tol,
	}
}

// checkConservation verifies both conservation laws on the physical
// matrix: row sums equal destination areas, column sums equal source
// areas.
func (m *InterpMatrix) checkConservation(tol float64) error {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	if err := compareSums(rowSums(m.W), m.Dst.CellArea, "destination row", tol); err != nil {
		return err
	}
	return compareSums(colSums(m.W), m.Src.CellArea, "source column", tol)
}

// NNZ returns the number of stored nonzero entries.
func (m *InterpMatrix) NNZ() int { return len(m.W.Elements) }

func compareAreas(got, want []float64, which string, tol float64) error {
	if len(got) != len(want) {
		return &AreaMismatchError{Grid: which, Index: -1,
			Want: float64(len(want)), Got: float64(len(got)),
			Deviation: math.Inf(1), Tolerance: tol}
	}
	worst, worstDev := -1, 0.
	for i := range got {
		dev := math.Abs(got[i]-want[i]) / math.Abs(want[i])
		if dev > worstDev {
			worst, worstDev = i, dev
		}
	}
	if worstDev > tol {
		return &AreaMismatchError{Grid: which, Index: worst,
			Want: want[worst], Got: got[worst],
			Deviation: worstDev, Tolerance: tol}
	}
	return nil
}

func compareSums(got, want []float64, axis string, tol float64) error {
	worst, worstDev := -1, 0.
	for i := range got {
		dev := math.Abs(got[i]-want[i]) / math.Abs(want[i])
		if dev > worstDev {
			worst, worstDev = i, dev
		}
	}
	if worstDev > tol {
		return &ConservationViolationError{Axis: axis, Index: worst,
			Want: want[worst], Got: got[worst],
			Deviation: worstDev, Tolerance: tol}
	}
	return nil
}

// rowSums returns the sum of each row of a 2-D sparse array.
func rowSums(a *sparse.SparseArray) []float64 {
	out := make([]float64, a.Shape[0])
	for idx, v := range a.Elements {
		out[idx/a.Shape[1]] += v
	}
	return out
}

// colSums returns the sum of each column of a 2-D sparse array.
func colSums(a *sparse.SparseArray) []float64 {
	out := make([]float64, a.Shape[1])
	for idx, v := range a.Elements {
		out[idx%a.Shape[1]] += v
	}
	return out
}

// matMul multiplies two 2-D sparse arrays.
func matMul(a, b *sparse.SparseArray) *sparse.SparseArray {
	if a.Shape[1] != b.Shape[0] {
		panic(fmt.Errorf("spheremap: cannot multiply %v by %v", a.Shape, b.Shape))
	}
	out := sparse.ZerosSparse(a.Shape[0], b.Shape[1])
	// Group the right factor by row so each left entry only visits
	// compatible entries.
	bRows := make([][]int, b.Shape[0])
	for idx := range b.Elements {
		r := idx / b.Shape[1]
		bRows[r] = append(bRows[r], idx)
	}
	for idx, av := range a.Elements {
		i, k := idx/a.Shape[1], idx%a.Shape[1]
		for _, bidx := range bRows[k] {
			j := bidx % b.Shape[1]
			out.AddVal(av*b.Elements[bidx], i, j)
		}
	}
	return out
}

// maxAbsDiff returns the largest elementwise absolute difference
// between two equally-shaped 2-D sparse arrays.
func maxAbsDiff(a, b *sparse.SparseArray) float64 {
	max := 0.
	for idx, v := range a.Elements {
		if d := math.Abs(v - b.Get1d(idx)); d > max {
			max = d
		}
	}
	for idx, v := range b.Elements {
		if d := math.Abs(v - a.Get1d(idx)); d > max {
			max = d
		}
	}
	return max
}
