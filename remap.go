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
	"io/ioutil"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
)

// Method is an interpolation method of the external remap service.
type Method string

// Conservative is the only supported method: bilinear and
// nearest-neighbor weights do not conserve area integrals, which
// every check downstream of the adapter depends on.
const Conservative Method = "conservative"

// Normalization selects the convention under which the remap service
// reports its fractional weights.
type Normalization string

const (
	// FracArea normalizes each destination row by the overlapped
	// fraction of the destination cell.
	FracArea Normalization = "fracarea"
	// DestArea normalizes each destination row by the full
	// destination cell area.
	DestArea Normalization = "destarea"
)

// DefaultRemapTimeout bounds a single remap service invocation.
const DefaultRemapTimeout = 15 * time.Minute

// RemapServiceError means the external remap service exited with an
// error or produced output this adapter cannot understand. The
// service is deterministic, so the failure will recur on retry and is
// surfaced instead.
type RemapServiceError struct {
	Src, Dst string
	Output   string
	Err      error
}

func (e *RemapServiceError) Error() string {
	return fmt.Sprintf("spheremap: remap service failed for %s→%s: %v; output: %s",
		e.Src, e.Dst, e.Err, e.Output)
}

// RemapTimeoutError means the remap service exceeded its time budget.
type RemapTimeoutError struct {
	Src, Dst string
	Timeout  time.Duration
}

func (e *RemapTimeoutError) Error() string {
	return fmt.Sprintf("spheremap: remap service for %s→%s did not finish within %v",
		e.Src, e.Dst, e.Timeout)
}

// OverlapConsistencyError means the coordinates echoed back by the
// remap service do not match the grid that was submitted to it,
// indicating that the service reordered or resampled the points.
type OverlapConsistencyError struct {
	Src, Dst  string
	Grid      string // "source" or "destination"
	Index     int
	Deviation float64 // degrees
}

func (e *OverlapConsistencyError) Error() string {
	return fmt.Sprintf("spheremap: remap %s→%s: %s point %d echoed back "+
		"%g degrees away from its submitted location",
		e.Src, e.Dst, e.Grid, e.Index, e.Deviation)
}

// RawOverlap is the output of the remap service for one grid pair,
// converted to 0-based indexing. The parallel slices SrcIndex,
// DstIndex and Weight are the sparse overlap triplets; the per-point
// slices echo back what the service believed about each grid.
type RawOverlap struct {
	SrcIndex, DstIndex []int
	Weight             []float64

	SrcArea, DstArea []float64
	SrcFrac, DstFrac []float64
	SrcMask, DstMask []int
	SrcCenter        []geom.Point
	DstCenter        []geom.Point

	Method        Method
	Normalization Normalization
}

// Remapper invokes an external conservative-remapping command for a
// pair of grids. The command is expected to read two NetCDF grid
// files and write a SCRIP-format NetCDF weight file; it is treated as
// a scoped resource: the working directory is removed on every exit
// path, and a non-zero exit or malformed output is fatal, never
// retried.
type Remapper struct {
	// Command is the weight-generator executable.
	Command string

	// ExtraArgs are appended to the generated argument list.
	ExtraArgs []string

	// Normalization selects the fractional-weight convention to
	// request; the default is FracArea.
	Normalization Normalization

	// Timeout bounds one invocation; the default is
	// DefaultRemapTimeout.
	Timeout time.Duration

	// Tolerance is the allowed deviation, in degrees, between
	// submitted and echoed point coordinates; the default is
	// DefaultTolerance.
	Tolerance float64

	// KeepFiles retains the working directory for debugging.
	KeepFiles bool
}

// ComputeOverlap runs the remap service for the (src, dst) pair and
// returns its validated raw output.
func (r *Remapper) ComputeOverlap(ctx context.Context, src, dst *SphereGrid, method Method) (*RawOverlap, error) {
	if method != Conservative {
		return nil, fmt.Errorf("spheremap: remap method %q is not supported; "+
			"only %q conserves area integrals", method, Conservative)
	}
	norm := r.Normalization
	if norm == "" {
		norm = FracArea
	}
	if norm != FracArea && norm != DestArea {
		return nil, fmt.Errorf("spheremap: unknown normalization %q", norm)
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRemapTimeout
	}

	dir, err := ioutil.TempDir("", "spheremap")
	if err != nil {
		return nil, fmt.Errorf("spheremap: creating remap working directory: %v", err)
	}
	if !r.KeepFiles {
		defer os.RemoveAll(dir)
	}

	srcFile := filepath.Join(dir, "src_grid.nc")
	dstFile := filepath.Join(dir, "dst_grid.nc")
	weightFile := filepath.Join(dir, "weights.nc")
	if err := writeGridFile(srcFile, src); err != nil {
		return nil, err
	}
	if err := writeGridFile(dstFile, dst); err != nil {
		return nil, err
	}

	args := append([]string{
		"-s", srcFile,
		"-d", dstFile,
		"-w", weightFile,
		"-m", "conserve",
		"--norm_type", string(norm),
	}, r.ExtraArgs...)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, r.Command, args...)
	out, err := cmd.CombinedOutput()
	if cctx.Err() == context.DeadlineExceeded {
		return nil, &RemapTimeoutError{Src: src.String(), Dst: dst.String(), Timeout: timeout}
	}
	if err != nil {
		return nil, &RemapServiceError{Src: src.String(), Dst: dst.String(),
			Output: string(out), Err: err}
	}

	raw, err := parseWeightFile(weightFile, src, dst)
	if err != nil {
		return nil, err
	}
	raw.Method = method
	raw.Normalization = norm
	if err := checkCenterEcho(raw, src, dst, r.Tolerance); err != nil {
		return nil, err
	}
	return raw, nil
}

// writeGridFile writes a grid description the remap service can read:
// point centers in degrees, cell areas in steradians, and an all-valid
// integer mask.
func writeGridFile(file string, g *SphereGrid) error {
	n := g.Size()
	h := cdf.NewHeader([]string{"grid_size", "grid_rank"}, []int{n, 1})
	h.AddAttribute("", "title", g.String())

	h.AddVariable("grid_dims", []string{"grid_rank"}, []int32{0})
	h.AddVariable("grid_center_lat", []string{"grid_size"}, []float64{0})
	h.AddAttribute("grid_center_lat", "units", "degrees")
	h.AddVariable("grid_center_lon", []string{"grid_size"}, []float64{0})
	h.AddAttribute("grid_center_lon", "units", "degrees")
	h.AddVariable("grid_area", []string{"grid_size"}, []float64{0})
	h.AddAttribute("grid_area", "units", "steradians")
	h.AddVariable("grid_imask", []string{"grid_size"}, []int32{0})
	h.Define()

	ff, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("spheremap: creating grid file for %s: %v", g, err)
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("spheremap: writing grid file header for %s: %v", g, err)
	}

	lat := make([]float64, n)
	lon := make([]float64, n)
	mask := make([]int32, n)
	for i, p := range g.Points {
		lon[i], lat[i] = p.X, p.Y
		mask[i] = 1
	}
	for _, v := range []struct {
		name string
		data interface{}
	}{
		{"grid_dims", []int32{int32(n)}},
		{"grid_center_lat", lat},
		{"grid_center_lon", lon},
		{"grid_area", g.CellArea},
		{"grid_imask", mask},
	} {
		if err := writeVar(f, v.name, v.data); err != nil {
			return fmt.Errorf("spheremap: writing %s for grid %s: %v", v.name, g, err)
		}
	}
	return nil
}

func writeVar(f *cdf.File, name string, data interface{}) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	_, err := w.Write(data)
	return err
}

// parseWeightFile reads a SCRIP-format weight file, converting the
// service's 1-based addresses to 0-based indices at this boundary.
func parseWeightFile(file string, src, dst *SphereGrid) (*RawOverlap, error) {
	ff, err := os.Open(file)
	if err != nil {
		return nil, &RemapServiceError{Src: src.String(), Dst: dst.String(),
			Err: fmt.Errorf("opening weight file: %v", err)}
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, &RemapServiceError{Src: src.String(), Dst: dst.String(),
			Err: fmt.Errorf("reading weight file header: %v", err)}
	}

	malformed := func(err error) error {
		return &RemapServiceError{Src: src.String(), Dst: dst.String(), Err: err}
	}

	srcAddr, err := readIntVar(f, "src_address")
	if err != nil {
		return nil, malformed(err)
	}
	dstAddr, err := readIntVar(f, "dst_address")
	if err != nil {
		return nil, malformed(err)
	}
	weights, err := readMatrixColumn(f, "remap_matrix")
	if err != nil {
		return nil, malformed(err)
	}
	if len(srcAddr) != len(dstAddr) || len(srcAddr) != len(weights) {
		return nil, malformed(fmt.Errorf("address and weight lengths differ: %d, %d, %d",
			len(srcAddr), len(dstAddr), len(weights)))
	}

	raw := &RawOverlap{
		SrcIndex: make([]int, len(srcAddr)),
		DstIndex: make([]int, len(dstAddr)),
		Weight:   weights,
	}
	for i, a := range srcAddr {
		raw.SrcIndex[i] = int(a) - 1 // 1-based in the file
	}
	for i, a := range dstAddr {
		raw.DstIndex[i] = int(a) - 1
	}

	for _, v := range []struct {
		name string
		dst  *[]float64
	}{
		{"src_grid_area", &raw.SrcArea},
		{"dst_grid_area", &raw.DstArea},
		{"src_grid_frac", &raw.SrcFrac},
		{"dst_grid_frac", &raw.DstFrac},
	} {
		d, err := readFloatVar(f, v.name)
		if err != nil {
			return nil, malformed(err)
		}
		*v.dst = d
	}
	for _, v := range []struct {
		name string
		dst  *[]int
	}{
		{"src_grid_imask", &raw.SrcMask},
		{"dst_grid_imask", &raw.DstMask},
	} {
		d, err := readIntVar(f, v.name)
		if err != nil {
			return nil, malformed(err)
		}
		ints := make([]int, len(d))
		for i, x := range d {
			ints[i] = int(x)
		}
		*v.dst = ints
	}

	raw.SrcCenter, err = readCenters(f, "src_grid_center_lon", "src_grid_center_lat")
	if err != nil {
		return nil, malformed(err)
	}
	raw.DstCenter, err = readCenters(f, "dst_grid_center_lon", "dst_grid_center_lat")
	if err != nil {
		return nil, malformed(err)
	}

	if len(raw.SrcArea) != src.Size() || len(raw.DstArea) != dst.Size() {
		return nil, malformed(fmt.Errorf("weight file describes %d source and %d "+
			"destination points; expected %d and %d",
			len(raw.SrcArea), len(raw.DstArea), src.Size(), dst.Size()))
	}
	return raw, nil
}

// readCenters reads a pair of coordinate variables, converting from
// radians when the units attribute says so. SCRIP writers disagree on
// this, so the attribute is authoritative.
func readCenters(f *cdf.File, lonVar, latVar string) ([]geom.Point, error) {
	lon, err := readFloatVar(f, lonVar)
	if err != nil {
		return nil, err
	}
	lat, err := readFloatVar(f, latVar)
	if err != nil {
		return nil, err
	}
	if len(lon) != len(lat) {
		return nil, fmt.Errorf("%s and %s have different lengths %d and %d",
			lonVar, latVar, len(lon), len(lat))
	}
	if units, ok := f.Header.GetAttribute(latVar, "units").(string); ok && units == "radians" {
		for i := range lat {
			lat[i] *= 180 / math.Pi
			lon[i] *= 180 / math.Pi
		}
	}
	points := make([]geom.Point, len(lon))
	for i := range lon {
		points[i] = geom.Point{X: normLon(lon[i]), Y: lat[i]}
	}
	return points, nil
}

func readFloatVar(f *cdf.File, name string) ([]float64, error) {
	buf, err := readVar(f, name)
	if err != nil {
		return nil, err
	}
	switch b := buf.(type) {
	case []float64:
		return b, nil
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("variable %s is not floating point", name)
	}
}

func readIntVar(f *cdf.File, name string) ([]int32, error) {
	buf, err := readVar(f, name)
	if err != nil {
		return nil, err
	}
	switch b := buf.(type) {
	case []int32:
		return b, nil
	case []int16:
		out := make([]int32, len(b))
		for i, v := range b {
			out[i] = int32(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("variable %s is not an integer type", name)
	}
}

func readVar(f *cdf.File, name string) (interface{}, error) {
	if len(f.Header.Lengths(name)) == 0 {
		return nil, fmt.Errorf("variable %s not in weight file", name)
	}
	r := f.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading variable %s: %v", name, err)
	}
	return buf, nil
}

// readMatrixColumn reads the first weight of each link from the
// (num_links, num_wgts) remap matrix; higher-order weights belong to
// gradient-based schemes this engine does not use.
func readMatrixColumn(f *cdf.File, name string) ([]float64, error) {
	dims := f.Header.Lengths(name)
	if len(dims) == 0 {
		return nil, fmt.Errorf("variable %s not in weight file", name)
	}
	all, err := readFloatVar(f, name)
	if err != nil {
		return nil, err
	}
	if len(dims) == 1 {
		return all, nil
	}
	nwgts := dims[len(dims)-1]
	if nwgts < 1 || len(all)%nwgts != 0 {
		return nil, fmt.Errorf("variable %s has inconsistent shape %v", name, dims)
	}
	out := make([]float64, len(all)/nwgts)
	for i := range out {
		out[i] = all[i*nwgts]
	}
	return out, nil
}

// checkCenterEcho verifies that the service processed the points we
// submitted, in the order we submitted them.
func checkCenterEcho(raw *RawOverlap, src, dst *SphereGrid, tolerance float64) error {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	check := func(points []geom.Point, g *SphereGrid, which string) error {
		if len(points) != g.Size() {
			return &OverlapConsistencyError{Src: src.String(), Dst: dst.String(),
				Grid: which, Index: -1,
				Deviation: math.Abs(float64(len(points) - g.Size()))}
		}
		for i, p := range points {
			dev := math.Max(angularDiff(p.X, g.Points[i].X),
				math.Abs(p.Y-g.Points[i].Y))
			if dev > tolerance {
				return &OverlapConsistencyError{Src: src.String(), Dst: dst.String(),
					Grid: which, Index: i, Deviation: dev}
			}
		}
		return nil
	}
	if err := check(raw.SrcCenter, src, "source"); err != nil {
		return err
	}
	return check(raw.DstCenter, dst, "destination")
}

// angularDiff is the absolute difference between two longitudes in
// degrees, accounting for wraparound.
func angularDiff(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}
