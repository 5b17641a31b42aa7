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

// newHEALPix creates a HEALPix sampling in ring ordering with the
// given nside, following the pixelization of Górski et al. (2005).
// nside must be a power of two. All 12·nside² pixels have the exact
// equal area 4π/npix, which is what makes HEALPix hierarchies exactly
// invertible under pooling.
func newHEALPix(nside int) (*SphereGrid, error) {
	if nside < 1 || nside&(nside-1) != 0 {
		return nil, &InvalidSamplingError{Scheme: HEALPix, Resolution: nside,
			Reason: "nside must be a power of two"}
	}
	npix := 12 * nside * nside
	g := &SphereGrid{
		Scheme:     HEALPix,
		Resolution: nside,
		Points:     make([]geom.Point, npix),
		CellArea:   make([]float64, npix),
	}
	area := sphereArea / float64(npix)
	for p := 0; p < npix; p++ {
		z, phi := healpixRingCenter(nside, p)
		lat := math.Asin(z) * 180 / math.Pi
		lon := normLon(phi * 180 / math.Pi)
		g.Points[p] = geom.Point{X: lon, Y: lat}
		g.CellArea[p] = area
	}
	return g, nil
}

// healpixRingCenter returns the center of ring-ordered pixel p as
// (z, φ) with z = cos(colatitude) and φ the longitude in radians.
func healpixRingCenter(nside, p int) (z, phi float64) {
	npix := 12 * nside * nside
	ncap := 2 * nside * (nside - 1)
	fact1 := 1. / (3. * float64(nside) * float64(nside))
	fact2 := 2. / (3. * float64(nside))

	switch {
	case p < ncap: // north polar cap
		hip := float64(p+1) / 2
		iring := int(math.Sqrt(hip-math.Sqrt(math.Floor(hip)))) + 1
		iphi := p + 1 - 2*iring*(iring-1)
		z = 1 - float64(iring)*float64(iring)*fact1
		phi = (float64(iphi) - 0.5) * math.Pi / (2 * float64(iring))
	case p < npix-ncap: // equatorial belt
		ip := p - ncap
		iring := ip/(4*nside) + nside
		iphi := ip%(4*nside) + 1
		// Rings alternate between being offset by half a pixel and
		// aligned with φ=0.
		fodd := 0.5 * float64(1+(iring+nside)%2)
		z = float64(2*nside-iring) * fact2
		phi = (float64(iphi) - fodd) * math.Pi / (2 * float64(nside))
	default: // south polar cap
		ip := npix - p
		hip := float64(ip) / 2
		iring := int(math.Sqrt(hip-math.Sqrt(math.Floor(hip)))) + 1
		iphi := 4*iring + 1 - (ip - 2*iring*(iring-1))
		z = -1 + float64(iring)*float64(iring)*fact1
		phi = (float64(iphi) - 0.5) * math.Pi / (2 * float64(iring))
	}
	return z, phi
}
