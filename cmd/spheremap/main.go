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

// Command spheremap is a command-line interface for building sparse
// conservative interpolation and pooling operators between spherical
// samplings.
package main

import (
	"fmt"
	"os"

	"github.com/spheremodel/spheremap/spheremaputil"
)

func main() {
	if err := spheremaputil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
