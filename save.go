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
	"encoding/gob"
	"fmt"
	"io"
)

type operatorPair struct {
	Pool, Unpool *Operator
}

// SaveOperators writes a pooling/unpooling operator pair to w as a gob
// file (format description at https://golang.org/pkg/encoding/gob/),
// so that consumers can load fixed operators without re-running the
// remap service.
func SaveOperators(w io.Writer, pool, unpool *Operator) error {
	e := gob.NewEncoder(w)
	if err := e.Encode(operatorPair{Pool: pool, Unpool: unpool}); err != nil {
		return fmt.Errorf("spheremap: saving operators: %v", err)
	}
	return nil
}

// LoadOperators loads an operator pair previously written by
// SaveOperators.
func LoadOperators(r io.Reader) (pool, unpool *Operator, err error) {
	dec := gob.NewDecoder(r)
	var p operatorPair
	if err := dec.Decode(&p); err != nil {
		return nil, nil, fmt.Errorf("spheremap: loading operators: %v", err)
	}
	// Gob does not transport the unexported index machinery of the
	// sparse matrices, so it must be rebuilt.
	p.Pool.M.Fix()
	p.Unpool.M.Fix()
	return p.Pool, p.Unpool, nil
}
