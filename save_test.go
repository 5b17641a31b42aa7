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
	"bytes"
	"reflect"
	"testing"
)

func TestSaveLoadOperators(t *testing.T) {
	_, pool, unpool := testOperators(t)

	var buf bytes.Buffer
	if err := SaveOperators(&buf, pool, unpool); err != nil {
		t.Fatal(err)
	}
	p, u, err := LoadOperators(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pool.M.Elements, p.M.Elements) {
		t.Error("pool elements changed in a save/load round trip")
	}
	if !reflect.DeepEqual(unpool.M.Elements, u.M.Elements) {
		t.Error("unpool elements changed in a save/load round trip")
	}
	if p.In.String() != pool.In.String() || p.Out.String() != pool.Out.String() {
		t.Errorf("loaded pool maps %s→%s, want %s→%s", p.In, p.Out, pool.In, pool.Out)
	}

	// The loaded operators must be immediately usable.
	out, err := p.Apply([]float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	want, err := pool.Apply([]float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if different(out[i], want[i], testTolerance) {
			t.Errorf("loaded pool output %d is %g, want %g", i, out[i], want[i])
		}
	}

	if _, _, err := LoadOperators(bytes.NewReader([]byte("not a gob"))); err == nil {
		t.Error("expected error for corrupt input")
	}
}
