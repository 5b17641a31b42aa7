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
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"runtime"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/spheremodel/spheremap/internal/hash"
)

// Builder computes interpolation matrices through a Remapper,
// memoizing each (src, dst) pair. Grids are immutable, so a cached
// matrix never needs invalidation: a different grid is a different
// key. Independent pairs may be requested concurrently; the cache
// deduplicates simultaneous requests for the same pair.
type Builder struct {
	// Remapper invokes the external remap service.
	Remapper *Remapper

	// Tolerance is the relative tolerance for conservation checks;
	// zero selects DefaultTolerance.
	Tolerance float64

	// CacheDir, if nonempty, adds a disk layer to the cache so
	// matrices survive across processes.
	CacheDir string

	// MemCacheEntries is the size of the in-memory cache layer.
	// Zero selects a small default.
	MemCacheEntries int

	cache         *requestcache.Cache
	loadCacheOnce sync.Once
}

type gridPair struct {
	Src, Dst *SphereGrid
}

func (b *Builder) lazyLoadCache() {
	b.loadCacheOnce.Do(func() {
		entries := b.MemCacheEntries
		if entries <= 0 {
			entries = 16
		}
		workers := runtime.GOMAXPROCS(-1)
		if b.CacheDir == "" {
			b.cache = requestcache.NewCache(b.process, workers,
				requestcache.Deduplicate(), requestcache.Memory(entries))
			return
		}
		b.cache = requestcache.NewCache(b.process, workers,
			requestcache.Deduplicate(), requestcache.Memory(entries),
			requestcache.Disk(b.CacheDir, marshalMatrix, unmarshalMatrix))
	})
}

func (b *Builder) process(ctx context.Context, request interface{}) (interface{}, error) {
	pair := request.(*gridPair)
	raw, err := b.Remapper.ComputeOverlap(ctx, pair.Src, pair.Dst, Conservative)
	if err != nil {
		return nil, err
	}
	return BuildMatrix(raw, pair.Src, pair.Dst, b.Tolerance)
}

// Matrix returns the interpolation matrix for the (src, dst) pair,
// computing it through the remap service on the first request.
func (b *Builder) Matrix(ctx context.Context, src, dst *SphereGrid) (*InterpMatrix, error) {
	b.lazyLoadCache()
	pair := &gridPair{Src: src, Dst: dst}
	// The key hashes the full grid contents rather than just the
	// scheme and resolution, so a change to a sampling definition
	// invalidates any matrices cached on disk under the old one.
	key := fmt.Sprintf("matrix_%s_%s_%s", src, dst, hash.Hash(*pair))
	req := b.cache.NewRequest(ctx, pair, key)
	result, err := req.Result()
	if err != nil {
		return nil, err
	}
	switch m := result.(type) {
	case *InterpMatrix:
		return m, nil
	default:
		return nil, fmt.Errorf("spheremap: unexpected cache result type %T for %s", result, key)
	}
}

// Operators returns the pooling and unpooling operator pair for the
// (src, dst) pair, building the matrix if necessary.
func (b *Builder) Operators(ctx context.Context, src, dst *SphereGrid) (pool, unpool *Operator, err error) {
	m, err := b.Matrix(ctx, src, dst)
	if err != nil {
		return nil, nil, err
	}
	return m.Operators(b.Tolerance)
}

// marshalMatrix gob-encodes a matrix for the disk cache layer.
func marshalMatrix(data interface{}) ([]byte, error) {
	w := bytes.NewBuffer(nil)
	e := gob.NewEncoder(w)
	d := *data.(*interface{})
	m := d.(*InterpMatrix)
	if err := e.Encode(m); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// unmarshalMatrix decodes a gob-encoded matrix, re-deriving the
// unexported shape bookkeeping that gob does not carry.
func unmarshalMatrix(b []byte) (interface{}, error) {
	r := bytes.NewBuffer(b)
	d := gob.NewDecoder(r)
	m := new(InterpMatrix)
	if err := d.Decode(m); err != nil {
		return nil, err
	}
	m.W.Fix()
	return m, nil
}
