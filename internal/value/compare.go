// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package value

import (
	"hash/fnv"
	"math"
)

// Equal implements the total equality relation from §3/§8: NaN equals NaN,
// +0 equals -0, numerics are cross-compared as f64, arrays compare
// element-wise, and anything else falls back to Compare == 0.
func (v Value) Equal(o Value) bool {
	return v.Compare(o) == 0
}

// Compare implements a total order: exactly one of <, == or > holds for any
// pair, with NaN reflexively equal to itself and unlike, non-numeric kinds
// falling back to a textual comparison so the relation stays total.
func (v Value) Compare(o Value) int {
	if isNumeric(v.Typ) && isNumeric(o.Typ) {
		return compareFloat(v.toF64(), o.toF64())
	}

	if v.Typ == o.Typ {
		switch v.Typ {
		case TypNull:
			return 0
		case TypResult:
			if v.ok != o.ok {
				if v.ok {
					return 1 // Ok > Error, arbitrary but total
				}
				return -1
			}
			return compareString(v.s, o.s)
		case TypString:
			return compareString(v.s, o.s)
		case TypBytes:
			return compareBytes(v.b, o.b)
		case TypArray:
			return compareArray(v.arr, o.arr)
		}
	}

	// Unlike kinds (or kinds with no dedicated comparator above): fall back
	// to textual comparison to preserve totality, per §4.1.
	return compareString(v.Format(), o.Format())
}

func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	if aNaN && bNaN {
		return 0
	}
	if aNaN {
		return 1
	}
	if bNaN {
		return -1
	}
	// +0 == -0 falls out of plain float comparison already.
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareArray(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Hash computes an FNV-1a hash that is coherent with Equal: NaN normalises
// to a single bucket and +0/-0 hash identically, since both are hashed as
// their canonical f64 bit pattern via toF64.
func (v Value) Hash() uint64 {
	h := fnv.New64a()
	switch {
	case isNumeric(v.Typ):
		f := v.toF64()
		if math.IsNaN(f) {
			h.Write([]byte{0xFF, 'n', 'a', 'n'})
		} else {
			if f == 0 {
				f = 0 // normalise -0 to +0
			}
			var buf [8]byte
			bits := math.Float64bits(f)
			for i := range buf {
				buf[i] = byte(bits >> (8 * i))
			}
			h.Write(buf[:])
		}
	case v.Typ == TypString:
		h.Write([]byte(v.s))
	case v.Typ == TypBytes:
		h.Write(v.b)
	case v.Typ == TypResult:
		if v.ok {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
			h.Write([]byte(v.s))
		}
	case v.Typ == TypArray:
		for _, e := range v.arr {
			eh := e.Hash()
			var buf [8]byte
			for i := range buf {
				buf[i] = byte(eh >> (8 * i))
			}
			h.Write(buf[:])
		}
	case v.Typ == TypNull:
		h.Write([]byte{0})
	}
	return h.Sum64()
}
