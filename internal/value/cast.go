// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package value

import "time"

// Cast implements §4.1's total partial cast function: numeric<->numeric by
// truncation or widening, string->any by re-parsing, any->string by
// canonical formatting, singleton<->array wrap/unwrap, datetime<->numeric
// via UNIX seconds, and Bool<->numeric via 0/1. The bool result reports
// whether the cast is defined for this pair.
func Cast(v Value, to Typ) (Value, bool) {
	if v.Typ == to {
		return v, true
	}

	if to == TypString {
		return String(v.Format()), true
	}

	if v.Typ == TypString {
		return Parse(to, v.s)
	}

	if to == TypArray {
		return Array([]Value{v}), true
	}

	if v.Typ == TypArray {
		if len(v.arr) == 0 {
			return Value{}, false
		}
		return v.arr[0], true
	}

	if to == TypDateTime {
		if isNumeric(v.Typ) {
			sec := v.toF64()
			return DateTime(time.Unix(int64(sec), 0)), true
		}
		return Value{}, false
	}

	if v.Typ == TypDateTime {
		if to.IsInteger() || to.IsFloat() {
			return castFloatTo(float64(v.t.Unix()), to), true
		}
		return Value{}, false
	}

	if !isNumeric(v.Typ) || !isNumeric(to) {
		return Value{}, false
	}

	return castFloatTo(v.toF64(), to), true
}

func castFloatTo(f float64, to Typ) Value {
	switch to {
	case TypU32:
		return U32(uint32(int64(f)))
	case TypV32:
		return V32(uint32(int64(f)))
	case TypI32:
		return I32(int32(f))
	case TypZ32:
		return Z32(int32(f))
	case TypU64:
		return U64(uint64(int64(f)))
	case TypV64:
		return V64(uint64(int64(f)))
	case TypI64:
		return I64(int64(f))
	case TypZ64:
		return Z64(int64(f))
	case TypF32:
		return F32(float32(f))
	case TypF64:
		return F64(f)
	case TypDecimal:
		return DecimalV(Decimal{Mantissa: int64(f * 100), Scale: 2})
	case TypBool:
		return Bool(f != 0)
	case TypDuration:
		return DurationV(time.Duration(f * float64(time.Second)))
	default:
		return Null()
	}
}
