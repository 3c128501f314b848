// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package value

import (
	"math"
	"time"
)

// Decimal is a fixed-point number: mantissa * 10^-scale.
type Decimal struct {
	Mantissa int64
	Scale    uint8
}

func (d Decimal) Float() float64 {
	return float64(d.Mantissa) / math.Pow10(int(d.Scale))
}

// Value is the tagged union shared by every wire message and archive record.
// Exactly one of its fields is meaningful, selected by Typ; accessor methods
// below are the supported way to read it.
type Value struct {
	Typ Typ

	u   uint64
	i   int64
	f   float64
	dec Decimal
	t   time.Time
	dur time.Duration
	s   string // String payload, or the message of a TypResult error
	ok  bool   // for TypResult: true == Ok, false == Error(s)
	b   []byte
	arr []Value
}

func U32(v uint32) Value   { return Value{Typ: TypU32, u: uint64(v)} }
func V32(v uint32) Value   { return Value{Typ: TypV32, u: uint64(v)} }
func I32(v int32) Value    { return Value{Typ: TypI32, i: int64(v)} }
func Z32(v int32) Value    { return Value{Typ: TypZ32, i: int64(v)} }
func U64(v uint64) Value   { return Value{Typ: TypU64, u: v} }
func V64(v uint64) Value   { return Value{Typ: TypV64, u: v} }
func I64(v int64) Value    { return Value{Typ: TypI64, i: v} }
func Z64(v int64) Value    { return Value{Typ: TypZ64, i: v} }
func F32(v float32) Value  { return Value{Typ: TypF32, f: float64(v)} }
func F64(v float64) Value  { return Value{Typ: TypF64, f: v} }
func DecimalV(d Decimal) Value { return Value{Typ: TypDecimal, dec: d} }
func DateTime(t time.Time) Value { return Value{Typ: TypDateTime, t: t.UTC()} }
func DurationV(d time.Duration) Value { return Value{Typ: TypDuration, dur: d} }
func Bool(b bool) Value    { return Value{Typ: TypBool, ok: b} }
func Null() Value          { return Value{Typ: TypNull} }
func Ok() Value            { return Value{Typ: TypResult, ok: true} }
func ErrorV(msg string) Value { return Value{Typ: TypResult, ok: false, s: msg} }
func String(s string) Value { return Value{Typ: TypString, s: s} }
func Bytes(b []byte) Value { return Value{Typ: TypBytes, b: append([]byte(nil), b...)} }
func Array(vs []Value) Value { return Value{Typ: TypArray, arr: vs} }

// AsUint returns the raw unsigned payload for the unsigned integer tags.
func (v Value) AsUint() uint64 { return v.u }

// AsInt returns the raw signed payload for the signed integer tags.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the raw payload for f32/f64.
func (v Value) AsFloat() float64 { return v.f }

// AsDecimal returns the decimal payload.
func (v Value) AsDecimal() Decimal { return v.dec }

// AsTime returns the datetime payload.
func (v Value) AsTime() time.Time { return v.t }

// AsDuration returns the duration payload.
func (v Value) AsDuration() time.Duration { return v.dur }

// AsBool returns the boolean payload (also used for TypResult's ok/error flag).
func (v Value) AsBool() bool { return v.ok }

// AsString returns the string payload (also the error message of a TypResult).
func (v Value) AsString() string { return v.s }

// AsBytes returns the byte-blob payload.
func (v Value) AsBytes() []byte { return v.b }

// AsArray returns the array payload.
func (v Value) AsArray() []Value { return v.arr }

// IsOk reports whether a TypResult value is Ok. It does not check Typ: for a
// Bool it returns the Bool's payload, and false for every other Typ.
func (v Value) IsOk() bool { return v.ok }

// toF64 widens any numeric-ish Value to a float64 for cross-kind comparison
// and arithmetic promotion, per §4.1's "numerics cross-compared by casting
// both to f64".
func (v Value) toF64() float64 {
	switch v.Typ {
	case TypU32, TypV32, TypU64, TypV64:
		return float64(v.u)
	case TypI32, TypZ32, TypI64, TypZ64:
		return float64(v.i)
	case TypF32, TypF64:
		return v.f
	case TypDecimal:
		return v.dec.Float()
	case TypDateTime:
		return float64(v.t.Unix()) + float64(v.t.Nanosecond())/1e9
	case TypDuration:
		return v.dur.Seconds()
	case TypBool:
		if v.ok {
			return 1
		}
		return 0
	default:
		return math.NaN()
	}
}

func isNumeric(t Typ) bool {
	switch t {
	case TypU32, TypV32, TypI32, TypZ32, TypU64, TypV64, TypI64, TypZ64,
		TypF32, TypF64, TypDecimal, TypDateTime, TypDuration, TypBool:
		return true
	default:
		return false
	}
}
