// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package value implements the tagged-union Value type shared by every
// publisher, subscriber and archive component: total ordering, NaN-normalised
// hashing, binary and textual encoding, and arithmetic with type promotion.
package value

// Typ tags the 19 kinds of Value. The top two bits of the encoded tag byte
// are reserved for future wrapper types, so Typ must never exceed 0x3F.
type Typ uint8

const (
	TypU32 Typ = iota
	TypV32
	TypI32
	TypZ32
	TypU64
	TypV64
	TypI64
	TypZ64
	TypF32
	TypF64
	TypDecimal
	TypDateTime
	TypDuration
	TypBool
	TypNull
	TypResult
	TypString
	TypBytes
	TypArray

	typCount
)

const MaxTyp = 0x3F

func (t Typ) String() string {
	switch t {
	case TypU32:
		return "u32"
	case TypV32:
		return "v32"
	case TypI32:
		return "i32"
	case TypZ32:
		return "z32"
	case TypU64:
		return "u64"
	case TypV64:
		return "v64"
	case TypI64:
		return "i64"
	case TypZ64:
		return "z64"
	case TypF32:
		return "f32"
	case TypF64:
		return "f64"
	case TypDecimal:
		return "decimal"
	case TypDateTime:
		return "datetime"
	case TypDuration:
		return "duration"
	case TypBool:
		return "bool"
	case TypNull:
		return "null"
	case TypResult:
		return "result"
	case TypString:
		return "string"
	case TypBytes:
		return "bytes"
	case TypArray:
		return "array"
	default:
		return "unknown"
	}
}

// IsInteger reports whether t is one of the eight integer tags.
func (t Typ) IsInteger() bool {
	return t <= TypZ64
}

// IsSigned reports whether t is a signed integer tag.
func (t Typ) IsSigned() bool {
	switch t {
	case TypI32, TypZ32, TypI64, TypZ64:
		return true
	default:
		return false
	}
}

// Is64 reports whether an integer tag is 64 bits wide.
func (t Typ) Is64() bool {
	switch t {
	case TypU64, TypV64, TypI64, TypZ64:
		return true
	default:
		return false
	}
}

// IsFloat reports whether t is f32 or f64.
func (t Typ) IsFloat() bool {
	return t == TypF32 || t == TypF64
}
