// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package value

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/nhr-fau/netpub/internal/wire"
)

// ErrInvalidTag is returned by Decode when the tag byte is out of range.
var ErrInvalidTag = errors.New("value: invalid type tag")

// Encode appends the binary form of v to buf: a one-byte tag (the top two
// bits reserved per §4.1) followed by a type-specific payload. Variable
// length integer fields use LEB128, zig-zag encoded for signed variants.
func Encode(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Typ))
	switch v.Typ {
	case TypU32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v.u))
		buf = append(buf, b[:]...)
	case TypV32:
		buf = wire.PutUvarint(buf, v.u)
	case TypI32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(int32(v.i)))
		buf = append(buf, b[:]...)
	case TypZ32:
		buf = wire.PutVarint(buf, v.i)
	case TypU64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v.u)
		buf = append(buf, b[:]...)
	case TypV64:
		buf = wire.PutUvarint(buf, v.u)
	case TypI64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.i))
		buf = append(buf, b[:]...)
	case TypZ64:
		buf = wire.PutVarint(buf, v.i)
	case TypF32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32frombits(float32(v.f)))
		buf = append(buf, b[:]...)
	case TypF64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], float64bits(v.f))
		buf = append(buf, b[:]...)
	case TypDecimal:
		buf = wire.PutVarint(buf, v.dec.Mantissa)
		buf = append(buf, v.dec.Scale)
	case TypDateTime:
		buf = encodeTimestamp(buf, v.t)
	case TypDuration:
		buf = encodeTimestamp(buf, time.Unix(0, 0).Add(v.dur).UTC())
	case TypBool:
		if v.ok {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case TypNull:
		// no payload
	case TypResult:
		if v.ok {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
			buf = wire.PutUvarint(buf, uint64(len(v.s)))
			buf = append(buf, v.s...)
		}
	case TypString:
		buf = wire.PutUvarint(buf, uint64(len(v.s)))
		buf = append(buf, v.s...)
	case TypBytes:
		buf = wire.PutUvarint(buf, uint64(len(v.b)))
		buf = append(buf, v.b...)
	case TypArray:
		buf = wire.PutUvarint(buf, uint64(len(v.arr)))
		for _, e := range v.arr {
			buf = Encode(buf, e)
		}
	}
	return buf
}

func encodeTimestamp(buf []byte, t time.Time) []byte {
	var b [12]byte
	binary.BigEndian.PutUint64(b[:8], uint64(t.Unix()))
	binary.BigEndian.PutUint32(b[8:], uint32(t.Nanosecond()))
	return append(buf, b[:]...)
}

func decodeTimestamp(r *bufio.Reader) (time.Time, error) {
	var b [12]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return time.Time{}, err
	}
	sec := int64(binary.BigEndian.Uint64(b[:8]))
	nsec := int64(binary.BigEndian.Uint32(b[8:]))
	return time.Unix(sec, nsec).UTC(), nil
}

// Decode reads one binary-encoded Value from r.
func Decode(r *bufio.Reader) (Value, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	t := Typ(tagByte)
	if t >= typCount {
		return Value{}, ErrInvalidTag
	}

	switch t {
	case TypU32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return U32(binary.BigEndian.Uint32(b[:])), nil
	case TypV32:
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return Value{}, err
		}
		return V32(uint32(n)), nil
	case TypI32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return I32(int32(binary.BigEndian.Uint32(b[:]))), nil
	case TypZ32:
		n, err := wire.ReadVarint(r)
		if err != nil {
			return Value{}, err
		}
		return Z32(int32(n)), nil
	case TypU64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return U64(binary.BigEndian.Uint64(b[:])), nil
	case TypV64:
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return Value{}, err
		}
		return V64(n), nil
	case TypI64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return I64(int64(binary.BigEndian.Uint64(b[:]))), nil
	case TypZ64:
		n, err := wire.ReadVarint(r)
		if err != nil {
			return Value{}, err
		}
		return Z64(n), nil
	case TypF32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return F32(float32frombits(binary.BigEndian.Uint32(b[:]))), nil
	case TypF64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return F64(float64frombits(binary.BigEndian.Uint64(b[:]))), nil
	case TypDecimal:
		mant, err := wire.ReadVarint(r)
		if err != nil {
			return Value{}, err
		}
		scale, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return DecimalV(Decimal{Mantissa: mant, Scale: scale}), nil
	case TypDateTime:
		t2, err := decodeTimestamp(r)
		if err != nil {
			return Value{}, err
		}
		return DateTime(t2), nil
	case TypDuration:
		t2, err := decodeTimestamp(r)
		if err != nil {
			return Value{}, err
		}
		return DurationV(t2.Sub(time.Unix(0, 0).UTC())), nil
	case TypBool:
		b, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		return Bool(b != 0), nil
	case TypNull:
		return Null(), nil
	case TypResult:
		ok, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		if ok != 0 {
			return Ok(), nil
		}
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return Value{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Value{}, err
		}
		return ErrorV(string(buf)), nil
	case TypString:
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return Value{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Value{}, err
		}
		return String(string(buf)), nil
	case TypBytes:
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return Value{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Value{}, err
		}
		return Bytes(buf), nil
	case TypArray:
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return Value{}, err
		}
		out := make([]Value, n)
		for i := range out {
			e, err := Decode(r)
			if err != nil {
				return Value{}, err
			}
			out[i] = e
		}
		return Array(out), nil
	}
	return Value{}, ErrInvalidTag
}

// DecodeBytes is a convenience wrapper around Decode for a byte slice.
func DecodeBytes(b []byte) (Value, error) {
	return Decode(bufio.NewReader(bytes.NewReader(b)))
}
