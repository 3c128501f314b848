// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package value

import (
	"math"
	"testing"
	"time"
)

func sampleValues() []Value {
	return []Value{
		U32(42), V32(42), I32(-7), Z32(-7),
		U64(1 << 40), V64(1 << 40), I64(-(1 << 40)), Z64(-(1 << 40)),
		F32(3.5), F64(-2.25),
		DecimalV(Decimal{Mantissa: 1234, Scale: 2}),
		DateTime(time.Unix(1_700_000_000, 123000000).UTC()),
		DurationV(250 * time.Millisecond),
		Bool(true), Bool(false),
		Null(),
		Ok(), ErrorV("boom"),
		String("hello \"world\"\nagain"),
		Bytes([]byte{1, 2, 3, 255}),
		Array([]Value{U32(1), String("x"), Array([]Value{I32(-1)})}),
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	for _, v := range sampleValues() {
		buf := Encode(nil, v)
		got, err := DecodeBytes(buf)
		if err != nil {
			t.Fatalf("decode %v: %v", v, err)
		}
		if !got.Equal(v) {
			t.Errorf("round trip mismatch: got %v (%s), want %v (%s)", got, got.Typ, v, v.Typ)
		}
	}
}

func TestTextualRoundTrip(t *testing.T) {
	for _, v := range sampleValues() {
		s := v.Typ.String() + ":" + v.Format()
		got, ok := FromStr(s)
		if !ok {
			t.Fatalf("FromStr(%q) failed to parse", s)
		}
		if !got.Equal(v) {
			t.Errorf("textual round trip mismatch for %s: got %v, want %v", v.Typ, got, v)
		}
	}
}

func TestNaNEquality(t *testing.T) {
	a := F64(math.NaN())
	b := F64(math.NaN())
	if !a.Equal(b) {
		t.Error("NaN must equal NaN")
	}
	if a.Hash() != b.Hash() {
		t.Error("NaN values must hash identically")
	}
}

func TestZeroSignEquality(t *testing.T) {
	pos := F64(0)
	neg := F64(math.Copysign(0, -1))
	if !pos.Equal(neg) {
		t.Error("+0 must equal -0")
	}
	if pos.Hash() != neg.Hash() {
		t.Error("+0 and -0 must hash identically")
	}
}

func TestOrderingTotality(t *testing.T) {
	vs := sampleValues()
	for _, a := range vs {
		for _, b := range vs {
			lt := a.Compare(b) < 0
			eq := a.Compare(b) == 0
			gt := a.Compare(b) > 0
			count := 0
			for _, x := range []bool{lt, eq, gt} {
				if x {
					count++
				}
			}
			if count != 1 {
				t.Fatalf("non-total ordering for %v vs %v", a, b)
			}
		}
	}
}

func TestArithmeticPromotion(t *testing.T) {
	if got := Add(I32(1), I64(2)); got.Typ != TypI64 {
		t.Errorf("i32+i64 should promote to i64, got %s", got.Typ)
	}
	if got := Add(I32(1), DecimalV(Decimal{Mantissa: 100, Scale: 2})); got.Typ != TypDecimal {
		t.Errorf("any+decimal should stay decimal, got %s", got.Typ)
	}
	if got := Add(I32(1), F64(2.5)); got.Typ != TypF64 {
		t.Errorf("any+f64 should promote to f64, got %s", got.Typ)
	}
}

func TestDivisionByZeroIsError(t *testing.T) {
	got := Div(I32(1), I32(0))
	if got.Typ != TypResult || got.IsOk() {
		t.Fatalf("division by zero should yield an Error value, got %v", got)
	}
}

func TestArrayArithmeticPadsWithIdentity(t *testing.T) {
	a := Array([]Value{I32(1), I32(2), I32(3)})
	b := Array([]Value{I32(10)})
	got := Add(a, b)
	want := []int64{11, 2, 3}
	arr := got.AsArray()
	if len(arr) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(arr))
	}
	for i, w := range want {
		if arr[i].toF64() != float64(w) {
			t.Errorf("element %d = %v, want %d", i, arr[i], w)
		}
	}
}

func TestCastRoundTrips(t *testing.T) {
	v, ok := Cast(I32(42), TypString)
	if !ok || v.AsString() != "42" {
		t.Fatalf("cast i32->string failed: %v", v)
	}

	v2, ok := Cast(v, TypI64)
	if !ok || v2.AsInt() != 42 {
		t.Fatalf("cast string->i64 failed: %v", v2)
	}

	singleton, ok := Cast(I32(5), TypArray)
	if !ok || len(singleton.AsArray()) != 1 {
		t.Fatalf("cast singleton->array failed: %v", singleton)
	}

	back, ok := Cast(singleton, TypI32)
	if !ok || back.AsInt() != 5 {
		t.Fatalf("cast array->singleton failed: %v", back)
	}
}
