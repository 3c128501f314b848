// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package value

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Format renders v using the type-tagged textual formatter used for display
// and for archiving as text; Parse(v.Typ, Format(v)) == v for every Typ
// except NaN, which is equal to itself by definition but not required to
// round-trip through text identically.
func (v Value) Format() string {
	switch v.Typ {
	case TypU32, TypV32:
		return strconv.FormatUint(v.u, 10)
	case TypU64, TypV64:
		return strconv.FormatUint(v.u, 10)
	case TypI32, TypZ32, TypI64, TypZ64:
		return strconv.FormatInt(v.i, 10)
	case TypF32:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case TypF64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypDecimal:
		return strconv.FormatFloat(v.dec.Float(), 'f', int(v.dec.Scale), 64)
	case TypDateTime:
		return v.t.Format(time.RFC3339Nano)
	case TypDuration:
		return strconv.FormatFloat(v.dur.Seconds(), 'f', -1, 64) + "s"
	case TypBool:
		if v.ok {
			return "true"
		}
		return "false"
	case TypNull:
		return "null"
	case TypResult:
		if v.ok {
			return "ok"
		}
		return fmt.Sprintf("error:%q", v.s)
	case TypString:
		return quoteString(v.s)
	case TypBytes:
		return base64.StdEncoding.EncodeToString(v.b)
	case TypArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.Typ.String() + ":" + e.Format()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return ""
	}
}

// String implements fmt.Stringer with the same rendering as Format.
func (v Value) String() string { return v.Format() }

func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func unquoteString(s string) (string, bool) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", false
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) {
			i++
			switch inner[i] {
			case 'n':
				b.WriteByte('\n')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(inner[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), true
}

// Parse parses a literal (without a "tag:" prefix) as the given Typ.
func Parse(t Typ, literal string) (Value, bool) {
	switch t {
	case TypU32, TypV32:
		n, err := strconv.ParseUint(literal, 10, 32)
		if err != nil {
			return Value{}, false
		}
		if t == TypU32 {
			return U32(uint32(n)), true
		}
		return V32(uint32(n)), true
	case TypU64, TypV64:
		n, err := strconv.ParseUint(literal, 10, 64)
		if err != nil {
			return Value{}, false
		}
		if t == TypU64 {
			return U64(n), true
		}
		return V64(n), true
	case TypI32, TypZ32:
		n, err := strconv.ParseInt(literal, 10, 32)
		if err != nil {
			return Value{}, false
		}
		if t == TypI32 {
			return I32(int32(n)), true
		}
		return Z32(int32(n)), true
	case TypI64, TypZ64:
		n, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return Value{}, false
		}
		if t == TypI64 {
			return I64(n), true
		}
		return Z64(n), true
	case TypF32:
		f, err := strconv.ParseFloat(literal, 32)
		if err != nil {
			return Value{}, false
		}
		return F32(float32(f)), true
	case TypF64:
		f, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return Value{}, false
		}
		return F64(f), true
	case TypDecimal:
		f, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return Value{}, false
		}
		scale := 0
		if i := strings.IndexByte(literal, '.'); i >= 0 {
			scale = len(literal) - i - 1
		}
		return DecimalV(Decimal{Mantissa: int64(math.Round(f * pow10(scale))), Scale: uint8(scale)}), true
	case TypDateTime:
		t2, err := time.Parse(time.RFC3339Nano, literal)
		if err != nil {
			return Value{}, false
		}
		return DateTime(t2), true
	case TypDuration:
		lit := strings.TrimSuffix(literal, "s")
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Value{}, false
		}
		return DurationV(time.Duration(f * float64(time.Second))), true
	case TypBool:
		switch literal {
		case "true":
			return Bool(true), true
		case "false":
			return Bool(false), true
		default:
			return Value{}, false
		}
	case TypNull:
		if literal == "null" {
			return Null(), true
		}
		return Value{}, false
	case TypResult:
		return parseResult(literal)
	case TypString:
		if s, ok := unquoteString(literal); ok {
			return String(s), true
		}
		return String(literal), true
	case TypBytes:
		b, err := base64.StdEncoding.DecodeString(literal)
		if err != nil {
			return Value{}, false
		}
		return Bytes(b), true
	case TypArray:
		return parseArray(literal)
	default:
		return Value{}, false
	}
}

func pow10(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 10
	}
	return r
}

func parseResult(literal string) (Value, bool) {
	if literal == "ok" {
		return Ok(), true
	}
	if strings.HasPrefix(literal, "error:") {
		msg := strings.TrimPrefix(literal, "error:")
		if s, ok := unquoteString(msg); ok {
			return ErrorV(s), true
		}
		return ErrorV(msg), true
	}
	return Value{}, false
}

func parseArray(literal string) (Value, bool) {
	s := strings.TrimSpace(literal)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return Value{}, false
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return Array(nil), true
	}

	elems, ok := splitTopLevel(inner)
	if !ok {
		return Value{}, false
	}

	out := make([]Value, 0, len(elems))
	for _, e := range elems {
		v, ok := FromStr(strings.TrimSpace(e))
		if !ok {
			return Value{}, false
		}
		out = append(out, v)
	}
	return Array(out), true
}

// splitTopLevel splits a comma-separated list, respecting bracket nesting and
// quoted strings, so nested arrays and strings containing ", " are handled.
func splitTopLevel(s string) ([]string, bool) {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			if i == 0 || s[i-1] != '\\' {
				inQuote = !inQuote
			}
		case '[':
			if !inQuote {
				depth++
			}
		case ']':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if inQuote || depth != 0 {
		return nil, false
	}
	parts = append(parts, s[start:])
	return parts, true
}

// FromStr parses the "tag:literal" textual form described in §4.1, plus the
// bare forms null/true/false/ok/error:"msg" and array literals [v, v, ...].
func FromStr(s string) (Value, bool) {
	s = strings.TrimSpace(s)
	switch s {
	case "null":
		return Null(), true
	case "true":
		return Bool(true), true
	case "false":
		return Bool(false), true
	case "ok":
		return Ok(), true
	}
	if strings.HasPrefix(s, "error:") {
		return parseResult(s)
	}
	if strings.HasPrefix(s, "[") {
		return parseArray(s)
	}
	if strings.HasPrefix(s, `"`) {
		if str, ok := unquoteString(s); ok {
			return String(str), true
		}
		return Value{}, false
	}

	if i := strings.IndexByte(s, ':'); i > 0 {
		tag := s[:i]
		if t, ok := typFromTag(tag); ok {
			return Parse(t, s[i+1:])
		}
	}

	return Value{}, false
}

func typFromTag(tag string) (Typ, bool) {
	for t := Typ(0); t < typCount; t++ {
		if t.String() == tag {
			return t, true
		}
	}
	return 0, false
}
