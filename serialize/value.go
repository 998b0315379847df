// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serialize

import (
	"bytes"
	"fmt"
	"strconv"
)

// Kind identifies the type carried by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindUint
	KindFloat
	KindBytes
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is one typed argument slot exchanged through a Serializer.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
	b    []byte
}

// Int returns a signed integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Uint returns an unsigned integer value.
func Uint(v uint64) Value { return Value{kind: KindUint, u: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Bytes returns a raw byte value. The slice is not copied.
func Bytes(b []byte) Value { return Value{kind: KindBytes, b: b} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, b: []byte(s)} }

// Kind reports the type carried by v.
func (v Value) Kind() Kind { return v.kind }

// Int returns v as int64, converting numeric kinds.
func (v Value) Int() int64 {
	switch v.kind {
	case KindUint:
		return int64(v.u)
	case KindFloat:
		return int64(v.f)
	}
	return v.i
}

// Uint returns v as uint64, converting numeric kinds.
func (v Value) Uint() uint64 {
	switch v.kind {
	case KindInt:
		return uint64(v.i)
	case KindFloat:
		return uint64(v.f)
	}
	return v.u
}

// Float returns v as float64, converting numeric kinds.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindUint:
		return float64(v.u)
	}
	return v.f
}

// Bytes returns the raw bytes of a bytes or string value.
func (v Value) Bytes() []byte { return v.b }

// IsNumeric reports whether v holds an int, uint or float.
func (v Value) IsNumeric() bool {
	return v.kind == KindInt || v.kind == KindUint || v.kind == KindFloat
}

// String returns the text of a string or bytes value and a decimal rendering
// of numeric values.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBytes, KindString:
		return string(v.b)
	}
	return "<invalid>"
}

// GoString implements fmt.GoStringer so test failures are readable.
func (v Value) GoString() string {
	return fmt.Sprintf("serialize.Value{%s: %q}", v.kind, v.String())
}

// Equal reports whether v and o have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindUint:
		return v.u == o.u
	case KindFloat:
		return v.f == o.f
	case KindBytes, KindString:
		return bytes.Equal(v.b, o.b)
	}
	return true
}
