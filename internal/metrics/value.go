// Package metrics holds the value and sample types shared by all
// telemetry sources.
package metrics

import (
	"fmt"
	"strconv"
)

// Kind discriminates the payload carried by a Value.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
)

// Value is an immutable int64/float64/string variant.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

func Int(v int64) Value     { return Value{kind: KindInt, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) String() string { return v.s }

// Any returns the payload as an untyped value, mainly for JSON encoding.
func (v Value) Any() any {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	default:
		return v.i
	}
}

func (v Value) appendJSON(dst []byte) ([]byte, error) {
	switch v.kind {
	case KindInt:
		return strconv.AppendInt(dst, v.i, 10), nil
	case KindFloat:
		return strconv.AppendFloat(dst, v.f, 'g', -1, 64), nil
	case KindString:
		return strconv.AppendQuote(dst, v.s), nil
	default:
		return nil, fmt.Errorf("metrics: unknown value kind %d", v.kind)
	}
}
