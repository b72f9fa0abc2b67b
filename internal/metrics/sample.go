package metrics

import (
	"math"
	"strconv"
	"strings"
)

// Field is one named measurement inside a Sample.
type Field struct {
	Name  string
	Value Value
}

// Sample is an insertion-ordered set of named values. A sampler builds
// a fresh Sample per call and hands ownership to the caller; nothing
// is shared or reused between calls.
type Sample struct {
	fields []Field
	index  map[string]int
}

func NewSample() *Sample {
	return &Sample{index: make(map[string]int)}
}

// Append records a value under name. A repeated name overwrites the
// earlier value in place, keeping its original position.
func (s *Sample) Append(name string, v Value) {
	if i, ok := s.index[name]; ok {
		s.fields[i].Value = v
		return
	}
	s.index[name] = len(s.fields)
	s.fields = append(s.fields, Field{Name: name, Value: v})
}

// AppendFloat records v under name unless it is NaN or infinite.
func (s *Sample) AppendFloat(name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	s.Append(name, Float(v))
}

func (s *Sample) AppendInt(name string, v int64) {
	s.Append(name, Int(v))
}

func (s *Sample) AppendString(name, v string) {
	s.Append(name, String(v))
}

func (s *Sample) Get(name string) (Value, bool) {
	i, ok := s.index[name]
	if !ok {
		return Value{}, false
	}
	return s.fields[i].Value, true
}

func (s *Sample) Len() int {
	return len(s.fields)
}

// Fields returns the measurements in insertion order. The slice is
// owned by the Sample; callers must not mutate it.
func (s *Sample) Fields() []Field {
	return s.fields
}

// Merge appends every field of other onto s, preserving other's order.
func (s *Sample) Merge(other *Sample) {
	if other == nil {
		return
	}
	for _, f := range other.fields {
		s.Append(f.Name, f.Value)
	}
}

// MarshalJSON encodes the sample as a flat object in insertion order.
func (s *Sample) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 16+len(s.fields)*24)
	buf = append(buf, '{')
	for i, f := range s.fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, f.Name)
		buf = append(buf, ':')
		var err error
		buf, err = f.Value.appendJSON(buf)
		if err != nil {
			return nil, err
		}
	}
	return append(buf, '}'), nil
}

// IsMetadataName reports whether name belongs to the static-metadata
// namespace (leading underscore on the first dotted segment).
func IsMetadataName(name string) bool {
	return strings.HasPrefix(name, "_")
}
