package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ValueKind enumerates the scalar kinds a property value may hold.
type ValueKind uint8

// Supported property value kinds.
const (
	KindInvalid ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a closed scalar property value. The zero Value is invalid.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
}

// String constructs a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int constructs an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float constructs a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// ValueOf converts a Go scalar into a Value. Anything that is not a string,
// integer, float or bool is rejected.
func ValueOf(v any) (Value, error) {
	switch t := v.(type) {
	case Value:
		if !t.Valid() {
			return Value{}, ArgumentError{Field: "value", Message: "invalid property value"}
		}
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return Value{}, ArgumentError{Field: "value", Message: fmt.Sprintf("integer %d overflows int64", t)}
		}
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, ArgumentError{Field: "value", Message: fmt.Sprintf("integer %d overflows int64", t)}
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, ArgumentError{Field: "value", Message: fmt.Sprintf("invalid number %q", t.String())}
		}
		return Float(f), nil
	case nil:
		return Value{}, ArgumentError{Field: "value", Message: "null is not a property value"}
	default:
		return Value{}, ArgumentError{Field: "value", Message: fmt.Sprintf("unsupported property value of type %T", v)}
	}
}

// Kind reports the value's kind.
func (v Value) Kind() ValueKind { return v.kind }

// Valid reports whether the value holds one of the supported kinds.
func (v Value) Valid() bool { return v.kind != KindInvalid }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// Equal compares kind and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == other.s
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindBool:
		return v.b == other.b
	default:
		return true
	}
}

func (v Value) String() string {
	if !v.Valid() {
		return "<invalid>"
	}
	return fmt.Sprint(v.Interface())
}

// wireValue is the tagged JSON form; exactly one field is set so integers and
// floats survive a snapshot round trip without kind drift.
type wireValue struct {
	S *string  `json:"s,omitempty"`
	I *int64   `json:"i,omitempty"`
	F *float64 `json:"f,omitempty"`
	B *bool    `json:"b,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var w wireValue
	switch v.kind {
	case KindString:
		w.S = &v.s
	case KindInt:
		w.I = &v.i
	case KindFloat:
		w.F = &v.f
	case KindBool:
		w.B = &v.b
	default:
		return nil, fmt.Errorf("marshal property value: invalid kind")
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal property value: %w", err)
	}
	switch {
	case w.S != nil:
		*v = String(*w.S)
	case w.I != nil:
		*v = Int(*w.I)
	case w.F != nil:
		*v = Float(*w.F)
	case w.B != nil:
		*v = Bool(*w.B)
	default:
		return fmt.Errorf("unmarshal property value: no kind set in %s", string(data))
	}
	return nil
}

// PropertySet maps property keys to scalar values.
type PropertySet map[string]Value

// PropertiesFrom converts a loosely typed payload into a PropertySet. Empty
// keys and unsupported values yield an InvalidArgument error.
func PropertiesFrom(raw map[string]any) (PropertySet, error) {
	out := make(PropertySet, len(raw))
	for k, v := range raw {
		if strings.TrimSpace(k) == "" {
			return nil, ArgumentError{Field: "properties", Message: "property key must not be empty"}
		}
		val, err := ValueOf(v)
		if err != nil {
			return nil, ArgumentError{Field: "properties." + k, Message: err.Error()}
		}
		out[k] = val
	}
	return out, nil
}

// Validate checks that every key is non-empty and every value is valid.
func (p PropertySet) Validate() error {
	for k, v := range p {
		if strings.TrimSpace(k) == "" {
			return ArgumentError{Field: "properties", Message: "property key must not be empty"}
		}
		if !v.Valid() {
			return ArgumentError{Field: "properties." + k, Message: "invalid property value"}
		}
	}
	return nil
}

// Clone returns a copy of the set. A nil set clones to an empty set.
func (p PropertySet) Clone() PropertySet {
	out := make(PropertySet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a new set holding p overlaid with patch. Keys present in
// patch overwrite; keys only in p are kept.
func (p PropertySet) Merge(patch PropertySet) PropertySet {
	out := p.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Keys returns the property keys in sorted order.
func (p PropertySet) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns the set as plain Go values.
func (p PropertySet) Map() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Interface()
	}
	return out
}

// Equal compares two sets key by key.
func (p PropertySet) Equal(other PropertySet) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
