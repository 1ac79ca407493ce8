package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	NullValue ValueKind = iota
	BoolValue
	IntValue
	DoubleValue
	StringValue
	ArrayValue
	ObjectValue
)

// Value is a JSON value with an explicit variant tag. It is used for cache
// payloads and preferences so that every stored value round-trips.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: BoolValue, b: b} }
func Int(i int64) Value { return Value{kind: IntValue, i: i} }

// Double wraps f. NaN and infinities have no JSON form and become Null.
func Double(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: DoubleValue, f: f}
}

func String(s string) Value { return Value{kind: StringValue, s: s} }
func Array(items ...Value) Value { return Value{kind: ArrayValue, arr: items} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: ObjectValue, obj: m}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool { return v.kind == NullValue }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == BoolValue }
func (v Value) AsString() (string, bool) { return v.s, v.kind == StringValue }
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == ArrayValue }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == ObjectValue }

func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case IntValue:
		return v.i, true
	case DoubleValue:
		// 2^63 is exact as a float64; int64 holds [-2^63, 2^63).
		if v.f == math.Trunc(v.f) && v.f >= -(1<<63) && v.f < 1<<63 {
			return int64(v.f), true
		}
	}
	return 0, false
}

func (v Value) AsDouble() (float64, bool) {
	switch v.kind {
	case DoubleValue:
		return v.f, true
	case IntValue:
		return float64(v.i), true
	}
	return 0, false
}

// Field returns the named member of an object value, or Null.
func (v Value) Field(name string) Value {
	if v.kind != ObjectValue {
		return Null()
	}
	return v.obj[name]
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case NullValue:
		return []byte("null"), nil
	case BoolValue:
		return json.Marshal(v.b)
	case IntValue:
		return json.Marshal(v.i)
	case DoubleValue:
		return json.Marshal(v.f)
	case StringValue:
		return json.Marshal(v.s)
	case ArrayValue:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case ObjectValue:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := valueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func valueOf(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Double(f), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, r := range t {
			item, err := valueOf(r)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Array(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, r := range t {
			item, err := valueOf(r)
			if err != nil {
				return Value{}, err
			}
			m[k] = item
		}
		return Object(m), nil
	}
	return Value{}, fmt.Errorf("unsupported json type %T", raw)
}
