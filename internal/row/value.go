// Package row holds the column values captured in entity versions and
// carried association columns.
//
// Values form a sealed set: Null, Text, Int, Bool, List and Values. Floats
// are not representable so that stored snapshots encode byte-identically
// across drivers.
package row

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf16"
)

// Value is a sealed interface; only the types in this package implement it.
type Value interface {
	rowValue()
}

// Null is an SQL NULL column value.
type Null struct{}

func (Null) rowValue() {}

// Text is a string column value.
type Text string

func (Text) rowValue() {}

// Int is an integer column value. Always int64.
type Int int64

func (Int) rowValue() {}

// Bool is a boolean column value.
type Bool bool

func (Bool) rowValue() {}

// List is an ordered list of values.
type List []Value

func (List) rowValue() {}

// Values maps column names to values.
// Use SortedKeys() for deterministic iteration.
type Values map[string]Value

func (Values) rowValue() {}

// Time encodes t as a Text value in UTC RFC 3339 with nanoseconds.
func Time(t time.Time) Text {
	return Text(t.UTC().Format(time.RFC3339Nano))
}

// ParseTime decodes a value produced by Time.
func ParseTime(v Value) (time.Time, error) {
	s, ok := v.(Text)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp must be text, got %T", v)
	}
	return time.Parse(time.RFC3339Nano, string(s))
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
func (v Values) SortedKeys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Merge returns a copy of v with every key of other laid over it.
func (v Values) Merge(other Values) Values {
	out := v.Clone()
	for k, val := range other {
		out[k] = val
	}
	return out
}

// compareKeysRFC8785 orders strings by UTF-16 code units.
// Go's native string comparison is by UTF-8 bytes, which differs above the BMP.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Equal reports whether a and b hold the same value.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Null:
		_, ok := b.(Null)
		return ok
	case Text:
		bv, ok := b.(Text)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Values:
		bv, ok := b.(Values)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !Equal(x, y) {
				return false
			}
		}
		return true
	}
	return false
}

// FromGo converts a decoded YAML/JSON tree into a Value.
// nil becomes Null. Floats are rejected unless they hold an integral value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return Text(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return uintToInt(uint64(val))
	case uint32:
		return Int(val), nil
	case uint64:
		return uintToInt(val)
	case float64:
		if val < math.MinInt64 || val >= math.MaxInt64 || val != math.Trunc(val) {
			return nil, fmt.Errorf("floats are not supported: %v", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		return numberToInt(val)
	case time.Time:
		return Time(val), nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := make(Values, len(val))
		for k, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func uintToInt(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("number out of int64 range: %d", u)
	}
	return Int(int64(u)), nil
}

// ValuesFromGo converts a decoded map into Values. A nil map yields an empty one.
func ValuesFromGo(m map[string]any) (Values, error) {
	out := make(Values, len(m))
	for k, elem := range m {
		conv, err := FromGo(elem)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = conv
	}
	return out, nil
}

// ToGo converts a Value back into plain Go types for presentation.
func ToGo(v Value) any {
	switch val := v.(type) {
	case Text:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case Values:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	}
	return nil
}

// UnmarshalValues decodes a JSON object produced by MarshalCanonical.
func UnmarshalValues(data []byte) (Values, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	return ValuesFromGo(raw)
}

func numberToInt(n json.Number) (Value, error) {
	s := string(n)
	if strings.ContainsAny(s, ".eE") {
		return nil, fmt.Errorf("floats are not supported: %s", s)
	}
	i, err := n.Int64()
	if err != nil {
		return nil, fmt.Errorf("number out of int64 range: %s", s)
	}
	return Int(i), nil
}
