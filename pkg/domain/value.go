package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind discriminates the alternatives held by a Value.
type ValueKind uint8

// Value kinds. The zero Value is absent ("unanswered"), which is distinct
// from an empty string.
const (
	KindAbsent ValueKind = iota
	KindString
	KindBool
	KindInt
	KindFloat
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	default:
		return "absent"
	}
}

// Value is an observation answer: absent, string, bool, integer or float.
type Value struct {
	kind ValueKind
	s    string
	b    bool
	i    int64
	f    float64
}

// Absent returns the unanswered value.
func Absent() Value { return Value{} }

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IntValue wraps i.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue wraps f.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// Kind reports the held alternative.
func (v Value) Kind() ValueKind { return v.kind }

// IsAbsent reports whether v is unanswered.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Str returns the string alternative.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Bool returns the bool alternative.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Int returns the integer alternative.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInt }

// Float64 returns the numeric content of integer and float values.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Interface returns the native Go representation (nil when absent).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	default:
		return nil
	}
}

// Equal compares kind and content. Integers and floats never compare equal
// to each other so a type change counts as a value change.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == other.s
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f || (math.IsNaN(v.f) && math.IsNaN(other.f))
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	default:
		return ""
	}
}

// MarshalJSON encodes absent values as null. Floats always carry a fraction
// or exponent so they decode back as floats.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind != KindFloat {
		return json.Marshal(v.Interface())
	}
	data, err := json.Marshal(v.f)
	if err != nil {
		return nil, err
	}
	if !bytes.ContainsAny(data, ".eE") {
		data = append(data, ".0"...)
	}
	return data, nil
}

// UnmarshalJSON decodes null, strings, booleans and numbers. Numbers written
// without fraction or exponent decode as integers.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*v = Absent()
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	default:
		text := string(trimmed)
		if !strings.ContainsAny(text, ".eE") {
			if i, err := strconv.ParseInt(text, 10, 64); err == nil {
				*v = IntValue(i)
				return nil
			}
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("decode value %s: %w", text, err)
		}
		*v = FloatValue(f)
	}
	return nil
}

// CoerceImported converts a raw spreadsheet cell into a Value typed for the
// variable. Spreadsheets deliver numbers as floats and use 0 for "not
// answered": numeric zero and blank strings become absent.
func CoerceImported(raw any, t VariableType) Value {
	switch x := raw.(type) {
	case nil:
		return Absent()
	case string:
		trimmed := strings.TrimSpace(x)
		if trimmed == "" {
			return Absent()
		}
		if t.Numeric() || t == VariableTypeBoolean {
			if f, err := strconv.ParseFloat(strings.ReplaceAll(trimmed, ",", "."), 64); err == nil {
				return CoerceImported(f, t)
			}
		}
		return StringValue(trimmed)
	case bool:
		if t == VariableTypeString {
			return StringValue(strconv.FormatBool(x))
		}
		return BoolValue(x)
	case int:
		return CoerceImported(float64(x), t)
	case int64:
		return CoerceImported(float64(x), t)
	case float32:
		return CoerceImported(float64(x), t)
	case float64:
		if x == 0 {
			return Absent()
		}
		switch t {
		case VariableTypeBoolean:
			return BoolValue(x == 1)
		case VariableTypeInteger, VariableTypeLong:
			return IntValue(int64(x))
		case VariableTypeString:
			return StringValue(strconv.FormatFloat(x, 'f', -1, 64))
		default:
			return FloatValue(x)
		}
	default:
		return StringValue(fmt.Sprint(x))
	}
}
