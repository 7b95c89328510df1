package core

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Value is a dynamically typed column value. The zero Value is SQL NULL.
//
// The held value is one of nil, int64, float64, string, bool, []byte
// or time.Time.
type Value struct {
	v interface{}
}

// Null returns the NULL value.
func Null() Value {
	return Value{}
}

// NewValue wraps v, normalizing integer and float kinds to int64 and float64.
// Unsigned integers that do not fit an int64 are kept as decimal text.
func NewValue(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case *Value:
		if t == nil {
			return Value{}
		}
		return *t
	case int:
		return Value{v: int64(t)}
	case int8:
		return Value{v: int64(t)}
	case int16:
		return Value{v: int64(t)}
	case int32:
		return Value{v: int64(t)}
	case int64:
		return Value{v: t}
	case uint:
		return NewValue(uint64(t))
	case uint8:
		return Value{v: int64(t)}
	case uint16:
		return Value{v: int64(t)}
	case uint32:
		return Value{v: int64(t)}
	case uint64:
		if t > math.MaxInt64 {
			return Value{v: strconv.FormatUint(t, 10)}
		}
		return Value{v: int64(t)}
	case float32:
		return Value{v: float64(t)}
	case float64, string, bool, time.Time:
		return Value{v: t}
	case []byte:
		if t == nil {
			return Value{}
		}
		return Value{v: append([]byte(nil), t...)}
	case fmt.Stringer:
		return Value{v: t.String()}
	default:
		return Value{v: fmt.Sprint(t)}
	}
}

// IsValid reports whether the value is not NULL.
func (v Value) IsValid() bool {
	return v.v != nil
}

// Interface returns the held value, nil for NULL. The result can be
// passed directly as a statement argument.
func (v Value) Interface() interface{} {
	return v.v
}

// String renders the value. NULL renders as the empty string.
func (v Value) String() string {
	switch t := v.v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(t)
	}
}

// Int coerces the value to an integer. NULL and unparsable text give 0.
func (v Value) Int() int64 {
	switch t := v.v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string, []byte:
		s := strings.TrimSpace(v.String())
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
		return 0
	default:
		return 0
	}
}

// Equal reports whether both values are NULL, or both are non-NULL and
// render identically.
func (v Value) Equal(other Value) bool {
	if v.IsValid() != other.IsValid() {
		return false
	}
	if a, ok := v.v.([]byte); ok {
		if b, ok := other.v.([]byte); ok {
			return bytes.Equal(a, b)
		}
	}
	return v.String() == other.String()
}

// GoString implements fmt.GoStringer for debugging output.
func (v Value) GoString() string {
	if !v.IsValid() {
		return "NULL"
	}
	return strconv.Quote(v.String())
}
