package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clsa/birch/internal/core"
)

// TypeMapper converts between raw driver values and core.Value according
// to a column's information_schema data_type.
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

type kind int

const (
	kindText kind = iota
	kindInt
	kindFloat
	kindDecimal
	kindTime
	kindBinary
)

// kindOf classifies a data type. Sizes such as "varchar(45)" are ignored.
func kindOf(dataType string) kind {
	base := strings.ToLower(strings.TrimSpace(dataType))
	if idx := strings.Index(base, "("); idx > 0 {
		base = base[:idx]
	}
	base = strings.TrimSuffix(base, " unsigned")

	switch base {
	case "int", "integer", "tinyint", "smallint", "mediumint", "bigint", "bit", "year", "bool", "boolean":
		return kindInt
	case "float", "double", "double precision", "real":
		return kindFloat
	case "decimal", "numeric":
		return kindDecimal
	case "date", "datetime", "timestamp":
		return kindTime
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob":
		return kindBinary
	default:
		return kindText
	}
}

var timeFormats = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02",
}

// FromDB converts a scanned driver value into a Value.
func (tm *TypeMapper) FromDB(raw interface{}, dataType string) (core.Value, error) {
	switch v := raw.(type) {
	case nil:
		return core.Null(), nil
	case []byte:
		return tm.fromText(string(v), v, dataType)
	case string:
		return tm.fromText(v, []byte(v), dataType)
	case time.Time:
		return core.NewValue(v), nil
	default:
		return core.NewValue(v), nil
	}
}

func (tm *TypeMapper) fromText(s string, b []byte, dataType string) (core.Value, error) {
	switch kindOf(dataType) {
	case kindInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			if _, uerr := strconv.ParseUint(s, 10, 64); uerr != nil {
				return core.Null(), fmt.Errorf("cannot convert %q to %s: %w", s, dataType, err)
			}
			// beyond int64, an unsigned column stays textual
			return core.NewValue(s), nil
		}
		return core.NewValue(i), nil
	case kindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return core.Null(), fmt.Errorf("cannot convert %q to %s: %w", s, dataType, err)
		}
		return core.NewValue(f), nil
	case kindTime:
		if strings.HasPrefix(s, "0000-00-00") {
			return core.Null(), nil
		}
		for _, format := range timeFormats {
			if t, err := time.Parse(format, s); err == nil {
				return core.NewValue(t), nil
			}
		}
		return core.Null(), fmt.Errorf("cannot parse time string: %s", s)
	case kindBinary:
		return core.NewValue(b), nil
	default:
		// decimal stays textual to keep precision
		return core.NewValue(s), nil
	}
}

// ToDB converts a Value into a statement argument for a column of the
// given data type. NULL converts to nil.
func (tm *TypeMapper) ToDB(v core.Value, dataType string) (interface{}, error) {
	if !v.IsValid() {
		return nil, nil
	}

	switch kindOf(dataType) {
	case kindInt:
		switch t := v.Interface().(type) {
		case int64:
			return t, nil
		case bool:
			return v.Int(), nil
		}
		s := strings.TrimSpace(v.String())
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
		return nil, fmt.Errorf("cannot convert %q to %s", s, dataType)
	case kindFloat:
		if f, ok := v.Interface().(float64); ok {
			return f, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to %s: %w", v.String(), dataType, err)
		}
		return f, nil
	case kindTime:
		if t, ok := v.Interface().(time.Time); ok {
			return t, nil
		}
		return v.String(), nil
	case kindBinary:
		if b, ok := v.Interface().([]byte); ok {
			return b, nil
		}
		return []byte(v.String()), nil
	default:
		return v.String(), nil
	}
}
