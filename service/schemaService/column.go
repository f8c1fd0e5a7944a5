package schemaService

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// ColumnType - storage type of a dynamic column
type ColumnType string

// column types the evolver can provision
const (
	TypeText    ColumnType = "TEXT"
	TypeJSON    ColumnType = "JSONB"
	TypeBigInt  ColumnType = "BIGINT"
	TypeNumeric ColumnType = "NUMERIC"
	TypeBoolean ColumnType = "BOOLEAN"
)

// MaxColumnNameLen - postgres identifier limit
const MaxColumnNameLen = 63

var (
	columnNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	integerPattern    = regexp.MustCompile(`^[0-9]+$`)
	decimalPattern    = regexp.MustCompile(`^[0-9]+\.[0-9]+$`)
)

// reservedNames - fixed post fields and their storage names. Compared in lower case
var reservedNames = map[string]bool{
	"id":             true,
	"title":          true,
	"author":         true,
	"contentblocks":  true,
	"content_blocks": true,
	"comments":       true,
	"media":          true,
	"createdat":      true,
	"created_at":     true,
	"updatedat":      true,
	"updated_at":     true,
}

// IsValidColumnName - name is later interpolated into DDL, so it must be a plain identifier
func IsValidColumnName(name string) bool {
	return len(name) <= MaxColumnNameLen && columnNamePattern.MatchString(name)
}

// IsReservedName - reports whether name belongs to the fixed post schema
func IsReservedName(name string) bool {
	return reservedNames[strings.ToLower(name)]
}

// InferColumnType - picks a storage type for a raw request value
// Strings come from multipart forms; json.Number, bool, maps and slices come from JSON bodies
func InferColumnType(value interface{}) ColumnType {
	switch v := value.(type) {
	case nil:
		return TypeText
	case map[string]interface{}, []interface{}:
		return TypeJSON
	case bool:
		return TypeBoolean
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return TypeBigInt
		}
		return TypeNumeric
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < math.MaxInt64 {
			return TypeBigInt
		}
		return TypeNumeric
	case int, int32, int64:
		return TypeBigInt
	case string:
		return inferFromString(v)
	default:
		return TypeText
	}
}

func inferFromString(s string) ColumnType {
	switch {
	case s == "":
		return TypeText
	case integerPattern.MatchString(s):
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			// out of BIGINT range
			return TypeNumeric
		}
		return TypeBigInt
	case decimalPattern.MatchString(s):
		return TypeNumeric
	case strings.EqualFold(s, "true"), strings.EqualFold(s, "false"):
		return TypeBoolean
	default:
		return TypeText
	}
}

// ConvertValue - coerces a raw request value into the storage value of a column of the given type
// Values that do not fit the column are returned as a ConversionError
func ConvertValue(columnType ColumnType, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok && s == "" && columnType != TypeText {
		return nil, nil
	}

	switch columnType {
	case TypeJSON:
		switch v := value.(type) {
		case string:
			if !json.Valid([]byte(v)) {
				// plain strings are stored as JSON strings
				encoded, err := json.Marshal(v)
				return json.RawMessage(encoded), err
			}
			return json.RawMessage(v), nil
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, &ConversionError{Column: columnType, Value: value}
			}
			return json.RawMessage(encoded), nil
		}
	case TypeBigInt:
		s, ok := scalarString(value)
		if !ok {
			return nil, &ConversionError{Column: columnType, Value: value}
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, &ConversionError{Column: columnType, Value: value}
		}
		return n, nil
	case TypeNumeric:
		s, ok := scalarString(value)
		if !ok {
			return nil, &ConversionError{Column: columnType, Value: value}
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return nil, &ConversionError{Column: columnType, Value: value}
		}
		return json.Number(s), nil
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(v))
			if err != nil {
				return nil, &ConversionError{Column: columnType, Value: value}
			}
			return b, nil
		default:
			return nil, &ConversionError{Column: columnType, Value: value}
		}
	default:
		switch v := value.(type) {
		case string:
			return v, nil
		case map[string]interface{}, []interface{}:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, &ConversionError{Column: columnType, Value: value}
			}
			return string(encoded), nil
		default:
			s, _ := scalarString(v)
			return s, nil
		}
	}
}

// scalarString - text form of a scalar value. Maps, slices and other composites are not scalars
func scalarString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case map[string]interface{}, []interface{}:
		return "", false
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return "", false
	}
	return s, true
}

// ConversionError - value does not fit an existing column
type ConversionError struct {
	Column ColumnType
	Value  interface{}
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("value %v does not fit column type %s", e.Value, e.Column)
}
