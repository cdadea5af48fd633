package deserializer

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

// PrimitiveDeserializer converts JSON scalars to the Go representation of an
// EDM primitive type.
type PrimitiveDeserializer struct{}

func (d *PrimitiveDeserializer) ReadInline(item interface{}, typ edm.TypeReference, _ *Context) (interface{}, error) {
	prim, ok := typ.Definition.(*edm.PrimitiveType)
	if !ok {
		return nil, newError(ErrInvalidArgument, typ.FullName(), "", "not a primitive type")
	}
	if item == nil {
		if !typ.Nullable {
			return nil, fmt.Errorf("null value for non-nullable %s", prim.FullName())
		}
		return nil, nil
	}
	return ConvertPrimitive(item, prim)
}

// ConvertPrimitive converts a wire value to prim. Values that already have
// the Go representation of prim are accepted as is.
func ConvertPrimitive(value interface{}, prim *edm.PrimitiveType) (interface{}, error) {
	switch prim {
	case edm.String:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case edm.Boolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case edm.Int64:
		return toInteger(value, 64, func(n int64) interface{} { return n })
	case edm.Int32:
		return toInteger(value, 32, func(n int64) interface{} { return int32(n) })
	case edm.Int16:
		return toInteger(value, 16, func(n int64) interface{} { return int16(n) })
	case edm.SByte:
		return toInteger(value, 8, func(n int64) interface{} { return int8(n) })
	case edm.Byte:
		n, err := toInteger(value, 64, func(n int64) interface{} { return n })
		if err != nil {
			return nil, err
		}
		if v := n.(int64); v < 0 || v > math.MaxUint8 {
			return nil, fmt.Errorf("value %d out of range for Edm.Byte", v)
		}
		return uint8(n.(int64)), nil
	case edm.Double:
		return toFloat(value, 64)
	case edm.Single:
		f, err := toFloat(value, 32)
		if err != nil {
			return nil, err
		}
		return float32(f.(float64)), nil
	case edm.Decimal:
		return toDecimal(value)
	case edm.Guid:
		switch v := value.(type) {
		case uuid.UUID:
			return v, nil
		case string:
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, fmt.Errorf("invalid Edm.Guid %q: %w", v, err)
			}
			return id, nil
		}
	case edm.DateTimeOffset:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("invalid Edm.DateTimeOffset %q: %w", v, err)
			}
			return t, nil
		}
	case edm.Date:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return nil, fmt.Errorf("invalid Edm.Date %q: %w", v, err)
			}
			return t, nil
		}
	case edm.TimeOfDay:
		if s, ok := value.(string); ok {
			t, err := time.Parse("15:04:05.999999999", s)
			if err != nil {
				return nil, fmt.Errorf("invalid Edm.TimeOfDay %q: %w", s, err)
			}
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond()), nil
		}
	case edm.Duration:
		switch v := value.(type) {
		case time.Duration:
			return v, nil
		case string:
			return parseISODuration(v)
		}
	case edm.Binary:
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			if b, err := base64.StdEncoding.DecodeString(v); err == nil {
				return b, nil
			}
			b, err := base64.URLEncoding.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("invalid Edm.Binary: %w", err)
			}
			return b, nil
		}
	case edm.Untyped:
		return inferValue(value), nil
	default:
		return nil, fmt.Errorf("unsupported primitive type %s", prim.FullName())
	}
	return nil, fmt.Errorf("cannot convert %T to %s", value, prim.FullName())
}

func toInteger(value interface{}, bits int, wrap func(int64) interface{}) (interface{}, error) {
	var n int64
	switch v := value.(type) {
	case json.Number:
		parsed, err := strconv.ParseInt(string(v), 10, bits)
		if err != nil {
			return nil, fmt.Errorf("invalid Int%d %s: %w", bits, v, err)
		}
		return wrap(parsed), nil
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint8:
		n = int64(v)
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("value %v is not an integer", v)
		}
		n = int64(v)
	default:
		return nil, fmt.Errorf("cannot convert %T to Int%d", value, bits)
	}
	if bits < 64 {
		limit := int64(1) << (bits - 1)
		if n < -limit || n >= limit {
			return nil, fmt.Errorf("value %d out of range for Int%d", n, bits)
		}
	}
	return wrap(n), nil
}

func toFloat(value interface{}, bits int) (interface{}, error) {
	switch v := value.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(v), bits)
		if err != nil {
			return nil, fmt.Errorf("invalid floating point value %s: %w", v, err)
		}
		return f, nil
	case string:
		switch v {
		case "NaN":
			return math.NaN(), nil
		case "INF":
			return math.Inf(1), nil
		case "-INF":
			return math.Inf(-1), nil
		}
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return nil, fmt.Errorf("cannot convert %T to a floating point value", value)
}

func toDecimal(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case json.Number:
		return decimal.NewFromString(string(v))
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid Edm.Decimal %q: %w", v, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	}
	return nil, fmt.Errorf("cannot convert %T to Edm.Decimal", value)
}

// parseISODuration parses an xsd:dayTimeDuration such as "P1DT2H30M1.5S".
func parseISODuration(s string) (time.Duration, error) {
	neg := strings.HasPrefix(s, "-")
	rest := strings.TrimPrefix(s, "-")
	if !strings.HasPrefix(rest, "P") || len(rest) < 2 {
		return 0, fmt.Errorf("invalid Edm.Duration %q", s)
	}
	rest = rest[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, c := range rest {
		switch {
		case c == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("invalid Edm.Duration %q", s)
			}
			inTime = true
		case (c >= '0' && c <= '9') || c == '.':
			num += string(c)
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid Edm.Duration %q", s)
			}
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid Edm.Duration %q: %w", s, err)
			}
			var unit time.Duration
			switch {
			case c == 'D' && !inTime:
				unit = 24 * time.Hour
			case c == 'H' && inTime:
				unit = time.Hour
			case c == 'M' && inTime:
				unit = time.Minute
			case c == 'S' && inTime:
				unit = time.Second
			default:
				return 0, fmt.Errorf("invalid Edm.Duration %q", s)
			}
			total += time.Duration(f * float64(unit))
			num = ""
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid Edm.Duration %q", s)
	}
	if neg {
		total = -total
	}
	return total, nil
}

// inferValue converts untyped JSON values: integers become int32 or int64,
// other numbers float64.
func inferValue(value interface{}) interface{} {
	switch v := value.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			if n >= math.MinInt32 && n <= math.MaxInt32 {
				return int32(n)
			}
			return n
		}
		if f, err := strconv.ParseFloat(string(v), 64); err == nil {
			return f
		}
		return string(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = inferValue(elem)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, elem := range v {
			out[k] = inferValue(elem)
		}
		return out
	default:
		return value
	}
}

// EnumDeserializer converts member names, comma-separated flag names and
// numeric values to the underlying integer of an enum type.
type EnumDeserializer struct{}

func (d *EnumDeserializer) ReadInline(item interface{}, typ edm.TypeReference, _ *Context) (interface{}, error) {
	enum, ok := typ.Definition.(*edm.EnumType)
	if !ok {
		return nil, newError(ErrInvalidArgument, typ.FullName(), "", "not an enum type")
	}
	if item == nil {
		if !typ.Nullable {
			return nil, fmt.Errorf("null value for non-nullable %s", enum.FullName())
		}
		return nil, nil
	}

	var value int64
	switch v := item.(type) {
	case string:
		n, err := parseEnumString(enum, v)
		if err != nil {
			return nil, err
		}
		value = n
	default:
		n, err := toInteger(item, 64, func(n int64) interface{} { return n })
		if err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", enum.FullName(), err)
		}
		value = n.(int64)
	}

	underlying := enum.Underlying
	if underlying == nil {
		underlying = edm.Int32
	}
	return ConvertPrimitive(value, underlying)
}

func parseEnumString(enum *edm.EnumType, s string) (int64, error) {
	s = strings.TrimPrefix(s, enum.FullName())
	s = strings.Trim(s, "'")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	names := []string{s}
	if enum.IsFlags {
		names = strings.Split(s, ",")
	} else if strings.Contains(s, ",") {
		return 0, fmt.Errorf("%s is not a flags enum", enum.FullName())
	}

	var value int64
	for _, name := range names {
		member, ok := enum.Member(strings.TrimSpace(name))
		if !ok {
			return 0, fmt.Errorf("%q is not a member of %s", name, enum.FullName())
		}
		value |= member.Value
	}
	return value, nil
}

// CollectionDeserializer reads collections of primitive and enum values.
type CollectionDeserializer struct{}

func (d *CollectionDeserializer) ReadInline(item interface{}, typ edm.TypeReference, dctx *Context) (interface{}, error) {
	if !typ.IsCollection() {
		return nil, newError(ErrInvalidArgument, typ.FullName(), "", "not a collection type")
	}
	if item == nil {
		if !typ.Nullable {
			return nil, fmt.Errorf("null value for non-nullable %s", typ.FullName())
		}
		return nil, nil
	}
	items, ok := item.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an array for %s, got %T", typ.FullName(), item)
	}

	elemRef := typ.ElementType()
	deserializer, err := lookup(dctx, elemRef)
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, 0, len(items))
	for i, elem := range items {
		value, err := deserializer.ReadInline(elem, elemRef, dctx)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		values = append(values, value)
	}
	return values, nil
}
