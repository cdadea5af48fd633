package instance

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/google/uuid"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

// Assign stores value into field, converting between compatible Go
// representations: numeric widening with overflow checks, pointer wrapping and
// unwrapping, named types, UUID byte forms and element-wise slice conversion.
// Materialized objects are unwrapped to their Go values first.
func Assign(field reflect.Value, value interface{}) error {
	if !field.CanSet() {
		return fmt.Errorf("cannot set value for field of type %s", field.Type())
	}

	value = Unwrap(value)

	if value == nil {
		switch field.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
			field.SetZero()
			return nil
		default:
			return fmt.Errorf("null cannot be assigned to non-nullable field of type %s", field.Type())
		}
	}

	val := reflect.ValueOf(value)
	targetType := field.Type()

	if val.Type().AssignableTo(targetType) {
		field.Set(val)
		return nil
	}

	if targetType.Kind() == reflect.Interface && targetType.NumMethod() == 0 {
		field.Set(val)
		return nil
	}

	// Dereference pointers produced for nested structured values.
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return Assign(field, nil)
		}
		if val.Elem().Type().AssignableTo(targetType) {
			field.Set(val.Elem())
			return nil
		}
	}

	if targetType.Kind() == reflect.Ptr {
		ptr := reflect.New(targetType.Elem())
		if err := Assign(ptr.Elem(), value); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}

	if uuidBytes, ok := uuidBytesOf(value); ok {
		if err := assignUUIDBytes(field, uuidBytes); err == nil {
			return nil
		}
	}

	if isNumericKind(val.Kind()) && isNumericKind(targetType.Kind()) {
		return assignNumeric(field, val)
	}

	if val.Kind() == reflect.String && targetType.Kind() == reflect.String {
		field.SetString(val.String())
		return nil
	}

	if val.Kind() == reflect.Bool && targetType.Kind() == reflect.Bool {
		field.SetBool(val.Bool())
		return nil
	}

	if targetType.Kind() == reflect.String {
		if s, ok := value.(fmt.Stringer); ok {
			field.SetString(s.String())
			return nil
		}
	}

	if targetType.Kind() == reflect.Slice && val.Kind() == reflect.Slice {
		return assignSlice(field, val)
	}

	if targetType.Kind() == reflect.Map && val.Kind() == reflect.Map && val.Type().ConvertibleTo(targetType) {
		field.Set(val.Convert(targetType))
		return nil
	}

	return fmt.Errorf("value of type %s cannot be assigned to field type %s", val.Type(), targetType)
}

func assignSlice(field reflect.Value, val reflect.Value) error {
	targetType := field.Type()
	out := reflect.MakeSlice(targetType, val.Len(), val.Len())
	for i := 0; i < val.Len(); i++ {
		elem := val.Index(i).Interface()
		if err := Assign(out.Index(i), elem); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	field.Set(out)
	return nil
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func assignNumeric(field reflect.Value, val reflect.Value) error {
	targetType := field.Type()

	switch targetType.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		switch val.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = val.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := val.Uint()
			if u > math.MaxInt64 {
				return fmt.Errorf("value %d overflows field type %s", u, targetType)
			}
			n = int64(u)
		default:
			f := val.Float()
			if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
				return fmt.Errorf("value %v cannot be represented by field type %s", f, targetType)
			}
			n = int64(f)
		}
		if field.OverflowInt(n) {
			return fmt.Errorf("value %d overflows field type %s", n, targetType)
		}
		field.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var u uint64
		switch val.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n := val.Int()
			if n < 0 {
				return fmt.Errorf("negative value %d cannot be assigned to field type %s", n, targetType)
			}
			u = uint64(n)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u = val.Uint()
		default:
			f := val.Float()
			if f != math.Trunc(f) || f < 0 || f > math.MaxUint64 {
				return fmt.Errorf("value %v cannot be represented by field type %s", f, targetType)
			}
			u = uint64(f)
		}
		if field.OverflowUint(u) {
			return fmt.Errorf("value %d overflows field type %s", u, targetType)
		}
		field.SetUint(u)
		return nil

	default:
		var f float64
		switch val.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(val.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f = float64(val.Uint())
		default:
			f = val.Float()
		}
		if field.OverflowFloat(f) {
			return fmt.Errorf("value %v overflows field type %s", f, targetType)
		}
		field.SetFloat(f)
		return nil
	}
}

func uuidBytesOf(value interface{}) ([16]byte, bool) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, true
	case [16]byte:
		return v, true
	case []byte:
		if len(v) == 16 {
			var b [16]byte
			copy(b[:], v)
			return b, true
		}
	}
	return [16]byte{}, false
}

func assignUUIDBytes(field reflect.Value, uuidBytes [16]byte) error {
	targetType := field.Type()
	uuidVal := reflect.ValueOf(uuidBytes)

	if targetType == uuidType {
		field.Set(reflect.ValueOf(uuid.UUID(uuidBytes)))
		return nil
	}

	if uuidVal.Type().ConvertibleTo(targetType) {
		field.Set(uuidVal.Convert(targetType))
		return nil
	}

	switch targetType.Kind() {
	case reflect.String:
		field.SetString(formatUUIDFromBytes(uuidBytes))
		return nil
	case reflect.Slice:
		if targetType.Elem().Kind() == reflect.Uint8 {
			bytes := make([]byte, len(uuidBytes))
			copy(bytes, uuidBytes[:])
			field.SetBytes(bytes)
			return nil
		}
	}

	return fmt.Errorf("uuid cannot be assigned to field type %s", targetType)
}

func formatUUIDFromBytes(b [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%04x%08x",
		binary.BigEndian.Uint32(b[0:4]),
		binary.BigEndian.Uint16(b[4:6]),
		binary.BigEndian.Uint16(b[6:8]),
		binary.BigEndian.Uint16(b[8:10]),
		binary.BigEndian.Uint16(b[10:12]),
		binary.BigEndian.Uint32(b[12:16]))
}
