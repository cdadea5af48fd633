package metadata

import (
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	uuidType     = reflect.TypeOf(uuid.UUID{})
	decimalType  = reflect.TypeOf(decimal.Decimal{})
	bytesType    = reflect.TypeOf([]byte(nil))
)

// isPrimitiveStruct reports struct types that map onto an EDM primitive.
func isPrimitiveStruct(t reflect.Type) bool {
	return t == timeType || t == decimalType
}

// isDynamicStore reports whether t can hold open-type dynamic properties.
func isDynamicStore(t reflect.Type) bool {
	return t.Kind() == reflect.Map && t.Key().Kind() == reflect.String &&
		t.Elem().Kind() == reflect.Interface && t.Elem().NumMethod() == 0
}

// PrimitiveFor returns the EDM primitive type used for a Go type.
func PrimitiveFor(t reflect.Type) (*edm.PrimitiveType, bool) {
	t = dereferenceType(t)
	switch t {
	case timeType:
		return edm.DateTimeOffset, true
	case durationType:
		return edm.Duration, true
	case uuidType:
		return edm.Guid, true
	case decimalType:
		return edm.Decimal, true
	case bytesType:
		return edm.Binary, true
	}

	switch t.Kind() {
	case reflect.String:
		return edm.String, true
	case reflect.Bool:
		return edm.Boolean, true
	case reflect.Int8:
		return edm.SByte, true
	case reflect.Uint8:
		return edm.Byte, true
	case reflect.Int16:
		return edm.Int16, true
	case reflect.Uint16, reflect.Int32:
		return edm.Int32, true
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return edm.Int64, true
	case reflect.Float32:
		return edm.Single, true
	case reflect.Float64:
		return edm.Double, true
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return edm.Untyped, true
		}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return edm.Binary, true
		}
	}
	return nil, false
}
