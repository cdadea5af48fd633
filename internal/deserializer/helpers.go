package deserializer

import (
	"fmt"

	"github.com/nlstn/go-odata-formatter/internal/edm"
	"github.com/nlstn/go-odata-formatter/internal/instance"
)

// ApplyStructuralValue writes a converted value to a declared slot of target.
func ApplyStructuralValue(target interface{}, name string, value interface{}) error {
	setter, ok := target.(instance.PropertySetter)
	if !ok {
		return newError(ErrInvalidArgument, "", name, fmt.Sprintf("%T has no settable properties", target))
	}
	return setter.TrySetPropertyValue(name, value)
}

// ApplyDynamicValue stores value in the dynamic property store of target.
// declaringType must be open.
func ApplyDynamicValue(target interface{}, name string, value interface{}, declaringType *edm.StructuredType) error {
	if declaringType == nil || !declaringType.IsOpen() {
		typeName := ""
		if declaringType != nil {
			typeName = declaringType.FullName()
		}
		return newError(ErrUnknownProperty, typeName, name, "type is not open")
	}
	setter, ok := target.(instance.DynamicPropertySetter)
	if !ok {
		return newError(ErrInvalidArgument, declaringType.FullName(), name, fmt.Sprintf("%T has no dynamic property store", target))
	}
	return setter.SetDynamicProperty(name, unwrapElements(value))
}

// ApplyCollectionValue writes a collection to target. prop is the declared
// property, or nil for a dynamic property of an open declaringType. Elements
// backed by Go structs are replaced by their struct pointers; typeless and
// delta elements are kept.
func ApplyCollectionValue(target interface{}, prop *edm.Property, name string, values []interface{}, declaringType *edm.StructuredType) error {
	if prop == nil {
		return ApplyDynamicValue(target, name, values, declaringType)
	}
	if !prop.IsCollection() {
		return newError(ErrInvalidArgument, declaringType.FullName(), name, "property is not a collection")
	}
	if values == nil {
		return ApplyStructuralValue(target, name, nil)
	}
	return ApplyStructuralValue(target, name, unwrapElements(values))
}

func unwrapElements(value interface{}) interface{} {
	values, ok := value.([]interface{})
	if !ok {
		return value
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		if so, ok := v.(*instance.StructObject); ok {
			out[i] = so.Value()
			continue
		}
		out[i] = v
	}
	return out
}
