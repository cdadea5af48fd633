package instance

import (
	"fmt"
	"reflect"

	"github.com/nlstn/go-odata-formatter/internal/edm"
	"github.com/nlstn/go-odata-formatter/internal/metadata"
)

// StructObject is a materialized value backed by a registered Go struct.
type StructObject struct {
	metadata *metadata.TypeMetadata
	value    reflect.Value
	expected *edm.StructuredType
}

// NewStructObject allocates a zero value of the mapped Go type.
func NewStructObject(m *metadata.TypeMetadata) *StructObject {
	return &StructObject{metadata: m, value: m.New()}
}

// WrapStruct wraps an existing struct pointer of the mapped Go type.
func WrapStruct(m *metadata.TypeMetadata, ptr interface{}) (*StructObject, error) {
	v := reflect.ValueOf(ptr)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Type() != m.GoType {
		return nil, fmt.Errorf("instance: expected *%s, got %T", m.GoType, ptr)
	}
	return &StructObject{metadata: m, value: v}, nil
}

// Value returns the struct pointer.
func (o *StructObject) Value() interface{} { return o.value.Interface() }

// Metadata returns the Go type mapping of the object.
func (o *StructObject) Metadata() *metadata.TypeMetadata { return o.metadata }

func (o *StructObject) EdmType() *edm.StructuredType { return o.metadata.EdmType }

func (o *StructObject) ExpectedType() *edm.StructuredType {
	if o.expected == nil {
		return o.metadata.EdmType
	}
	return o.expected
}

func (o *StructObject) SetExpectedType(t *edm.StructuredType) { o.expected = t }

func (o *StructObject) field(name string) (reflect.Value, bool) {
	index, ok := o.metadata.FieldIndex(name)
	if !ok {
		return reflect.Value{}, false
	}
	return o.value.Elem().FieldByIndex(index), true
}

// TrySetPropertyValue converts value to the field type backing the property.
func (o *StructObject) TrySetPropertyValue(name string, value interface{}) error {
	field, ok := o.field(name)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnknownProperty, name, o.metadata.TypeName)
	}
	return Assign(field, value)
}

func (o *StructObject) TryGetPropertyValue(name string) (interface{}, bool) {
	field, ok := o.field(name)
	if !ok {
		return nil, false
	}
	return field.Interface(), true
}

// SetDynamicProperty stores value in the struct's dynamic property map.
func (o *StructObject) SetDynamicProperty(name string, value interface{}) error {
	index, ok := o.metadata.DynamicFieldIndex()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, o.metadata.TypeName)
	}
	store := o.value.Elem().FieldByIndex(index)
	if store.IsNil() {
		store.Set(reflect.MakeMap(store.Type()))
	}
	if value == nil {
		store.SetMapIndex(reflect.ValueOf(name), reflect.Zero(store.Type().Elem()))
		return nil
	}
	store.SetMapIndex(reflect.ValueOf(name), reflect.ValueOf(Unwrap(value)))
	return nil
}

func (o *StructObject) DynamicProperties() map[string]interface{} {
	index, ok := o.metadata.DynamicFieldIndex()
	if !ok {
		return nil
	}
	store := o.value.Elem().FieldByIndex(index)
	if store.IsNil() {
		return nil
	}
	out := make(map[string]interface{}, store.Len())
	iter := store.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out
}
