package instance

import (
	"fmt"
	"reflect"

	"github.com/goccy/go-json"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

// Delta tracks which properties of an inner object were explicitly set so a
// partial update can be applied to an existing value.
type Delta struct {
	inner      Object
	updatable  []string
	allowed    map[string]bool
	changed    []string
	changedSet map[string]bool
	nested     map[string]*Delta
	dynamic    bool
	dynChanged []string
}

// NewDelta wraps inner. updatable lists the structural property names that may
// be set, in declaration order; hasDynamic enables the open-type store.
func NewDelta(inner Object, updatable []string, hasDynamic bool) *Delta {
	allowed := make(map[string]bool, len(updatable))
	for _, name := range updatable {
		allowed[name] = true
	}
	return &Delta{
		inner:      inner,
		updatable:  append([]string(nil), updatable...),
		allowed:    allowed,
		changedSet: make(map[string]bool),
		nested:     make(map[string]*Delta),
		dynamic:    hasDynamic,
	}
}

// Inner returns the wrapped object holding the set values.
func (d *Delta) Inner() Object { return d.inner }

// Value returns the Go value of the inner object.
func (d *Delta) Value() interface{} { return Unwrap(d.inner) }

func (d *Delta) EdmType() *edm.StructuredType { return d.inner.EdmType() }

func (d *Delta) ExpectedType() *edm.StructuredType { return d.inner.ExpectedType() }

func (d *Delta) SetExpectedType(t *edm.StructuredType) { d.inner.SetExpectedType(t) }

// UpdatableProperties returns the names the delta accepts.
func (d *Delta) UpdatableProperties() []string {
	return append([]string(nil), d.updatable...)
}

func (d *Delta) TrySetPropertyValue(name string, value interface{}) error {
	if !d.allowed[name] {
		return fmt.Errorf("%w: %s", ErrNotUpdatable, name)
	}
	if err := d.inner.TrySetPropertyValue(name, value); err != nil {
		return err
	}
	if nested, ok := value.(*Delta); ok {
		d.nested[name] = nested
	} else {
		delete(d.nested, name)
	}
	if !d.changedSet[name] {
		d.changedSet[name] = true
		d.changed = append(d.changed, name)
	}
	return nil
}

func (d *Delta) TryGetPropertyValue(name string) (interface{}, bool) {
	if nested, ok := d.nested[name]; ok {
		return nested, true
	}
	return d.inner.TryGetPropertyValue(name)
}

func (d *Delta) SetDynamicProperty(name string, value interface{}) error {
	setter, ok := d.inner.(DynamicPropertySetter)
	if !d.dynamic || !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, d.inner.EdmType().FullName())
	}
	if err := setter.SetDynamicProperty(name, value); err != nil {
		return err
	}
	for _, existing := range d.dynChanged {
		if existing == name {
			return nil
		}
	}
	d.dynChanged = append(d.dynChanged, name)
	return nil
}

func (d *Delta) DynamicProperties() map[string]interface{} {
	if setter, ok := d.inner.(DynamicPropertySetter); ok {
		return setter.DynamicProperties()
	}
	return nil
}

// ChangedProperties returns the declared properties that were set, in the order
// they were first set.
func (d *Delta) ChangedProperties() []string {
	return append([]string(nil), d.changed...)
}

func (d *Delta) ChangedDynamicProperties() []string {
	return append([]string(nil), d.dynChanged...)
}

// ChangedValues returns the Go values of the changed declared properties.
// Nested deltas are reported as their changed values.
func (d *Delta) ChangedValues() map[string]interface{} {
	out := make(map[string]interface{}, len(d.changed))
	for _, name := range d.changed {
		if nested, ok := d.nested[name]; ok {
			out[name] = nested.ChangedValues()
			continue
		}
		v, _ := d.inner.TryGetPropertyValue(name)
		out[name] = Unwrap(v)
	}
	return out
}

// Patch copies the changed properties onto original, which is either a
// PropertySetter or a pointer to the Go struct the inner object maps to.
// Nested complex deltas are applied recursively onto the existing values.
func (d *Delta) Patch(original interface{}) error {
	target, err := d.patchTarget(original)
	if err != nil {
		return err
	}

	for _, name := range d.changed {
		if nested, ok := d.nested[name]; ok {
			if err := patchNested(target, name, nested); err != nil {
				return fmt.Errorf("failed to patch property %s: %w", name, err)
			}
			continue
		}
		v, _ := d.inner.TryGetPropertyValue(name)
		if err := target.TrySetPropertyValue(name, v); err != nil {
			return fmt.Errorf("failed to patch property %s: %w", name, err)
		}
	}

	if len(d.dynChanged) == 0 {
		return nil
	}
	dynTarget, ok := target.(DynamicPropertySetter)
	if !ok {
		return fmt.Errorf("%w: patch target", ErrNotOpen)
	}
	values := d.DynamicProperties()
	for _, name := range d.dynChanged {
		if err := dynTarget.SetDynamicProperty(name, values[name]); err != nil {
			return fmt.Errorf("failed to patch dynamic property %s: %w", name, err)
		}
	}
	return nil
}

func (d *Delta) patchTarget(original interface{}) (PropertySetter, error) {
	if setter, ok := original.(PropertySetter); ok {
		return setter, nil
	}
	so, ok := d.inner.(*StructObject)
	if !ok {
		return nil, fmt.Errorf("cannot patch %T with a delta of %s", original, d.inner.EdmType().FullName())
	}
	return WrapStruct(so.Metadata(), original)
}

func patchNested(target PropertySetter, name string, nested *Delta) error {
	if so, ok := target.(*StructObject); ok {
		field, found := so.field(name)
		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownProperty, name)
		}
		switch field.Kind() {
		case reflect.Ptr:
			if field.IsNil() {
				field.Set(reflect.New(field.Type().Elem()))
			}
			return nested.Patch(field.Interface())
		case reflect.Struct:
			return nested.Patch(field.Addr().Interface())
		}
		return Assign(field, nested)
	}

	current, _ := target.TryGetPropertyValue(name)
	if setter, ok := current.(PropertySetter); ok && !isNilPointer(current) {
		return nested.Patch(setter)
	}
	return target.TrySetPropertyValue(name, nested.Inner())
}

func isNilPointer(v interface{}) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// MarshalJSON encodes the changed properties only.
func (d *Delta) MarshalJSON() ([]byte, error) {
	values := d.ChangedValues()
	dyn := d.DynamicProperties()
	for _, name := range d.dynChanged {
		values[name] = dyn[name]
	}
	return json.Marshal(values)
}
