// Package instance holds the in-memory objects produced by deserialization.
//
// Every materialized structured value implements Object. Additional
// capabilities are exposed through small interfaces that callers check for
// explicitly: DynamicPropertySetter for open types, ChangeTracker for
// patch-tracking objects.
package instance

import (
	"errors"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

var (
	// ErrUnknownProperty is returned when a named slot does not exist on the target.
	ErrUnknownProperty = errors.New("instance: unknown property")
	// ErrNotOpen is returned when a dynamic property is set on a type without a dynamic store.
	ErrNotOpen = errors.New("instance: type has no dynamic property store")
	// ErrNotUpdatable is returned when a delta is asked to track a property it does not expose.
	ErrNotUpdatable = errors.New("instance: property is not updatable")
)

// PropertySetter exposes named structural and navigation slots.
type PropertySetter interface {
	TrySetPropertyValue(name string, value interface{}) error
	TryGetPropertyValue(name string) (interface{}, bool)
}

// DynamicPropertySetter exposes the dynamic property store of an open type.
type DynamicPropertySetter interface {
	SetDynamicProperty(name string, value interface{}) error
	DynamicProperties() map[string]interface{}
}

// ChangeTracker reports which properties were explicitly set.
type ChangeTracker interface {
	ChangedProperties() []string
	ChangedDynamicProperties() []string
}

// Object is a materialized entity or complex value.
type Object interface {
	PropertySetter
	EdmType() *edm.StructuredType
	// ExpectedType is the statically expected type the value was read as,
	// which differs from EdmType for derived-type payloads.
	ExpectedType() *edm.StructuredType
	SetExpectedType(t *edm.StructuredType)
}

// Unwrap returns the Go value behind a materialized object: the struct pointer
// of a StructObject or the inner value of a Delta. Other values are returned
// unchanged.
func Unwrap(value interface{}) interface{} {
	switch v := value.(type) {
	case *StructObject:
		return v.Value()
	case *Delta:
		return Unwrap(v.Inner())
	default:
		return value
	}
}
