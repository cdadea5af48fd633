package instance

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

// typelessStore keeps property values in wire order, keyed by the EDM type only.
type typelessStore struct {
	edmType  *edm.StructuredType
	expected *edm.StructuredType
	names    []string
	values   map[string]interface{}
	dynNames []string
	dynamic  map[string]interface{}
}

func newTypelessStore(t *edm.StructuredType) typelessStore {
	return typelessStore{
		edmType: t,
		values:  make(map[string]interface{}),
	}
}

func (s *typelessStore) EdmType() *edm.StructuredType { return s.edmType }

func (s *typelessStore) ExpectedType() *edm.StructuredType {
	if s.expected == nil {
		return s.edmType
	}
	return s.expected
}

func (s *typelessStore) SetExpectedType(t *edm.StructuredType) { s.expected = t }

func (s *typelessStore) TrySetPropertyValue(name string, value interface{}) error {
	if s.edmType.FindProperty(name) == nil {
		return fmt.Errorf("%w: %s on %s", ErrUnknownProperty, name, s.edmType.FullName())
	}
	if _, seen := s.values[name]; !seen {
		s.names = append(s.names, name)
	}
	s.values[name] = value
	return nil
}

func (s *typelessStore) TryGetPropertyValue(name string) (interface{}, bool) {
	v, ok := s.values[name]
	return v, ok
}

func (s *typelessStore) SetDynamicProperty(name string, value interface{}) error {
	if !s.edmType.IsOpen() {
		return fmt.Errorf("%w: %s", ErrNotOpen, s.edmType.FullName())
	}
	if s.dynamic == nil {
		s.dynamic = make(map[string]interface{})
	}
	if _, seen := s.dynamic[name]; !seen {
		s.dynNames = append(s.dynNames, name)
	}
	s.dynamic[name] = value
	return nil
}

func (s *typelessStore) DynamicProperties() map[string]interface{} {
	if s.dynamic == nil {
		return nil
	}
	out := make(map[string]interface{}, len(s.dynamic))
	for k, v := range s.dynamic {
		out[k] = v
	}
	return out
}

// PropertyNames returns the names of the declared properties that were set, in order.
func (s *typelessStore) PropertyNames() []string {
	return append([]string(nil), s.names...)
}

func (s *typelessStore) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(name string, value interface{}) error {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode property %s: %w", name, err)
		}
		key, _ := json.Marshal(name)
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(encoded)
		return nil
	}

	if s.expected != nil && s.expected != s.edmType {
		if err := write("@odata.type", "#"+s.edmType.FullName()); err != nil {
			return nil, err
		}
	}
	for _, name := range s.names {
		if err := write(name, s.values[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range s.dynNames {
		if err := write(name, s.dynamic[name]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EntityObject is a typeless entity instance.
type EntityObject struct {
	typelessStore
}

// ComplexObject is a typeless complex value.
type ComplexObject struct {
	typelessStore
}

// NewEntityObject creates an empty typeless instance of an entity type.
func NewEntityObject(t *edm.StructuredType) *EntityObject {
	return &EntityObject{typelessStore: newTypelessStore(t)}
}

// NewComplexObject creates an empty typeless instance of a complex type.
func NewComplexObject(t *edm.StructuredType) *ComplexObject {
	return &ComplexObject{typelessStore: newTypelessStore(t)}
}

// NewTypeless creates the typeless container matching the kind of t.
func NewTypeless(t *edm.StructuredType) Object {
	if t.IsEntity() {
		return NewEntityObject(t)
	}
	return NewComplexObject(t)
}
