package edm

import (
	"errors"
	"strings"
)

// TypeKind classifies an EDM type definition.
type TypeKind int

const (
	KindNone TypeKind = iota
	KindPrimitive
	KindEnum
	KindComplex
	KindEntity
	KindCollection
)

func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "Primitive"
	case KindEnum:
		return "Enum"
	case KindComplex:
		return "Complex"
	case KindEntity:
		return "Entity"
	case KindCollection:
		return "Collection"
	default:
		return "None"
	}
}

// Type is implemented by every EDM type definition.
type Type interface {
	Kind() TypeKind
	FullName() string
}

// PrimitiveType is one of the built-in Edm.* types.
type PrimitiveType struct {
	name string
}

func (p *PrimitiveType) Kind() TypeKind   { return KindPrimitive }
func (p *PrimitiveType) FullName() string { return p.name }

// Built-in primitive types supported by the deserializer.
var (
	Binary         = &PrimitiveType{name: "Edm.Binary"}
	Boolean        = &PrimitiveType{name: "Edm.Boolean"}
	Byte           = &PrimitiveType{name: "Edm.Byte"}
	Date           = &PrimitiveType{name: "Edm.Date"}
	DateTimeOffset = &PrimitiveType{name: "Edm.DateTimeOffset"}
	Decimal        = &PrimitiveType{name: "Edm.Decimal"}
	Double         = &PrimitiveType{name: "Edm.Double"}
	Duration       = &PrimitiveType{name: "Edm.Duration"}
	Guid           = &PrimitiveType{name: "Edm.Guid"}
	Int16          = &PrimitiveType{name: "Edm.Int16"}
	Int32          = &PrimitiveType{name: "Edm.Int32"}
	Int64          = &PrimitiveType{name: "Edm.Int64"}
	SByte          = &PrimitiveType{name: "Edm.SByte"}
	Single         = &PrimitiveType{name: "Edm.Single"}
	String         = &PrimitiveType{name: "Edm.String"}
	TimeOfDay      = &PrimitiveType{name: "Edm.TimeOfDay"}
	Untyped        = &PrimitiveType{name: "Edm.Untyped"}
)

var primitiveTypes = map[string]*PrimitiveType{}

func init() {
	for _, p := range []*PrimitiveType{
		Binary, Boolean, Byte, Date, DateTimeOffset, Decimal, Double, Duration,
		Guid, Int16, Int32, Int64, SByte, Single, String, TimeOfDay, Untyped,
	} {
		primitiveTypes[p.name] = p
	}
}

// PrimitiveByName returns the built-in primitive type with the given Edm.* name.
func PrimitiveByName(name string) (*PrimitiveType, bool) {
	p, ok := primitiveTypes[name]
	return p, ok
}

// EnumMember is a named value of an enum type.
type EnumMember struct {
	Name  string
	Value int64
}

// EnumType describes a declared enumeration.
type EnumType struct {
	Namespace  string
	Name       string
	Underlying *PrimitiveType
	IsFlags    bool
	Members    []EnumMember
}

func (e *EnumType) Kind() TypeKind   { return KindEnum }
func (e *EnumType) FullName() string { return qualify(e.Namespace, e.Name) }

// Member returns the member with the given name.
func (e *EnumType) Member(name string) (EnumMember, bool) {
	for _, m := range e.Members {
		if m.Name == name {
			return m, true
		}
	}
	return EnumMember{}, false
}

// CollectionType is Collection(T) for some element type reference.
type CollectionType struct {
	Element TypeReference
}

func (c *CollectionType) Kind() TypeKind { return KindCollection }
func (c *CollectionType) FullName() string {
	return "Collection(" + c.Element.FullName() + ")"
}

// TypeReference pairs a type definition with nullability.
type TypeReference struct {
	Definition Type
	Nullable   bool
}

// NewTypeReference creates a reference to t.
func NewTypeReference(t Type, nullable bool) TypeReference {
	return TypeReference{Definition: t, Nullable: nullable}
}

// CollectionOf returns a non-nullable reference to Collection(elem).
func CollectionOf(elem TypeReference) TypeReference {
	return TypeReference{Definition: &CollectionType{Element: elem}}
}

// IsValid reports whether the reference points at a definition.
func (r TypeReference) IsValid() bool { return r.Definition != nil }

func (r TypeReference) Kind() TypeKind {
	if r.Definition == nil {
		return KindNone
	}
	return r.Definition.Kind()
}

func (r TypeReference) FullName() string {
	if r.Definition == nil {
		return ""
	}
	return r.Definition.FullName()
}

func (r TypeReference) IsEntity() bool     { return r.Kind() == KindEntity }
func (r TypeReference) IsComplex() bool    { return r.Kind() == KindComplex }
func (r TypeReference) IsPrimitive() bool  { return r.Kind() == KindPrimitive }
func (r TypeReference) IsEnum() bool       { return r.Kind() == KindEnum }
func (r TypeReference) IsCollection() bool { return r.Kind() == KindCollection }

// IsStructured reports whether the reference is an entity or complex type.
func (r TypeReference) IsStructured() bool {
	k := r.Kind()
	return k == KindEntity || k == KindComplex
}

// StructuredDefinition returns the structured type or nil.
func (r TypeReference) StructuredDefinition() *StructuredType {
	st, _ := r.Definition.(*StructuredType)
	return st
}

// ElementType returns the element reference of a collection. For
// non-collections the reference itself is returned.
func (r TypeReference) ElementType() TypeReference {
	if c, ok := r.Definition.(*CollectionType); ok {
		return c.Element
	}
	return r
}

func (r TypeReference) String() string {
	if r.Definition == nil {
		return "<nil>"
	}
	if r.Nullable {
		return r.FullName() + "?"
	}
	return r.FullName()
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// parseCollectionName returns the element name of "Collection(X)".
func parseCollectionName(name string) (string, bool) {
	if !strings.HasPrefix(name, "Collection(") || !strings.HasSuffix(name, ")") {
		return "", false
	}
	return strings.TrimSpace(name[len("Collection(") : len(name)-1]), true
}

// ErrTypeNotFound is returned when a type name does not resolve in the model.
var ErrTypeNotFound = errors.New("edm: type not found")
