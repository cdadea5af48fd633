// Package wire holds the in-memory view of a parsed OData JSON payload.
//
// The Reader turns a request body into a tree of wrappers once; the
// deserializer walks that tree without touching the stream again.
package wire

// Item is one top-level or nested payload item: a *ResourceWrapper, a
// *ResourceSetWrapper or an *EntityReferenceLinkWrapper.
type Item interface {
	item()
}

// Property is a structural property value as it appeared on the wire.
type Property struct {
	Name string
	// Value is a JSON scalar (string, bool, json.Number, nil) or a
	// []interface{} of scalars for primitive collections.
	Value interface{}
	// TypeName is the value of a name@odata.type annotation, if any.
	TypeName string
}

// Removed marks a delta entry as a removal.
type Removed struct {
	Reason string
}

// ResourceWrapper is one parsed resource.
type ResourceWrapper struct {
	TypeName            string
	ID                  string
	ETag                string
	Removed             *Removed
	Properties          []Property
	NestedResourceInfos []*NestedResourceInfoWrapper
}

func (*ResourceWrapper) item() {}

// FindProperty returns the last wire value for name.
func (r *ResourceWrapper) FindProperty(name string) (Property, bool) {
	for i := len(r.Properties) - 1; i >= 0; i-- {
		if r.Properties[i].Name == name {
			return r.Properties[i], true
		}
	}
	return Property{}, false
}

// WithProperties returns a copy of the resource with extra structural
// properties appended. The receiver is not modified.
func (r *ResourceWrapper) WithProperties(extra ...Property) *ResourceWrapper {
	clone := *r
	clone.Properties = make([]Property, 0, len(r.Properties)+len(extra))
	clone.Properties = append(clone.Properties, r.Properties...)
	clone.Properties = append(clone.Properties, extra...)
	clone.NestedResourceInfos = append([]*NestedResourceInfoWrapper(nil), r.NestedResourceInfos...)
	return &clone
}

// Shape classifies the payload of a nested resource info.
type Shape int

const (
	// ShapeAbsent means the slot carries no payload.
	ShapeAbsent Shape = iota
	ShapeNull
	ShapeResource
	ShapeResourceSet
	ShapeLinks
)

func (s Shape) String() string {
	switch s {
	case ShapeNull:
		return "null"
	case ShapeResource:
		return "resource"
	case ShapeResourceSet:
		return "resource set"
	case ShapeLinks:
		return "links"
	default:
		return "absent"
	}
}

// NestedResourceInfoWrapper is a named nested slot of a resource. At most one
// of Resource, ResourceSet and Links is set.
type NestedResourceInfoWrapper struct {
	Name        string
	Resource    *ResourceWrapper
	ResourceSet *ResourceSetWrapper
	Links       []*EntityReferenceLinkWrapper
	// IsNull is true when the wire value was an explicit null.
	IsNull bool
	// IsCollection is true for link lists bound to a collection property.
	IsCollection bool
}

func (n *NestedResourceInfoWrapper) Shape() Shape {
	switch {
	case n.ResourceSet != nil:
		return ShapeResourceSet
	case n.Resource != nil:
		return ShapeResource
	case len(n.Links) > 0 || n.IsCollection:
		return ShapeLinks
	case n.IsNull:
		return ShapeNull
	default:
		return ShapeAbsent
	}
}

// ResourceSetWrapper is an ordered list of resources.
type ResourceSetWrapper struct {
	// TypeName is the declared element type name, from a Collection(...) annotation.
	TypeName  string
	Resources []*ResourceWrapper
	IsDelta   bool
}

func (*ResourceSetWrapper) item() {}

// EntityReferenceLinkWrapper addresses a related entity by its canonical URL.
type EntityReferenceLinkWrapper struct {
	URL string
}

func (*EntityReferenceLinkWrapper) item() {}
