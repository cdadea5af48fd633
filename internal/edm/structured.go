package edm

import "fmt"

// PropertyKind separates structural from navigation properties.
type PropertyKind int

const (
	StructuralProperty PropertyKind = iota
	NavigationProperty
)

// Property is a declared property of a structured type.
type Property struct {
	Name          string
	Kind          PropertyKind
	Type          TypeReference
	DeclaringType *StructuredType
}

// IsNavigation reports whether the property is a navigation property.
func (p *Property) IsNavigation() bool { return p != nil && p.Kind == NavigationProperty }

// IsCollection reports whether the property holds a collection.
func (p *Property) IsCollection() bool { return p != nil && p.Type.IsCollection() }

// StructuredType is a declared entity or complex type.
type StructuredType struct {
	Namespace string
	Name      string
	BaseType  *StructuredType
	Abstract  bool
	Open      bool

	kind       TypeKind
	properties []*Property
	keys       []string
}

// NewEntityType creates an entity type with no properties.
func NewEntityType(namespace, name string) *StructuredType {
	return &StructuredType{Namespace: namespace, Name: name, kind: KindEntity}
}

// NewComplexType creates a complex type with no properties.
func NewComplexType(namespace, name string) *StructuredType {
	return &StructuredType{Namespace: namespace, Name: name, kind: KindComplex}
}

func (t *StructuredType) Kind() TypeKind   { return t.kind }
func (t *StructuredType) FullName() string { return qualify(t.Namespace, t.Name) }
func (t *StructuredType) IsEntity() bool   { return t.kind == KindEntity }
func (t *StructuredType) IsComplex() bool  { return t.kind == KindComplex }

// IsOpen reports whether the type or one of its base types is open.
func (t *StructuredType) IsOpen() bool {
	for cur := t; cur != nil; cur = cur.BaseType {
		if cur.Open {
			return true
		}
	}
	return false
}

// AddStructuralProperty declares a structural property on the type.
func (t *StructuredType) AddStructuralProperty(name string, typ TypeReference) *Property {
	p := &Property{Name: name, Kind: StructuralProperty, Type: typ, DeclaringType: t}
	t.properties = append(t.properties, p)
	return p
}

// AddNavigationProperty declares a navigation property targeting another entity type.
func (t *StructuredType) AddNavigationProperty(name string, target *StructuredType, collection, nullable bool) *Property {
	ref := NewTypeReference(target, nullable)
	if collection {
		ref = CollectionOf(NewTypeReference(target, false))
	}
	p := &Property{Name: name, Kind: NavigationProperty, Type: ref, DeclaringType: t}
	t.properties = append(t.properties, p)
	return p
}

// SetKey declares the key property names of an entity type.
func (t *StructuredType) SetKey(names ...string) {
	t.keys = append([]string(nil), names...)
}

// DeclaredProperties returns the properties declared directly on the type.
func (t *StructuredType) DeclaredProperties() []*Property {
	return t.properties
}

// Properties returns all properties, inherited ones first.
func (t *StructuredType) Properties() []*Property {
	var chain []*StructuredType
	for cur := t; cur != nil; cur = cur.BaseType {
		chain = append(chain, cur)
	}
	var out []*Property
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].properties...)
	}
	return out
}

// StructuralProperties returns the structural properties in declaration order,
// inherited ones first.
func (t *StructuredType) StructuralProperties() []*Property {
	var out []*Property
	for _, p := range t.Properties() {
		if p.Kind == StructuralProperty {
			out = append(out, p)
		}
	}
	return out
}

// NavigationProperties returns the navigation properties, inherited ones first.
func (t *StructuredType) NavigationProperties() []*Property {
	var out []*Property
	for _, p := range t.Properties() {
		if p.Kind == NavigationProperty {
			out = append(out, p)
		}
	}
	return out
}

// FindProperty returns the property with the given name, searching base types.
func (t *StructuredType) FindProperty(name string) *Property {
	for cur := t; cur != nil; cur = cur.BaseType {
		for _, p := range cur.properties {
			if p.Name == name {
				return p
			}
		}
	}
	return nil
}

// Key returns the key properties, taken from the root of the hierarchy.
func (t *StructuredType) Key() []*Property {
	for cur := t; cur != nil; cur = cur.BaseType {
		if len(cur.keys) == 0 {
			continue
		}
		out := make([]*Property, 0, len(cur.keys))
		for _, name := range cur.keys {
			if p := cur.FindProperty(name); p != nil {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// IsDerivedFrom reports whether t equals base or inherits from it.
func (t *StructuredType) IsDerivedFrom(base *StructuredType) bool {
	for cur := t; cur != nil; cur = cur.BaseType {
		if cur == base {
			return true
		}
	}
	return false
}

// DirectChildToward returns the type in t's hierarchy whose base type is
// ancestor. It is used to walk a derived-type chain one level at a time.
func (t *StructuredType) DirectChildToward(ancestor *StructuredType) (*StructuredType, error) {
	for cur := t; cur != nil; cur = cur.BaseType {
		if cur.BaseType == ancestor {
			return cur, nil
		}
	}
	return nil, fmt.Errorf("edm: type %s does not derive from %s", t.FullName(), ancestor.FullName())
}

func (t *StructuredType) validate() error {
	seen := map[*StructuredType]bool{}
	for cur := t; cur != nil; cur = cur.BaseType {
		if seen[cur] {
			return fmt.Errorf("edm: type %s has a cyclic base type chain", t.FullName())
		}
		seen[cur] = true
		if cur.BaseType != nil && cur.BaseType.kind != cur.kind {
			return fmt.Errorf("edm: type %s cannot derive from %s", cur.FullName(), cur.BaseType.FullName())
		}
	}
	if t.IsEntity() && !t.Abstract && len(t.Key()) == 0 {
		return fmt.Errorf("edm: entity type %s must declare a key", t.FullName())
	}
	for _, name := range t.keys {
		p := t.FindProperty(name)
		if p == nil {
			return fmt.Errorf("edm: key property %s not declared on %s", name, t.FullName())
		}
		if p.Kind != StructuralProperty || !(p.Type.IsPrimitive() || p.Type.IsEnum()) {
			return fmt.Errorf("edm: key property %s of %s must be primitive", name, t.FullName())
		}
	}
	return nil
}
