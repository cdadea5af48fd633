package edm

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type schemaDocument struct {
	Namespace    string           `yaml:"namespace"`
	EnumTypes    []enumDocument   `yaml:"enumTypes"`
	ComplexTypes []typeDocument   `yaml:"complexTypes"`
	EntityTypes  []typeDocument   `yaml:"entityTypes"`
	EntitySets   []sourceDocument `yaml:"entitySets"`
	Singletons   []sourceDocument `yaml:"singletons"`
}

type enumDocument struct {
	Name           string `yaml:"name"`
	UnderlyingType string `yaml:"underlyingType"`
	Flags          bool   `yaml:"flags"`
	Members        []struct {
		Name  string `yaml:"name"`
		Value *int64 `yaml:"value"`
	} `yaml:"members"`
}

type typeDocument struct {
	Name                 string             `yaml:"name"`
	BaseType             string             `yaml:"baseType"`
	Abstract             bool               `yaml:"abstract"`
	Open                 bool               `yaml:"open"`
	Key                  []string           `yaml:"key"`
	Properties           []propertyDocument `yaml:"properties"`
	NavigationProperties []propertyDocument `yaml:"navigationProperties"`
}

type propertyDocument struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable *bool  `yaml:"nullable"`
}

type sourceDocument struct {
	Name       string `yaml:"name"`
	EntityType string `yaml:"entityType"`
}

// LoadYAML builds a model from a YAML schema document of the form
//
//	namespace: Demo
//	enumTypes:    [{name, underlyingType, flags, members: [{name, value}]}]
//	complexTypes: [{name, baseType, abstract, open, properties: [{name, type, nullable}]}]
//	entityTypes:  [{name, baseType, abstract, open, key, properties, navigationProperties}]
//	entitySets:   [{name, entityType}]
//	singletons:   [{name, entityType}]
//
// Types may reference each other in any order.
func LoadYAML(r io.Reader) (*Model, error) {
	var doc schemaDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("edm: failed to decode schema: %w", err)
	}
	if doc.Namespace == "" {
		return nil, fmt.Errorf("edm: schema namespace is required")
	}

	m := NewModel(doc.Namespace)

	for _, e := range doc.EnumTypes {
		enum, err := buildEnum(doc.Namespace, e)
		if err != nil {
			return nil, err
		}
		if err := m.AddType(enum); err != nil {
			return nil, err
		}
	}

	// Declare every structured type before resolving references between them.
	declared := make(map[*StructuredType]typeDocument)
	for _, td := range doc.ComplexTypes {
		st := NewComplexType(doc.Namespace, td.Name)
		st.Abstract, st.Open = td.Abstract, td.Open
		if err := m.AddType(st); err != nil {
			return nil, err
		}
		declared[st] = td
	}
	for _, td := range doc.EntityTypes {
		st := NewEntityType(doc.Namespace, td.Name)
		st.Abstract, st.Open = td.Abstract, td.Open
		if err := m.AddType(st); err != nil {
			return nil, err
		}
		declared[st] = td
	}

	for _, st := range m.StructuredTypes() {
		if err := resolveTypeDocument(m, st, declared[st]); err != nil {
			return nil, err
		}
	}

	for _, sd := range doc.EntitySets {
		st, ok := m.FindStructuredType(sd.EntityType)
		if !ok {
			return nil, fmt.Errorf("edm: entity set %s: %w: %s", sd.Name, ErrTypeNotFound, sd.EntityType)
		}
		if _, err := m.AddEntitySet(sd.Name, st); err != nil {
			return nil, err
		}
	}
	for _, sd := range doc.Singletons {
		st, ok := m.FindStructuredType(sd.EntityType)
		if !ok {
			return nil, fmt.Errorf("edm: singleton %s: %w: %s", sd.Name, ErrTypeNotFound, sd.EntityType)
		}
		if _, err := m.AddSingleton(sd.Name, st); err != nil {
			return nil, err
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func buildEnum(namespace string, e enumDocument) (*EnumType, error) {
	underlying := Int32
	if e.UnderlyingType != "" {
		p, ok := PrimitiveByName(e.UnderlyingType)
		if !ok {
			return nil, fmt.Errorf("edm: enum %s has unsupported underlying type %s", e.Name, e.UnderlyingType)
		}
		underlying = p
	}
	enum := &EnumType{Namespace: namespace, Name: e.Name, Underlying: underlying, IsFlags: e.Flags}
	next := int64(0)
	if e.Flags {
		next = 1
	}
	for _, member := range e.Members {
		value := next
		if member.Value != nil {
			value = *member.Value
		}
		enum.Members = append(enum.Members, EnumMember{Name: member.Name, Value: value})
		if e.Flags {
			next = value * 2
		} else {
			next = value + 1
		}
	}
	return enum, nil
}

func resolveTypeDocument(m *Model, st *StructuredType, td typeDocument) error {
	if td.BaseType != "" {
		base, ok := m.FindStructuredType(td.BaseType)
		if !ok {
			return fmt.Errorf("edm: base type of %s: %w: %s", st.FullName(), ErrTypeNotFound, td.BaseType)
		}
		st.BaseType = base
	}

	for _, pd := range td.Properties {
		t, ok := m.FindDeclaredType(pd.Type)
		if !ok {
			return fmt.Errorf("edm: property %s.%s: %w: %s", st.Name, pd.Name, ErrTypeNotFound, pd.Type)
		}
		if declaresProperty(st, pd.Name) {
			return fmt.Errorf("edm: property %s is declared twice on %s", pd.Name, st.FullName())
		}
		st.AddStructuralProperty(pd.Name, NewTypeReference(t, nullableOrDefault(pd.Nullable, true)))
	}

	for _, pd := range td.NavigationProperties {
		targetName, collection := parseCollectionName(pd.Type)
		if !collection {
			targetName = pd.Type
		}
		target, ok := m.FindStructuredType(targetName)
		if !ok || !target.IsEntity() {
			return fmt.Errorf("edm: navigation property %s.%s: %w: %s", st.Name, pd.Name, ErrTypeNotFound, pd.Type)
		}
		st.AddNavigationProperty(pd.Name, target, collection, nullableOrDefault(pd.Nullable, true))
	}

	if len(td.Key) > 0 {
		if !st.IsEntity() {
			return fmt.Errorf("edm: complex type %s cannot declare a key", st.FullName())
		}
		st.SetKey(td.Key...)
	}
	return nil
}

func nullableOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func declaresProperty(st *StructuredType, name string) bool {
	for _, p := range st.DeclaredProperties() {
		if p.Name == name {
			return true
		}
	}
	return false
}
