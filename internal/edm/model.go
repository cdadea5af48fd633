package edm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// NavigationSource is an entity set or singleton addressable from the service root.
type NavigationSource interface {
	SourceName() string
	EntityType() *StructuredType
	IsSingleton() bool
}

// EntitySet is a named collection of entities of one type hierarchy.
type EntitySet struct {
	Name string
	Type *StructuredType
}

func (s *EntitySet) SourceName() string          { return s.Name }
func (s *EntitySet) EntityType() *StructuredType { return s.Type }
func (s *EntitySet) IsSingleton() bool           { return false }

// Singleton is a single named entity.
type Singleton struct {
	Name string
	Type *StructuredType
}

func (s *Singleton) SourceName() string          { return s.Name }
func (s *Singleton) EntityType() *StructuredType { return s.Type }
func (s *Singleton) IsSingleton() bool           { return true }

// Model is the entity data model consulted during deserialization.
// It is built once and may then be read from multiple goroutines.
type Model struct {
	mu         sync.RWMutex
	namespace  string
	types      map[string]Type
	order      []string
	entitySets map[string]*EntitySet
	singletons map[string]*Singleton
	setOrder   []string
}

// NewModel creates an empty model whose declared types live in namespace.
func NewModel(namespace string) *Model {
	return &Model{
		namespace:  namespace,
		types:      make(map[string]Type),
		entitySets: make(map[string]*EntitySet),
		singletons: make(map[string]*Singleton),
	}
}

// Namespace returns the model's default namespace.
func (m *Model) Namespace() string { return m.namespace }

// AddType declares a structured or enum type.
func (m *Model) AddType(t Type) error {
	switch t.(type) {
	case *StructuredType, *EnumType:
	default:
		return fmt.Errorf("edm: cannot declare %s type %s", t.Kind(), t.FullName())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := t.FullName()
	if _, exists := m.types[name]; exists {
		return fmt.Errorf("edm: type %s is already declared", name)
	}
	m.types[name] = t
	m.order = append(m.order, name)
	return nil
}

// AddEntitySet declares an entity set over the given entity type.
func (m *Model) AddEntitySet(name string, t *StructuredType) (*EntitySet, error) {
	if t == nil || !t.IsEntity() {
		return nil, fmt.Errorf("edm: entity set %s requires an entity type", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sourceExistsLocked(name) {
		return nil, fmt.Errorf("edm: navigation source %s is already declared", name)
	}
	set := &EntitySet{Name: name, Type: t}
	m.entitySets[name] = set
	m.setOrder = append(m.setOrder, name)
	return set, nil
}

// AddSingleton declares a singleton of the given entity type.
func (m *Model) AddSingleton(name string, t *StructuredType) (*Singleton, error) {
	if t == nil || !t.IsEntity() {
		return nil, fmt.Errorf("edm: singleton %s requires an entity type", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sourceExistsLocked(name) {
		return nil, fmt.Errorf("edm: navigation source %s is already declared", name)
	}
	s := &Singleton{Name: name, Type: t}
	m.singletons[name] = s
	m.setOrder = append(m.setOrder, name)
	return s, nil
}

func (m *Model) sourceExistsLocked(name string) bool {
	_, isSet := m.entitySets[name]
	_, isSingleton := m.singletons[name]
	return isSet || isSingleton
}

// FindDeclaredType resolves a type name. It accepts qualified names, names
// prefixed with '#' as they appear in @odata.type, Edm primitives and
// Collection(...) wrappers. Unqualified names are looked up in the model
// namespace.
func (m *Model) FindDeclaredType(name string) (Type, bool) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "#")
	if name == "" {
		return nil, false
	}

	if elem, ok := parseCollectionName(name); ok {
		t, found := m.FindDeclaredType(elem)
		if !found {
			return nil, false
		}
		return &CollectionType{Element: NewTypeReference(t, true)}, true
	}

	if p, ok := PrimitiveByName(name); ok {
		return p, true
	}
	// Short primitive names such as "Int32" are accepted in @odata.type.
	if p, ok := PrimitiveByName("Edm." + name); ok {
		return p, true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.types[name]; ok {
		return t, true
	}
	if !strings.Contains(name, ".") && m.namespace != "" {
		t, ok := m.types[m.namespace+"."+name]
		return t, ok
	}
	return nil, false
}

// FindStructuredType resolves an entity or complex type by name.
func (m *Model) FindStructuredType(name string) (*StructuredType, bool) {
	t, ok := m.FindDeclaredType(name)
	if !ok {
		return nil, false
	}
	st, ok := t.(*StructuredType)
	return st, ok
}

// FindEntitySet returns the entity set with the given name.
func (m *Model) FindEntitySet(name string) (*EntitySet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.entitySets[name]
	return s, ok
}

// FindNavigationSource returns the entity set or singleton with the given name.
func (m *Model) FindNavigationSource(name string) (NavigationSource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.entitySets[name]; ok {
		return s, true
	}
	if s, ok := m.singletons[name]; ok {
		return s, true
	}
	return nil, false
}

// EntitySetFor returns the entity set whose type is t or one of its base types.
func (m *Model) EntitySetFor(t *StructuredType) (*EntitySet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for cur := t; cur != nil; cur = cur.BaseType {
		for _, name := range m.setOrder {
			if s, ok := m.entitySets[name]; ok && s.Type == cur {
				return s, true
			}
		}
	}
	return nil, false
}

// StructuredTypes returns every declared structured type in declaration order.
func (m *Model) StructuredTypes() []*StructuredType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*StructuredType, 0, len(m.order))
	for _, name := range m.order {
		if st, ok := m.types[name].(*StructuredType); ok {
			out = append(out, st)
		}
	}
	return out
}

// Validate checks every declared structured type for consistency.
func (m *Model) Validate() error {
	for _, st := range m.StructuredTypes() {
		if err := st.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Fingerprint returns a stable hash of the declared schema. Two models with the
// same types, properties and navigation sources share a fingerprint.
func (m *Model) Fingerprint() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := append([]string(nil), m.order...)
	sort.Strings(names)

	d := xxhash.New()
	for _, name := range names {
		_, _ = d.WriteString(name)
		switch t := m.types[name].(type) {
		case *StructuredType:
			_, _ = d.WriteString(t.Kind().String())
			if t.BaseType != nil {
				_, _ = d.WriteString(":" + t.BaseType.FullName())
			}
			_, _ = d.WriteString(strconv.FormatBool(t.Abstract) + strconv.FormatBool(t.Open))
			for _, p := range t.properties {
				_, _ = d.WriteString("|" + p.Name + "=" + p.Type.String())
			}
			for _, k := range t.keys {
				_, _ = d.WriteString("#" + k)
			}
		case *EnumType:
			for _, member := range t.Members {
				_, _ = d.WriteString("|" + member.Name + "=" + strconv.FormatInt(member.Value, 10))
			}
		}
		_, _ = d.WriteString(";")
	}
	sources := append([]string(nil), m.setOrder...)
	sort.Strings(sources)
	for _, name := range sources {
		_, _ = d.WriteString(name)
		if s, ok := m.entitySets[name]; ok {
			_, _ = d.WriteString("@" + s.Type.FullName())
		}
		if s, ok := m.singletons[name]; ok {
			_, _ = d.WriteString("!" + s.Type.FullName())
		}
	}
	return d.Sum64()
}
