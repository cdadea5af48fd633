package metadata

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

// Registry maps registered Go structs onto EDM structured types and keeps the
// reverse mapping used to construct instances during deserialization.
type Registry struct {
	mu    sync.RWMutex
	model *edm.Model
	types map[reflect.Type]*TypeMetadata
	order []*TypeMetadata
	byEdm map[*edm.StructuredType]*TypeMetadata
	enums map[reflect.Type]*edm.EnumType
}

// NewRegistry creates a registry that declares its types in model.
func NewRegistry(model *edm.Model) *Registry {
	return &Registry{
		model: model,
		types: make(map[reflect.Type]*TypeMetadata),
		byEdm: make(map[*edm.StructuredType]*TypeMetadata),
		enums: make(map[reflect.Type]*edm.EnumType),
	}
}

// Model returns the model the registry declares types in.
func (r *Registry) Model() *edm.Model { return r.model }

// RegisterEntity registers a Go struct as an entity type.
func (r *Registry) RegisterEntity(entity interface{}) (*TypeMetadata, error) {
	return r.register(entity, true)
}

// RegisterComplexType registers a Go struct as a complex type.
func (r *Registry) RegisterComplexType(value interface{}) (*TypeMetadata, error) {
	return r.register(value, false)
}

func (r *Registry) register(value interface{}, isEntity bool) (*TypeMetadata, error) {
	metadata, err := analyzeStruct(value, isEntity)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze type: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[metadata.GoType]; exists {
		return nil, fmt.Errorf("type '%s' is already registered", metadata.GoType)
	}
	r.types[metadata.GoType] = metadata
	r.order = append(r.order, metadata)
	return metadata, nil
}

// Bind maps a Go struct onto a structured type that is already declared in the
// model, for example one loaded from a schema file. Struct fields are matched
// to EDM properties by their JSON names.
func (r *Registry) Bind(typeName string, value interface{}) (*TypeMetadata, error) {
	st, ok := r.model.FindStructuredType(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", edm.ErrTypeNotFound, typeName)
	}
	metadata, err := r.register(value, st.IsEntity())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	metadata.EdmType = st
	metadata.TypeName = st.Name
	r.byEdm[st] = metadata
	return metadata, nil
}

// RegisterEnum declares an enum type backed by the Go type of sample.
func (r *Registry) RegisterEnum(sample interface{}, name string, members []edm.EnumMember, flags bool) (*edm.EnumType, error) {
	goType := reflect.TypeOf(sample)
	if goType == nil {
		return nil, fmt.Errorf("enum sample must not be nil")
	}
	underlying, ok := PrimitiveFor(goType)
	if !ok || underlying == edm.String || underlying == edm.Boolean {
		return nil, fmt.Errorf("enum %s must have an integer underlying type, got %s", name, goType)
	}
	enum := &edm.EnumType{
		Namespace:  r.model.Namespace(),
		Name:       name,
		Underlying: underlying,
		IsFlags:    flags,
		Members:    append([]edm.EnumMember(nil), members...),
	}
	if err := r.model.AddType(enum); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.enums[goType] = enum
	r.mu.Unlock()
	return enum, nil
}

// Lookup returns the metadata registered for a Go type.
func (r *Registry) Lookup(goType reflect.Type) (*TypeMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metadata, ok := r.types[dereferenceType(goType)]
	return metadata, ok
}

// ResolveClrMapping returns the Go mapping of a structured type.
func (r *Registry) ResolveClrMapping(t *edm.StructuredType) (*TypeMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metadata, ok := r.byEdm[t]
	return metadata, ok
}

// EnumFor returns the enum type declared for a Go type.
func (r *Registry) EnumFor(goType reflect.Type) (*edm.EnumType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enum, ok := r.enums[dereferenceType(goType)]
	return enum, ok
}

// Build resolves base types, navigation targets and complex property types of
// every registered Go struct and declares the resulting types in the model.
// It may be called again after further registrations.
func (r *Registry) Build() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.resolveEmbeddedLocked(); err != nil {
		return err
	}
	if err := r.registerComplexTypesLocked(); err != nil {
		return err
	}

	pending := make([]*TypeMetadata, 0, len(r.order))
	for _, metadata := range r.order {
		if metadata.EdmType != nil {
			continue
		}
		if metadata.IsEntity && metadata.Base == nil && !metadata.Abstract && len(metadata.KeyProperties) == 0 {
			return fmt.Errorf("entity %s must have at least one key property (use `odata:\"key\"` tag or name field 'ID')", metadata.TypeName)
		}
		if metadata.IsEntity && metadata.Base != nil && len(metadata.KeyProperties) > 0 {
			return fmt.Errorf("derived entity %s cannot redeclare key properties", metadata.TypeName)
		}
		if metadata.IsEntity {
			metadata.EdmType = edm.NewEntityType(r.model.Namespace(), metadata.TypeName)
		} else {
			metadata.EdmType = edm.NewComplexType(r.model.Namespace(), metadata.TypeName)
		}
		metadata.EdmType.Abstract = metadata.Abstract
		metadata.EdmType.Open = metadata.DynamicProperty != nil
		if err := r.model.AddType(metadata.EdmType); err != nil {
			return err
		}
		r.byEdm[metadata.EdmType] = metadata
		pending = append(pending, metadata)
	}

	for _, metadata := range pending {
		if err := r.declarePropertiesLocked(metadata); err != nil {
			return err
		}
	}

	for _, metadata := range pending {
		if !metadata.IsEntity || metadata.Base != nil {
			continue
		}
		if _, exists := r.model.FindNavigationSource(metadata.EntitySetName); exists {
			continue
		}
		if _, err := r.model.AddEntitySet(metadata.EntitySetName, metadata.EdmType); err != nil {
			return err
		}
	}

	for _, metadata := range r.order {
		r.buildFieldIndex(metadata)
	}

	return r.model.Validate()
}

// resolveEmbeddedLocked turns anonymous struct fields into either the base type
// (when the embedded struct is registered) or promoted properties.
func (r *Registry) resolveEmbeddedLocked() error {
	for _, metadata := range r.order {
		embedded := metadata.embedded
		metadata.embedded = nil
		for i := range embedded {
			field := embedded[i]
			if base, ok := r.types[field.Type]; ok {
				if metadata.Base != nil {
					return fmt.Errorf("type %s embeds more than one registered type", metadata.TypeName)
				}
				if base.IsEntity != metadata.IsEntity {
					return fmt.Errorf("type %s cannot derive from %s of a different kind", metadata.TypeName, base.TypeName)
				}
				metadata.Base = base
				metadata.baseField = &field
				continue
			}
			if err := analyzeFields(metadata, field.Type, field.Index); err != nil {
				return fmt.Errorf("error analyzing embedded field %s: %w", field.Name, err)
			}
		}
	}

	for _, metadata := range r.order {
		seen := map[*TypeMetadata]bool{}
		for cur := metadata; cur != nil; cur = cur.Base {
			if seen[cur] {
				return fmt.Errorf("type %s has a cyclic base type chain", metadata.TypeName)
			}
			seen[cur] = true
		}
	}
	return nil
}

// registerComplexTypesLocked registers struct property types that are used as
// complex values but were not registered explicitly.
func (r *Registry) registerComplexTypesLocked() error {
	for i := 0; i < len(r.order); i++ {
		metadata := r.order[i]
		for j := range metadata.Properties {
			prop := &metadata.Properties[j]
			target := elementStructType(prop.Type)
			if target == nil {
				continue
			}
			registered, ok := r.types[target]
			switch {
			case prop.IsNavigationProp:
				if !ok || !registered.IsEntity {
					return fmt.Errorf("navigation target '%s' of %s.%s is not a registered entity", target.Name(), metadata.TypeName, prop.Name)
				}
			case ok && registered.IsEntity:
				// Struct fields of registered entity types are navigation properties.
				prop.IsComplexType = false
				prop.IsNavigationProp = true
				prop.NavigationTarget = target.Name()
				prop.NavigationIsArray = prop.Type.Kind() == reflect.Slice
				prop.Nullable = nil
			case !ok:
				complexMetadata, err := analyzeStruct(reflect.New(target).Interface(), false)
				if err != nil {
					return fmt.Errorf("failed to analyze complex type %s: %w", target.Name(), err)
				}
				if metadata.EdmType != nil {
					// Complex fields of bound types bind to the declared property type.
					if declared := declaredStructType(metadata.EdmType, prop.EdmName()); declared != nil {
						complexMetadata.EdmType = declared
						complexMetadata.TypeName = declared.Name
						r.byEdm[declared] = complexMetadata
					}
				}
				r.types[target] = complexMetadata
				r.order = append(r.order, complexMetadata)
				if len(complexMetadata.embedded) > 0 {
					// Promote fields of embedded structs of on-demand complex types.
					embedded := complexMetadata.embedded
					complexMetadata.embedded = nil
					for _, field := range embedded {
						if err := analyzeFields(complexMetadata, field.Type, field.Index); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	return nil
}

func (r *Registry) declarePropertiesLocked(metadata *TypeMetadata) error {
	st := metadata.EdmType
	if metadata.Base != nil {
		st.BaseType = metadata.Base.EdmType
	}

	for i := range metadata.Properties {
		prop := &metadata.Properties[i]
		name := prop.EdmName()

		if prop.IsNavigationProp {
			target := r.types[elementStructType(prop.Type)]
			st.AddNavigationProperty(name, target.EdmType, prop.NavigationIsArray, true)
			continue
		}

		ref, err := r.typeReferenceLocked(prop)
		if err != nil {
			return fmt.Errorf("property %s.%s: %w", metadata.TypeName, prop.Name, err)
		}
		st.AddStructuralProperty(name, ref)
	}

	if len(metadata.KeyProperties) > 0 {
		names := make([]string, 0, len(metadata.KeyProperties))
		for i := range metadata.KeyProperties {
			names = append(names, metadata.KeyProperties[i].EdmName())
		}
		st.SetKey(names...)
	}
	return nil
}

func (r *Registry) typeReferenceLocked(prop *PropertyMetadata) (edm.TypeReference, error) {
	goType := prop.Type
	nullable := prop.IsNullable()

	if goType.Kind() == reflect.Slice && goType != bytesType {
		elem, err := r.elementReferenceLocked(prop, goType.Elem())
		if err != nil {
			return edm.TypeReference{}, err
		}
		return edm.TypeReference{Definition: &edm.CollectionType{Element: elem}, Nullable: nullable}, nil
	}

	ref, err := r.elementReferenceLocked(prop, goType)
	if err != nil {
		return edm.TypeReference{}, err
	}
	ref.Nullable = nullable
	return ref, nil
}

func (r *Registry) elementReferenceLocked(prop *PropertyMetadata, goType reflect.Type) (edm.TypeReference, error) {
	base := dereferenceType(goType)
	nullable := goType.Kind() == reflect.Ptr

	if enum, ok := r.enums[base]; ok {
		return edm.NewTypeReference(enum, nullable), nil
	}
	if prop.IsEnum && prop.EnumTypeName != "" {
		t, ok := r.model.FindDeclaredType(prop.EnumTypeName)
		if !ok || t.Kind() != edm.KindEnum {
			return edm.TypeReference{}, fmt.Errorf("%w: enum %s", edm.ErrTypeNotFound, prop.EnumTypeName)
		}
		return edm.NewTypeReference(t, nullable), nil
	}
	if base.Kind() == reflect.Struct && !isPrimitiveStruct(base) {
		metadata, ok := r.types[base]
		if !ok || metadata.EdmType == nil {
			return edm.TypeReference{}, fmt.Errorf("struct type %s is not registered", base)
		}
		return edm.NewTypeReference(metadata.EdmType, nullable), nil
	}
	if p, ok := PrimitiveFor(base); ok {
		return edm.NewTypeReference(p, nullable), nil
	}
	return edm.TypeReference{}, fmt.Errorf("unsupported Go type %s", goType)
}

func (r *Registry) buildFieldIndex(metadata *TypeMetadata) {
	if metadata.fieldIndex != nil {
		return
	}
	index := make(map[string][]int)
	var dynamic []int

	if metadata.Base != nil && metadata.baseField != nil {
		r.buildFieldIndex(metadata.Base)
		prefix := metadata.baseField.Index
		for name, path := range metadata.Base.fieldIndex {
			index[name] = append(append([]int(nil), prefix...), path...)
		}
		if metadata.Base.dynamicIndex != nil {
			dynamic = append(append([]int(nil), prefix...), metadata.Base.dynamicIndex...)
		}
	}

	for i := range metadata.Properties {
		prop := &metadata.Properties[i]
		index[prop.EdmName()] = prop.Index
	}
	if metadata.DynamicProperty != nil {
		dynamic = metadata.DynamicProperty.Index
	}

	metadata.fieldIndex = index
	metadata.dynamicIndex = dynamic
}

// elementStructType returns the struct type behind T, *T, []T or []*T, or nil
// when the type does not map onto a structured type.
func elementStructType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	t = dereferenceType(t)
	if t.Kind() != reflect.Struct || isPrimitiveStruct(t) {
		return nil
	}
	return t
}

func declaredStructType(owner *edm.StructuredType, name string) *edm.StructuredType {
	prop := owner.FindProperty(name)
	if prop == nil {
		return nil
	}
	return prop.Type.ElementType().StructuredDefinition()
}
