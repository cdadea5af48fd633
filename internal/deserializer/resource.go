// Package deserializer turns wire wrappers into materialized objects.
//
// Reading starts at ResourceDeserializer.ReadTopLevel and recurses through
// ReadInline for nested resources and resource sets. Every nested entry
// point shares the depth counter of the per-read Context, so adversarial
// nesting fails with ErrRecursionLimitExceeded instead of growing the stack
// without bound. Type-specific deserializers are always looked up through
// the Context's Provider.
package deserializer

import (
	"fmt"
	"log/slog"

	"github.com/nlstn/go-odata-formatter/internal/edm"
	"github.com/nlstn/go-odata-formatter/internal/instance"
	"github.com/nlstn/go-odata-formatter/internal/wire"
)

// ResourceDeserializer reads entity and complex resources.
type ResourceDeserializer struct{}

// ReadTopLevel reads the single top-level resource of a payload as typ.
// Entities must be addressed by dctx.Path and resolve to a navigation source.
func (d *ResourceDeserializer) ReadTopLevel(reader *wire.Reader, typ edm.TypeReference, dctx *Context) (interface{}, error) {
	if reader == nil || dctx == nil {
		return nil, newError(ErrInvalidArgument, "", "", "reader and context are required")
	}
	st := typ.StructuredDefinition()
	if st == nil || typ.IsCollection() {
		return nil, newError(ErrInvalidArgument, typ.FullName(), "", "top-level type must be an entity or complex type")
	}
	item, err := readTopLevelItem(reader, st, dctx)
	if err != nil {
		return nil, err
	}
	if _, isSet := item.(*wire.ResourceSetWrapper); isSet {
		return nil, newError(ErrInvalidArgument, st.FullName(), "", "expected a resource, got a resource set")
	}
	return d.ReadInline(item, typ, dctx)
}

// ReadPayload reads the top-level payload of reader by its shape: a resource
// set yields the []interface{} of a collection of typ, a single resource is
// read as typ.
func ReadPayload(reader *wire.Reader, typ edm.TypeReference, dctx *Context) (interface{}, error) {
	if reader == nil || dctx == nil {
		return nil, newError(ErrInvalidArgument, "", "", "reader and context are required")
	}
	st := typ.StructuredDefinition()
	if st == nil || typ.IsCollection() {
		return nil, newError(ErrInvalidArgument, typ.FullName(), "", "top-level type must be an entity or complex type")
	}
	item, err := readTopLevelItem(reader, st, dctx)
	if err != nil {
		return nil, err
	}
	if set, isSet := item.(*wire.ResourceSetWrapper); isSet {
		return (&ResourceSetDeserializer{}).ReadInline(set, edm.CollectionOf(typ), dctx)
	}
	return (&ResourceDeserializer{}).ReadInline(item, typ, dctx)
}

// readTopLevelItem checks the path context an entity payload needs and reads
// the payload's root item.
func readTopLevelItem(reader *wire.Reader, st *edm.StructuredType, dctx *Context) (wire.Item, error) {
	if st.IsEntity() {
		if dctx.Path == nil {
			return nil, newError(ErrMissingPathContext, st.FullName(), "", "")
		}
		if _, ok := dctx.Path.NavigationSource(); !ok {
			return nil, newError(ErrMissingNavigationSource, st.FullName(), "", dctx.Path.String())
		}
	}
	item, err := reader.Read(st)
	if err != nil {
		return nil, payloadError(st.FullName(), err)
	}
	return item, nil
}

// ReadInline reads item as a resource of the structured type typ. A nil item
// read as a complex type yields nil.
func (d *ResourceDeserializer) ReadInline(item interface{}, typ edm.TypeReference, dctx *Context) (interface{}, error) {
	if dctx == nil {
		return nil, newError(ErrInvalidArgument, "", "", "context is required")
	}
	st := typ.StructuredDefinition()
	if st == nil || typ.IsCollection() {
		return nil, newError(ErrInvalidArgument, typ.FullName(), "", "type must be an entity or complex type")
	}

	res, ok := item.(*wire.ResourceWrapper)
	if item == nil || (ok && res == nil) {
		if st.IsComplex() {
			return nil, nil
		}
		return nil, newError(ErrInvalidArgument, st.FullName(), "", "resource is required")
	}
	if !ok {
		return nil, newError(ErrInvalidArgument, st.FullName(), "", fmt.Sprintf("expected a resource, got %T", item))
	}

	if err := dctx.enter(st.FullName()); err != nil {
		return nil, err
	}
	defer dctx.leave()

	if res.ID != "" && res.TypeName == "" && st.IsEntity() {
		var err error
		if res, err = backfillKeys(res, st, dctx); err != nil {
			return nil, err
		}
	}
	return d.readResource(res, st, dctx)
}

// backfillKeys returns res with the key values of its @odata.id appended for
// every key property the payload does not supply.
func backfillKeys(res *wire.ResourceWrapper, st *edm.StructuredType, dctx *Context) (*wire.ResourceWrapper, error) {
	path, err := dctx.parser().ParseID(dctx.ServiceRoot, res.ID)
	if err != nil {
		return nil, wrapError(ErrInvalidArgument, st.FullName(), "@odata.id", err)
	}
	keys, ok := path.LastKey()
	if !ok {
		return res, nil
	}

	var extra []wire.Property
	for _, kv := range keys {
		if _, present := res.FindProperty(kv.Name); present {
			continue
		}
		extra = append(extra, wire.Property{Name: kv.Name, Value: kv.Value})
	}
	if len(extra) == 0 {
		return res, nil
	}
	dctx.logger().Debug("Back-filled key properties from id", slog.String("id", res.ID), slog.Int("count", len(extra)))
	return res.WithProperties(extra...), nil
}

func (d *ResourceDeserializer) readResource(res *wire.ResourceWrapper, declared *edm.StructuredType, dctx *Context) (interface{}, error) {
	if res.TypeName != "" && res.TypeName != declared.FullName() {
		actual, ok := dctx.Model.FindStructuredType(res.TypeName)
		if !ok {
			return nil, newError(ErrUnknownResourceType, res.TypeName, "", "")
		}
		if actual != declared {
			return d.readDerived(res, declared, actual, dctx)
		}
	}

	if declared.Abstract {
		return nil, newError(ErrCannotInstantiateAbstract, declared.FullName(), "", "")
	}

	obj, err := createInstance(declared, dctx)
	if err != nil {
		return nil, err
	}
	if err := applyStructuralProperties(obj, res, declared, dctx); err != nil {
		return nil, err
	}
	if err := d.applyNestedProperties(obj, res, declared, dctx); err != nil {
		return nil, err
	}
	return obj, nil
}

// readDerived redispatches a derived-type payload one inheritance level down
// through the provider and tags the result with the expected type.
func (d *ResourceDeserializer) readDerived(res *wire.ResourceWrapper, declared, actual *edm.StructuredType, dctx *Context) (interface{}, error) {
	if !actual.IsDerivedFrom(declared) {
		return nil, newError(ErrUnknownResourceType, actual.FullName(), "", "not derived from "+declared.FullName())
	}
	if actual.Abstract {
		return nil, newError(ErrCannotInstantiateAbstract, actual.FullName(), "", "")
	}
	child, err := actual.DirectChildToward(declared)
	if err != nil {
		return nil, wrapError(ErrUnknownResourceType, actual.FullName(), "", err)
	}

	childRef := edm.NewTypeReference(child, true)
	deserializer, err := lookup(dctx, childRef)
	if err != nil {
		return nil, err
	}
	dctx.logger().Debug("Redispatching derived resource",
		slog.String("declared", declared.FullName()),
		slog.String("next", child.FullName()),
		slog.String("actual", actual.FullName()))

	// The redispatched read stands in for this one and takes over its depth.
	dctx.leave()
	value, err := deserializer.ReadInline(res, childRef, dctx)
	dctx.depth++
	if err != nil {
		return nil, err
	}
	if obj, ok := value.(instance.Object); ok {
		obj.SetExpectedType(declared)
	}
	return value, nil
}

// createInstance constructs the object for st: typeless when requested,
// otherwise the registered Go type, wrapped for patch tracking in delta mode.
func createInstance(st *edm.StructuredType, dctx *Context) (instance.Object, error) {
	var obj instance.Object
	if dctx.Untyped {
		obj = instance.NewTypeless(st)
	} else {
		if dctx.Mapper == nil {
			return nil, newError(ErrUnmappedResourceType, st.FullName(), "", "")
		}
		m, ok := dctx.Mapper.ResolveClrMapping(st)
		if !ok {
			return nil, newError(ErrUnmappedResourceType, st.FullName(), "", "")
		}
		obj = instance.NewStructObject(m)
	}

	if dctx.Delta {
		props := st.StructuralProperties()
		names := make([]string, 0, len(props))
		for _, p := range props {
			names = append(names, p.Name)
		}
		return instance.NewDelta(obj, names, st.IsOpen()), nil
	}
	return obj, nil
}

func applyStructuralProperties(obj instance.Object, res *wire.ResourceWrapper, st *edm.StructuredType, dctx *Context) error {
	for _, p := range res.Properties {
		prop := st.FindProperty(p.Name)
		if prop == nil {
			if !st.IsOpen() {
				return newError(ErrUnknownProperty, st.FullName(), p.Name, "")
			}
			value, err := convertDynamic(p, dctx)
			if err != nil {
				return wrapError(ErrPropertyConversionFailed, st.FullName(), p.Name, err)
			}
			if err := ApplyDynamicValue(obj, p.Name, value, st); err != nil {
				return wrapError(ErrPropertyConversionFailed, st.FullName(), p.Name, err)
			}
			continue
		}
		if prop.IsNavigation() || prop.Type.ElementType().IsStructured() {
			return newError(ErrPropertyConversionFailed, st.FullName(), p.Name, "structured property must be an object or array")
		}

		deserializer, err := lookup(dctx, prop.Type)
		if err != nil {
			return err
		}
		value, err := deserializer.ReadInline(p.Value, prop.Type, dctx)
		if err != nil {
			return wrapError(ErrPropertyConversionFailed, st.FullName(), p.Name, err)
		}

		if prop.IsCollection() {
			values, _ := value.([]interface{})
			err = ApplyCollectionValue(obj, prop, p.Name, values, st)
		} else {
			err = ApplyStructuralValue(obj, p.Name, value)
		}
		if err != nil {
			return wrapError(ErrPropertyConversionFailed, st.FullName(), p.Name, err)
		}
	}
	return nil
}

// convertDynamic converts an undeclared property of an open type, using the
// name@odata.type annotation when present and the JSON shape otherwise.
func convertDynamic(p wire.Property, dctx *Context) (interface{}, error) {
	if p.TypeName == "" {
		return inferValue(p.Value), nil
	}
	t, ok := dctx.Model.FindDeclaredType(p.TypeName)
	if !ok {
		return nil, newError(ErrUnknownResourceType, p.TypeName, p.Name, "")
	}
	ref := edm.NewTypeReference(t, true)
	if coll, isColl := t.(*edm.CollectionType); isColl {
		ref = edm.TypeReference{Definition: coll, Nullable: true}
	}
	if ref.ElementType().IsStructured() {
		return nil, fmt.Errorf("structured type %s requires an object value", p.TypeName)
	}
	deserializer, err := lookup(dctx, ref)
	if err != nil {
		return nil, err
	}
	return deserializer.ReadInline(p.Value, ref, dctx)
}

func (d *ResourceDeserializer) applyNestedProperties(obj instance.Object, res *wire.ResourceWrapper, st *edm.StructuredType, dctx *Context) error {
	for _, info := range res.NestedResourceInfos {
		prop := st.FindProperty(info.Name)
		if prop == nil && !st.IsOpen() {
			return newError(ErrUnknownNestedProperty, st.FullName(), info.Name, "")
		}
		if prop != nil && !prop.IsNavigation() && !prop.Type.ElementType().IsStructured() {
			return newError(ErrPropertyConversionFailed, st.FullName(), info.Name, "primitive property cannot hold a nested resource")
		}

		shape := info.Shape()
		if dctx.Delta && prop.IsNavigation() && shape != wire.ShapeAbsent {
			declaring := st
			if prop.DeclaringType != nil {
				declaring = prop.DeclaringType
			}
			return newError(ErrNavigationNotPatchable, declaring.FullName(), info.Name, "")
		}

		switch shape {
		case wire.ShapeAbsent, wire.ShapeNull:
			// Null and absent nested slots are both left unset.
			continue
		case wire.ShapeLinks:
			converted, err := linksToNested(info, prop, st, dctx)
			if err != nil {
				return err
			}
			info = converted
			shape = info.Shape()
		}

		var err error
		switch shape {
		case wire.ShapeResourceSet:
			err = d.applyNestedSet(obj, info, prop, st, dctx)
		case wire.ShapeResource:
			err = d.applyNestedResource(obj, info, prop, st, dctx)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *ResourceDeserializer) applyNestedSet(obj instance.Object, info *wire.NestedResourceInfoWrapper, prop *edm.Property, st *edm.StructuredType, dctx *Context) error {
	var typ edm.TypeReference
	if prop == nil {
		if info.ResourceSet.TypeName == "" {
			return newError(ErrDynamicCollectionTypeNameRequired, st.FullName(), info.Name, "")
		}
		elem, ok := dctx.Model.FindStructuredType(info.ResourceSet.TypeName)
		if !ok {
			return newError(ErrUnknownResourceType, info.ResourceSet.TypeName, info.Name, "")
		}
		typ = edm.CollectionOf(edm.NewTypeReference(elem, true))
	} else {
		if !prop.IsCollection() {
			return newError(ErrPropertyConversionFailed, st.FullName(), info.Name, "single-valued property cannot hold a resource set")
		}
		typ = prop.Type
	}

	deserializer, err := lookup(dctx, typ)
	if err != nil {
		return err
	}
	value, err := deserializer.ReadInline(info.ResourceSet, typ, dctx)
	if err != nil {
		return err
	}
	values, _ := value.([]interface{})
	if prop == nil {
		err = ApplyDynamicValue(obj, info.Name, values, st)
	} else {
		err = ApplyCollectionValue(obj, prop, info.Name, values, st)
	}
	if err != nil {
		return wrapError(ErrPropertyConversionFailed, st.FullName(), info.Name, err)
	}
	return nil
}

func (d *ResourceDeserializer) applyNestedResource(obj instance.Object, info *wire.NestedResourceInfoWrapper, prop *edm.Property, st *edm.StructuredType, dctx *Context) error {
	var typ edm.TypeReference
	if prop == nil {
		if info.Resource.TypeName == "" {
			return newError(ErrDynamicTypeNameRequired, st.FullName(), info.Name, "")
		}
		target, ok := dctx.Model.FindStructuredType(info.Resource.TypeName)
		if !ok {
			return newError(ErrUnknownResourceType, info.Resource.TypeName, info.Name, "")
		}
		typ = edm.NewTypeReference(target, true)
	} else {
		if prop.IsCollection() {
			return newError(ErrPropertyConversionFailed, st.FullName(), info.Name, "collection property requires an array")
		}
		typ = prop.Type
	}

	deserializer, err := lookup(dctx, typ)
	if err != nil {
		return err
	}
	value, err := deserializer.ReadInline(info.Resource, typ, dctx)
	if err != nil {
		return err
	}
	if prop == nil {
		err = ApplyDynamicValue(obj, info.Name, value, st)
	} else {
		err = ApplyStructuralValue(obj, info.Name, value)
	}
	if err != nil {
		return wrapError(ErrPropertyConversionFailed, st.FullName(), info.Name, err)
	}
	return nil
}

// linksToNested converts reference links into synthetic resources carrying
// only the id and the key values of the linked entity.
func linksToNested(info *wire.NestedResourceInfoWrapper, prop *edm.Property, st *edm.StructuredType, dctx *Context) (*wire.NestedResourceInfoWrapper, error) {
	var declared *edm.StructuredType
	if prop != nil {
		declared = prop.Type.ElementType().StructuredDefinition()
	}

	resources := make([]*wire.ResourceWrapper, 0, len(info.Links))
	var linkType *edm.StructuredType
	for _, link := range info.Links {
		path, err := dctx.parser().ParseID(dctx.ServiceRoot, link.URL)
		if err != nil {
			return nil, wrapError(ErrInvalidArgument, st.FullName(), info.Name, err)
		}
		keys, ok := path.LastKey()
		if !ok {
			return nil, newError(ErrInvalidArgument, st.FullName(), info.Name, "link does not address a single entity: "+link.URL)
		}
		target := path.TargetType()
		if declared != nil && !target.IsDerivedFrom(declared) {
			return nil, newError(ErrInvalidArgument, st.FullName(), info.Name, fmt.Sprintf("link %s addresses %s, expected %s", link.URL, target.FullName(), declared.FullName()))
		}
		linkType = target

		res := &wire.ResourceWrapper{ID: link.URL}
		if declared == nil || target != declared {
			res.TypeName = target.FullName()
		}
		for _, kv := range keys {
			res.Properties = append(res.Properties, wire.Property{Name: kv.Name, Value: kv.Value})
		}
		resources = append(resources, res)
	}

	if info.IsCollection || (prop != nil && prop.IsCollection()) {
		set := &wire.ResourceSetWrapper{Resources: resources}
		if prop == nil && linkType != nil {
			set.TypeName = linkType.FullName()
		}
		return &wire.NestedResourceInfoWrapper{Name: info.Name, ResourceSet: set}, nil
	}
	if len(resources) != 1 {
		return nil, newError(ErrInvalidArgument, st.FullName(), info.Name, "single-valued navigation requires exactly one link")
	}
	return &wire.NestedResourceInfoWrapper{Name: info.Name, Resource: resources[0]}, nil
}
