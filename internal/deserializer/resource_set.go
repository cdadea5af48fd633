package deserializer

import (
	"fmt"

	"github.com/nlstn/go-odata-formatter/internal/edm"
	"github.com/nlstn/go-odata-formatter/internal/instance"
	"github.com/nlstn/go-odata-formatter/internal/wire"
)

// ResourceSetDeserializer reads a resource set as a []interface{} of
// materialized objects. Delta sets yield *instance.Delta elements and
// *instance.DeletedResource for removed entries.
type ResourceSetDeserializer struct{}

func (d *ResourceSetDeserializer) ReadInline(item interface{}, typ edm.TypeReference, dctx *Context) (interface{}, error) {
	if dctx == nil {
		return nil, newError(ErrInvalidArgument, "", "", "context is required")
	}
	elemRef := typ.ElementType()
	elem := elemRef.StructuredDefinition()
	if !typ.IsCollection() || elem == nil {
		return nil, newError(ErrInvalidArgument, typ.FullName(), "", "type must be a collection of entity or complex type")
	}
	set, ok := item.(*wire.ResourceSetWrapper)
	if !ok || set == nil {
		return nil, newError(ErrInvalidArgument, typ.FullName(), "", fmt.Sprintf("expected a resource set, got %T", item))
	}

	if err := dctx.enter(typ.FullName()); err != nil {
		return nil, err
	}
	defer dctx.leave()

	elemCtx := dctx
	switch {
	case set.IsDelta && !dctx.Delta:
		sub := *dctx
		sub.Delta = true
		elemCtx = &sub
	case !set.IsDelta && dctx.Delta && elem.IsComplex():
		// Complex collections are replaced as a whole, not patched element-wise.
		sub := *dctx
		sub.Delta = false
		elemCtx = &sub
	}

	deserializer, err := lookup(dctx, elemRef)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, 0, len(set.Resources))
	for _, res := range set.Resources {
		if res.Removed != nil {
			deleted, err := deletedResource(res, elem, elemCtx)
			if err != nil {
				return nil, err
			}
			values = append(values, deleted)
			continue
		}
		value, err := deserializer.ReadInline(res, elemRef, elemCtx)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// ReadTopLevel reads a top-level resource set payload as a collection of typ.
func (d *ResourceSetDeserializer) ReadTopLevel(reader *wire.Reader, typ edm.TypeReference, dctx *Context) ([]interface{}, error) {
	if reader == nil || dctx == nil {
		return nil, newError(ErrInvalidArgument, "", "", "reader and context are required")
	}
	elem := typ.ElementType().StructuredDefinition()
	if !typ.IsCollection() || elem == nil {
		return nil, newError(ErrInvalidArgument, typ.FullName(), "", "top-level type must be a collection of entity or complex type")
	}
	item, err := readTopLevelItem(reader, elem, dctx)
	if err != nil {
		return nil, err
	}
	if _, isResource := item.(*wire.ResourceWrapper); isResource {
		return nil, newError(ErrInvalidArgument, elem.FullName(), "", "expected a resource set, got a resource")
	}
	value, err := d.ReadInline(item, typ, dctx)
	if err != nil {
		return nil, err
	}
	return value.([]interface{}), nil
}

func deletedResource(res *wire.ResourceWrapper, elem *edm.StructuredType, dctx *Context) (*instance.DeletedResource, error) {
	deleted := &instance.DeletedResource{
		ID:       res.ID,
		Reason:   res.Removed.Reason,
		TypeName: res.TypeName,
	}
	if deleted.Reason == "" {
		deleted.Reason = instance.RemovedDeleted
	}
	if deleted.TypeName == "" {
		deleted.TypeName = elem.FullName()
	}

	keys := map[string]interface{}{}
	if res.ID != "" && elem.IsEntity() {
		path, err := dctx.parser().ParseID(dctx.ServiceRoot, res.ID)
		if err != nil {
			return nil, wrapError(ErrInvalidArgument, elem.FullName(), "@odata.id", err)
		}
		if kvs, ok := path.LastKey(); ok {
			for _, kv := range kvs {
				keys[kv.Name] = kv.Value
			}
		}
	}
	for _, keyProp := range elem.Key() {
		p, ok := res.FindProperty(keyProp.Name)
		if !ok {
			continue
		}
		deserializer, err := lookup(dctx, keyProp.Type)
		if err != nil {
			return nil, err
		}
		value, err := deserializer.ReadInline(p.Value, keyProp.Type, dctx)
		if err != nil {
			return nil, wrapError(ErrPropertyConversionFailed, elem.FullName(), keyProp.Name, err)
		}
		keys[keyProp.Name] = value
	}
	if len(keys) > 0 {
		deleted.Keys = keys
	}
	return deleted, nil
}
