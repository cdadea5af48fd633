package odata

import (
	"github.com/nlstn/go-odata-formatter/internal/deserializer"
	"github.com/nlstn/go-odata-formatter/internal/edm"
	"github.com/nlstn/go-odata-formatter/internal/instance"
	"github.com/nlstn/go-odata-formatter/internal/query"
	"github.com/nlstn/go-odata-formatter/internal/scope"
)

type (
	// Delta records the properties sent by a PATCH payload.
	Delta = instance.Delta
	// DeletedResource is a removed entry of a delta resource set.
	DeletedResource = instance.DeletedResource
	// StructObject wraps a registered Go struct.
	StructObject = instance.StructObject
	// EntityObject is a typeless entity.
	EntityObject = instance.EntityObject
	// ComplexObject is a typeless complex value.
	ComplexObject = instance.ComplexObject
	// Object is implemented by every materialized resource.
	Object = instance.Object

	// Deserializer reads one wire item as a given type.
	Deserializer = deserializer.Deserializer
	// Error is the typed failure returned by reads.
	Error = deserializer.Error

	// EnumMember is a named value of an enum type.
	EnumMember = edm.EnumMember

	// QueryOptions holds parsed system query options.
	QueryOptions = query.QueryOptions
	// OrderByItem is one $orderby clause.
	OrderByItem = query.OrderByItem
	// ExpandOption is one $expand clause.
	ExpandOption = query.ExpandOption

	// QueryScope restricts the rows a Patch may match.
	QueryScope = scope.QueryScope
)

// Where builds a QueryScope from a SQL condition with ? placeholders.
func Where(condition string, args ...interface{}) QueryScope {
	return scope.Where(condition, args...)
}

// Read failures; match them with errors.Is.
var (
	ErrInvalidArgument                   = deserializer.ErrInvalidArgument
	ErrMissingPathContext                = deserializer.ErrMissingPathContext
	ErrMissingNavigationSource           = deserializer.ErrMissingNavigationSource
	ErrUnknownResourceType               = deserializer.ErrUnknownResourceType
	ErrCannotInstantiateAbstract         = deserializer.ErrCannotInstantiateAbstract
	ErrUnmappedResourceType              = deserializer.ErrUnmappedResourceType
	ErrUnknownNestedProperty             = deserializer.ErrUnknownNestedProperty
	ErrUnknownProperty                   = deserializer.ErrUnknownProperty
	ErrDynamicCollectionTypeNameRequired = deserializer.ErrDynamicCollectionTypeNameRequired
	ErrDynamicTypeNameRequired           = deserializer.ErrDynamicTypeNameRequired
	ErrNavigationNotPatchable            = deserializer.ErrNavigationNotPatchable
	ErrRecursionLimitExceeded            = deserializer.ErrRecursionLimitExceeded
	ErrPropertyConversionFailed          = deserializer.ErrPropertyConversionFailed
	ErrDeserializerNotFound              = deserializer.ErrDeserializerNotFound

	// ErrInvalidQueryOption is returned for malformed or unsupported query options.
	ErrInvalidQueryOption = query.ErrInvalidQueryOption
)
