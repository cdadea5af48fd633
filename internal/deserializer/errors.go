package deserializer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nlstn/go-odata-formatter/internal/wire"
)

// Deserialization failures. Every error returned by this package matches one
// of these with errors.Is.
var (
	ErrInvalidArgument                   = errors.New("invalid argument")
	ErrMissingPathContext                = errors.New("missing OData path")
	ErrMissingNavigationSource           = errors.New("navigation source not found")
	ErrUnknownResourceType               = errors.New("unknown resource type")
	ErrCannotInstantiateAbstract         = errors.New("cannot instantiate abstract type")
	ErrUnmappedResourceType              = errors.New("resource type has no Go mapping")
	ErrUnknownNestedProperty             = errors.New("unknown nested property")
	ErrUnknownProperty                   = errors.New("unknown property")
	ErrDynamicCollectionTypeNameRequired = errors.New("dynamic collection requires a type name")
	ErrDynamicTypeNameRequired           = errors.New("dynamic nested resource requires a type name")
	ErrNavigationNotPatchable            = errors.New("navigation property cannot be patched")
	ErrRecursionLimitExceeded            = errors.New("recursion limit exceeded")
	ErrPropertyConversionFailed          = errors.New("property conversion failed")
	ErrDeserializerNotFound              = errors.New("no deserializer registered")
)

// Error is a typed deserialization failure carrying the offending property
// and type names.
type Error struct {
	// Kind is one of the Err* sentinels.
	Kind     error
	Property string
	TypeName string
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("odata: ")
	b.WriteString(e.Kind.Error())
	if e.Property != "" {
		b.WriteString(": property ")
		b.WriteString(e.Property)
		if e.TypeName != "" {
			b.WriteString(" of ")
			b.WriteString(e.TypeName)
		}
	} else if e.TypeName != "" {
		b.WriteString(": type ")
		b.WriteString(e.TypeName)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// ErrorKind returns the message of the sentinel the error matches.
func (e *Error) ErrorKind() string { return e.Kind.Error() }

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newError(kind error, typeName, property, detail string) *Error {
	return &Error{Kind: kind, TypeName: typeName, Property: property, Detail: detail}
}

func wrapError(kind error, typeName, property string, cause error) *Error {
	return &Error{Kind: kind, TypeName: typeName, Property: property, Cause: cause}
}

// payloadError wraps a failure of the wire reader. Excess JSON nesting is a
// recursion limit like excess resource nesting.
func payloadError(typeName string, err error) error {
	if errors.Is(err, wire.ErrNestingTooDeep) {
		return wrapError(ErrRecursionLimitExceeded, typeName, "", err)
	}
	return fmt.Errorf("failed to read payload: %w", err)
}
