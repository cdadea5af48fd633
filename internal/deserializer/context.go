package deserializer

import (
	"log/slog"

	"github.com/nlstn/go-odata-formatter/internal/edm"
	"github.com/nlstn/go-odata-formatter/internal/metadata"
	"github.com/nlstn/go-odata-formatter/internal/routing"
)

// DefaultMaxDepth is the nesting limit used when Context.MaxDepth is not set.
const DefaultMaxDepth = 32

// TypeMapper resolves the Go mapping of a structured type.
type TypeMapper interface {
	ResolveClrMapping(t *edm.StructuredType) (*metadata.TypeMetadata, bool)
}

// Context carries the per-read state of one deserialization call tree. A
// Context must not be shared between concurrent reads.
type Context struct {
	Model *edm.Model
	// Path is the request path; required when reading a top-level entity.
	Path *routing.Path
	// ServiceRoot resolves relative and absolute ids and links.
	ServiceRoot string
	PathParser  *routing.Parser
	Mapper      TypeMapper
	Provider    Provider
	// Delta requests patch-tracking materialization.
	Delta bool
	// Untyped requests typeless entity and complex objects.
	Untyped  bool
	MaxDepth int
	Logger   *slog.Logger

	depth int
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Context) maxDepth() int {
	if c.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return c.MaxDepth
}

func (c *Context) parser() *routing.Parser {
	if c.PathParser == nil {
		c.PathParser = routing.NewParser(c.Model)
	}
	return c.PathParser
}

// enter increments the depth counter; every successful enter must be paired
// with leave.
func (c *Context) enter(typeName string) error {
	if c.depth >= c.maxDepth() {
		return newError(ErrRecursionLimitExceeded, typeName, "", "")
	}
	c.depth++
	return nil
}

func (c *Context) leave() {
	c.depth--
}

// Depth returns the current nesting depth.
func (c *Context) Depth() int { return c.depth }
