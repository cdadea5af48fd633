// Package odata reads OData v4 JSON request payloads into Go values.
//
// A Formatter owns an Entity Data Model built from registered Go structs, a
// YAML schema, or both. Reads are addressed by an OData path such as
// "Products(5)" which selects the expected type and the navigation source.
//
//	f := odata.NewFormatter("Shop", odata.FormatterConfig{})
//	if err := f.RegisterEntity(&Product{}); err != nil {
//	    log.Fatal(err)
//	}
//	product, err := odata.ReadEntity[Product](ctx, f, r.Body, odata.Request{Path: "Products"})
//
// # Payloads
//
// Nested resources, resource sets, @odata.bind reference links, derived types
// announced with @odata.type and dynamic properties of open types are
// supported. Entities whose @odata.id carries the key get their key
// properties filled in when the payload omits them.
//
// # Deltas
//
// ReadDelta reads a PATCH payload into a Delta that records which properties
// were sent. Navigation properties cannot be patched. Deltas can be applied to
// a Go value with Delta.Patch or persisted with Formatter.Patch.
//
// # Untyped reads
//
// With ReadOptions.Untyped, entities and complex values are materialized as
// typeless objects that keep the wire order of their properties; this needs no
// Go struct and works with models loaded from YAML.
package odata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nlstn/go-odata-formatter/internal/deserializer"
	"github.com/nlstn/go-odata-formatter/internal/edm"
	"github.com/nlstn/go-odata-formatter/internal/instance"
	"github.com/nlstn/go-odata-formatter/internal/metadata"
	"github.com/nlstn/go-odata-formatter/internal/observability"
	"github.com/nlstn/go-odata-formatter/internal/query"
	"github.com/nlstn/go-odata-formatter/internal/routing"
	"github.com/nlstn/go-odata-formatter/internal/wire"
)

// DefaultNamespace is used when no explicit namespace is configured.
const DefaultNamespace = "ODataService"

const (
	// DefaultMaxDepth is the default maximum nesting of resources and resource
	// sets in one payload.
	DefaultMaxDepth = deserializer.DefaultMaxDepth

	// DefaultMaxExpandDepth is the default maximum depth for nested $expand operations.
	DefaultMaxExpandDepth = query.DefaultMaxExpandDepth

	// DefaultMaxJSONDepth is the default maximum nesting of JSON arrays and
	// objects accepted by the payload reader.
	DefaultMaxJSONDepth = wire.DefaultMaxNesting
)

// FormatterConfig controls optional formatter behaviours.
type FormatterConfig struct {
	// MaxDepth limits the nesting of resources within a payload.
	// If set to 0 or left unset, DefaultMaxDepth is used. This limit is always enforced.
	MaxDepth int

	// MaxExpandDepth limits the maximum depth of nested $expand operations.
	// If set to 0 or left unset, DefaultMaxExpandDepth is used.
	MaxExpandDepth int

	// MaxJSONDepth limits the nesting of JSON values before any resource is
	// materialized. If set to 0 or left unset, DefaultMaxJSONDepth is used.
	MaxJSONDepth int

	// ServiceRoot is the absolute service root used to resolve @odata.id and
	// @odata.bind values, e.g. "https://host/odata/". Requests may override it.
	ServiceRoot string
}

// Request addresses the resource a payload is read for.
type Request struct {
	// Path is the OData resource path relative to the service root, e.g. "Products(5)".
	Path string
	// ServiceRoot overrides FormatterConfig.ServiceRoot for this request.
	ServiceRoot string
}

// ReadOptions selects how a payload is materialized.
type ReadOptions struct {
	// Delta reads the payload as a partial update.
	Delta bool
	// Untyped materializes typeless objects instead of registered Go structs.
	Untyped bool
	// Collection requires the payload to be a resource set.
	Collection bool
}

// Formatter reads OData payloads against a model.
type Formatter struct {
	mu             sync.RWMutex
	namespace      string
	model          *edm.Model
	registry       *metadata.Registry
	provider       *deserializer.DefaultProvider
	parser         *routing.Parser
	dirty          bool
	logger         *slog.Logger
	observability  *observability.Config
	maxDepth       int
	maxExpandDepth int
	maxJSONDepth   int
	serviceRoot    string
}

// NewFormatter creates a formatter whose registered types are declared in
// namespace.
func NewFormatter(namespace string, cfg FormatterConfig) *Formatter {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}

	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	maxExpandDepth := cfg.MaxExpandDepth
	if maxExpandDepth <= 0 {
		maxExpandDepth = DefaultMaxExpandDepth
	}
	maxJSONDepth := cfg.MaxJSONDepth
	if maxJSONDepth <= 0 {
		maxJSONDepth = DefaultMaxJSONDepth
	}

	obs := observability.NewNoopConfig()

	model := edm.NewModel(namespace)
	return &Formatter{
		namespace:      namespace,
		model:          model,
		registry:       metadata.NewRegistry(model),
		provider:       deserializer.NewDefaultProvider(),
		logger:         slog.Default(),
		observability:  obs,
		maxDepth:       maxDepth,
		maxExpandDepth: maxExpandDepth,
		maxJSONDepth:   maxJSONDepth,
		serviceRoot:    cfg.ServiceRoot,
	}
}

// SetLogger sets a custom logger for the formatter.
// If logger is nil, slog.Default() is used.
func (f *Formatter) SetLogger(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger = logger
	return nil
}

// Namespace returns the namespace registered types are declared in.
func (f *Formatter) Namespace() string { return f.namespace }

// RegisterEntity registers a Go struct as an entity type. Its entity set is
// named after the pluralized type name.
func (f *Formatter) RegisterEntity(entity interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, err := f.registry.RegisterEntity(entity)
	if err != nil {
		return fmt.Errorf("failed to register entity: %w", err)
	}
	f.dirty = true
	f.logger.Debug("Registered entity", "entity", meta.TypeName, "entitySet", meta.EntitySetName)
	return nil
}

// RegisterComplexType registers a Go struct as a complex type. Structs used
// as properties of registered entities are registered automatically.
func (f *Formatter) RegisterComplexType(value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, err := f.registry.RegisterComplexType(value)
	if err != nil {
		return fmt.Errorf("failed to register complex type: %w", err)
	}
	f.dirty = true
	f.logger.Debug("Registered complex type", "type", meta.TypeName)
	return nil
}

// RegisterEnum declares an enum type backed by the integer Go type of sample.
func (f *Formatter) RegisterEnum(sample interface{}, name string, members []EnumMember, flags bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.registry.RegisterEnum(sample, name, members, flags); err != nil {
		return fmt.Errorf("failed to register enum: %w", err)
	}
	return nil
}

// LoadModel replaces the model with the YAML schema read from r. Go structs
// can then be mapped onto its types with Bind. It must be called before any
// type is registered.
func (f *Formatter) LoadModel(r io.Reader) error {
	model, err := edm.LoadYAML(r)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.model.StructuredTypes()) > 0 || f.dirty {
		return fmt.Errorf("model must be loaded before types are registered")
	}
	f.model = model
	f.namespace = model.Namespace()
	f.registry = metadata.NewRegistry(model)
	f.parser = nil
	f.logger.Info("Loaded model", "namespace", model.Namespace(), "types", len(model.StructuredTypes()))
	return nil
}

// Bind maps a Go struct onto a structured type declared by a loaded model.
func (f *Formatter) Bind(typeName string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.registry.Bind(typeName, value); err != nil {
		return fmt.Errorf("failed to bind %s: %w", typeName, err)
	}
	f.dirty = true
	return nil
}

// RegisterDeserializer overrides the deserializer used for typeName.
func (f *Formatter) RegisterDeserializer(typeName string, d Deserializer) {
	f.provider.Register(typeName, d)
}

// Model builds pending registrations and returns the model.
func (f *Formatter) Model() (*edm.Model, error) {
	if err := f.build(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.model, nil
}

func (f *Formatter) build() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirty {
		if err := f.registry.Build(); err != nil {
			return fmt.Errorf("failed to build model: %w", err)
		}
		f.dirty = false
		f.parser = nil
	}
	if f.parser == nil {
		f.parser = routing.NewParser(f.model)
	}
	return nil
}

// Read reads the payload in body for the resource addressed by req. A single
// resource yields one materialized object: *StructObject for registered Go
// structs, *EntityObject or *ComplexObject for untyped reads and *Delta for
// deltas. A {"value": [...]} payload at a path addressing a collection, or
// any payload read with ReadOptions.Collection, yields a []interface{}.
func (f *Formatter) Read(ctx context.Context, body io.Reader, req Request, opts ReadOptions) (interface{}, error) {
	if err := f.build(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	model, registry, parser := f.model, f.registry, f.parser
	logger, obs, serviceRoot := f.logger, f.observability, f.serviceRoot
	f.mu.RUnlock()
	if req.ServiceRoot != "" {
		serviceRoot = req.ServiceRoot
	}

	path, err := parser.Parse(req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	target := path.TargetType()
	if target == nil {
		return nil, fmt.Errorf("%w: path %s does not address an entity or complex value", ErrInvalidArgument, req.Path)
	}

	dctx := &deserializer.Context{
		Model:       model,
		Path:        path,
		ServiceRoot: serviceRoot,
		PathParser:  parser,
		Mapper:      registry,
		Provider:    f.provider,
		Delta:       opts.Delta,
		Untyped:     opts.Untyped,
		MaxDepth:    f.maxDepth,
		Logger:      logger,
	}

	start := time.Now()
	ctx, span := obs.Tracer().StartRead(ctx, target.FullName(), path.String(), opts.Delta, opts.Untyped)
	defer span.End()
	var timing *observability.ServerTimingMetric
	if obs.ServerTimingEnabled() {
		timing = observability.StartServerTimingWithDesc(ctx, "odata-read", "Payload read")
	}

	reader := wire.NewReader(ctx, body, model, f.maxJSONDepth)
	ref := edm.NewTypeReference(target, false)
	var value interface{}
	switch {
	case opts.Collection:
		value, err = (&deserializer.ResourceSetDeserializer{}).ReadTopLevel(reader, edm.CollectionOf(ref), dctx)
	case path.IsCollection():
		value, err = deserializer.ReadPayload(reader, ref, dctx)
	default:
		value, err = (&deserializer.ResourceDeserializer{}).ReadTopLevel(reader, ref, dctx)
	}

	timing.Stop()
	observability.RecordError(span, err)
	obs.Metrics().RecordRead(ctx, target.FullName(), opts.Delta, time.Since(start), err)
	if err != nil {
		logger.Error("Failed to read payload", "path", req.Path, "type", target.FullName(), "error", err)
		return nil, err
	}
	return value, nil
}

// ReadDelta reads a partial update of the single resource addressed by req.
func (f *Formatter) ReadDelta(ctx context.Context, body io.Reader, req Request) (*Delta, error) {
	value, err := f.Read(ctx, body, req, ReadOptions{Delta: true})
	if err != nil {
		return nil, err
	}
	delta, ok := value.(*instance.Delta)
	if !ok {
		return nil, fmt.Errorf("%w: expected a single resource, got %T", ErrInvalidArgument, value)
	}
	return delta, nil
}

// ReadEntity reads the single resource addressed by req into a new *T. T
// must be the registered Go type of the payload's type.
func ReadEntity[T any](ctx context.Context, f *Formatter, body io.Reader, req Request) (*T, error) {
	value, err := f.Read(ctx, body, req, ReadOptions{})
	if err != nil {
		return nil, err
	}
	return structValue[T](value)
}

// ReadCollection reads the resource set addressed by req.
func ReadCollection[T any](ctx context.Context, f *Formatter, body io.Reader, req Request) ([]*T, error) {
	value, err := f.Read(ctx, body, req, ReadOptions{Collection: true})
	if err != nil {
		return nil, err
	}
	values, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected a resource set, got %T", ErrInvalidArgument, value)
	}
	out := make([]*T, 0, len(values))
	for i, v := range values {
		item, err := structValue[T](v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func structValue[T any](value interface{}) (*T, error) {
	obj, ok := value.(*instance.StructObject)
	if !ok {
		return nil, fmt.Errorf("%w: expected a Go struct value, got %T", ErrInvalidArgument, value)
	}
	out, ok := obj.Value().(*T)
	if !ok {
		return nil, fmt.Errorf("%w: payload type %s maps to %T, not %T", ErrInvalidArgument, obj.EdmType().FullName(), obj.Value(), (*T)(nil))
	}
	return out, nil
}

// ParseQueryOptions parses the system query options of rawQuery for the
// entity set named entitySet.
func (f *Formatter) ParseQueryOptions(entitySet, rawQuery string) (*QueryOptions, error) {
	meta, err := f.entitySetMetadata(entitySet)
	if err != nil {
		return nil, err
	}
	return query.ParseQueryOptions(query.ParseRawQuery(rawQuery), meta, f.maxExpandDepth)
}

func (f *Formatter) entitySetMetadata(entitySet string) (*metadata.TypeMetadata, error) {
	if err := f.build(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	set, ok := f.model.FindEntitySet(entitySet)
	if !ok {
		return nil, fmt.Errorf("%w: entity set %s not found", ErrInvalidArgument, entitySet)
	}
	meta, ok := f.registry.ResolveClrMapping(set.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnmappedResourceType, set.Type.FullName())
	}
	return meta, nil
}
