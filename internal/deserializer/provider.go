package deserializer

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

// Deserializer materializes one wire item as a value of typ. item is a
// *wire.ResourceWrapper, a *wire.ResourceSetWrapper or a raw property value.
type Deserializer interface {
	ReadInline(item interface{}, typ edm.TypeReference, dctx *Context) (interface{}, error)
}

// Provider returns the deserializer responsible for a type.
type Provider interface {
	DeserializerFor(typ edm.TypeReference) (Deserializer, bool)
}

// DefaultProvider dispatches by per-type overrides first and then by kind.
// It is safe for concurrent use.
type DefaultProvider struct {
	mu          sync.RWMutex
	overrides   map[string]Deserializer
	cache       map[uint64]Deserializer
	resource    Deserializer
	resourceSet Deserializer
	primitive   Deserializer
	enum        Deserializer
	collection  Deserializer
}

// NewDefaultProvider creates a provider with the built-in deserializers.
func NewDefaultProvider() *DefaultProvider {
	return &DefaultProvider{
		overrides:   make(map[string]Deserializer),
		cache:       make(map[uint64]Deserializer),
		resource:    &ResourceDeserializer{},
		resourceSet: &ResourceSetDeserializer{},
		primitive:   &PrimitiveDeserializer{},
		enum:        &EnumDeserializer{},
		collection:  &CollectionDeserializer{},
	}
}

// Register installs d for the type with the given full name, e.g.
// "Demo.Thing" or "Collection(Demo.Thing)".
func (p *DefaultProvider) Register(typeName string, d Deserializer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[typeName] = d
	p.cache = make(map[uint64]Deserializer)
}

func cacheKey(typ edm.TypeReference) uint64 {
	return xxhash.Sum64String(typ.FullName())
}

func (p *DefaultProvider) DeserializerFor(typ edm.TypeReference) (Deserializer, bool) {
	if !typ.IsValid() {
		return nil, false
	}
	key := cacheKey(typ)

	p.mu.RLock()
	d, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return d, true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	d = p.resolveLocked(typ)
	if d == nil {
		return nil, false
	}
	p.cache[key] = d
	return d, true
}

func (p *DefaultProvider) resolveLocked(typ edm.TypeReference) Deserializer {
	if d, ok := p.overrides[typ.FullName()]; ok {
		return d
	}
	switch typ.Kind() {
	case edm.KindEntity, edm.KindComplex:
		return p.resource
	case edm.KindPrimitive:
		return p.primitive
	case edm.KindEnum:
		return p.enum
	case edm.KindCollection:
		if typ.ElementType().IsStructured() {
			return p.resourceSet
		}
		return p.collection
	}
	return nil
}

func lookup(dctx *Context, typ edm.TypeReference) (Deserializer, error) {
	if dctx.Provider == nil {
		return nil, newError(ErrDeserializerNotFound, typ.FullName(), "", "context has no provider")
	}
	d, ok := dctx.Provider.DeserializerFor(typ)
	if !ok {
		return nil, newError(ErrDeserializerNotFound, typ.FullName(), "", "")
	}
	return d, nil
}
