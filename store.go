package odata

import (
	"context"
	"fmt"

	"github.com/nlstn/go-odata-formatter/internal/observability"
	"github.com/nlstn/go-odata-formatter/internal/store"
)

type (
	// Store persists entities through GORM.
	Store = store.Store
	// StoreConfig selects the database of a Store.
	StoreConfig = store.Config
)

// Store failures.
var (
	ErrNotFound          = store.ErrNotFound
	ErrInvalidKey        = store.ErrInvalidKey
	ErrKeyImmutable      = store.ErrKeyImmutable
	ErrUnsupportedChange = store.ErrUnsupportedChange
)

// OpenStore opens a sqlite or postgres database.
func OpenStore(cfg StoreConfig) (*Store, error) {
	return store.Open(cfg)
}

// Patch applies delta to the stored entity addressed by req, which must end
// in a key segment such as "Products(5)", and returns the refreshed Go value.
func (f *Formatter) Patch(ctx context.Context, s *Store, req Request, delta *Delta, scopes ...QueryScope) (interface{}, error) {
	if s == nil || delta == nil {
		return nil, fmt.Errorf("%w: store and delta are required", ErrInvalidArgument)
	}
	if err := f.build(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	parser, registry, obs := f.parser, f.registry, f.observability
	f.mu.RUnlock()

	path, err := parser.Parse(req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	keyValues, ok := path.LastKey()
	if !ok || path.IsCollection() {
		return nil, fmt.Errorf("%w: path %s does not address a single entity", ErrInvalidArgument, req.Path)
	}
	meta, ok := registry.ResolveClrMapping(path.TargetType())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnmappedResourceType, path.TargetType().FullName())
	}

	keys := make(map[string]interface{}, len(keyValues))
	for _, kv := range keyValues {
		keys[kv.Name] = kv.Value
	}

	ctx, span := obs.Tracer().StartPatch(ctx, meta.TableName)
	defer span.End()
	result, err := s.Patch(ctx, meta, keys, delta, scopes...)
	observability.RecordError(span, err)
	return result, err
}
