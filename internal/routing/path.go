// Package routing parses the resource path portion of OData URLs: entity
// sets, singletons, key predicates, navigation properties, type casts and
// $ref. Query options are handled by the query package.
package routing

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

var (
	// ErrInvalidPath is returned for paths that do not address a resource in the model.
	ErrInvalidPath = errors.New("routing: invalid path")
	// ErrInvalidKey is returned for malformed or mistyped key predicates.
	ErrInvalidKey = errors.New("routing: invalid key")
)

// SegmentKind identifies the role of a path segment.
type SegmentKind int

const (
	SegmentEntitySet SegmentKind = iota
	SegmentSingleton
	SegmentKey
	SegmentNavigation
	SegmentProperty
	SegmentCast
	SegmentRef
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentEntitySet:
		return "entitySet"
	case SegmentSingleton:
		return "singleton"
	case SegmentKey:
		return "key"
	case SegmentNavigation:
		return "navigation"
	case SegmentProperty:
		return "property"
	case SegmentCast:
		return "cast"
	case SegmentRef:
		return "$ref"
	default:
		return "unknown"
	}
}

// Segment is one parsed path segment.
type Segment struct {
	Kind SegmentKind
	Name string
	Keys []KeyValue
	// Type is the structured type addressed after this segment.
	Type *edm.StructuredType
	// Collection reports whether the segment addresses a collection.
	Collection bool
	// Source is the navigation source addressed after this segment, if known.
	Source edm.NavigationSource
}

// Path is a parsed resource path.
type Path struct {
	Segments []Segment
	raw      string
}

func (p *Path) String() string { return p.raw }

// Last returns the final segment.
func (p *Path) Last() (Segment, bool) {
	if p == nil || len(p.Segments) == 0 {
		return Segment{}, false
	}
	return p.Segments[len(p.Segments)-1], true
}

// TargetType returns the structured type the path addresses.
func (p *Path) TargetType() *edm.StructuredType {
	last, ok := p.Last()
	if !ok {
		return nil
	}
	return last.Type
}

// IsCollection reports whether the path addresses a collection.
func (p *Path) IsCollection() bool {
	last, ok := p.Last()
	return ok && last.Collection
}

// NavigationSource returns the entity set or singleton of the last segment
// that addresses one.
func (p *Path) NavigationSource() (edm.NavigationSource, bool) {
	if p == nil {
		return nil, false
	}
	for i := len(p.Segments) - 1; i >= 0; i-- {
		seg := p.Segments[i]
		if seg.Kind == SegmentProperty {
			return nil, false
		}
		if seg.Source != nil {
			return seg.Source, true
		}
	}
	return nil, false
}

// LastKey returns the values of the trailing key segment.
func (p *Path) LastKey() ([]KeyValue, bool) {
	if p == nil {
		return nil, false
	}
	for i := len(p.Segments) - 1; i >= 0; i-- {
		switch p.Segments[i].Kind {
		case SegmentKey:
			return p.Segments[i].Keys, true
		case SegmentCast, SegmentRef:
			continue
		}
		return nil, false
	}
	return nil, false
}

// Parser parses paths against a model.
type Parser struct {
	model *edm.Model
}

// NewParser creates a parser bound to model.
func NewParser(model *edm.Model) *Parser {
	return &Parser{model: model}
}

// Parse parses a service-relative resource path such as
// "Things(5)/Parts" or "People(1)/Demo.Employee".
func (p *Parser) Parse(path string) (*Path, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}

	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	result := &Path{raw: path}
	name, key, hasKey := splitNameAndKey(parts[0])
	source, ok := p.model.FindNavigationSource(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an entity set or singleton", ErrInvalidPath, name)
	}
	if source.IsSingleton() {
		if hasKey {
			return nil, fmt.Errorf("%w: singleton %s cannot have a key", ErrInvalidPath, name)
		}
		result.Segments = append(result.Segments, Segment{Kind: SegmentSingleton, Name: name, Type: source.EntityType(), Source: source})
	} else {
		result.Segments = append(result.Segments, Segment{Kind: SegmentEntitySet, Name: name, Type: source.EntityType(), Collection: true, Source: source})
		if hasKey {
			if err := p.appendKey(result, key); err != nil {
				return nil, err
			}
		}
	}

	for _, part := range parts[1:] {
		if err := p.appendSegment(result, part); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (p *Parser) appendKey(result *Path, key string) error {
	last, _ := result.Last()
	if !last.Collection {
		return fmt.Errorf("%w: key on single-valued segment %s", ErrInvalidPath, last.Name)
	}
	keys, err := parseKeyPredicate(key, last.Type)
	if err != nil {
		return err
	}
	result.Segments = append(result.Segments, Segment{Kind: SegmentKey, Keys: keys, Type: last.Type, Source: last.Source})
	return nil
}

func (p *Parser) appendSegment(result *Path, part string) error {
	last, _ := result.Last()
	if last.Kind == SegmentRef {
		return fmt.Errorf("%w: $ref must be the last segment", ErrInvalidPath)
	}
	if part == "$ref" {
		if last.Kind == SegmentProperty {
			return fmt.Errorf("%w: $ref requires an entity", ErrInvalidPath)
		}
		result.Segments = append(result.Segments, Segment{Kind: SegmentRef, Name: part, Type: last.Type, Collection: last.Collection, Source: last.Source})
		return nil
	}
	if last.Type == nil {
		return fmt.Errorf("%w: segment %s follows a non-structured segment", ErrInvalidPath, part)
	}

	name, key, hasKey := splitNameAndKey(part)

	if strings.Contains(name, ".") {
		cast, ok := p.model.FindStructuredType(name)
		if !ok || !cast.IsDerivedFrom(last.Type) {
			return fmt.Errorf("%w: %s is not derived from %s", ErrInvalidPath, name, last.Type.FullName())
		}
		result.Segments = append(result.Segments, Segment{Kind: SegmentCast, Name: name, Type: cast, Collection: last.Collection, Source: last.Source})
	} else {
		if last.Collection {
			return fmt.Errorf("%w: segment %s requires a key on %s", ErrInvalidPath, name, last.Name)
		}
		prop := last.Type.FindProperty(name)
		if prop == nil {
			return fmt.Errorf("%w: %s has no property %s", ErrInvalidPath, last.Type.FullName(), name)
		}
		target := prop.Type.ElementType().StructuredDefinition()
		seg := Segment{Name: name, Type: target, Collection: prop.IsCollection()}
		if prop.IsNavigation() {
			seg.Kind = SegmentNavigation
			if set, ok := p.model.EntitySetFor(target); ok {
				seg.Source = set
			}
		} else {
			seg.Kind = SegmentProperty
		}
		result.Segments = append(result.Segments, seg)
	}

	if hasKey {
		return p.appendKey(result, key)
	}
	return nil
}

// splitPath splits on slashes outside quoted key literals.
func splitPath(path string) ([]string, error) {
	var parts []string
	var cur strings.Builder
	inQuote := false
	depth := 0
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case c == '(' && !inQuote:
			depth++
		case c == ')' && !inQuote:
			depth--
		case c == '/' && !inQuote && depth == 0:
			if cur.Len() == 0 {
				return nil, fmt.Errorf("%w: empty segment in %s", ErrInvalidPath, path)
			}
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	if inQuote || depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced key predicate in %s", ErrInvalidPath, path)
	}
	if cur.Len() == 0 {
		return nil, fmt.Errorf("%w: empty segment in %s", ErrInvalidPath, path)
	}
	return append(parts, cur.String()), nil
}

// ResolveID turns an @odata.id or link URL into a path relative to
// serviceRoot. Relative ids are taken as relative to the service root.
func ResolveID(serviceRoot, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidPath)
	}
	if serviceRoot != "" && strings.HasPrefix(id, serviceRoot) {
		return strings.TrimPrefix(strings.TrimPrefix(id, serviceRoot), "/"), nil
	}

	u, err := url.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !u.IsAbs() {
		return strings.TrimPrefix(id, "/"), nil
	}

	root, err := url.Parse(serviceRoot)
	if err != nil || root.Host == "" {
		return "", fmt.Errorf("%w: absolute id %s without a service root", ErrInvalidPath, id)
	}
	if !strings.EqualFold(root.Host, u.Host) || !strings.HasPrefix(u.EscapedPath(), strings.TrimSuffix(root.EscapedPath(), "/")) {
		return "", fmt.Errorf("%w: id %s is outside the service root %s", ErrInvalidPath, id, serviceRoot)
	}
	return strings.TrimPrefix(strings.TrimPrefix(u.EscapedPath(), strings.TrimSuffix(root.EscapedPath(), "/")), "/"), nil
}

// ParseID parses an @odata.id or link URL into a path.
func (p *Parser) ParseID(serviceRoot, id string) (*Path, error) {
	rel, err := ResolveID(serviceRoot, id)
	if err != nil {
		return nil, err
	}
	return p.Parse(rel)
}
