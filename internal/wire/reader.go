package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

// DefaultMaxNesting bounds the JSON nesting depth accepted by a Reader.
const DefaultMaxNesting = 1000

var (
	// ErrNestingTooDeep is returned when the payload nests deeper than the reader allows.
	ErrNestingTooDeep = errors.New("wire: payload nesting too deep")
	// ErrMalformedPayload is returned for invalid JSON or an unexpected payload shape.
	ErrMalformedPayload = errors.New("wire: malformed payload")
)

// Reader reads one OData JSON payload into wrappers. Property classification
// consults the model so declared complex and navigation properties become
// nested resource infos even when their value is null or an empty array.
type Reader struct {
	ctx        context.Context
	dec        *json.Decoder
	model      *edm.Model
	maxNesting int
	consumed   bool
}

// NewReader creates a reader over r. maxNesting <= 0 selects DefaultMaxNesting.
// model may be nil, in which case classification is by shape only.
func NewReader(ctx context.Context, r io.Reader, model *edm.Model, maxNesting int) *Reader {
	if maxNesting <= 0 {
		maxNesting = DefaultMaxNesting
	}
	dec := json.NewDecoder(&contextReader{ctx: ctx, r: r})
	dec.UseNumber()
	return &Reader{ctx: ctx, dec: dec, model: model, maxNesting: maxNesting}
}

// contextReader stops the underlying read once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Read reads the single top-level item. expected is the structured type the
// payload is read as; it may be nil for untyped reads. A top-level object
// with a "value" array that expected does not declare is read as a resource
// set, as is a bare JSON array.
func (r *Reader) Read(expected *edm.StructuredType) (Item, error) {
	if r.consumed {
		return nil, fmt.Errorf("%w: payload already read", ErrMalformedPayload)
	}
	r.consumed = true
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}

	root, err := r.parse()
	if err != nil {
		return nil, err
	}

	switch v := root.(type) {
	case *object:
		if values, ok := v.get("value"); ok && (expected == nil || expected.FindProperty("value") == nil) {
			if arr, isArray := values.([]interface{}); isArray {
				set, err := r.readSet(arr, expected, "")
				if err != nil {
					return nil, err
				}
				if ctxValue, ok := v.get("@odata.context"); ok {
					if s, ok := ctxValue.(string); ok && strings.Contains(s, "$delta") {
						set.IsDelta = true
					}
				}
				return set, nil
			}
		}
		return r.readResource(v, expected)
	case []interface{}:
		return r.readSet(v, expected, "")
	default:
		return nil, fmt.Errorf("%w: top-level value must be an object or array", ErrMalformedPayload)
	}
}

// object is a JSON object that keeps its keys in wire order.
type object struct {
	keys   []string
	values []interface{}
}

func (o *object) get(key string) (interface{}, bool) {
	for i := len(o.keys) - 1; i >= 0; i-- {
		if o.keys[i] == key {
			return o.values[i], true
		}
	}
	return nil, false
}

type frame struct {
	obj     *object
	arr     []interface{}
	isArray bool
	key     string
	wantKey bool
}

// parse reads one JSON value with an explicit stack, so deep payloads are
// bounded by maxNesting rather than the goroutine stack.
func (r *Reader) parse() (interface{}, error) {
	var stack []*frame
	for {
		tok, err := r.dec.Token()
		if err != nil {
			if ctxErr := r.ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: unexpected end of payload", ErrMalformedPayload)
			}
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}

		var value interface{}
		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{', '[':
				if len(stack) >= r.maxNesting {
					return nil, fmt.Errorf("%w: limit is %d", ErrNestingTooDeep, r.maxNesting)
				}
				f := &frame{isArray: v == '[', wantKey: v == '{'}
				if f.isArray {
					f.arr = []interface{}{}
				} else {
					f.obj = &object{}
				}
				stack = append(stack, f)
				continue
			default:
				f := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if f.isArray {
					value = f.arr
				} else {
					value = f.obj
				}
			}
		case string:
			if n := len(stack); n > 0 && !stack[n-1].isArray && stack[n-1].wantKey {
				stack[n-1].key = v
				stack[n-1].wantKey = false
				continue
			}
			value = v
		case float64:
			value = json.Number(strconv.FormatFloat(v, 'g', -1, 64))
		default:
			value = v
		}

		if len(stack) == 0 {
			return value, nil
		}
		top := stack[len(stack)-1]
		if top.isArray {
			top.arr = append(top.arr, value)
			continue
		}
		top.obj.keys = append(top.obj.keys, top.key)
		top.obj.values = append(top.obj.values, value)
		top.wantKey = true
	}
}

type propertyAnnotations struct {
	typeName string
	bind     interface{}
	delta    []interface{}
	hasBind  bool
	hasDelta bool
}

func (r *Reader) readResource(obj *object, expected *edm.StructuredType) (*ResourceWrapper, error) {
	res := &ResourceWrapper{}
	annotations := map[string]*propertyAnnotations{}
	annotationFor := func(name string) *propertyAnnotations {
		a, ok := annotations[name]
		if !ok {
			a = &propertyAnnotations{}
			annotations[name] = a
		}
		return a
	}

	for i, key := range obj.keys {
		value := obj.values[i]
		at := strings.Index(key, "@")
		switch {
		case at == 0:
			if err := applyInstanceAnnotation(res, key, value); err != nil {
				return nil, err
			}
		case at > 0:
			name, term := key[:at], key[at+1:]
			switch term {
			case "odata.type", "type":
				s, _ := value.(string)
				annotationFor(name).typeName = strings.TrimPrefix(s, "#")
			case "odata.bind", "bind":
				a := annotationFor(name)
				a.bind, a.hasBind = value, true
			case "delta", "odata.delta":
				arr, ok := value.([]interface{})
				if !ok {
					return nil, fmt.Errorf("%w: %s must be an array", ErrMalformedPayload, key)
				}
				a := annotationFor(name)
				a.delta, a.hasDelta = arr, true
			}
		}
	}

	// Classify against the actual type so derived-type properties resolve.
	actual := expected
	if res.TypeName != "" && r.model != nil {
		if st, ok := r.model.FindStructuredType(res.TypeName); ok {
			actual = st
		}
	}

	for i, key := range obj.keys {
		if strings.Contains(key, "@") {
			continue
		}
		value := obj.values[i]
		a := annotations[key]
		var typeName string
		if a != nil {
			typeName = a.typeName
		}

		var prop *edm.Property
		if actual != nil {
			prop = actual.FindProperty(key)
		}

		if prop != nil {
			if !isStructuredProperty(prop) {
				res.Properties = append(res.Properties, Property{Name: key, Value: scalar(value), TypeName: typeName})
				continue
			}
			info, err := r.readNested(key, value, prop.Type.ElementType().StructuredDefinition(), prop.IsCollection(), typeName)
			if err != nil {
				return nil, err
			}
			res.NestedResourceInfos = append(res.NestedResourceInfos, info)
			continue
		}

		if isNestedShape(value, typeName, r.model) {
			info, err := r.readNested(key, value, r.structuredByName(typeName), isCollectionName(typeName), typeName)
			if err != nil {
				return nil, err
			}
			res.NestedResourceInfos = append(res.NestedResourceInfos, info)
			continue
		}
		res.Properties = append(res.Properties, Property{Name: key, Value: scalar(value), TypeName: typeName})
	}

	for i, key := range obj.keys {
		at := strings.Index(key, "@")
		if at <= 0 {
			continue
		}
		name := key[:at]
		a := annotations[name]
		if a == nil {
			continue
		}
		term := key[at+1:]
		switch {
		case a.hasBind && (term == "odata.bind" || term == "bind"):
			info, err := readBind(name, obj.values[i])
			if err != nil {
				return nil, err
			}
			res.NestedResourceInfos = append(res.NestedResourceInfos, info)
		case a.hasDelta && (term == "delta" || term == "odata.delta"):
			var target *edm.StructuredType
			if actual != nil {
				if prop := actual.FindProperty(name); prop != nil {
					target = prop.Type.ElementType().StructuredDefinition()
				}
			}
			set, err := r.readSet(a.delta, target, "")
			if err != nil {
				return nil, err
			}
			set.IsDelta = true
			res.NestedResourceInfos = append(res.NestedResourceInfos, &NestedResourceInfoWrapper{Name: name, ResourceSet: set})
		}
	}

	return res, nil
}

func applyInstanceAnnotation(res *ResourceWrapper, key string, value interface{}) error {
	switch key {
	case "@odata.type", "@type":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a string", ErrMalformedPayload, key)
		}
		res.TypeName = strings.TrimPrefix(s, "#")
	case "@odata.id", "@id":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a string", ErrMalformedPayload, key)
		}
		res.ID = s
	case "@odata.etag", "@etag":
		if s, ok := value.(string); ok {
			res.ETag = s
		}
	case "@removed", "@odata.removed":
		removed := &Removed{}
		if obj, ok := value.(*object); ok {
			if reason, ok := obj.get("reason"); ok {
				removed.Reason, _ = reason.(string)
			}
		}
		res.Removed = removed
	}
	return nil
}

func (r *Reader) readNested(name string, value interface{}, target *edm.StructuredType, collection bool, typeName string) (*NestedResourceInfoWrapper, error) {
	info := &NestedResourceInfoWrapper{Name: name}
	switch v := value.(type) {
	case nil:
		info.IsNull = true
	case *object:
		res, err := r.readResource(v, target)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		if res.TypeName == "" && typeName != "" && !isCollectionName(typeName) {
			res.TypeName = typeName
		}
		info.Resource = res
	case []interface{}:
		setType := ""
		if collection || isCollectionName(typeName) {
			setType = elementTypeName(typeName)
		}
		set, err := r.readSet(v, target, setType)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		info.ResourceSet = set
	default:
		return nil, fmt.Errorf("%w: property %s must be an object, an array or null", ErrMalformedPayload, name)
	}
	return info, nil
}

func (r *Reader) readSet(values []interface{}, target *edm.StructuredType, typeName string) (*ResourceSetWrapper, error) {
	set := &ResourceSetWrapper{TypeName: typeName, Resources: make([]*ResourceWrapper, 0, len(values))}
	for i, value := range values {
		obj, ok := value.(*object)
		if !ok {
			return nil, fmt.Errorf("%w: element %d of a resource set must be an object", ErrMalformedPayload, i)
		}
		res, err := r.readResource(obj, target)
		if err != nil {
			return nil, err
		}
		if res.Removed != nil {
			set.IsDelta = true
		}
		set.Resources = append(set.Resources, res)
	}
	return set, nil
}

func readBind(name string, value interface{}) (*NestedResourceInfoWrapper, error) {
	info := &NestedResourceInfoWrapper{Name: name}
	switch v := value.(type) {
	case string:
		info.Links = []*EntityReferenceLinkWrapper{{URL: v}}
	case []interface{}:
		info.IsCollection = true
		for i, elem := range v {
			url, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s@odata.bind element %d must be a string", ErrMalformedPayload, name, i)
			}
			info.Links = append(info.Links, &EntityReferenceLinkWrapper{URL: url})
		}
	case nil:
		info.IsNull = true
	default:
		return nil, fmt.Errorf("%w: %s@odata.bind must be a string or an array", ErrMalformedPayload, name)
	}
	return info, nil
}

func (r *Reader) structuredByName(typeName string) *edm.StructuredType {
	if r.model == nil || typeName == "" {
		return nil
	}
	st, _ := r.model.FindStructuredType(elementTypeName(typeName))
	return st
}

func isStructuredProperty(prop *edm.Property) bool {
	return prop.IsNavigation() || prop.Type.ElementType().IsStructured()
}

// isNestedShape decides whether an undeclared property is a nested resource
// (info) or a primitive value.
func isNestedShape(value interface{}, typeName string, model *edm.Model) bool {
	switch v := value.(type) {
	case *object:
		return true
	case []interface{}:
		for _, elem := range v {
			if _, ok := elem.(*object); ok {
				return true
			}
		}
		if typeName != "" && model != nil {
			_, ok := model.FindStructuredType(elementTypeName(typeName))
			return ok
		}
	}
	return false
}

// scalar converts nested objects inside primitive values to plain maps.
func scalar(value interface{}) interface{} {
	switch v := value.(type) {
	case *object:
		out := make(map[string]interface{}, len(v.keys))
		for i, key := range v.keys {
			out[key] = scalar(v.values[i])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = scalar(elem)
		}
		return out
	default:
		return value
	}
}

func isCollectionName(typeName string) bool {
	return strings.HasPrefix(strings.TrimPrefix(typeName, "#"), "Collection(")
}

func elementTypeName(typeName string) string {
	name := strings.TrimPrefix(typeName, "#")
	if strings.HasPrefix(name, "Collection(") && strings.HasSuffix(name, ")") {
		return name[len("Collection(") : len(name)-1]
	}
	return name
}
