package query

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-formatter/internal/edm"
	"github.com/nlstn/go-odata-formatter/internal/metadata"
)

// DefaultMaxExpandDepth bounds nested $expand when no limit is configured.
const DefaultMaxExpandDepth = 10

// ErrInvalidQueryOption is returned for malformed or unknown system query options.
var ErrInvalidQueryOption = errors.New("invalid query option")

// QueryOptions holds the parsed system query options of a request.
type QueryOptions struct {
	Top     *int
	Skip    *int
	Count   bool
	Select  []string
	OrderBy []OrderByItem
	Expand  []ExpandOption
	// Filter is kept verbatim; expressions are not evaluated.
	Filter string
}

// OrderByItem is one $orderby entry.
type OrderByItem struct {
	Property   string
	Descending bool
}

// ExpandOption is one $expand entry with its nested options.
type ExpandOption struct {
	NavigationProperty string
	Select             []string
	Expand             []ExpandOption
	Top                *int
	Skip               *int
}

// ParseRawQuery splits a raw query string into values without turning '+'
// into a space, so $filter literals survive unchanged.
func ParseRawQuery(rawQuery string) url.Values {
	values := url.Values{}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if k, err := url.PathUnescape(key); err == nil {
			key = k
		}
		if v, err := url.PathUnescape(value); err == nil {
			value = v
		}
		values.Add(key, value)
	}
	return values
}

// ParseQueryOptions parses the system query options in values against the
// entity described by meta. Nested $expand deeper than maxExpandDepth is
// rejected; maxExpandDepth <= 0 applies DefaultMaxExpandDepth.
func ParseQueryOptions(values url.Values, meta *metadata.TypeMetadata, maxExpandDepth int) (*QueryOptions, error) {
	if meta == nil || meta.EdmType == nil {
		return nil, fmt.Errorf("%w: entity metadata is required", ErrInvalidQueryOption)
	}
	if maxExpandDepth <= 0 {
		maxExpandDepth = DefaultMaxExpandDepth
	}

	for key := range values {
		if strings.HasPrefix(key, "$") && !isSupportedOption(key) {
			return nil, fmt.Errorf("%w: unsupported option %s", ErrInvalidQueryOption, key)
		}
	}

	opts := &QueryOptions{}
	var err error
	if opts.Top, err = parseNonNegative(values, "$top"); err != nil {
		return nil, err
	}
	if opts.Skip, err = parseNonNegative(values, "$skip"); err != nil {
		return nil, err
	}
	if raw := values.Get("$count"); raw != "" {
		switch raw {
		case "true":
			opts.Count = true
		case "false":
		default:
			return nil, fmt.Errorf("%w: $count must be true or false, got %q", ErrInvalidQueryOption, raw)
		}
	}
	opts.Filter = strings.TrimSpace(values.Get("$filter"))

	st := meta.EdmType
	if opts.Select, err = parseSelect(values.Get("$select"), st); err != nil {
		return nil, err
	}
	if opts.OrderBy, err = parseOrderBy(values.Get("$orderby"), st); err != nil {
		return nil, err
	}
	if opts.Expand, err = parseExpand(values.Get("$expand"), st, 1, maxExpandDepth); err != nil {
		return nil, err
	}
	return opts, nil
}

func isSupportedOption(key string) bool {
	switch key {
	case "$top", "$skip", "$count", "$select", "$orderby", "$expand", "$filter":
		return true
	}
	return false
}

func parseNonNegative(values url.Values, key string) (*int, error) {
	raw := values.Get(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer, got %q", ErrInvalidQueryOption, key, raw)
	}
	return &n, nil
}

func parseSelect(raw string, st *edm.StructuredType) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []string
	for _, item := range splitTopLevel(raw, ',') {
		name := strings.TrimSpace(item)
		if name == "*" {
			out = append(out, name)
			continue
		}
		prop := st.FindProperty(name)
		if prop == nil && !st.IsOpen() {
			return nil, fmt.Errorf("%w: $select property %s not found on %s", ErrInvalidQueryOption, name, st.FullName())
		}
		out = append(out, name)
	}
	return out, nil
}

func parseOrderBy(raw string, st *edm.StructuredType) ([]OrderByItem, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []OrderByItem
	for _, item := range splitTopLevel(raw, ',') {
		fields := strings.Fields(item)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, fmt.Errorf("%w: malformed $orderby item %q", ErrInvalidQueryOption, item)
		}
		entry := OrderByItem{Property: fields[0]}
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				entry.Descending = true
			default:
				return nil, fmt.Errorf("%w: $orderby direction must be asc or desc, got %q", ErrInvalidQueryOption, fields[1])
			}
		}
		prop := st.FindProperty(entry.Property)
		if prop == nil || prop.IsNavigation() || prop.IsCollection() {
			return nil, fmt.Errorf("%w: cannot order %s by %s", ErrInvalidQueryOption, st.FullName(), entry.Property)
		}
		out = append(out, entry)
	}
	return out, nil
}

func parseExpand(raw string, st *edm.StructuredType, depth, maxDepth int) ([]ExpandOption, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: $expand nesting exceeds maximum depth %d", ErrInvalidQueryOption, maxDepth)
	}

	var out []ExpandOption
	for _, item := range splitTopLevel(raw, ',') {
		item = strings.TrimSpace(item)
		name, nested := item, ""
		if open := strings.IndexByte(item, '('); open >= 0 {
			if !strings.HasSuffix(item, ")") {
				return nil, fmt.Errorf("%w: unbalanced parentheses in $expand item %q", ErrInvalidQueryOption, item)
			}
			name, nested = strings.TrimSpace(item[:open]), item[open+1:len(item)-1]
		}

		prop := st.FindProperty(name)
		if !prop.IsNavigation() {
			return nil, fmt.Errorf("%w: %s is not a navigation property of %s", ErrInvalidQueryOption, name, st.FullName())
		}
		target := prop.Type.ElementType().StructuredDefinition()

		option := ExpandOption{NavigationProperty: name}
		for _, part := range splitTopLevel(nested, ';') {
			key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				if strings.TrimSpace(part) == "" {
					continue
				}
				return nil, fmt.Errorf("%w: malformed nested option %q", ErrInvalidQueryOption, part)
			}
			var err error
			switch key {
			case "$select":
				option.Select, err = parseSelect(value, target)
			case "$expand":
				option.Expand, err = parseExpand(value, target, depth+1, maxDepth)
			case "$top":
				option.Top, err = parseNonNegative(url.Values{key: {value}}, key)
			case "$skip":
				option.Skip, err = parseNonNegative(url.Values{key: {value}}, key)
			default:
				err = fmt.Errorf("%w: unsupported nested option %s", ErrInvalidQueryOption, key)
			}
			if err != nil {
				return nil, err
			}
		}
		out = append(out, option)
	}
	return out, nil
}

// splitTopLevel splits s at sep outside parentheses and single quotes.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
