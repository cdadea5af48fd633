package routing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

// KeyValue is one converted key property of a key segment.
type KeyValue struct {
	Name    string
	Literal string
	Value   interface{}
}

// splitNameAndKey parses a segment that may contain a key.
// Example: "Products(2)" returns ("Products", "2", true)
// Example: "Category" returns ("Category", "", false)
func splitNameAndKey(segment string) (string, string, bool) {
	if idx := strings.Index(segment, "("); idx != -1 {
		if strings.HasSuffix(segment, ")") {
			return segment[:idx], segment[idx+1 : len(segment)-1], true
		}
	}
	return segment, "", false
}

// splitKeyParts splits a key predicate on commas outside quoted literals.
func splitKeyParts(keyString string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(keyString); i++ {
		c := keyString[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			cur.WriteByte(c)
		case c == ',' && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(parts, cur.String())
}

// parseKeyPredicate converts the key string of an entity type's key segment.
// Example: "ProductID=1,LanguageKey='EN'" or "5"
func parseKeyPredicate(keyString string, t *edm.StructuredType) ([]KeyValue, error) {
	keyProps := t.Key()
	if len(keyProps) == 0 {
		return nil, fmt.Errorf("%w: type %s has no key", ErrInvalidKey, t.FullName())
	}
	if strings.TrimSpace(keyString) == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	parts := splitKeyParts(keyString)
	values := make([]KeyValue, 0, len(parts))

	if len(parts) == 1 && !isNamedKeyPart(parts[0], keyProps) {
		if len(keyProps) != 1 {
			return nil, fmt.Errorf("%w: %s has a composite key, use name=value pairs", ErrInvalidKey, t.FullName())
		}
		literal := strings.TrimSpace(parts[0])
		value, err := ConvertKeyLiteral(literal, keyProps[0].Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKey, keyProps[0].Name, err)
		}
		return append(values, KeyValue{Name: keyProps[0].Name, Literal: literal, Value: value}), nil
	}

	seen := make(map[string]bool, len(parts))
	for _, pair := range parts {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: invalid composite key format: %s", ErrInvalidKey, keyString)
		}
		name := strings.TrimSpace(kv[0])
		literal := strings.TrimSpace(kv[1])

		var prop *edm.Property
		for _, candidate := range keyProps {
			if candidate.Name == name {
				prop = candidate
				break
			}
		}
		if prop == nil {
			return nil, fmt.Errorf("%w: %s is not a key property of %s", ErrInvalidKey, name, t.FullName())
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate key property %s", ErrInvalidKey, name)
		}
		seen[name] = true

		value, err := ConvertKeyLiteral(literal, prop.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKey, name, err)
		}
		values = append(values, KeyValue{Name: name, Literal: literal, Value: value})
	}
	if len(values) != len(keyProps) {
		return nil, fmt.Errorf("%w: expected %d key properties, got %d", ErrInvalidKey, len(keyProps), len(values))
	}
	return values, nil
}

func isNamedKeyPart(part string, keyProps []*edm.Property) bool {
	kv := strings.SplitN(part, "=", 2)
	if len(kv) != 2 {
		return false
	}
	name := strings.TrimSpace(kv[0])
	for _, prop := range keyProps {
		if prop.Name == name {
			return true
		}
	}
	return false
}

// ConvertKeyLiteral converts a URL key literal to the Go value of typ.
// Enum literals are returned as member names.
func ConvertKeyLiteral(literal string, typ edm.TypeReference) (interface{}, error) {
	if enum, ok := typ.Definition.(*edm.EnumType); ok {
		name := unquote(strings.TrimPrefix(literal, enum.FullName()))
		if _, ok := enum.Member(name); !ok {
			return nil, fmt.Errorf("%q is not a member of %s", name, enum.FullName())
		}
		return name, nil
	}

	prim, ok := typ.Definition.(*edm.PrimitiveType)
	if !ok {
		return nil, fmt.Errorf("key type %s is not primitive", typ.FullName())
	}

	switch prim {
	case edm.String:
		if !isQuoted(literal) {
			return nil, fmt.Errorf("string key %s must be quoted", literal)
		}
		return unquote(literal), nil
	case edm.Int64:
		return strconv.ParseInt(strings.TrimSuffix(strings.TrimSuffix(literal, "L"), "l"), 10, 64)
	case edm.Int32:
		n, err := strconv.ParseInt(literal, 10, 32)
		return int32(n), err
	case edm.Int16:
		n, err := strconv.ParseInt(literal, 10, 16)
		return int16(n), err
	case edm.SByte:
		n, err := strconv.ParseInt(literal, 10, 8)
		return int8(n), err
	case edm.Byte:
		n, err := strconv.ParseUint(literal, 10, 8)
		return uint8(n), err
	case edm.Boolean:
		return strconv.ParseBool(literal)
	case edm.Double:
		return strconv.ParseFloat(strings.TrimRight(literal, "dD"), 64)
	case edm.Single:
		f, err := strconv.ParseFloat(strings.TrimRight(literal, "fF"), 32)
		return float32(f), err
	case edm.Decimal:
		return decimal.NewFromString(strings.TrimRight(literal, "mM"))
	case edm.Guid:
		s := strings.TrimPrefix(literal, "guid")
		return uuid.Parse(unquote(s))
	case edm.DateTimeOffset:
		return time.Parse(time.RFC3339Nano, unquote(literal))
	case edm.Date:
		return time.Parse("2006-01-02", unquote(literal))
	default:
		return nil, fmt.Errorf("unsupported key type %s", prim.FullName())
	}
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\''
}

// unquote strips single quotes and unescapes doubled quotes.
func unquote(s string) string {
	if !isQuoted(s) {
		return s
	}
	return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
}
