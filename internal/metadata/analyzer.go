package metadata

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

// TypeMetadata holds the mapping between a Go struct and an EDM structured type.
type TypeMetadata struct {
	GoType        reflect.Type
	TypeName      string
	EntitySetName string
	TableName     string // Database table name (respects custom TableName() methods)
	IsEntity      bool
	Abstract      bool // True when the type implements ODataAbstract() returning true
	Properties    []PropertyMetadata
	KeyProperties []PropertyMetadata
	// DynamicProperty is the map field that stores undeclared properties of an open type
	DynamicProperty *PropertyMetadata
	// Base is the registered Go type embedded as the EDM base type (nil for root types)
	Base    *TypeMetadata
	EdmType *edm.StructuredType

	baseField    *reflect.StructField
	embedded     []reflect.StructField
	fieldIndex   map[string][]int
	dynamicIndex []int
}

// PropertyMetadata holds metadata information about a mapped struct field
type PropertyMetadata struct {
	Name       string
	Type       reflect.Type
	FieldName  string
	Index      []int
	ColumnName string // Database column name (respects GORM column: and odata:"column:..." tags)
	JsonName   string
	GormTag    string
	ODataTag   string
	IsKey      bool
	IsRequired bool
	Nullable   *bool // Explicit nullable override (nil means use default behavior)
	// Navigation properties
	IsNavigationProp  bool
	NavigationTarget  string // Go type name of the navigation target
	NavigationIsArray bool   // True for collection navigation properties
	// Complex properties
	IsComplexType bool
	// Enum properties
	IsEnum       bool
	EnumTypeName string
	IsFlags      bool
	// IsDynamic marks the map field holding open-type dynamic properties
	IsDynamic bool
}

// EdmName is the name under which the property appears in the EDM and on the wire.
func (p *PropertyMetadata) EdmName() string {
	if name := strings.TrimSpace(p.JsonName); name != "" && name != "-" {
		return name
	}
	return p.Name
}

// analyzeStruct extracts metadata from a Go struct. Anonymous struct fields are
// recorded for later resolution as either the base type or promoted fields.
func analyzeStruct(value interface{}, isEntity bool) (*TypeMetadata, error) {
	structType := reflect.TypeOf(value)
	if structType == nil {
		return nil, fmt.Errorf("type must be a struct, got nil")
	}

	// Handle pointer types
	if structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}

	if structType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("type must be a struct, got %s", structType.Kind())
	}

	metadata := &TypeMetadata{
		GoType:     structType,
		TypeName:   structType.Name(),
		TableName:  getTableNameFromReflectType(structType),
		IsEntity:   isEntity,
		Abstract:   callBoolMethod(structType, "ODataAbstract"),
		Properties: make([]PropertyMetadata, 0, structType.NumField()),
	}
	if isEntity {
		metadata.EntitySetName = getEntitySetName(structType)
	}

	if err := analyzeFields(metadata, structType, nil); err != nil {
		return nil, err
	}
	return metadata, nil
}

// analyzeFields walks the exported fields of structType. prefix is the index
// path of structType within the mapped Go type.
func analyzeFields(metadata *TypeMetadata, structType reflect.Type, prefix []int) error {
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)

		// Skip unexported fields
		if !field.IsExported() {
			continue
		}
		if getJsonName(field) == "-" && !hasTagPart(field.Tag.Get("odata"), "dynamic") {
			continue
		}

		index := append(append([]int(nil), prefix...), i)

		if field.Anonymous && dereferenceType(field.Type).Kind() == reflect.Struct {
			if field.Type.Kind() == reflect.Ptr {
				return fmt.Errorf("embedded field %s must not be a pointer", field.Name)
			}
			field.Index = index
			metadata.embedded = append(metadata.embedded, field)
			continue
		}

		property, err := analyzeField(field, index, metadata)
		if err != nil {
			return fmt.Errorf("error analyzing field %s: %w", field.Name, err)
		}

		if property.IsDynamic {
			if metadata.DynamicProperty != nil {
				return fmt.Errorf("type %s declares more than one dynamic property field", metadata.TypeName)
			}
			propCopy := property
			metadata.DynamicProperty = &propCopy
			continue
		}

		if property.IsKey {
			upsertKeyProperty(metadata, property)
		}
		metadata.Properties = append(metadata.Properties, property)
	}
	return nil
}

// analyzeField analyzes a single struct field and creates a PropertyMetadata
func analyzeField(field reflect.StructField, index []int, metadata *TypeMetadata) (PropertyMetadata, error) {
	property := PropertyMetadata{
		Name:      field.Name,
		Type:      field.Type,
		FieldName: field.Name,
		Index:     index,
		JsonName:  getJsonName(field),
		GormTag:   field.Tag.Get("gorm"),
		ODataTag:  field.Tag.Get("odata"),
	}

	// Check if this is a navigation property
	analyzeNavigationProperty(&property, field)

	// Compute and cache the column name (respects GORM column: tags)
	property.ColumnName = getColumnNameFromProperty(&property)

	// Check for OData tags
	if err := analyzeODataTags(&property, field, metadata); err != nil {
		return PropertyMetadata{}, err
	}

	if property.IsDynamic {
		if !isDynamicStore(field.Type) {
			return PropertyMetadata{}, fmt.Errorf("dynamic property field %s must be a map[string]interface{}, got %s", field.Name, field.Type)
		}
		return property, nil
	}

	// Auto-detect nullability based on Go type and GORM tags
	// This runs after OData tags so explicit odata:"nullable" takes precedence
	if err := autoDetectNullability(&property); err != nil {
		return PropertyMetadata{}, err
	}

	if property.IsKey && property.IsNavigationProp {
		return PropertyMetadata{}, fmt.Errorf("navigation property %s cannot be a key", field.Name)
	}

	return property, nil
}

// analyzeNavigationProperty determines if a field is a navigation property or complex type
func analyzeNavigationProperty(property *PropertyMetadata, field reflect.StructField) {
	fieldType := field.Type
	isSlice := fieldType.Kind() == reflect.Slice
	if isSlice {
		fieldType = fieldType.Elem()
	}

	// Check if it's a pointer type
	if fieldType.Kind() == reflect.Ptr {
		fieldType = fieldType.Elem()
	}

	if fieldType.Kind() != reflect.Struct || isPrimitiveStruct(fieldType) {
		return
	}

	gormTag := field.Tag.Get("gorm")
	odataTag := field.Tag.Get("odata")

	// Check if it's a navigation property (has foreign key, references, or many2many in either tag)
	hasNavInGorm := strings.Contains(gormTag, "foreignKey") || strings.Contains(gormTag, "references") || strings.Contains(gormTag, "many2many")
	hasNavInOData := strings.Contains(odataTag, "foreignKey:") || strings.Contains(odataTag, "references:") ||
		strings.Contains(odataTag, "many2many:") || hasTagPart(odataTag, "nav")

	if hasNavInGorm || hasNavInOData {
		property.IsNavigationProp = true
		property.NavigationTarget = fieldType.Name()
		property.NavigationIsArray = isSlice
		return
	}

	// Any other struct is a complex type; it is registered on demand if needed.
	property.IsComplexType = true
}

// analyzeODataTags processes OData-specific tags on a field
func analyzeODataTags(property *PropertyMetadata, field reflect.StructField, metadata *TypeMetadata) error {
	var sawKey bool

	if odataTag := field.Tag.Get("odata"); odataTag != "" {
		// Parse tag as comma-separated key-value pairs
		parts := strings.Split(odataTag, ",")
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "key" {
				sawKey = true
			}
			processODataTagPart(property, part)
		}
	}

	// Auto-detect key if no explicit key is set and field name is "ID"
	if metadata.IsEntity && len(metadata.KeyProperties) == 0 && field.Name == "ID" && !hasExplicitKey(metadata.GoType) {
		sawKey = true
	}

	if sawKey && !metadata.IsEntity {
		return fmt.Errorf("complex type %s cannot declare key property %s", metadata.TypeName, field.Name)
	}

	property.IsKey = sawKey
	return nil
}

// processODataTagPart processes a single OData tag part
func processODataTagPart(property *PropertyMetadata, part string) {
	switch {
	case part == "key":
		property.IsKey = true
	case part == "required":
		property.IsRequired = true
	case part == "nullable":
		nullable := true
		property.Nullable = &nullable
	case part == "nullable=false":
		nullable := false
		property.Nullable = &nullable
	case strings.HasPrefix(part, "enum="):
		property.IsEnum = true
		property.EnumTypeName = strings.TrimPrefix(part, "enum=")
	case part == "flags":
		property.IsFlags = true
		// If flags is set without enum, we still mark it as enum
		property.IsEnum = true
	case part == "dynamic":
		property.IsDynamic = true
	case part == "nav", part == "embedded":
		// Handled in analyzeNavigationProperty
	case strings.HasPrefix(part, "column:"),
		strings.HasPrefix(part, "foreignKey:"),
		strings.HasPrefix(part, "references:"),
		strings.HasPrefix(part, "many2many:"):
		// Handled in analyzeNavigationProperty and getColumnNameFromProperty
	}
}

func hasTagPart(tag, want string) bool {
	for _, part := range strings.Split(tag, ",") {
		if strings.TrimSpace(part) == want {
			return true
		}
	}
	return false
}

// hasExplicitKey reports whether any direct field of structType carries odata:"key".
func hasExplicitKey(structType reflect.Type) bool {
	for i := 0; i < structType.NumField(); i++ {
		if hasTagPart(structType.Field(i).Tag.Get("odata"), "key") {
			return true
		}
	}
	return false
}

func upsertKeyProperty(metadata *TypeMetadata, property PropertyMetadata) {
	if metadata == nil || !property.IsKey {
		return
	}

	for i := range metadata.KeyProperties {
		if metadata.KeyProperties[i].Name == property.Name {
			metadata.KeyProperties[i] = property
			return
		}
	}

	metadata.KeyProperties = append(metadata.KeyProperties, property)
}

// getJsonName extracts the JSON field name from struct tags
func getJsonName(field reflect.StructField) string {
	jsonTag := field.Tag.Get("json")
	if jsonTag == "" {
		return field.Name
	}

	// Handle json:",omitempty" or json:"fieldname,omitempty"
	parts := strings.Split(jsonTag, ",")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}

	return field.Name
}

// pluralize creates a simple pluralized form of the entity name
func pluralize(word string) string {
	if word == "" {
		return word
	}

	switch {
	case strings.HasSuffix(word, "y") && len(word) > 1 && !isVowel(rune(word[len(word)-2])):
		// "Category" -> "Categories", but "Key" -> "Keys"
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(word, "s") || strings.HasSuffix(word, "x") || strings.HasSuffix(word, "z") ||
		strings.HasSuffix(word, "ch") || strings.HasSuffix(word, "sh"):
		return word + "es"
	default:
		return word + "s"
	}
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
		return true
	default:
		return false
	}
}

// getEntitySetName determines the entity set name for an entity type.
// It first checks if the entity implements an EntitySetName() method,
// similar to how GORM's TableName() works. If not, it falls back to
// pluralizing the entity name.
func getEntitySetName(entityType reflect.Type) string {
	if name := callStringMethod(entityType, "EntitySetName"); name != "" {
		return name
	}
	return pluralize(entityType.Name())
}

// callStringMethod calls a niladic string method declared with either a value
// or pointer receiver on a zero value of structType.
func callStringMethod(structType reflect.Type, name string) string {
	out, ok := callNiladic(structType, name, reflect.String)
	if !ok {
		return ""
	}
	return out.String()
}

func callBoolMethod(structType reflect.Type, name string) bool {
	out, ok := callNiladic(structType, name, reflect.Bool)
	return ok && out.Bool()
}

func callNiladic(structType reflect.Type, name string, kind reflect.Kind) (reflect.Value, bool) {
	for _, checkType := range []reflect.Type{structType, reflect.PointerTo(structType)} {
		method, found := checkType.MethodByName(name)
		if !found {
			continue
		}

		// Verify the method signature: func() <kind>
		methodType := method.Type
		if methodType.NumIn() != 1 || methodType.NumOut() != 1 || methodType.Out(0).Kind() != kind {
			continue
		}

		var zeroVal reflect.Value
		if checkType.Kind() == reflect.Ptr {
			zeroVal = reflect.New(structType)
		} else {
			zeroVal = reflect.New(structType).Elem()
		}

		result := zeroVal.MethodByName(name).Call(nil)
		if len(result) > 0 {
			return result[0], true
		}
	}
	return reflect.Value{}, false
}

// isTypeNullable checks if a Go type can represent null values
func isTypeNullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	default:
		return false
	}
}

// hasGormNotNull checks if a GORM tag contains "not null" constraint
func hasGormNotNull(gormTag string) bool {
	return strings.Contains(gormTag, "not null")
}

// autoDetectNullability sets Nullable based on the Go type and GORM constraints
func autoDetectNullability(property *PropertyMetadata) error {
	// Navigation properties have different nullability semantics
	if property.IsNavigationProp {
		return nil
	}

	if property.Nullable != nil {
		if *property.Nullable && !isTypeNullable(property.Type) {
			return fmt.Errorf("property %s is marked as nullable with odata:\"nullable\" tag, but has non-nullable Go type %s (use *%s to make it nullable)",
				property.Name, property.Type, property.Type)
		}
		return nil
	}

	if !isTypeNullable(property.Type) || hasGormNotNull(property.GormTag) {
		nullable := false
		property.Nullable = &nullable
	}
	return nil
}

// IsNullable resolves the EDM nullability of the property.
func (p *PropertyMetadata) IsNullable() bool {
	if p.IsKey || p.IsRequired {
		return false
	}
	if p.Nullable != nil {
		return *p.Nullable
	}
	return true
}

// FindProperty returns the property matching the provided name or JSON name,
// searching base types. Returns nil if no property matches.
func (metadata *TypeMetadata) FindProperty(name string) *PropertyMetadata {
	for cur := metadata; cur != nil; cur = cur.Base {
		for i := range cur.Properties {
			prop := &cur.Properties[i]
			if prop.Name == name || prop.JsonName == name {
				return prop
			}
		}
	}
	return nil
}

// FindNavigationProperty returns the metadata for the requested navigation property.
func (metadata *TypeMetadata) FindNavigationProperty(name string) *PropertyMetadata {
	prop := metadata.FindProperty(name)
	if prop != nil && prop.IsNavigationProp {
		return prop
	}
	return nil
}

// AllKeyProperties returns the key properties of the root of the hierarchy.
func (metadata *TypeMetadata) AllKeyProperties() []PropertyMetadata {
	for cur := metadata; cur != nil; cur = cur.Base {
		if len(cur.KeyProperties) > 0 {
			return cur.KeyProperties
		}
	}
	return nil
}

// FieldIndex returns the reflect index path of the field backing the EDM property.
func (metadata *TypeMetadata) FieldIndex(edmName string) ([]int, bool) {
	index, ok := metadata.fieldIndex[edmName]
	return index, ok
}

// DynamicFieldIndex returns the index path of the open-type property map, if any.
func (metadata *TypeMetadata) DynamicFieldIndex() ([]int, bool) {
	return metadata.dynamicIndex, metadata.dynamicIndex != nil
}

// New allocates a zero value of the mapped Go type and returns a pointer to it.
func (metadata *TypeMetadata) New() reflect.Value {
	return reflect.New(metadata.GoType)
}

// dereferenceType unwraps pointer types to obtain the underlying type.
func dereferenceType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// getTableNameFromReflectType returns the table name for a given struct type.
// Custom TableName() methods are respected.
func getTableNameFromReflectType(structType reflect.Type) string {
	if structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}

	instance := reflect.New(structType).Interface()
	if tabler, ok := instance.(interface{ TableName() string }); ok {
		return tabler.TableName()
	}

	// Fallback to default GORM naming (snake_case pluralization)
	return toSnakeCase(pluralize(structType.Name()))
}

// getColumnNameFromProperty computes the database column name for a property
// This respects OData column: tags (preferred) and GORM column: tags, then falls back to snake_case conversion
func getColumnNameFromProperty(prop *PropertyMetadata) string {
	if prop == nil {
		return ""
	}

	if prop.ODataTag != "" {
		for _, part := range strings.Split(prop.ODataTag, ",") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "column:") {
				return strings.TrimPrefix(part, "column:")
			}
		}
	}

	if prop.GormTag != "" {
		for _, part := range strings.Split(prop.GormTag, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "column:") {
				return strings.TrimPrefix(part, "column:")
			}
		}
	}

	return toSnakeCase(prop.Name)
}

// toSnakeCase converts a camelCase or PascalCase string to snake_case
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			// For "ProductID", we want "product_id" not "product_i_d"
			prevRune := rune(s[i-1])
			if prevRune >= 'a' && prevRune <= 'z' {
				result.WriteRune('_')
			} else if i < len(s)-1 {
				// "XMLParser" -> "xml_parser"
				nextRune := rune(s[i+1])
				if nextRune >= 'a' && nextRune <= 'z' {
					result.WriteRune('_')
				}
			}
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
