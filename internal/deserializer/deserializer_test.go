package deserializer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlstn/go-odata-formatter/internal/edm"
	"github.com/nlstn/go-odata-formatter/internal/instance"
	"github.com/nlstn/go-odata-formatter/internal/routing"
	"github.com/nlstn/go-odata-formatter/internal/wire"
)

const untypedSchema = `
namespace: Demo
complexTypes:
  - name: Address
    properties:
      - name: City
        type: Edm.String
entityTypes:
  - name: Thing
    key: [Id]
    properties:
      - name: Id
        type: Edm.Int32
        nullable: false
      - name: Name
        type: Edm.String
      - name: Score
        type: Edm.Double
      - name: Address
        type: Demo.Address
      - name: Addresses
        type: Collection(Demo.Address)
    navigationProperties:
      - name: Child
        type: Demo.Thing
      - name: Parts
        type: Collection(Demo.Part)
  - name: Part
    key: [Id]
    properties:
      - name: Id
        type: Edm.Int32
  - name: Bag
    open: true
    key: [Id]
    properties:
      - name: Id
        type: Edm.Int32
  - name: Person
    abstract: true
    key: [Id]
    properties:
      - name: Id
        type: Edm.Int32
  - name: Employee
    baseType: Demo.Person
  - name: L1
    key: [Id]
    properties:
      - name: Id
        type: Edm.Int32
  - name: L2
    baseType: Demo.L1
  - name: L3
    baseType: Demo.L2
  - name: L4
    baseType: Demo.L3
  - name: L5
    baseType: Demo.L4
entitySets:
  - name: Things
    entityType: Demo.Thing
  - name: Parts
    entityType: Demo.Part
  - name: Bags
    entityType: Demo.Bag
  - name: People
    entityType: Demo.Person
  - name: Levels
    entityType: Demo.L1
`

func loadUntypedModel(t *testing.T) *edm.Model {
	t.Helper()
	model, err := edm.LoadYAML(strings.NewReader(untypedSchema))
	require.NoError(t, err)
	return model
}

func newUntypedContext(t *testing.T, model *edm.Model, path string) *Context {
	t.Helper()
	parser := routing.NewParser(model)
	dctx := &Context{
		Model:       model,
		PathParser:  parser,
		Provider:    NewDefaultProvider(),
		ServiceRoot: "http://host/svc/",
		Untyped:     true,
	}
	if path != "" {
		p, err := parser.Parse(path)
		require.NoError(t, err)
		dctx.Path = p
	}
	return dctx
}

func readTop(t *testing.T, dctx *Context, typeName, payload string) (interface{}, error) {
	t.Helper()
	st, ok := dctx.Model.FindStructuredType(typeName)
	require.True(t, ok, "type %s not declared", typeName)
	reader := wire.NewReader(context.Background(), strings.NewReader(payload), dctx.Model, 0)
	return (&ResourceDeserializer{}).ReadTopLevel(reader, edm.NewTypeReference(st, false), dctx)
}

// countingProvider counts lookups of single structured types, which only
// happen for derived-type redispatch and nested resources.
type countingProvider struct {
	inner      Provider
	structured int
}

func (c *countingProvider) DeserializerFor(typ edm.TypeReference) (Deserializer, bool) {
	if typ.IsEntity() || typ.IsComplex() {
		c.structured++
	}
	return c.inner.DeserializerFor(typ)
}

func TestReadResource_ExactTypeDoesNotRedispatch(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "")
	counter := &countingProvider{inner: NewDefaultProvider()}
	dctx.Provider = counter

	thing, _ := model.FindStructuredType("Demo.Thing")
	res := &wire.ResourceWrapper{
		TypeName:   "Demo.Thing",
		Properties: []wire.Property{{Name: "Id", Value: json.Number("1")}, {Name: "Name", Value: "x"}},
	}
	value, err := (&ResourceDeserializer{}).ReadInline(res, edm.NewTypeReference(thing, false), dctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counter.structured)

	obj := value.(*instance.EntityObject)
	assert.Equal(t, thing, obj.EdmType())
	assert.Equal(t, thing, obj.ExpectedType())
}

func TestReadResource_DerivedChainRedispatchesNMinusOneTimes(t *testing.T) {
	model := loadUntypedModel(t)
	root, _ := model.FindStructuredType("Demo.L1")

	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("chain of %d", n), func(t *testing.T) {
			dctx := newUntypedContext(t, model, "")
			counter := &countingProvider{inner: NewDefaultProvider()}
			dctx.Provider = counter

			res := &wire.ResourceWrapper{
				TypeName:   fmt.Sprintf("Demo.L%d", n),
				Properties: []wire.Property{{Name: "Id", Value: json.Number("9")}},
			}
			value, err := (&ResourceDeserializer{}).ReadInline(res, edm.NewTypeReference(root, false), dctx)
			require.NoError(t, err)
			assert.Equal(t, n-1, counter.structured)
			assert.Equal(t, 0, dctx.Depth())

			obj := value.(*instance.EntityObject)
			assert.Equal(t, fmt.Sprintf("Demo.L%d", n), obj.EdmType().FullName())
			assert.Equal(t, root, obj.ExpectedType())
		})
	}
}

func TestReadResource_RedispatchDoesNotCountTowardDepth(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Levels(9)")
	dctx.MaxDepth = 3
	counter := &countingProvider{inner: NewDefaultProvider()}
	dctx.Provider = counter

	value, err := readTop(t, dctx, "Demo.L1", `{"@odata.type": "#Demo.L5", "Id": 9}`)
	require.NoError(t, err)
	assert.Equal(t, 4, counter.structured)
	assert.Equal(t, 0, dctx.Depth())
	assert.Equal(t, "Demo.L5", value.(instance.Object).EdmType().FullName())

	dctx = newUntypedContext(t, model, "Levels(9)")
	dctx.MaxDepth = 1
	_, err = readTop(t, dctx, "Demo.L1", `{"@odata.type": "#Demo.L5", "Id": 9}`)
	require.NoError(t, err)
}

func TestReadResource_DerivedTypeErrors(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "People(1)")

	_, err := readTop(t, dctx, "Demo.Person", `{"@odata.type": "#Demo.Nope", "Id": 1}`)
	assert.ErrorIs(t, err, ErrUnknownResourceType)

	_, err = readTop(t, dctx, "Demo.Person", `{"Id": 1}`)
	assert.ErrorIs(t, err, ErrCannotInstantiateAbstract)

	_, err = readTop(t, dctx, "Demo.Person", `{"@odata.type": "#Demo.Thing", "Id": 1}`)
	assert.ErrorIs(t, err, ErrUnknownResourceType)

	value, err := readTop(t, dctx, "Demo.Person", `{"@odata.type": "#Demo.Employee", "Id": 1}`)
	require.NoError(t, err)
	assert.Equal(t, "Demo.Employee", value.(instance.Object).EdmType().FullName())
}

func TestReadInline_BackfillsKeyFromID(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Things(5)")

	value, err := readTop(t, dctx, "Demo.Thing", `{"@odata.id": "Things(5)", "Name": "x"}`)
	require.NoError(t, err)
	id, ok := value.(*instance.EntityObject).TryGetPropertyValue("Id")
	require.True(t, ok)
	assert.Equal(t, int32(5), id)

	value, err = readTop(t, dctx, "Demo.Thing", `{"@odata.id": "http://host/svc/Things(6)", "Id": 7}`)
	require.NoError(t, err)
	id, _ = value.(*instance.EntityObject).TryGetPropertyValue("Id")
	assert.Equal(t, int32(7), id, "explicit key property must win over the id")
}

func TestReadInline_ShareableWrapperIsNotMutated(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "")
	thing, _ := model.FindStructuredType("Demo.Thing")

	res := &wire.ResourceWrapper{ID: "Things(5)"}
	_, err := (&ResourceDeserializer{}).ReadInline(res, edm.NewTypeReference(thing, false), dctx)
	require.NoError(t, err)
	assert.Empty(t, res.Properties)
}

func TestReadResource_NestedPropertyOnClosedAndOpenTypes(t *testing.T) {
	model := loadUntypedModel(t)
	payload := `{"Id": 1, "Extra": {"@odata.type": "#Demo.Address", "City": "Oslo"}}`

	_, err := readTop(t, newUntypedContext(t, model, "Things(1)"), "Demo.Thing", payload)
	require.ErrorIs(t, err, ErrUnknownNestedProperty)
	var typed *Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "Extra", typed.Property)

	value, err := readTop(t, newUntypedContext(t, model, "Bags(1)"), "Demo.Bag", payload)
	require.NoError(t, err)
	dyn := value.(*instance.EntityObject).DynamicProperties()
	extra, ok := dyn["Extra"].(*instance.ComplexObject)
	require.True(t, ok, "expected a complex object, got %T", dyn["Extra"])
	city, _ := extra.TryGetPropertyValue("City")
	assert.Equal(t, "Oslo", city)
}

func TestReadResource_DynamicValues(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Bags(1)")

	value, err := readTop(t, dctx, "Demo.Bag", `{
		"Id": 1,
		"Count": 3,
		"Big": 5000000000,
		"Ratio": 0.5,
		"When@odata.type": "#DateTimeOffset",
		"When": "2024-01-02T03:04:05Z",
		"Places@odata.type": "#Collection(Demo.Address)",
		"Places": [{"City": "Rome"}]
	}`)
	require.NoError(t, err)
	dyn := value.(*instance.EntityObject).DynamicProperties()
	assert.Equal(t, int32(3), dyn["Count"])
	assert.Equal(t, int64(5000000000), dyn["Big"])
	assert.Equal(t, 0.5, dyn["Ratio"])
	assert.Equal(t, 2024, dyn["When"].(interface{ Year() int }).Year())
	assert.Len(t, dyn["Places"], 1)

	_, err = readTop(t, dctx, "Demo.Bag", `{"Id": 1, "Items": [{"City": "x"}]}`)
	assert.ErrorIs(t, err, ErrDynamicCollectionTypeNameRequired)

	_, err = readTop(t, dctx, "Demo.Bag", `{"Id": 1, "Home": {"City": "x"}}`)
	assert.ErrorIs(t, err, ErrDynamicTypeNameRequired)
}

func TestReadResource_StructuralErrors(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Things(1)")

	_, err := readTop(t, dctx, "Demo.Thing", `{"Id": 1, "Unknown": 2}`)
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = readTop(t, dctx, "Demo.Thing", `{"Id": 1, "Score": "high"}`)
	require.ErrorIs(t, err, ErrPropertyConversionFailed)
	var typed *Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "Score", typed.Property)
	assert.Equal(t, "Demo.Thing", typed.TypeName)

	_, err = readTop(t, dctx, "Demo.Thing", `{"Id": null}`)
	assert.ErrorIs(t, err, ErrPropertyConversionFailed)
}

func TestReadResource_DeltaRejectsNavigationButAllowsComplex(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Things(1)")
	dctx.Delta = true

	_, err := readTop(t, dctx, "Demo.Thing", `{"Child": {"Id": 2}}`)
	require.ErrorIs(t, err, ErrNavigationNotPatchable)
	var typed *Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "Child", typed.Property)
	assert.Equal(t, "Demo.Thing", typed.TypeName)

	_, err = readTop(t, dctx, "Demo.Thing", `{"Parts@odata.bind": ["Parts(1)"]}`)
	assert.ErrorIs(t, err, ErrNavigationNotPatchable)

	value, err := readTop(t, dctx, "Demo.Thing", `{"Name": "n", "Address": {"City": "Oslo"}}`)
	require.NoError(t, err)
	delta, ok := value.(*instance.Delta)
	require.True(t, ok, "expected a delta, got %T", value)
	assert.Equal(t, []string{"Name", "Address"}, delta.ChangedProperties())
	nested, ok := delta.TryGetPropertyValue("Address")
	require.True(t, ok)
	_, isDelta := nested.(*instance.Delta)
	assert.True(t, isDelta)
}

func nestedPayload(levels int) string {
	var b strings.Builder
	for i := 0; i < levels; i++ {
		fmt.Fprintf(&b, `{"Id": %d, "Child": `, i)
	}
	b.WriteString("null")
	for i := 0; i < levels; i++ {
		b.WriteString("}")
	}
	return b.String()
}

func TestReadResource_RecursionLimit(t *testing.T) {
	model := loadUntypedModel(t)

	dctx := newUntypedContext(t, model, "Things(1)")
	_, err := readTop(t, dctx, "Demo.Thing", nestedPayload(DefaultMaxDepth))
	require.NoError(t, err)

	dctx = newUntypedContext(t, model, "Things(1)")
	_, err = readTop(t, dctx, "Demo.Thing", nestedPayload(DefaultMaxDepth+1))
	assert.ErrorIs(t, err, ErrRecursionLimitExceeded)

	dctx = newUntypedContext(t, model, "Things(1)")
	_, err = readTop(t, dctx, "Demo.Thing", nestedPayload(5000))
	require.ErrorIs(t, err, ErrRecursionLimitExceeded)
	assert.ErrorIs(t, err, wire.ErrNestingTooDeep)

	dctx = newUntypedContext(t, model, "Things(1)")
	dctx.MaxDepth = 3
	_, err = readTop(t, dctx, "Demo.Thing", nestedPayload(4))
	assert.ErrorIs(t, err, ErrRecursionLimitExceeded)
}

func TestReadResource_NestedSets(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Things(1)")

	value, err := readTop(t, dctx, "Demo.Thing", `{"Id": 1, "Addresses": [], "Parts": [{"Id": 1}, {"Id": 2}], "Child": null}`)
	require.NoError(t, err)
	obj := value.(*instance.EntityObject)

	addresses, ok := obj.TryGetPropertyValue("Addresses")
	require.True(t, ok)
	require.NotNil(t, addresses)
	assert.Len(t, addresses, 0)

	parts, _ := obj.TryGetPropertyValue("Parts")
	assert.Len(t, parts, 2)

	_, ok = obj.TryGetPropertyValue("Child")
	assert.False(t, ok, "null nested resource must not be set")
}

func TestReadResource_ReferenceLinks(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Things(1)")

	value, err := readTop(t, dctx, "Demo.Thing", `{
		"Id": 1,
		"Child@odata.bind": "http://host/svc/Things(2)",
		"Parts@odata.bind": ["Parts(3)", "Parts(4)"]
	}`)
	require.NoError(t, err)
	obj := value.(*instance.EntityObject)

	child, ok := obj.TryGetPropertyValue("Child")
	require.True(t, ok)
	id, _ := child.(*instance.EntityObject).TryGetPropertyValue("Id")
	assert.Equal(t, int32(2), id)

	parts, _ := obj.TryGetPropertyValue("Parts")
	require.Len(t, parts, 2)
	id, _ = parts.([]interface{})[1].(*instance.EntityObject).TryGetPropertyValue("Id")
	assert.Equal(t, int32(4), id)

	_, err = readTop(t, dctx, "Demo.Thing", `{"Id": 1, "Child@odata.bind": "Parts(3)"}`)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReadTopLevel_ContractViolations(t *testing.T) {
	model := loadUntypedModel(t)
	thing, _ := model.FindStructuredType("Demo.Thing")
	address, _ := model.FindStructuredType("Demo.Address")
	d := &ResourceDeserializer{}

	_, err := d.ReadTopLevel(nil, edm.NewTypeReference(thing, false), newUntypedContext(t, model, ""))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = readTop(t, newUntypedContext(t, model, ""), "Demo.Thing", `{"Id": 1}`)
	assert.ErrorIs(t, err, ErrMissingPathContext)

	_, err = readTop(t, newUntypedContext(t, model, "Things(1)/Address"), "Demo.Thing", `{"Id": 1}`)
	assert.ErrorIs(t, err, ErrMissingNavigationSource)

	_, err = readTop(t, newUntypedContext(t, model, "Things"), "Demo.Thing", `{"value": [{"Id": 1}]}`)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	reader := wire.NewReader(context.Background(), strings.NewReader(`{}`), model, 0)
	_, err = d.ReadTopLevel(reader, edm.NewTypeReference(edm.Int32, false), newUntypedContext(t, model, ""))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	value, err := d.ReadInline(nil, edm.NewTypeReference(address, true), newUntypedContext(t, model, ""))
	require.NoError(t, err)
	assert.Nil(t, value)

	_, err = d.ReadInline(nil, edm.NewTypeReference(thing, true), newUntypedContext(t, model, ""))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = d.ReadInline(&wire.ResourceSetWrapper{}, edm.NewTypeReference(thing, true), newUntypedContext(t, model, ""))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReadPayload_DispatchesOnShape(t *testing.T) {
	model := loadUntypedModel(t)
	thing, _ := model.FindStructuredType("Demo.Thing")
	ref := edm.NewTypeReference(thing, false)
	read := func(payload string) (interface{}, error) {
		reader := wire.NewReader(context.Background(), strings.NewReader(payload), model, 0)
		return ReadPayload(reader, ref, newUntypedContext(t, model, "Things"))
	}

	value, err := read(`{"Id": 1}`)
	require.NoError(t, err)
	assert.IsType(t, &instance.EntityObject{}, value)

	value, err = read(`{"value": [{"Id": 1}, {"Id": 2}]}`)
	require.NoError(t, err)
	assert.Len(t, value, 2)

	_, err = ReadPayload(nil, ref, newUntypedContext(t, model, "Things"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReadResource_UnmappedType(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Things(1)")
	dctx.Untyped = false

	_, err := readTop(t, dctx, "Demo.Thing", `{"Id": 1}`)
	assert.ErrorIs(t, err, ErrUnmappedResourceType)
}

func TestReadResource_UntypedMarshalKeepsWireOrder(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Things(1)")

	value, err := readTop(t, dctx, "Demo.Thing", `{"Name": "x", "Id": 1, "Name": "y"}`)
	require.NoError(t, err)
	data, err := json.Marshal(value)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Name": "y", "Id": 1}`, string(data))
	assert.True(t, strings.HasPrefix(string(data), `{"Name"`))
}

func TestReadResource_DuplicatePropertiesLastWins(t *testing.T) {
	model := loadUntypedModel(t)

	value, err := readTop(t, newUntypedContext(t, model, "Things(1)"), "Demo.Thing",
		`{"Name": "a", "Score": 1.5, "Id": 1, "Name": "b"}`)
	require.NoError(t, err)
	obj := value.(*instance.EntityObject)
	name, _ := obj.TryGetPropertyValue("Name")
	assert.Equal(t, "b", name)
	assert.Equal(t, []string{"Name", "Score", "Id"}, obj.PropertyNames())

	dctx := newUntypedContext(t, model, "Things(1)")
	dctx.Delta = true
	value, err = readTop(t, dctx, "Demo.Thing", `{"Score": 2, "Name": "a", "Score": 3}`)
	require.NoError(t, err)
	delta := value.(*instance.Delta)
	assert.Equal(t, []string{"Score", "Name"}, delta.ChangedProperties())
	score, _ := delta.TryGetPropertyValue("Score")
	assert.Equal(t, 3.0, score)
}

func TestResourceSet_DeltaPayload(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Things")
	thing, _ := model.FindStructuredType("Demo.Thing")

	reader := wire.NewReader(context.Background(), strings.NewReader(`{
		"@odata.context": "$metadata#Things/$delta",
		"value": [
			{"@odata.id": "Things(1)", "Name": "changed"},
			{"@removed": {"reason": "changed"}, "@odata.id": "Things(2)"}
		]
	}`), model, 0)
	values, err := (&ResourceSetDeserializer{}).ReadTopLevel(reader, edm.CollectionOf(edm.NewTypeReference(thing, false)), dctx)
	require.NoError(t, err)
	require.Len(t, values, 2)

	delta, ok := values[0].(*instance.Delta)
	require.True(t, ok, "expected a delta, got %T", values[0])
	assert.Equal(t, []string{"Name", "Id"}, delta.ChangedProperties())

	deleted, ok := values[1].(*instance.DeletedResource)
	require.True(t, ok, "expected a deleted resource, got %T", values[1])
	assert.Equal(t, "changed", deleted.Reason)
	assert.Equal(t, int32(2), deleted.Keys["Id"])
}

func TestResourceSet_EmptyTopLevel(t *testing.T) {
	model := loadUntypedModel(t)
	dctx := newUntypedContext(t, model, "Things")
	thing, _ := model.FindStructuredType("Demo.Thing")

	reader := wire.NewReader(context.Background(), strings.NewReader(`{"value": []}`), model, 0)
	values, err := (&ResourceSetDeserializer{}).ReadTopLevel(reader, edm.CollectionOf(edm.NewTypeReference(thing, false)), dctx)
	require.NoError(t, err)
	require.NotNil(t, values)
	assert.Empty(t, values)
}
