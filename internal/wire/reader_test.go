package wire

import (
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlstn/go-odata-formatter/internal/edm"
)

const schema = `
namespace: Demo
complexTypes:
  - name: Address
    properties:
      - name: City
        type: Edm.String
entityTypes:
  - name: Thing
    key: [Id]
    open: true
    properties:
      - name: Id
        type: Edm.Int32
        nullable: false
      - name: Name
        type: Edm.String
      - name: Tags
        type: Collection(Edm.String)
      - name: Address
        type: Demo.Address
      - name: Addresses
        type: Collection(Demo.Address)
    navigationProperties:
      - name: Parts
        type: Collection(Demo.Part)
      - name: Owner
        type: Demo.Part
  - name: Part
    key: [Id]
    properties:
      - name: Id
        type: Edm.Int32
  - name: SpecialPart
    baseType: Demo.Part
    properties:
      - name: Grade
        type: Edm.String
entitySets:
  - name: Things
    entityType: Demo.Thing
  - name: Parts
    entityType: Demo.Part
`

func loadModel(t *testing.T) *edm.Model {
	t.Helper()
	model, err := edm.LoadYAML(strings.NewReader(schema))
	require.NoError(t, err)
	return model
}

func read(t *testing.T, model *edm.Model, typeName, payload string) (Item, error) {
	t.Helper()
	var expected *edm.StructuredType
	if typeName != "" {
		var ok bool
		expected, ok = model.FindStructuredType(typeName)
		require.True(t, ok)
	}
	return NewReader(context.Background(), strings.NewReader(payload), model, 0).Read(expected)
}

func TestReader_ResourceWithAnnotations(t *testing.T) {
	model := loadModel(t)
	item, err := read(t, model, "Demo.Thing", `{
		"@odata.context": "$metadata#Things/$entity",
		"@odata.type": "#Demo.Thing",
		"@odata.id": "Things(5)",
		"@odata.etag": "W/\"1\"",
		"Name": "first",
		"Tags": ["a", "b"],
		"Name": "second",
		"Extra@odata.type": "#Int64",
		"Extra": 42
	}`)
	require.NoError(t, err)

	res, ok := item.(*ResourceWrapper)
	require.True(t, ok, "expected a resource, got %T", item)
	assert.Equal(t, "Demo.Thing", res.TypeName)
	assert.Equal(t, "Things(5)", res.ID)
	assert.Equal(t, `W/"1"`, res.ETag)

	names := make([]string, 0, len(res.Properties))
	for _, p := range res.Properties {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Name", "Tags", "Name", "Extra"}, names)

	name, ok := res.FindProperty("Name")
	require.True(t, ok)
	assert.Equal(t, "second", name.Value)

	extra, ok := res.FindProperty("Extra")
	require.True(t, ok)
	assert.Equal(t, json.Number("42"), extra.Value)
	assert.Equal(t, "Int64", extra.TypeName)

	tags, ok := res.FindProperty("Tags")
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a", "b"}, tags.Value)
}

func TestReader_NestedShapes(t *testing.T) {
	model := loadModel(t)
	item, err := read(t, model, "Demo.Thing", `{
		"Id": 1,
		"Address": {"City": "Berlin"},
		"Addresses": [],
		"Owner": null,
		"Parts": [{"Id": 2}, {"@odata.type": "#Demo.SpecialPart", "Id": 3, "Grade": "A"}],
		"Parts@odata.bind": ["Parts(4)"],
		"Dyn@odata.type": "#Collection(Demo.Address)",
		"Dyn": [{"City": "Oslo"}]
	}`)
	require.NoError(t, err)
	res := item.(*ResourceWrapper)

	shapes := map[string]Shape{}
	for _, info := range res.NestedResourceInfos {
		if _, seen := shapes[info.Name]; !seen {
			shapes[info.Name] = info.Shape()
		}
	}
	assert.Equal(t, ShapeResource, shapes["Address"])
	assert.Equal(t, ShapeResourceSet, shapes["Addresses"])
	assert.Equal(t, ShapeNull, shapes["Owner"])
	assert.Equal(t, ShapeResourceSet, shapes["Parts"])
	assert.Equal(t, ShapeResourceSet, shapes["Dyn"])

	var links *NestedResourceInfoWrapper
	for _, info := range res.NestedResourceInfos {
		switch info.Name {
		case "Addresses":
			require.NotNil(t, info.ResourceSet.Resources)
			assert.Empty(t, info.ResourceSet.Resources)
		case "Parts":
			if info.Shape() == ShapeLinks {
				links = info
				continue
			}
			require.Len(t, info.ResourceSet.Resources, 2)
			special := info.ResourceSet.Resources[1]
			assert.Equal(t, "Demo.SpecialPart", special.TypeName)
			grade, ok := special.FindProperty("Grade")
			require.True(t, ok)
			assert.Equal(t, "A", grade.Value)
		case "Dyn":
			assert.Equal(t, "Demo.Address", info.ResourceSet.TypeName)
		}
	}
	require.NotNil(t, links)
	require.Len(t, links.Links, 1)
	assert.Equal(t, "Parts(4)", links.Links[0].URL)

	for _, p := range res.Properties {
		assert.NotEqual(t, "Address", p.Name)
	}
}

func TestReader_ResourceSetAndDelta(t *testing.T) {
	model := loadModel(t)
	item, err := read(t, model, "Demo.Part", `{
		"@odata.context": "$metadata#Parts/$delta",
		"value": [
			{"Id": 1},
			{"@removed": {"reason": "deleted"}, "@id": "Parts(2)"}
		]
	}`)
	require.NoError(t, err)
	set, ok := item.(*ResourceSetWrapper)
	require.True(t, ok)
	assert.True(t, set.IsDelta)
	require.Len(t, set.Resources, 2)
	require.NotNil(t, set.Resources[1].Removed)
	assert.Equal(t, "deleted", set.Resources[1].Removed.Reason)
	assert.Equal(t, "Parts(2)", set.Resources[1].ID)
}

func TestReader_NestedDeltaAnnotation(t *testing.T) {
	model := loadModel(t)
	item, err := read(t, model, "Demo.Thing", `{"Id": 1, "Parts@delta": [{"Id": 7}, {"@removed": {}, "@id": "Parts(8)"}]}`)
	require.NoError(t, err)
	res := item.(*ResourceWrapper)
	require.Len(t, res.NestedResourceInfos, 1)
	info := res.NestedResourceInfos[0]
	assert.Equal(t, "Parts", info.Name)
	require.NotNil(t, info.ResourceSet)
	assert.True(t, info.ResourceSet.IsDelta)
	assert.Len(t, info.ResourceSet.Resources, 2)
}

func TestReader_Errors(t *testing.T) {
	model := loadModel(t)

	_, err := read(t, model, "Demo.Thing", `{"Name": `)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = read(t, model, "Demo.Thing", `42`)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = read(t, model, "Demo.Thing", `{"@odata.type": 5}`)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	deep := strings.Repeat(`{"a":`, 20) + "1" + strings.Repeat("}", 20)
	_, err = NewReader(context.Background(), strings.NewReader(deep), nil, 10).Read(nil)
	assert.ErrorIs(t, err, ErrNestingTooDeep)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewReader(ctx, strings.NewReader(`{}`), model, 0).Read(nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResourceWrapper_WithProperties(t *testing.T) {
	original := &ResourceWrapper{ID: "Things(1)", Properties: []Property{{Name: "Name", Value: "x"}}}
	augmented := original.WithProperties(Property{Name: "Id", Value: int64(1)})

	assert.Len(t, original.Properties, 1)
	assert.Len(t, augmented.Properties, 2)
	assert.Equal(t, "Things(1)", augmented.ID)
	_, ok := original.FindProperty("Id")
	assert.False(t, ok)
}
