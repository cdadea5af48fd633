package odata_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/gorm"

	odata "github.com/nlstn/go-odata-formatter"
)

type Product struct {
	ID    int     `json:"Id" gorm:"primaryKey"`
	Name  string  `json:"Name"`
	Price float64 `json:"Price"`
}

const catalogSchema = `
namespace: Catalog
entityTypes:
  - name: Book
    key: [Id]
    properties:
      - name: Id
        type: Edm.Int32
        nullable: false
      - name: Title
        type: Edm.String
entitySets:
  - name: Books
    entityType: Catalog.Book
`

func newFormatter(t *testing.T) *odata.Formatter {
	t.Helper()
	f := odata.NewFormatter("Shop", odata.FormatterConfig{ServiceRoot: "http://host/shop/"})
	if err := f.RegisterEntity(&Product{}); err != nil {
		t.Fatalf("Failed to register Product: %v", err)
	}
	return f
}

func TestNewFormatter_DefaultNamespace(t *testing.T) {
	f := odata.NewFormatter("  ", odata.FormatterConfig{})
	if f.Namespace() != odata.DefaultNamespace {
		t.Errorf("Expected namespace %s, got %s", odata.DefaultNamespace, f.Namespace())
	}
	if err := f.SetLogger(nil); err != nil {
		t.Errorf("Expected nil logger to be accepted, got %v", err)
	}
}

func TestReadEntity(t *testing.T) {
	f := newFormatter(t)

	product, err := odata.ReadEntity[Product](context.Background(), f,
		strings.NewReader(`{"Id": 3, "Name": "Lamp", "Price": 19.5}`), odata.Request{Path: "Products"})
	if err != nil {
		t.Fatalf("ReadEntity failed: %v", err)
	}
	if product.ID != 3 || product.Name != "Lamp" || product.Price != 19.5 {
		t.Errorf("Expected Lamp(3) at 19.5, got %+v", product)
	}
}

func TestReadEntity_BackfillsKey(t *testing.T) {
	f := newFormatter(t)

	product, err := odata.ReadEntity[Product](context.Background(), f,
		strings.NewReader(`{"@odata.id": "http://host/shop/Products(8)", "Name": "Desk"}`), odata.Request{Path: "Products(8)"})
	if err != nil {
		t.Fatalf("ReadEntity failed: %v", err)
	}
	if product.ID != 8 {
		t.Errorf("Expected key 8 from @odata.id, got %d", product.ID)
	}
}

func TestReadCollection(t *testing.T) {
	f := newFormatter(t)

	products, err := odata.ReadCollection[Product](context.Background(), f,
		strings.NewReader(`{"value": [{"Id": 1, "Name": "a"}, {"Id": 2, "Name": "b"}]}`), odata.Request{Path: "Products"})
	if err != nil {
		t.Fatalf("ReadCollection failed: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("Expected 2 products, got %d", len(products))
	}
	if products[1].Name != "b" {
		t.Errorf("Expected second product b, got %s", products[1].Name)
	}
}

func TestRead_Errors(t *testing.T) {
	f := newFormatter(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		payload string
		want    error
	}{
		{"unknown property", "Products", `{"Id": 1, "Colour": {"x": 1}}`, odata.ErrUnknownNestedProperty},
		{"bad path", "Widgets", `{}`, odata.ErrInvalidArgument},
		{"wrong value type", "Products", `{"Id": "one"}`, odata.ErrPropertyConversionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Read(ctx, strings.NewReader(tt.payload), odata.Request{Path: tt.path}, odata.ReadOptions{})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	_, err := odata.ReadEntity[Product](ctx, f, strings.NewReader(`{"value": []}`), odata.Request{Path: "Products"})
	if err == nil {
		t.Error("Expected error reading a resource set as a single entity")
	}
}

func TestRead_MaxDepth(t *testing.T) {
	type Node struct {
		ID    int   `json:"Id"`
		Child *Node `json:"Child" odata:"nav"`
	}
	f := odata.NewFormatter("Tree", odata.FormatterConfig{MaxDepth: 2})
	if err := f.RegisterEntity(&Node{}); err != nil {
		t.Fatalf("Failed to register Node: %v", err)
	}

	payload := `{"Id": 1, "Child": {"Id": 2, "Child": {"Id": 3}}}`
	_, err := f.Read(context.Background(), strings.NewReader(payload), odata.Request{Path: "Nodes"}, odata.ReadOptions{})
	if !errors.Is(err, odata.ErrRecursionLimitExceeded) {
		t.Errorf("Expected ErrRecursionLimitExceeded, got %v", err)
	}
}

func TestRead_MaxJSONDepth(t *testing.T) {
	type Node struct {
		ID    int   `json:"Id"`
		Child *Node `json:"Child" odata:"nav"`
	}
	f := odata.NewFormatter("Tree", odata.FormatterConfig{MaxDepth: 100, MaxJSONDepth: 3})
	if err := f.RegisterEntity(&Node{}); err != nil {
		t.Fatalf("Failed to register Node: %v", err)
	}

	payload := strings.Repeat(`{"Child": `, 10) + `{"Id": 1}` + strings.Repeat(`}`, 10)
	_, err := f.Read(context.Background(), strings.NewReader(payload), odata.Request{Path: "Nodes"}, odata.ReadOptions{})
	if !errors.Is(err, odata.ErrRecursionLimitExceeded) {
		t.Errorf("Expected ErrRecursionLimitExceeded, got %v", err)
	}
}

func TestRead_PayloadShape(t *testing.T) {
	f := newFormatter(t)
	ctx := context.Background()
	set := `{"value": [{"Id": 1, "Name": "a"}]}`

	value, err := f.Read(ctx, strings.NewReader(`{"Id": 1, "Name": "a"}`), odata.Request{Path: "Products"}, odata.ReadOptions{})
	if err != nil {
		t.Fatalf("Read of a resource at an entity set failed: %v", err)
	}
	if _, ok := value.(*odata.StructObject); !ok {
		t.Errorf("Expected *StructObject, got %T", value)
	}

	value, err = f.Read(ctx, strings.NewReader(set), odata.Request{Path: "Products"}, odata.ReadOptions{})
	if err != nil {
		t.Fatalf("Read of a resource set failed: %v", err)
	}
	if values, ok := value.([]interface{}); !ok || len(values) != 1 {
		t.Errorf("Expected one element, got %#v", value)
	}

	if _, err := f.Read(ctx, strings.NewReader(set), odata.Request{Path: "Products(1)"}, odata.ReadOptions{}); !errors.Is(err, odata.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for a resource set at a single entity, got %v", err)
	}
	if _, err := odata.ReadCollection[Product](ctx, f, strings.NewReader(`{"Id": 1}`), odata.Request{Path: "Products"}); !errors.Is(err, odata.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for a resource read as a collection, got %v", err)
	}
}

func TestLoadModel_UntypedRead(t *testing.T) {
	f := odata.NewFormatter("", odata.FormatterConfig{})
	if err := f.LoadModel(strings.NewReader(catalogSchema)); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if f.Namespace() != "Catalog" {
		t.Errorf("Expected namespace Catalog, got %s", f.Namespace())
	}

	value, err := f.Read(context.Background(), strings.NewReader(`{"Id": 4, "Title": "Dune"}`),
		odata.Request{Path: "Books"}, odata.ReadOptions{Untyped: true})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	book, ok := value.(*odata.EntityObject)
	if !ok {
		t.Fatalf("Expected *EntityObject, got %T", value)
	}
	title, ok := book.TryGetPropertyValue("Title")
	if !ok || title != "Dune" {
		t.Errorf("Expected title Dune, got %v", title)
	}

	if err := f.LoadModel(strings.NewReader(catalogSchema)); err == nil {
		t.Error("Expected error loading a model over declared types")
	}
}

func TestLoadModel_Bind(t *testing.T) {
	type Book struct {
		ID    int    `json:"Id"`
		Title string `json:"Title"`
	}
	f := odata.NewFormatter("", odata.FormatterConfig{})
	if err := f.LoadModel(strings.NewReader(catalogSchema)); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if err := f.Bind("Catalog.Book", &Book{}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	book, err := odata.ReadEntity[Book](context.Background(), f, strings.NewReader(`{"Id": 2, "Title": "Emma"}`), odata.Request{Path: "Books"})
	if err != nil {
		t.Fatalf("ReadEntity failed: %v", err)
	}
	if book.Title != "Emma" {
		t.Errorf("Expected Emma, got %s", book.Title)
	}
}

func TestReadDelta(t *testing.T) {
	f := newFormatter(t)

	delta, err := f.ReadDelta(context.Background(), strings.NewReader(`{"Price": 25}`), odata.Request{Path: "Products(1)"})
	if err != nil {
		t.Fatalf("ReadDelta failed: %v", err)
	}
	changed := delta.ChangedProperties()
	if len(changed) != 1 || changed[0] != "Price" {
		t.Fatalf("Expected [Price] changed, got %v", changed)
	}

	original := &Product{ID: 1, Name: "Lamp", Price: 19.5}
	if err := delta.Patch(original); err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if original.Price != 25 || original.Name != "Lamp" {
		t.Errorf("Expected only price patched, got %+v", original)
	}
}

func setupStore(t *testing.T) *odata.Store {
	t.Helper()
	s, err := odata.OpenStore(odata.StoreConfig{Dialect: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := s.Migrate(&Product{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if err := s.Create(context.Background(), &Product{ID: 1, Name: "Lamp", Price: 19.5}); err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	return s
}

func TestFormatter_Patch(t *testing.T) {
	f := newFormatter(t)
	s := setupStore(t)
	ctx := context.Background()

	req := odata.Request{Path: "Products(1)"}
	delta, err := f.ReadDelta(ctx, strings.NewReader(`{"Name": "Floor lamp"}`), req)
	if err != nil {
		t.Fatalf("ReadDelta failed: %v", err)
	}
	result, err := f.Patch(ctx, s, req, delta)
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	product := result.(*Product)
	if product.Name != "Floor lamp" || product.Price != 19.5 {
		t.Errorf("Expected renamed product with price 19.5, got %+v", product)
	}

	if _, err := f.Patch(ctx, s, odata.Request{Path: "Products"}, delta); !errors.Is(err, odata.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for a collection path, got %v", err)
	}
	if _, err := f.Patch(ctx, s, odata.Request{Path: "Products(42)"}, delta); !errors.Is(err, odata.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFormatter_PatchJoinsTransaction(t *testing.T) {
	f := newFormatter(t)
	s := setupStore(t)
	req := odata.Request{Path: "Products(1)"}
	rollback := errors.New("rollback")

	err := s.DB().Transaction(func(tx *gorm.DB) error {
		ctx := odata.WithTransaction(context.Background(), tx)
		if _, ok := odata.TransactionFromContext(ctx); !ok {
			t.Fatal("Expected transaction in context")
		}
		delta, err := f.ReadDelta(ctx, strings.NewReader(`{"Price": 1}`), req)
		if err != nil {
			return err
		}
		if _, err := f.Patch(ctx, s, req, delta); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("Expected rollback error, got %v", err)
	}

	var stored Product
	if err := s.DB().First(&stored, 1).Error; err != nil {
		t.Fatalf("Failed to reload product: %v", err)
	}
	if stored.Price != 19.5 {
		t.Errorf("Expected rolled back price 19.5, got %v", stored.Price)
	}
}

func TestParseQueryOptions(t *testing.T) {
	f := newFormatter(t)

	opts, err := f.ParseQueryOptions("Products", "$top=5&$select=Name,Price&$orderby=Price desc")
	if err != nil {
		t.Fatalf("ParseQueryOptions failed: %v", err)
	}
	if opts.Top == nil || *opts.Top != 5 {
		t.Errorf("Expected top 5, got %v", opts.Top)
	}
	if len(opts.Select) != 2 {
		t.Errorf("Expected 2 selected properties, got %v", opts.Select)
	}
	if len(opts.OrderBy) != 1 || !opts.OrderBy[0].Descending {
		t.Errorf("Expected descending order by Price, got %+v", opts.OrderBy)
	}

	if _, err := f.ParseQueryOptions("Products", "$apply=groupby((Name))"); !errors.Is(err, odata.ErrInvalidQueryOption) {
		t.Errorf("Expected ErrInvalidQueryOption, got %v", err)
	}
	if _, err := f.ParseQueryOptions("Widgets", ""); err == nil {
		t.Error("Expected error for unknown entity set")
	}
}

func TestServerTiming(t *testing.T) {
	f := newFormatter(t)
	if err := f.SetObservability(odata.ObservabilityConfig{ServiceName: "test", EnableServerTiming: true}); err != nil {
		t.Fatalf("SetObservability failed: %v", err)
	}

	ctx, header := odata.ServerTimingContext(context.Background())
	if _, err := f.Read(ctx, strings.NewReader(`{"Id": 1}`), odata.Request{Path: "Products"}, odata.ReadOptions{}); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(header.Metrics) != 1 || header.Metrics[0].Name != "odata-read" {
		t.Errorf("Expected one odata-read metric, got %v", header.Metrics)
	}

	odata.StartServerTiming(context.Background(), "noop").Stop()
}

func TestSelectQuery(t *testing.T) {
	f := newFormatter(t)
	s := setupStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, &Product{ID: 2, Name: "Desk", Price: 120}); err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	if err := s.Create(ctx, &Product{ID: 3, Name: "Chair", Price: 60}); err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	db, err := s.DB().DB()
	if err != nil {
		t.Fatalf("Failed to access database: %v", err)
	}

	qb, err := f.SelectQuery(db, "sqlite", "Products", "$select=Name&$orderby=Price desc&$top=2", odata.Where("price > ?", 20))
	if err != nil {
		t.Fatalf("SelectQuery failed: %v", err)
	}
	rows, err := qb.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	var names []string
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if strings.Join(names, ",") != "Desk,Chair" {
		t.Errorf("Expected Desk,Chair, got %v", names)
	}

	count, err := qb.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
}
