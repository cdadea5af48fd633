package query

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/nlstn/go-odata-formatter/internal/edm"
	"github.com/nlstn/go-odata-formatter/internal/metadata"
)

type Supplier struct {
	ID      int       `json:"Id"`
	Name    string    `json:"Name"`
	Product []Product `json:"Products" odata:"nav"`
}

type Product struct {
	ID       int       `json:"Id"`
	Name     string    `json:"Name"`
	Price    float64   `json:"Price"`
	Category string    `json:"Category"`
	Supplier *Supplier `json:"Supplier" odata:"nav"`
}

func productMetadata(t *testing.T) *metadata.TypeMetadata {
	t.Helper()
	registry := metadata.NewRegistry(edm.NewModel("Shop"))
	meta, err := registry.RegisterEntity(&Product{})
	if err != nil {
		t.Fatalf("RegisterEntity failed: %v", err)
	}
	if _, err := registry.RegisterEntity(&Supplier{}); err != nil {
		t.Fatalf("RegisterEntity failed: %v", err)
	}
	if err := registry.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return meta
}

func TestParseRawQuery_KeepsPlus(t *testing.T) {
	values := ParseRawQuery("$filter=Name eq 'a+b'&$top=2&&$select=Name%2CPrice")
	if got := values.Get("$filter"); got != "Name eq 'a+b'" {
		t.Errorf("Expected filter to keep '+', got %q", got)
	}
	if got := values.Get("$top"); got != "2" {
		t.Errorf("Expected $top 2, got %q", got)
	}
	if got := values.Get("$select"); got != "Name,Price" {
		t.Errorf("Expected unescaped $select, got %q", got)
	}
}

func TestParseQueryOptions(t *testing.T) {
	meta := productMetadata(t)
	values := url.Values{
		"$top":     {"5"},
		"$skip":    {"10"},
		"$count":   {"true"},
		"$select":  {"Name,Price"},
		"$orderby": {"Price desc, Name"},
		"$expand":  {"Supplier($select=Name;$expand=Products($top=3))"},
		"$filter":  {" Price gt 5 "},
		"custom":   {"ignored"},
	}

	opts, err := ParseQueryOptions(values, meta, 0)
	if err != nil {
		t.Fatalf("ParseQueryOptions failed: %v", err)
	}
	if opts.Top == nil || *opts.Top != 5 {
		t.Errorf("Expected $top 5, got %v", opts.Top)
	}
	if opts.Skip == nil || *opts.Skip != 10 {
		t.Errorf("Expected $skip 10, got %v", opts.Skip)
	}
	if !opts.Count {
		t.Error("Expected $count to be true")
	}
	if strings.Join(opts.Select, ",") != "Name,Price" {
		t.Errorf("Expected select Name,Price, got %v", opts.Select)
	}
	if len(opts.OrderBy) != 2 || !opts.OrderBy[0].Descending || opts.OrderBy[1].Descending {
		t.Errorf("Unexpected orderby %+v", opts.OrderBy)
	}
	if opts.Filter != "Price gt 5" {
		t.Errorf("Expected raw filter, got %q", opts.Filter)
	}
	if len(opts.Expand) != 1 || opts.Expand[0].NavigationProperty != "Supplier" {
		t.Fatalf("Unexpected expand %+v", opts.Expand)
	}
	nested := opts.Expand[0]
	if len(nested.Select) != 1 || nested.Select[0] != "Name" {
		t.Errorf("Expected nested select Name, got %v", nested.Select)
	}
	if len(nested.Expand) != 1 || nested.Expand[0].Top == nil || *nested.Expand[0].Top != 3 {
		t.Errorf("Unexpected nested expand %+v", nested.Expand)
	}
}

func TestParseQueryOptions_Errors(t *testing.T) {
	meta := productMetadata(t)
	tests := []struct {
		name   string
		values url.Values
		depth  int
	}{
		{"negative top", url.Values{"$top": {"-1"}}, 0},
		{"non-numeric skip", url.Values{"$skip": {"x"}}, 0},
		{"bad count", url.Values{"$count": {"yes"}}, 0},
		{"unknown select", url.Values{"$select": {"Missing"}}, 0},
		{"unknown orderby", url.Values{"$orderby": {"Missing"}}, 0},
		{"orderby navigation", url.Values{"$orderby": {"Supplier"}}, 0},
		{"bad direction", url.Values{"$orderby": {"Name sideways"}}, 0},
		{"expand structural", url.Values{"$expand": {"Name"}}, 0},
		{"unsupported option", url.Values{"$search": {"x"}}, 0},
		{"unsupported nested option", url.Values{"$expand": {"Supplier($filter=true)"}}, 0},
		{"expand too deep", url.Values{"$expand": {"Supplier($expand=Products)"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQueryOptions(tt.values, meta, tt.depth)
			if !errors.Is(err, ErrInvalidQueryOption) {
				t.Errorf("Expected ErrInvalidQueryOption, got %v", err)
			}
		})
	}

	if _, err := ParseQueryOptions(url.Values{}, nil, 0); !errors.Is(err, ErrInvalidQueryOption) {
		t.Errorf("Expected ErrInvalidQueryOption for nil metadata, got %v", err)
	}
}

func TestForEntity_AppliesOptions(t *testing.T) {
	db, dialect := setupQueryBuilderTestDB(t)
	defer db.Close()
	meta := productMetadata(t)

	opts, err := ParseQueryOptions(url.Values{
		"$select":  {"Name"},
		"$orderby": {"Price desc"},
		"$top":     {"2"},
		"$skip":    {"1"},
	}, meta, 0)
	if err != nil {
		t.Fatalf("ParseQueryOptions failed: %v", err)
	}

	qb, err := ForEntity(db, dialect, meta, opts)
	if err != nil {
		t.Fatalf("ForEntity failed: %v", err)
	}
	sql, _ := qb.Build()
	expectedSQL := `SELECT "id", "name" FROM "products" ORDER BY "price" DESC LIMIT 2 OFFSET 1`
	if sql != expectedSQL {
		t.Errorf("Expected SQL %q, got %q", expectedSQL, sql)
	}

	rows, err := qb.Rows(context.Background())
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		names = append(names, name)
	}
	if strings.Join(names, ",") != "Product 2,Product 3" {
		t.Errorf("Expected Product 2,Product 3, got %v", names)
	}
}

func TestForEntity_RejectsNavigationSelect(t *testing.T) {
	meta := productMetadata(t)
	_, err := ForEntity(nil, "sqlite", meta, &QueryOptions{Select: []string{"Supplier"}})
	if !errors.Is(err, ErrInvalidQueryOption) {
		t.Errorf("Expected ErrInvalidQueryOption, got %v", err)
	}

	qb, err := ForEntity(nil, "sqlite", meta, &QueryOptions{Select: []string{"*"}})
	if err != nil {
		t.Fatalf("ForEntity failed: %v", err)
	}
	if sql, _ := qb.Build(); sql != `SELECT * FROM "products"` {
		t.Errorf("Unexpected SQL %q", sql)
	}
}
