package query

import (
	"database/sql"
	"fmt"

	"github.com/nlstn/go-odata-formatter/internal/metadata"
	"github.com/nlstn/go-odata-formatter/internal/scope"
)

// ForEntity returns a builder over the table of meta with opts and scopes
// applied. Selected and ordered properties are mapped to their columns; key
// columns are always selected.
func ForEntity(db *sql.DB, dialect string, meta *metadata.TypeMetadata, opts *QueryOptions, scopes ...scope.QueryScope) (*SelectBuilder, error) {
	qb := NewSelectBuilder(db, dialect).From(meta.TableName).Scoped(scopes...)
	if opts == nil {
		return qb, nil
	}

	columns, err := selectColumns(meta, opts.Select)
	if err != nil {
		return nil, err
	}
	qb.Columns(columns...)

	for _, item := range opts.OrderBy {
		prop := meta.FindProperty(item.Property)
		if prop == nil || prop.IsNavigationProp || prop.IsComplexType {
			return nil, fmt.Errorf("%w: property %s has no column", ErrInvalidQueryOption, item.Property)
		}
		qb.OrderBy(prop.ColumnName, item.Descending)
	}
	return qb.Page(opts.Top, opts.Skip), nil
}

func selectColumns(meta *metadata.TypeMetadata, selected []string) ([]string, error) {
	if len(selected) == 0 {
		return nil, nil
	}
	seen := map[string]bool{}
	var columns []string
	add := func(column string) {
		if !seen[column] {
			seen[column] = true
			columns = append(columns, column)
		}
	}

	for _, key := range meta.AllKeyProperties() {
		add(key.ColumnName)
	}
	for _, name := range selected {
		if name == "*" {
			return nil, nil
		}
		prop := meta.FindProperty(name)
		if prop == nil {
			// Dynamic properties of open types are not stored in columns.
			continue
		}
		if prop.IsNavigationProp || prop.IsComplexType || prop.IsDynamic {
			return nil, fmt.Errorf("%w: $select of %s is not supported for SQL queries", ErrInvalidQueryOption, name)
		}
		add(prop.ColumnName)
	}
	return columns, nil
}
