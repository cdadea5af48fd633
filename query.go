package odata

import (
	"database/sql"

	"github.com/nlstn/go-odata-formatter/internal/query"
)

// SelectBuilder renders and runs the SELECT of an entity set.
type SelectBuilder = query.SelectBuilder

// SelectQuery parses rawQuery for entitySet and returns a SELECT over the
// entity set's table with $select, $orderby, $top and $skip applied and
// restricted by scopes. Use SelectBuilder.Count for $count.
//
//	qb, err := f.SelectQuery(db, "postgres", "Products", r.URL.RawQuery, odata.Where("tenant_id = ?", tenant))
//	rows, err := qb.Rows(ctx)
func (f *Formatter) SelectQuery(db *sql.DB, dialect, entitySet, rawQuery string, scopes ...QueryScope) (*SelectBuilder, error) {
	meta, err := f.entitySetMetadata(entitySet)
	if err != nil {
		return nil, err
	}
	opts, err := query.ParseQueryOptions(query.ParseRawQuery(rawQuery), meta, f.maxExpandDepth)
	if err != nil {
		return nil, err
	}
	qb, err := query.ForEntity(db, dialect, meta, opts, scopes...)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	logger := f.logger
	f.mu.RUnlock()
	return qb.WithLogger(logger), nil
}
