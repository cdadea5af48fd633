package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-formatter/internal/scope"
)

// SelectBuilder renders the SELECT of one entity table for a dialect
// ("sqlite", "postgres" or "mysql"). Conditions use ? placeholders; they are
// rebound to $n for postgres.
type SelectBuilder struct {
	db         *sql.DB
	dialect    string
	table      string
	columns    []string
	conditions []condition
	orderBy    []string
	limit      *int
	offset     int
	logger     *slog.Logger
}

type condition struct {
	sql  string
	args []interface{}
}

// NewSelectBuilder creates a builder for the given database and dialect.
func NewSelectBuilder(db *sql.DB, dialect string) *SelectBuilder {
	return &SelectBuilder{
		db:      db,
		dialect: strings.ToLower(dialect),
		logger:  slog.Default(),
	}
}

// From sets the table. Schema-qualified names are quoted per part.
func (qb *SelectBuilder) From(table string) *SelectBuilder {
	qb.table = table
	return qb
}

// Columns adds column names to the select list; they are quoted when rendered.
// Without columns every column is selected.
func (qb *SelectBuilder) Columns(names ...string) *SelectBuilder {
	qb.columns = append(qb.columns, names...)
	return qb
}

// Where adds a condition; conditions are ANDed.
func (qb *SelectBuilder) Where(sql string, args ...interface{}) *SelectBuilder {
	qb.conditions = append(qb.conditions, condition{sql: sql, args: args})
	return qb
}

// Scoped adds the conditions of scopes.
func (qb *SelectBuilder) Scoped(scopes ...scope.QueryScope) *SelectBuilder {
	for _, sc := range scopes {
		if sc.Condition == "" {
			continue
		}
		qb.Where("("+sc.Condition+")", sc.Args...)
	}
	return qb
}

// OrderBy appends a sort on column.
func (qb *SelectBuilder) OrderBy(column string, descending bool) *SelectBuilder {
	direction := "ASC"
	if descending {
		direction = "DESC"
	}
	qb.orderBy = append(qb.orderBy, quoteIdentifier(qb.dialect, column)+" "+direction)
	return qb
}

// Page applies $top and $skip; nil leaves the bound unset.
func (qb *SelectBuilder) Page(top, skip *int) *SelectBuilder {
	if top != nil {
		n := *top
		qb.limit = &n
	}
	if skip != nil {
		qb.offset = *skip
	}
	return qb
}

// WithLogger sets the logger used for debug output of executed statements.
func (qb *SelectBuilder) WithLogger(logger *slog.Logger) *SelectBuilder {
	if logger != nil {
		qb.logger = logger
	}
	return qb
}

// Clone copies the builder so further clauses do not affect qb.
func (qb *SelectBuilder) Clone() *SelectBuilder {
	clone := *qb
	clone.columns = append([]string(nil), qb.columns...)
	clone.conditions = append([]condition(nil), qb.conditions...)
	clone.orderBy = append([]string(nil), qb.orderBy...)
	if qb.limit != nil {
		n := *qb.limit
		clone.limit = &n
	}
	return &clone
}

// Build renders the statement and its arguments.
func (qb *SelectBuilder) Build() (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(qb.columns) == 0 {
		b.WriteString("*")
	} else {
		for i, column := range qb.columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteIdentifier(qb.dialect, column))
		}
	}
	args := qb.writeFromWhere(&b)

	if len(qb.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(qb.orderBy, ", "))
	}
	switch {
	case qb.limit != nil:
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(*qb.limit))
	case qb.offset > 0 && qb.dialect == "mysql":
		// MySQL has no OFFSET without LIMIT.
		b.WriteString(" LIMIT 18446744073709551615")
	}
	if qb.offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(qb.offset))
	}
	return qb.rebind(b.String()), args
}

// BuildCount renders the $count statement: conditions apply, paging and
// ordering do not.
func (qb *SelectBuilder) BuildCount() (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*)")
	args := qb.writeFromWhere(&b)
	return qb.rebind(b.String()), args
}

func (qb *SelectBuilder) writeFromWhere(b *strings.Builder) []interface{} {
	if qb.table != "" {
		b.WriteString(" FROM ")
		b.WriteString(quoteTableName(qb.dialect, qb.table))
	}
	var args []interface{}
	for i, c := range qb.conditions {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(c.sql)
		args = append(args, c.args...)
	}
	return args
}

// Rows executes the statement.
func (qb *SelectBuilder) Rows(ctx context.Context) (*sql.Rows, error) {
	if qb.db == nil {
		return nil, fmt.Errorf("query builder has no database")
	}
	query, args := qb.Build()
	qb.logger.Debug("Executing query", "sql", query, "args", args)
	return qb.db.QueryContext(ctx, query, args...)
}

// Count executes the $count statement.
func (qb *SelectBuilder) Count(ctx context.Context) (int64, error) {
	if qb.db == nil {
		return 0, fmt.Errorf("query builder has no database")
	}
	query, args := qb.BuildCount()
	qb.logger.Debug("Executing count query", "sql", query, "args", args)

	var count int64
	if err := qb.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return count, nil
}

// rebind numbers ? placeholders for postgres, leaving quoted literals alone.
func (qb *SelectBuilder) rebind(query string) string {
	if qb.dialect != "postgres" && qb.dialect != "postgresql" {
		return query
	}
	var b strings.Builder
	n := 0
	inLiteral := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inLiteral = !inLiteral
			b.WriteByte(c)
		case c == '?' && !inLiteral:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func quoteTableName(dialect, table string) string {
	parts := strings.Split(table, ".")
	for i, part := range parts {
		parts[i] = quoteIdentifier(dialect, part)
	}
	return strings.Join(parts, ".")
}

func quoteIdentifier(dialect, name string) string {
	if name == "*" {
		return name
	}
	if dialect == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
