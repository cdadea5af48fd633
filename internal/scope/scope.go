// Package scope carries row restrictions applied by store operations, such as
// tenant conditions.
package scope

// QueryScope is a SQL predicate ANDed to the key lookup of a stored entity.
type QueryScope struct {
	// Condition is a WHERE fragment with ? placeholders, e.g. "tenant_id = ?".
	Condition string
	Args      []interface{}
}

// Where builds a QueryScope.
func Where(condition string, args ...interface{}) QueryScope {
	return QueryScope{Condition: condition, Args: args}
}
