package store

import (
	"context"

	"gorm.io/gorm"
)

// Context keys for request-scoped values
type contextKey string

const transactionDBKey contextKey = "odata_transaction_db"

// WithTransaction attaches tx to ctx. Store operations given the returned
// context join tx instead of opening their own transaction.
func WithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, transactionDBKey, tx)
}

// TransactionFromContext returns the transaction attached to ctx.
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(transactionDBKey).(*gorm.DB)
	return tx, ok && tx != nil
}
