package odata

import (
	"context"

	"gorm.io/gorm"

	"github.com/nlstn/go-odata-formatter/internal/store"
)

// WithTransaction attaches tx to ctx. Store writes made with the returned
// context, such as Formatter.Patch, join tx instead of opening their own
// transaction, so they commit or roll back together with the caller's work.
func WithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return store.WithTransaction(ctx, tx)
}

// TransactionFromContext returns the transaction attached to ctx with
// WithTransaction.
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	return store.TransactionFromContext(ctx)
}
