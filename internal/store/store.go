// Package store persists materialized entities and applies deltas to stored
// rows through GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nlstn/go-odata-formatter/internal/instance"
	"github.com/nlstn/go-odata-formatter/internal/metadata"
	"github.com/nlstn/go-odata-formatter/internal/scope"
)

var (
	// ErrNotFound is returned when no row matches the entity key.
	ErrNotFound = errors.New("entity not found")
	// ErrInvalidKey is returned when key values are missing or unknown.
	ErrInvalidKey = errors.New("invalid entity key")
	// ErrKeyImmutable is returned when a delta changes a key property.
	ErrKeyImmutable = errors.New("key properties cannot be changed")
	// ErrUnsupportedChange is returned for delta changes that have no column.
	ErrUnsupportedChange = errors.New("change cannot be persisted")
)

// Config selects the database.
type Config struct {
	// Dialect is "sqlite" or "postgres".
	Dialect string
	DSN     string
	Logger  *slog.Logger
}

// Store wraps a GORM database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the database described by cfg.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Dialect) {
	case "sqlite", "sqlite3", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(cfg.DSN, ":memory:") {
		// Every connection to an in-memory sqlite database sees its own database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, cfg.Logger), nil
}

// New wraps an existing GORM database.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// DB returns the underlying GORM database.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates or updates the tables of the given models.
func (s *Store) Migrate(models ...interface{}) error {
	if err := s.db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Create inserts entity, a Go struct pointer or a struct-backed object.
func (s *Store) Create(ctx context.Context, entity interface{}) error {
	value := instance.Unwrap(entity)
	if rv := reflect.ValueOf(value); rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("entity must be a non-nil struct pointer, got %T", entity)
	}
	return s.runInTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := callBeforeCreate(ctx, value); err != nil {
			return err
		}
		if err := tx.Create(value).Error; err != nil {
			return fmt.Errorf("failed to create entity: %w", err)
		}
		return callAfterCreate(ctx, value)
	})
}

// Patch loads the entity of meta identified by keys, applies delta and writes
// the changed columns. Scopes restrict the rows the key may match. The
// refreshed entity is returned.
func (s *Store) Patch(ctx context.Context, meta *metadata.TypeMetadata, keys map[string]interface{}, delta *instance.Delta, scopes ...scope.QueryScope) (interface{}, error) {
	if meta == nil || delta == nil {
		return nil, fmt.Errorf("metadata and delta are required")
	}

	entity := meta.New().Interface()
	err := s.runInTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		db, err := buildKeyQuery(tx.Model(entity), meta, keys)
		if err != nil {
			return err
		}
		for _, sc := range scopes {
			db = db.Where(sc.Condition, sc.Args...)
		}
		if err := db.First(entity).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s %v", ErrNotFound, meta.TypeName, keys)
			}
			return fmt.Errorf("failed to load entity: %w", err)
		}

		columns, err := changedColumns(meta, delta)
		if err != nil {
			return err
		}
		if err := delta.Patch(entity); err != nil {
			return fmt.Errorf("failed to apply delta: %w", err)
		}
		if err := callBeforeUpdate(ctx, entity); err != nil {
			return err
		}
		if len(columns) == 0 {
			return callAfterUpdate(ctx, entity)
		}

		entityVal := reflect.ValueOf(entity).Elem()
		updateData := make(map[string]interface{}, len(columns))
		for column, prop := range columns {
			updateData[column] = entityVal.FieldByIndex(prop.Index).Interface()
		}
		s.logger.Debug("Patching entity", "type", meta.TypeName, "columns", len(updateData))

		if err := tx.Model(entity).Updates(updateData).Error; err != nil {
			return fmt.Errorf("failed to update entity: %w", err)
		}
		if err := tx.First(entity).Error; err != nil {
			return fmt.Errorf("failed to reload entity: %w", err)
		}
		return callAfterUpdate(ctx, entity)
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// changedColumns maps the columns of the changed properties of delta to their
// property metadata.
func changedColumns(meta *metadata.TypeMetadata, delta *instance.Delta) (map[string]*metadata.PropertyMetadata, error) {
	if len(delta.ChangedDynamicProperties()) > 0 {
		return nil, fmt.Errorf("%w: dynamic properties %v", ErrUnsupportedChange, delta.ChangedDynamicProperties())
	}
	columns := make(map[string]*metadata.PropertyMetadata, len(delta.ChangedProperties()))
	for _, name := range delta.ChangedProperties() {
		prop := meta.FindProperty(name)
		if prop == nil {
			return nil, fmt.Errorf("%w: unknown property %s", ErrUnsupportedChange, name)
		}
		if prop.IsKey {
			return nil, fmt.Errorf("%w: %s", ErrKeyImmutable, name)
		}
		if prop.IsNavigationProp || prop.IsComplexType {
			return nil, fmt.Errorf("%w: %s is not stored in a column", ErrUnsupportedChange, name)
		}
		columns[prop.ColumnName] = prop
	}
	return columns, nil
}

func buildKeyQuery(db *gorm.DB, meta *metadata.TypeMetadata, keys map[string]interface{}) (*gorm.DB, error) {
	keyProps := meta.AllKeyProperties()
	if len(keys) != len(keyProps) {
		return nil, fmt.Errorf("%w: expected %d key values, got %d", ErrInvalidKey, len(keyProps), len(keys))
	}
	for _, prop := range keyProps {
		value, ok := keys[prop.EdmName()]
		if !ok {
			return nil, fmt.Errorf("%w: missing key property %s", ErrInvalidKey, prop.EdmName())
		}
		db = db.Where(db.Statement.Quote(prop.ColumnName)+" = ?", value)
	}
	return db, nil
}

// runInTransaction joins the transaction carried by ctx or opens a new one.
// fn receives a context carrying the transaction in use.
func (s *Store) runInTransaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		return fn(ctx, tx.WithContext(ctx))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTransaction(ctx, tx), tx)
	})
}
