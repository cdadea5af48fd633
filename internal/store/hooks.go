package store

import (
	"context"
	"fmt"
)

// Entities may implement these hooks. They run inside the write transaction;
// TransactionFromContext on the given context returns it. An error rolls the
// write back.
type (
	BeforeCreateHook interface {
		ODataBeforeCreate(ctx context.Context) error
	}
	AfterCreateHook interface {
		ODataAfterCreate(ctx context.Context) error
	}
	BeforeUpdateHook interface {
		ODataBeforeUpdate(ctx context.Context) error
	}
	AfterUpdateHook interface {
		ODataAfterUpdate(ctx context.Context) error
	}
)

func callBeforeCreate(ctx context.Context, entity interface{}) error {
	if h, ok := entity.(BeforeCreateHook); ok {
		if err := h.ODataBeforeCreate(ctx); err != nil {
			return fmt.Errorf("before create hook: %w", err)
		}
	}
	return nil
}

func callAfterCreate(ctx context.Context, entity interface{}) error {
	if h, ok := entity.(AfterCreateHook); ok {
		if err := h.ODataAfterCreate(ctx); err != nil {
			return fmt.Errorf("after create hook: %w", err)
		}
	}
	return nil
}

func callBeforeUpdate(ctx context.Context, entity interface{}) error {
	if h, ok := entity.(BeforeUpdateHook); ok {
		if err := h.ODataBeforeUpdate(ctx); err != nil {
			return fmt.Errorf("before update hook: %w", err)
		}
	}
	return nil
}

func callAfterUpdate(ctx context.Context, entity interface{}) error {
	if h, ok := entity.(AfterUpdateHook); ok {
		if err := h.ODataAfterUpdate(ctx); err != nil {
			return fmt.Errorf("after update hook: %w", err)
		}
	}
	return nil
}
