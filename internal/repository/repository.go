package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrStatusTransition    = errors.New("status transition not allowed")
)

// inTx runs fn inside tx when given, otherwise inside a new transaction.
func inTx(ctx context.Context, db, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx.WithContext(ctx))
	}
	return db.WithContext(ctx).Transaction(fn)
}
