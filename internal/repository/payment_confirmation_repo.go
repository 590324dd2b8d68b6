package repository

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/model"
	"creditledger/pkg/money"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentConfirmationRepository struct {
	db *gorm.DB
}

func NewPaymentConfirmationRepository(db *gorm.DB) *PaymentConfirmationRepository {
	return &PaymentConfirmationRepository{db: db}
}

// InsertIfAbsent claims the confirmation. It reports false when a row with
// the same id or provider order id already exists; the existing row is left
// untouched.
func (r *PaymentConfirmationRepository) InsertIfAbsent(ctx context.Context, c *model.PaymentConfirmation) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(c)
	if result.Error != nil {
		return false, apperr.Storage("insert payment confirmation", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *PaymentConfirmationRepository) GetByID(ctx context.Context, id string) (*model.PaymentConfirmation, error) {
	var c model.PaymentConfirmation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("payment confirmation %s", id)
		}
		return nil, apperr.Storage("get payment confirmation", err)
	}
	return &c, nil
}

// GetByProviderOrderID returns nil, nil when the order was never seen.
func (r *PaymentConfirmationRepository) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*model.PaymentConfirmation, error) {
	var c model.PaymentConfirmation
	err := r.db.WithContext(ctx).Where("provider_order_id = ?", providerOrderID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.Storage("get payment confirmation by order", err)
	}
	return &c, nil
}

func (r *PaymentConfirmationRepository) MarkProcessed(ctx context.Context, tx *gorm.DB, id string, granted money.Amount, at time.Time) error {
	return r.transition(ctx, tx, id, model.ConfirmationStatusProcessed, map[string]interface{}{
		"status":         model.ConfirmationStatusProcessed,
		"granted_amount": granted,
		"processed_at":   &at,
	})
}

func (r *PaymentConfirmationRepository) MarkFailed(ctx context.Context, tx *gorm.DB, id string, reason string) error {
	return r.transition(ctx, tx, id, model.ConfirmationStatusFailed, map[string]interface{}{
		"status":         model.ConfirmationStatusFailed,
		"failure_reason": &reason,
	})
}

func (r *PaymentConfirmationRepository) transition(ctx context.Context, tx *gorm.DB, id string, to model.ConfirmationStatus, updates map[string]interface{}) error {
	if !model.ConfirmationStatusPending.CanTransitionTo(to) {
		return ErrStatusTransition
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.PaymentConfirmation{}).
		Where("id = ? AND status = ?", id, model.ConfirmationStatusPending).
		Updates(updates)

	if result.Error != nil {
		return apperr.Storage("update payment confirmation", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrStatusTransition
	}

	return nil
}

// ListStalePending returns confirmations stuck in pending_processing since
// before the cutoff.
func (r *PaymentConfirmationRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.PaymentConfirmation, error) {
	var list []*model.PaymentConfirmation
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.ConfirmationStatusPending, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, apperr.Storage("list pending payment confirmations", err)
	}
	return list, nil
}
