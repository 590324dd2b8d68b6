package repository

import (
	"context"

	"creditledger/internal/apperr"
	"creditledger/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create must run in the transaction that performs the change the message
// announces.
func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	if err := tx.WithContext(ctx).Create(msg).Error; err != nil {
		return apperr.Storage("create outbox message", err)
	}
	return nil
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, apperr.Storage("list pending outbox messages", err)
	}
	return messages, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", model.OutboxStatusSent).Error
	return apperr.Storage("mark outbox message sent", err)
}

func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
	return apperr.Storage("increment outbox retry", err)
}

func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
	return apperr.Storage("mark outbox message failed", err)
}

func (r *OutboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("status = ?", status).
		Count(&n).Error
	if err != nil {
		return 0, apperr.Storage("count outbox messages", err)
	}
	return n, nil
}
