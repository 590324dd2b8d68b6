package repository

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BillableEventRepository struct {
	db *gorm.DB
}

func NewBillableEventRepository(db *gorm.DB) *BillableEventRepository {
	return &BillableEventRepository{db: db}
}

// CreateIfAbsent inserts the event unless one with the same source ref (or
// id) exists, and reports whether it was inserted.
func (r *BillableEventRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, event *model.BillableEvent) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return false, apperr.Storage("create billable event", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *BillableEventRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.BillableEvent, error) {
	if tx == nil {
		tx = r.db
	}
	var event model.BillableEvent
	err := tx.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("billable event %s", id)
		}
		return nil, apperr.Storage("get billable event", err)
	}
	return &event, nil
}

// GetBySourceRef returns nil, nil when no event carries the reference.
func (r *BillableEventRepository) GetBySourceRef(ctx context.Context, sourceRef string) (*model.BillableEvent, error) {
	var event model.BillableEvent
	err := r.db.WithContext(ctx).Where("source_ref = ?", sourceRef).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.Storage("get billable event by source ref", err)
	}
	return &event, nil
}

func (r *BillableEventRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.BillableEvent, error) {
	var event model.BillableEvent
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("billable event %s", id)
		}
		return nil, apperr.Storage("lock billable event", err)
	}
	return &event, nil
}

// UpdateStatus moves the event from one status to another. The WHERE on the
// current status makes a concurrent second transition fail with
// ErrStatusTransition instead of overwriting the first.
func (r *BillableEventRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, from, to model.BillableEventStatus) error {
	if !from.CanTransitionTo(to) {
		return ErrStatusTransition
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.BillableEvent{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)

	if result.Error != nil {
		return apperr.Storage("update billable event status", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrStatusTransition
	}

	return nil
}

// ListStalePending returns events still waiting for a credit check that were
// last touched before the cutoff, oldest first.
func (r *BillableEventRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.BillableEvent, error) {
	var events []*model.BillableEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.EventStatusPendingCreditCheck, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, apperr.Storage("list pending billable events", err)
	}
	return events, nil
}

func (r *BillableEventRepository) ListByEntity(ctx context.Context, entityID string, page, pageSize int) ([]*model.BillableEvent, int64, error) {
	var events []*model.BillableEvent
	var total int64

	query := r.db.WithContext(ctx).Model(&model.BillableEvent{}).Where("entity_id = ?", entityID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperr.Storage("count billable events", err)
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&events).Error
	if err != nil {
		return nil, 0, apperr.Storage("list billable events", err)
	}
	return events, total, nil
}
