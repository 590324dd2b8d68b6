package repository

import (
	"context"
	"errors"

	"creditledger/internal/apperr"
	"creditledger/internal/model"
	"creditledger/pkg/money"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository only ever inserts. There is no update or delete path.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append inserts trans. A row with the same (type, source_id) already present
// is left alone and reported as inserted=false.
func (r *LedgerRepository) Append(ctx context.Context, tx *gorm.DB, trans *model.LedgerTransaction) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}, {Name: "source_id"}},
			DoNothing: true,
		}).
		Create(trans)
	if result.Error != nil {
		return false, apperr.Storage("append ledger transaction", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// GetBySource returns nil, nil when nothing was posted for the source.
func (r *LedgerRepository) GetBySource(ctx context.Context, tx *gorm.DB, typ model.TransactionType, sourceID string) (*model.LedgerTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.LedgerTransaction
	err := tx.WithContext(ctx).
		Where("type = ? AND source_id = ?", typ, sourceID).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.Storage("get ledger transaction", err)
	}
	return &trans, nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*model.LedgerTransaction, error) {
	var trans model.LedgerTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("ledger transaction %s", id)
		}
		return nil, apperr.Storage("get ledger transaction", err)
	}
	return &trans, nil
}

func (r *LedgerRepository) ListByEntity(ctx context.Context, entityID string, page, pageSize int) ([]*model.LedgerTransaction, int64, error) {
	var transactions []*model.LedgerTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerTransaction{}).Where("entity_id = ?", entityID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperr.Storage("count ledger transactions", err)
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error
	if err != nil {
		return nil, 0, apperr.Storage("list ledger transactions", err)
	}
	return transactions, total, nil
}

// SumByEntity returns the signed total of every row posted for the entity.
func (r *LedgerRepository) SumByEntity(ctx context.Context, tx *gorm.DB, entityID string) (money.Amount, error) {
	if tx == nil {
		tx = r.db
	}
	var sum int64
	err := tx.WithContext(ctx).
		Model(&model.LedgerTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("entity_id = ?", entityID).
		Scan(&sum).Error
	if err != nil {
		return 0, apperr.Storage("sum ledger transactions", err)
	}
	return money.Amount(sum), nil
}
