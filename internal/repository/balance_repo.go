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

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// InsertIfAbsent creates b unless a record for b.EntityID exists. It reports
// whether this call created the row.
func (r *BalanceRepository) InsertIfAbsent(ctx context.Context, tx *gorm.DB, b *model.Balance) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}},
			DoNothing: true,
		}).
		Create(b)
	if result.Error != nil {
		return false, apperr.Storage("insert balance", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ApplyInitialGrant adds grant to a record that has not received it yet. It
// reports false when the grant was already applied or the record is missing.
func (r *BalanceRepository) ApplyInitialGrant(ctx context.Context, tx *gorm.DB, entityID string, grant money.Amount) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Balance{}).
		Where("entity_id = ? AND initial_grant_applied = ?", entityID, false).
		Updates(map[string]interface{}{
			"current_balance":       gorm.Expr("current_balance + ?", grant),
			"initial_grant_applied": true,
			"version":               gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, apperr.Storage("apply initial grant", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *BalanceRepository) Get(ctx context.Context, tx *gorm.DB, entityID string) (*model.Balance, error) {
	if tx == nil {
		tx = r.db
	}
	var b model.Balance
	err := tx.WithContext(ctx).Where("entity_id = ?", entityID).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("balance for entity %s", entityID)
		}
		return nil, apperr.Storage("get balance", err)
	}
	return &b, nil
}

func (r *BalanceRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, entityID string) (*model.Balance, error) {
	var b model.Balance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("entity_id = ?", entityID).
		First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("balance for entity %s", entityID)
		}
		return nil, apperr.Storage("lock balance", err)
	}
	return &b, nil
}

// Adjust adds delta to the balance in a single UPDATE and returns the value
// after the change. Concurrent adjustments never lose an update because the
// new value is computed by the database, not read back and rewritten.
func (r *BalanceRepository) Adjust(ctx context.Context, tx *gorm.DB, entityID string, delta money.Amount) (money.Amount, error) {
	var after money.Amount
	err := inTx(ctx, r.db, tx, func(tx *gorm.DB) error {
		result := tx.Model(&model.Balance{}).
			Where("entity_id = ?", entityID).
			Updates(map[string]interface{}{
				"current_balance": gorm.Expr("current_balance + ?", delta),
				"version":         gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return apperr.Storage("adjust balance", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.NotFound("balance for entity %s", entityID)
		}
		b, err := r.Get(ctx, tx, entityID)
		if err != nil {
			return err
		}
		after = b.CurrentBalance
		return nil
	})
	return after, err
}

// Debit subtracts amount only while the balance covers it. It returns
// ErrInsufficientCredits and leaves the balance untouched otherwise.
func (r *BalanceRepository) Debit(ctx context.Context, tx *gorm.DB, entityID string, amount money.Amount) (money.Amount, error) {
	var after money.Amount
	err := inTx(ctx, r.db, tx, func(tx *gorm.DB) error {
		result := tx.Model(&model.Balance{}).
			Where("entity_id = ? AND current_balance >= ?", entityID, amount).
			Updates(map[string]interface{}{
				"current_balance": gorm.Expr("current_balance - ?", amount),
				"version":         gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return apperr.Storage("debit balance", result.Error)
		}
		b, err := r.Get(ctx, tx, entityID)
		if err != nil {
			return err
		}
		if result.RowsAffected == 0 {
			return ErrInsufficientCredits
		}
		after = b.CurrentBalance
		return nil
	})
	return after, err
}

// Set overwrites the balance. The caller records the difference in the
// ledger inside the same transaction.
func (r *BalanceRepository) Set(ctx context.Context, tx *gorm.DB, entityID string, amount money.Amount) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Balance{}).
		Where("entity_id = ?", entityID).
		Updates(map[string]interface{}{
			"current_balance": amount,
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return apperr.Storage("set balance", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("balance for entity %s", entityID)
	}
	return nil
}
