package service

import (
	"context"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/config"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/idgen"
	"creditledger/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// Balance store
// ============================================================================
//
// A balance moves from Uninitialized to Initialized(balance) exactly once, and
// the move carries the initial grant:
//
//   no record                    -> INSERT ... ON CONFLICT DO NOTHING
//                                   (balance = grant, applied = true)
//   record with applied = false  -> UPDATE ... WHERE applied = false
//                                   (balance += grant, applied = true)
//   record with applied = true   -> read
//
// Both writes are single statements, so concurrent first reads grant once.
// Credits that reach an entity before its first read create the record
// with applied = false and never grant.
//
// Every change after that is a single UPDATE computing the new balance in
// the database (Adjust / Debit). Nothing reads a balance and writes it back.
//
// ============================================================================

type BalanceService struct {
	db           *gorm.DB
	log          *zap.Logger
	metrics      *metrics.Metrics
	initialGrant money.Amount
	queryTimeout time.Duration
	balanceRepo  *repository.BalanceRepository
	ledger       *LedgerService
}

func NewBalanceService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, log *zap.Logger, m *metrics.Metrics) *BalanceService {
	return &BalanceService{
		db:           db,
		log:          log.Named("balance.service"),
		metrics:      m,
		initialGrant: cfg.Billing.InitialGrant,
		queryTimeout: cfg.Database.QueryTimeout,
		balanceRepo:  repository.NewBalanceRepository(db),
		ledger:       ledger,
	}
}

// GetBalance returns the entity's balance, initializing it with the initial
// grant on first access.
func (s *BalanceService) GetBalance(ctx context.Context, entity model.EntityRef) (money.Amount, error) {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return 0, err
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	var (
		balance *model.Balance
		granted bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, granted, err = s.initialize(ctx, tx, entity)
		return err
	})
	if err != nil {
		return 0, err
	}

	if granted {
		s.grantApplied(entity)
	}
	return balance.CurrentBalance, nil
}

// initialize runs the Uninitialized -> Initialized transition inside tx and
// returns the record. granted reports whether this call applied the grant.
func (s *BalanceService) initialize(ctx context.Context, tx *gorm.DB, entity model.EntityRef) (*model.Balance, bool, error) {
	created, err := s.balanceRepo.InsertIfAbsent(ctx, tx, &model.Balance{
		EntityID:            entity.ID,
		EntityType:          entity.Type,
		CurrentBalance:      s.initialGrant,
		InitialGrantApplied: true,
	})
	if err != nil {
		return nil, false, err
	}

	granted := created
	if !created {
		granted, err = s.balanceRepo.ApplyInitialGrant(ctx, tx, entity.ID, s.initialGrant)
		if err != nil {
			return nil, false, err
		}
	}

	balance, err := s.balanceRepo.Get(ctx, tx, entity.ID)
	if err != nil {
		return nil, false, err
	}

	if granted && !s.initialGrant.IsZero() {
		_, err = s.ledger.post(ctx, tx, Posting{
			Entity:       entity,
			Amount:       s.initialGrant,
			Type:         model.TransactionTypeInitial,
			SourceID:     entity.ID,
			Description:  "initial grant",
			BalanceAfter: balance.CurrentBalance,
		})
		if err != nil {
			return nil, false, err
		}
	}
	return balance, granted, nil
}

func (s *BalanceService) grantApplied(entity model.EntityRef) {
	if s.initialGrant.IsZero() {
		return
	}
	s.metrics.RecordLedgerTransaction(string(model.TransactionTypeInitial))
	s.log.Info("initial grant applied",
		zap.String("entity_type", string(entity.Type)),
		zap.String("entity_id", entity.ID),
		zap.String("amount", s.initialGrant.String()),
	)
}

// ensureRecord creates a zero balance that has not received the grant yet.
// Credit paths use it so they never grant as a side effect.
func (s *BalanceService) ensureRecord(ctx context.Context, tx *gorm.DB, entity model.EntityRef) error {
	_, err := s.balanceRepo.InsertIfAbsent(ctx, tx, &model.Balance{
		EntityID:   entity.ID,
		EntityType: entity.Type,
	})
	return err
}

// GetRawBalance reads the stored balance without initializing it. A missing
// record reads as 0.
func (s *BalanceService) GetRawBalance(ctx context.Context, entityID string) (money.Amount, error) {
	if entityID == "" {
		return 0, apperr.Validation("entity id is required")
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	b, err := s.balanceRepo.Get(ctx, nil, entityID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return b.CurrentBalance, nil
}

// SetBalance overwrites an existing balance and posts the difference as a
// manual adjustment. Missing records are a NotFound error.
func (s *BalanceService) SetBalance(ctx context.Context, entityID string, amount money.Amount) error {
	if entityID == "" {
		return apperr.Validation("entity id is required")
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	var posted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.balanceRepo.GetForUpdate(ctx, tx, entityID)
		if err != nil {
			return err
		}
		if err := s.balanceRepo.Set(ctx, tx, entityID, amount); err != nil {
			return err
		}

		diff := amount - current.CurrentBalance
		if diff.IsZero() {
			return nil
		}
		_, err = s.ledger.post(ctx, tx, Posting{
			Entity:       current.Entity(),
			Amount:       diff,
			Type:         model.TransactionTypeManualAdjustment,
			SourceID:     idgen.GenerateAdjustmentNo(),
			Description:  "balance set to " + amount.String(),
			BalanceAfter: amount,
		})
		posted = err == nil
		return err
	})
	if err != nil {
		return err
	}

	if posted {
		s.metrics.RecordLedgerTransaction(string(model.TransactionTypeManualAdjustment))
	}
	s.log.Info("balance set", zap.String("entity_id", entityID), zap.String("amount", amount.String()))
	return nil
}

// AddAmount applies delta atomically and posts it as a manual adjustment.
// A missing record is created without the initial grant.
func (s *BalanceService) AddAmount(ctx context.Context, entity model.EntityRef, delta money.Amount, description string) (*model.LedgerTransaction, error) {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return nil, err
	}
	if delta.IsZero() {
		return nil, apperr.Validation("amount must not be zero")
	}
	if description == "" {
		description = "manual adjustment"
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	var trans *model.LedgerTransaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureRecord(ctx, tx, entity); err != nil {
			return err
		}
		after, err := s.balanceRepo.Adjust(ctx, tx, entity.ID, delta)
		if err != nil {
			return err
		}
		trans, err = s.ledger.post(ctx, tx, Posting{
			Entity:       entity,
			Amount:       delta,
			Type:         model.TransactionTypeManualAdjustment,
			SourceID:     idgen.GenerateAdjustmentNo(),
			Description:  description,
			BalanceAfter: after,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLedgerTransaction(string(model.TransactionTypeManualAdjustment))
	s.log.Info("balance adjusted",
		zap.String("entity_type", string(entity.Type)),
		zap.String("entity_id", entity.ID),
		zap.String("delta", delta.String()),
		zap.String("balance_after", trans.BalanceAfter.String()),
	)
	return trans, nil
}

// AtomicAdjust adds delta to an existing balance in one statement and
// returns the new value. It does not write the ledger; ledgered changes go
// through AddAmount or the billing and payment services.
func (s *BalanceService) AtomicAdjust(ctx context.Context, entityID string, delta money.Amount) (money.Amount, error) {
	if entityID == "" {
		return 0, apperr.Validation("entity id is required")
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.balanceRepo.Adjust(ctx, nil, entityID, delta)
}
