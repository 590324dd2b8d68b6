package service

import (
	"context"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/idgen"
	"creditledger/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxPageSize = 100

// Posting is one balance change to record.
type Posting struct {
	Entity            model.EntityRef
	Amount            money.Amount
	Type              model.TransactionType
	SourceID          string
	Description       string
	ProviderReference *string
	BalanceAfter      money.Amount
}

// Verification compares an entity's stored balance with its ledger.
type Verification struct {
	EntityID   string       `json:"entity_id"`
	Balance    money.Amount `json:"balance"`
	LedgerSum  money.Amount `json:"ledger_sum"`
	Consistent bool         `json:"consistent"`
}

type LedgerService struct {
	db           *gorm.DB
	log          *zap.Logger
	queryTimeout time.Duration
	ledgerRepo   *repository.LedgerRepository
	balanceRepo  *repository.BalanceRepository
}

func NewLedgerService(db *gorm.DB, cfg *config.Config, log *zap.Logger) *LedgerService {
	return &LedgerService{
		db:           db,
		log:          log.Named("ledger.service"),
		queryTimeout: cfg.Database.QueryTimeout,
		ledgerRepo:   repository.NewLedgerRepository(db),
		balanceRepo:  repository.NewBalanceRepository(db),
	}
}

// post appends p inside tx. A second posting for the same (type, source) is a
// conflict: it would count the same balance change twice.
func (s *LedgerService) post(ctx context.Context, tx *gorm.DB, p Posting) (*model.LedgerTransaction, error) {
	if !p.Type.Valid() {
		return nil, apperr.Validation("unknown transaction type %q", p.Type)
	}
	trans := &model.LedgerTransaction{
		ID:                idgen.GenerateTransactionNo(),
		EntityID:          p.Entity.ID,
		EntityType:        p.Entity.Type,
		Amount:            p.Amount,
		Type:              p.Type,
		SourceID:          p.SourceID,
		Description:       truncate(p.Description, 256),
		ProviderReference: p.ProviderReference,
		BalanceAfter:      p.BalanceAfter,
	}
	inserted, err := s.ledgerRepo.Append(ctx, tx, trans)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, apperr.Conflict("%s transaction for %s already posted", p.Type, p.SourceID)
	}
	return trans, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, entityID string, page, pageSize int) ([]*model.LedgerTransaction, int64, error) {
	if entityID == "" {
		return nil, 0, apperr.Validation("entity id is required")
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = 20
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.ledgerRepo.ListByEntity(ctx, entityID, page, pageSize)
}

func (s *LedgerService) GetTransaction(ctx context.Context, id string) (*model.LedgerTransaction, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.ledgerRepo.GetByID(ctx, id)
}

// VerifyEntity reads the balance and the ledger sum in one transaction. An
// entity without a balance record verifies against 0.
func (s *LedgerService) VerifyEntity(ctx context.Context, entityID string) (*Verification, error) {
	if entityID == "" {
		return nil, apperr.Validation("entity id is required")
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	v := &Verification{EntityID: entityID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.balanceRepo.Get(ctx, tx, entityID)
		switch {
		case err == nil:
			v.Balance = b.CurrentBalance
		case apperr.IsNotFound(err):
		default:
			return err
		}

		sum, err := s.ledgerRepo.SumByEntity(ctx, tx, entityID)
		if err != nil {
			return err
		}
		v.LedgerSum = sum
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.Consistent = v.Balance == v.LedgerSum
	if !v.Consistent {
		s.log.Warn("ledger does not match balance",
			zap.String("entity_id", entityID),
			zap.String("balance", v.Balance.String()),
			zap.String("ledger_sum", v.LedgerSum.String()),
		)
	}
	return v, nil
}
