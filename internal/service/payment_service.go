package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/config"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reasonAbandoned = "abandoned in pending_processing"

// ConfirmationRequest is a payment notification whose signature the caller
// has already verified.
type ConfirmationRequest struct {
	IdempotencyID   string
	ProviderOrderID string
	Entity          model.EntityRef
	Amount          money.Amount
	RawPayload      string
}

type ConfirmationResult struct {
	Confirmation *model.PaymentConfirmation
	// AlreadyHandled is set when the provider order was seen before. Nothing
	// was credited by this call.
	AlreadyHandled bool
	BalanceAfter   money.Amount
}

type PaymentService struct {
	db           *gorm.DB
	log          *zap.Logger
	metrics      *metrics.Metrics
	topic        string
	queryTimeout time.Duration
	confirmRepo  *repository.PaymentConfirmationRepository
	balanceRepo  *repository.BalanceRepository
	ledgerRepo   *repository.LedgerRepository
	outboxRepo   *repository.OutboxRepository
	balances     *BalanceService
	ledger       *LedgerService
}

func NewPaymentService(db *gorm.DB, cfg *config.Config, balances *BalanceService, ledger *LedgerService, log *zap.Logger, m *metrics.Metrics) *PaymentService {
	return &PaymentService{
		db:           db,
		log:          log.Named("payment.service"),
		metrics:      m,
		topic:        cfg.Kafka.Topic.PaymentEvents,
		queryTimeout: cfg.Database.QueryTimeout,
		confirmRepo:  repository.NewPaymentConfirmationRepository(db),
		balanceRepo:  repository.NewBalanceRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		balances:     balances,
		ledger:       ledger,
	}
}

func (r *ConfirmationRequest) validate() (model.EntityRef, error) {
	r.IdempotencyID = strings.TrimSpace(r.IdempotencyID)
	r.ProviderOrderID = strings.TrimSpace(r.ProviderOrderID)
	if r.IdempotencyID == "" {
		return model.EntityRef{}, apperr.Validation("idempotency id is required")
	}
	if len(r.IdempotencyID) > 64 {
		return model.EntityRef{}, apperr.Validation("idempotency id longer than 64 characters")
	}
	if r.ProviderOrderID == "" {
		return model.EntityRef{}, apperr.Validation("provider order id is required")
	}
	if len(r.ProviderOrderID) > 128 {
		return model.EntityRef{}, apperr.Validation("provider order id longer than 128 characters")
	}
	if !r.Amount.IsPositive() {
		return model.EntityRef{}, apperr.Validation("credit amount must be positive, got %s", r.Amount)
	}
	return normalizeEntity(r.Entity)
}

// ProcessConfirmation credits a verified payment exactly once per provider
// order.
//
// The confirmation row is inserted first and the unique provider_order_id
// decides who credits: a losing insert means the order was already handled
// and the call returns success without crediting. The winner credits,
// posts the recharge and marks the row processed in one transaction. If
// that transaction fails the row is marked failed and the error is
// returned as a storage error so the sender retries; the retry then lands
// on the already-handled branch.
func (s *PaymentService) ProcessConfirmation(ctx context.Context, req *ConfirmationRequest) (*ConfirmationResult, error) {
	entity, err := req.validate()
	if err != nil {
		s.metrics.RecordConfirmation("rejected")
		return nil, err
	}

	record := &model.PaymentConfirmation{
		ID:              req.IdempotencyID,
		ProviderOrderID: req.ProviderOrderID,
		EntityID:        entity.ID,
		EntityType:      entity.Type,
		RequestedAmount: req.Amount,
		Status:          model.ConfirmationStatusPending,
		RawPayload:      req.RawPayload,
	}

	insertCtx, cancel := withTimeout(ctx, s.queryTimeout)
	inserted, err := s.confirmRepo.InsertIfAbsent(insertCtx, record)
	var existing *model.PaymentConfirmation
	if err == nil && !inserted {
		existing, err = s.claimedBy(insertCtx, req)
	}
	cancel()
	if err != nil {
		return nil, err
	}

	if existing != nil {
		s.metrics.RecordConfirmation("duplicate")
		s.log.Info("payment confirmation already handled",
			zap.String("provider_order_id", req.ProviderOrderID),
			zap.String("confirmation_id", existing.ID),
			zap.String("status", string(existing.Status)),
		)
		return &ConfirmationResult{Confirmation: existing, AlreadyHandled: true}, nil
	}

	after, err := s.credit(ctx, record)
	if err != nil {
		s.fail(ctx, record, err)
		return nil, fmt.Errorf("%w: credit payment confirmation %s: %w", apperr.ErrStorage, record.ID, err)
	}

	s.metrics.RecordConfirmation("processed")
	s.metrics.RecordLedgerTransaction(string(model.TransactionTypeRecharge))
	s.log.Info("payment credited",
		zap.String("confirmation_id", record.ID),
		zap.String("provider_order_id", record.ProviderOrderID),
		zap.String("entity_id", record.EntityID),
		zap.String("amount", record.GrantedAmount.String()),
		zap.String("balance_after", after.String()),
	)
	return &ConfirmationResult{Confirmation: record, BalanceAfter: after}, nil
}

// claimedBy finds the row that won the insert. A collision on the
// idempotency id alone, carrying another order, is a conflict.
func (s *PaymentService) claimedBy(ctx context.Context, req *ConfirmationRequest) (*model.PaymentConfirmation, error) {
	existing, err := s.confirmRepo.GetByProviderOrderID(ctx, req.ProviderOrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	byID, err := s.confirmRepo.GetByID(ctx, req.IdempotencyID)
	if err != nil {
		return nil, apperr.Storage("load colliding payment confirmation", err)
	}
	return nil, apperr.Conflict("idempotency id %s already used for order %s", byID.ID, byID.ProviderOrderID)
}

func (s *PaymentService) credit(ctx context.Context, record *model.PaymentConfirmation) (money.Amount, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	var after money.Amount
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.balances.ensureRecord(ctx, tx, record.Entity()); err != nil {
			return err
		}

		var err error
		after, err = s.balanceRepo.Adjust(ctx, tx, record.EntityID, record.RequestedAmount)
		if err != nil {
			return err
		}

		orderID := record.ProviderOrderID
		_, err = s.ledger.post(ctx, tx, Posting{
			Entity:            record.Entity(),
			Amount:            record.RequestedAmount,
			Type:              model.TransactionTypeRecharge,
			SourceID:          record.ID,
			Description:       "payment " + orderID,
			ProviderReference: &orderID,
			BalanceAfter:      after,
		})
		if err != nil {
			return err
		}

		if err := s.confirmRepo.MarkProcessed(ctx, tx, record.ID, record.RequestedAmount, now); err != nil {
			return err
		}

		msg, err := newOutboxMessage(s.topic, model.OutboxEventPaymentCredited, record.EntityID, map[string]interface{}{
			"confirmation_id":   record.ID,
			"provider_order_id": orderID,
			"entity_type":       record.EntityType,
			"entity_id":         record.EntityID,
			"amount":            record.RequestedAmount,
			"balance_after":     after,
			"processed_at":      now.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return s.outboxRepo.Create(ctx, tx, msg)
	})
	if err != nil {
		return 0, err
	}

	record.Status = model.ConfirmationStatusProcessed
	record.GrantedAmount = record.RequestedAmount
	record.ProcessedAt = &now
	return after, nil
}

// fail records the crediting error. It runs on a fresh deadline so a
// request that timed out can still write the reason.
func (s *PaymentService) fail(ctx context.Context, record *model.PaymentConfirmation, cause error) {
	s.metrics.RecordConfirmation("failed")

	ctx, cancel := withTimeout(context.WithoutCancel(ctx), s.queryTimeout)
	defer cancel()

	reason := truncate(cause.Error(), 512)
	if err := s.confirmRepo.MarkFailed(ctx, nil, record.ID, reason); err != nil {
		s.log.Error("mark payment confirmation failed",
			zap.String("confirmation_id", record.ID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	record.Status = model.ConfirmationStatusFailed
	record.FailureReason = &reason
	s.log.Error("payment crediting failed",
		zap.String("confirmation_id", record.ID),
		zap.String("provider_order_id", record.ProviderOrderID),
		zap.String("entity_id", record.EntityID),
		zap.Error(cause),
	)
}

func (s *PaymentService) GetConfirmation(ctx context.Context, id string) (*model.PaymentConfirmation, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.confirmRepo.GetByID(ctx, id)
}

// ReconcileStale resolves confirmations stuck in pending_processing since
// before the cutoff: processed when their recharge was posted, otherwise
// failed for an operator to follow up. Both updates are conditional on the
// row still being pending, so a live request that commits first wins.
func (s *PaymentService) ReconcileStale(ctx context.Context, before time.Time, limit int) (SweepResult, error) {
	var result SweepResult

	listCtx, cancel := withTimeout(ctx, s.queryTimeout)
	stale, err := s.confirmRepo.ListStalePending(listCtx, before, limit)
	cancel()
	if err != nil {
		return result, err
	}

	for _, c := range stale {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Scanned++

		outcome, err := s.resolveStale(ctx, c)
		switch {
		case err == nil:
			result.Resolved++
			s.metrics.RecordReconciled("payment_confirmation", string(outcome))
			s.log.Warn("stale payment confirmation resolved",
				zap.String("confirmation_id", c.ID),
				zap.String("provider_order_id", c.ProviderOrderID),
				zap.String("status", string(outcome)),
			)
		case errors.Is(err, repository.ErrStatusTransition):
			result.Skipped++
		default:
			result.Errors++
			s.metrics.RecordReconciled("payment_confirmation", "error")
			s.log.Warn("reconcile payment confirmation failed", zap.String("confirmation_id", c.ID), zap.Error(err))
		}
	}
	return result, nil
}

func (s *PaymentService) resolveStale(ctx context.Context, c *model.PaymentConfirmation) (model.ConfirmationStatus, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	posted, err := s.ledgerRepo.GetBySource(ctx, nil, model.TransactionTypeRecharge, c.ID)
	if err != nil {
		return "", err
	}
	if posted != nil {
		return model.ConfirmationStatusProcessed, s.confirmRepo.MarkProcessed(ctx, nil, c.ID, posted.Amount, posted.CreatedAt)
	}
	return model.ConfirmationStatusFailed, s.confirmRepo.MarkFailed(ctx, nil, c.ID, reasonAbandoned)
}
