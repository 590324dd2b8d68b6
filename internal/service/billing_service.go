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
	"creditledger/pkg/idgen"
	"creditledger/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CreateBillableEventRequest struct {
	Entity       model.EntityRef
	UsageSeconds int64
	// SourceRef identifies the usage occurrence upstream (the interview id).
	// Optional; when set, a repeated request returns the first event.
	SourceRef string
}

type BillableEventResult struct {
	Event     *model.BillableEvent
	Duplicate bool
}

type BillingService struct {
	db           *gorm.DB
	log          *zap.Logger
	metrics      *metrics.Metrics
	calc         *CostCalculator
	topic        string
	queryTimeout time.Duration
	eventRepo    *repository.BillableEventRepository
	balanceRepo  *repository.BalanceRepository
	ledgerRepo   *repository.LedgerRepository
	outboxRepo   *repository.OutboxRepository
	balances     *BalanceService
	ledger       *LedgerService
}

func NewBillingService(db *gorm.DB, cfg *config.Config, balances *BalanceService, ledger *LedgerService, log *zap.Logger, m *metrics.Metrics) *BillingService {
	return &BillingService{
		db:           db,
		log:          log.Named("billing.service"),
		metrics:      m,
		calc:         NewCostCalculator(cfg.Billing.RatePerUnit, cfg.Billing.UnitSeconds),
		topic:        cfg.Kafka.Topic.BillingEvents,
		queryTimeout: cfg.Database.QueryTimeout,
		eventRepo:    repository.NewBillableEventRepository(db),
		balanceRepo:  repository.NewBalanceRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		balances:     balances,
		ledger:       ledger,
	}
}

// CreateBillableEvent records one usage occurrence and settles it against
// the entity's balance.
//
// The event row is committed as pending_credit_check before any balance
// work. Settlement then runs in its own transaction; if it fails the event
// stays pending, the error is returned, and the reconciliation sweep or a
// repeated request settles it later.
func (s *BillingService) CreateBillableEvent(ctx context.Context, req *CreateBillableEventRequest) (*BillableEventResult, error) {
	entity, err := normalizeEntity(req.Entity)
	if err != nil {
		return nil, err
	}

	event := &model.BillableEvent{
		ID:           idgen.GenerateEventNo(),
		EntityID:     entity.ID,
		EntityType:   entity.Type,
		UsageSeconds: req.UsageSeconds,
		Cost:         s.calc.Cost(req.UsageSeconds),
		Status:       model.EventStatusPendingCreditCheck,
	}
	if ref := strings.TrimSpace(req.SourceRef); ref != "" {
		event.SourceRef = &ref
	}

	insertCtx, cancel := withTimeout(ctx, s.queryTimeout)
	inserted, err := s.eventRepo.CreateIfAbsent(insertCtx, nil, event)
	if err == nil && !inserted {
		event, err = s.existingEvent(insertCtx, event)
	}
	cancel()
	if err != nil {
		return nil, err
	}

	duplicate := !inserted
	if duplicate && event.Entity() != entity {
		s.log.Warn("usage event redelivered for another entity",
			zap.String("event_id", event.ID),
			zap.Stringp("source_ref", event.SourceRef),
			zap.String("billed_entity", event.Entity().String()),
			zap.String("requested_entity", entity.String()),
		)
		return nil, apperr.Conflict("source ref %s already billed to %s", *event.SourceRef, event.Entity())
	}
	if duplicate && event.Status.Terminal() {
		s.log.Info("duplicate usage event", zap.String("event_id", event.ID), zap.Stringp("source_ref", event.SourceRef))
		return &BillableEventResult{Event: event, Duplicate: true}, nil
	}

	settled, _, err := s.settle(ctx, event.ID)
	if err != nil {
		s.log.Error("billable event left pending",
			zap.String("event_id", event.ID),
			zap.String("entity_id", event.EntityID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("settle billable event %s: %w", event.ID, err)
	}
	return &BillableEventResult{Event: settled, Duplicate: duplicate}, nil
}

func (s *BillingService) existingEvent(ctx context.Context, event *model.BillableEvent) (*model.BillableEvent, error) {
	if event.SourceRef == nil {
		return nil, apperr.Conflict("billable event %s already exists", event.ID)
	}
	existing, err := s.eventRepo.GetBySourceRef(ctx, *event.SourceRef)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.Conflict("billable event %s already exists", event.ID)
	}
	return existing, nil
}

// settle moves a pending event to its terminal status. It locks the event
// row first, so a live request and the sweep never settle the same event
// twice; an event that is no longer pending is returned as is with
// changed = false.
func (s *BillingService) settle(ctx context.Context, eventID string) (*model.BillableEvent, bool, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	var (
		event   *model.BillableEvent
		changed bool
		granted bool
		debited bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		event, err = s.eventRepo.GetForUpdate(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if event.Status != model.EventStatusPendingCreditCheck {
			return nil
		}

		to, balanceAfter, err := s.charge(ctx, tx, event, &granted, &debited)
		if err != nil {
			return err
		}

		if err := s.eventRepo.UpdateStatus(ctx, tx, event.ID, event.Status, to); err != nil {
			return err
		}
		event.Status = to
		changed = true

		msg, err := newOutboxMessage(s.topic, model.OutboxEventBillableEventSettled, event.EntityID, map[string]interface{}{
			"event_id":      event.ID,
			"entity_type":   event.EntityType,
			"entity_id":     event.EntityID,
			"usage_seconds": event.UsageSeconds,
			"cost":          event.Cost,
			"status":        event.Status,
			"balance_after": balanceAfter,
			"settled_at":    time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return s.outboxRepo.Create(ctx, tx, msg)
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		if granted {
			s.balances.grantApplied(event.Entity())
		}
		if debited {
			s.metrics.RecordLedgerTransaction(string(model.TransactionTypeUsage))
		}
		s.metrics.RecordBillableEvent(string(event.Status))
		s.log.Info("billable event settled",
			zap.String("event_id", event.ID),
			zap.String("entity_id", event.EntityID),
			zap.String("cost", event.Cost.String()),
			zap.String("status", string(event.Status)),
		)
	}
	return event, changed, nil
}

// charge decides the terminal status of a locked pending event and performs
// the debit when there is one.
func (s *BillingService) charge(ctx context.Context, tx *gorm.DB, event *model.BillableEvent, granted, debited *bool) (model.BillableEventStatus, *money.Amount, error) {
	if event.Cost.IsZero() {
		return model.EventStatusNoCharge, nil, nil
	}

	// a usage posting means an earlier attempt already debited
	posted, err := s.ledgerRepo.GetBySource(ctx, tx, model.TransactionTypeUsage, event.ID)
	if err != nil {
		return "", nil, err
	}
	if posted != nil {
		return model.EventStatusPaidByCredits, &posted.BalanceAfter, nil
	}

	balance, g, err := s.balances.initialize(ctx, tx, event.Entity())
	if err != nil {
		return "", nil, err
	}
	*granted = g

	if balance.CurrentBalance < event.Cost {
		return model.EventStatusInsufficientCredits, &balance.CurrentBalance, nil
	}

	after, err := s.balanceRepo.Debit(ctx, tx, event.EntityID, event.Cost)
	if errors.Is(err, repository.ErrInsufficientCredits) {
		return model.EventStatusInsufficientCredits, &balance.CurrentBalance, nil
	}
	if err != nil {
		return "", nil, err
	}

	_, err = s.ledger.post(ctx, tx, Posting{
		Entity:       event.Entity(),
		Amount:       event.Cost.Neg(),
		Type:         model.TransactionTypeUsage,
		SourceID:     event.ID,
		Description:  fmt.Sprintf("usage %ds", event.UsageSeconds),
		BalanceAfter: after,
	})
	if err != nil {
		return "", nil, err
	}
	*debited = true
	return model.EventStatusPaidByCredits, &after, nil
}

func (s *BillingService) GetEvent(ctx context.Context, id string) (*model.BillableEvent, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.eventRepo.GetByID(ctx, nil, id)
}

func (s *BillingService) ListEvents(ctx context.Context, entityID string, page, pageSize int) ([]*model.BillableEvent, int64, error) {
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
	return s.eventRepo.ListByEntity(ctx, entityID, page, pageSize)
}

// ReconcilePending settles events that have been pending since before the
// cutoff. One failing event does not stop the sweep.
func (s *BillingService) ReconcilePending(ctx context.Context, before time.Time, limit int) (SweepResult, error) {
	var result SweepResult

	listCtx, cancel := withTimeout(ctx, s.queryTimeout)
	events, err := s.eventRepo.ListStalePending(listCtx, before, limit)
	cancel()
	if err != nil {
		return result, err
	}

	for _, e := range events {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Scanned++

		settled, changed, err := s.settle(ctx, e.ID)
		switch {
		case err != nil:
			result.Errors++
			s.metrics.RecordReconciled("billable_event", "error")
			s.log.Warn("reconcile billable event failed", zap.String("event_id", e.ID), zap.Error(err))
		case !changed:
			result.Skipped++
		default:
			result.Resolved++
			s.metrics.RecordReconciled("billable_event", string(settled.Status))
		}
	}
	return result, nil
}
