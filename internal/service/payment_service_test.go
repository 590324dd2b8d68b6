package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"creditledger/internal/apperr"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmation(idempotencyID, orderID, amount string) *ConfirmationRequest {
	return &ConfirmationRequest{
		IdempotencyID:   idempotencyID,
		ProviderOrderID: orderID,
		Entity:          org1,
		Amount:          money.MustParse(amount),
		RawPayload:      `{"order_id":"` + orderID + `"}`,
	}
}

func TestProcessConfirmationCreditsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.balances.GetBalance(ctx, org1)
	require.NoError(t, err)

	first, err := f.payments.ProcessConfirmation(ctx, confirmation("k1", "ord_1", "10"))
	require.NoError(t, err)
	assert.False(t, first.AlreadyHandled)
	assert.Equal(t, money.MustParse("12"), first.BalanceAfter)
	assert.Equal(t, model.ConfirmationStatusProcessed, first.Confirmation.Status)

	// redelivery with a fresh idempotency id
	second, err := f.payments.ProcessConfirmation(ctx, confirmation("k2", "ord_1", "10"))
	require.NoError(t, err)
	assert.True(t, second.AlreadyHandled)
	assert.Equal(t, "k1", second.Confirmation.ID)

	raw, err := f.balances.GetRawBalance(ctx, org1.ID)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("12"), raw)
	assert.EqualValues(t, 1, countLedger(t, f, model.TransactionTypeRecharge))
	assertLedgerMatches(t, f, org1.ID)

	stored, err := f.payments.GetConfirmation(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.ConfirmationStatusProcessed, stored.Status)
	assert.Equal(t, money.MustParse("10"), stored.GrantedAmount)
	require.NotNil(t, stored.ProcessedAt)

	recharge, err := repository.NewLedgerRepository(f.db).GetBySource(ctx, nil, model.TransactionTypeRecharge, "k1")
	require.NoError(t, err)
	require.NotNil(t, recharge)
	require.NotNil(t, recharge.ProviderReference)
	assert.Equal(t, "ord_1", *recharge.ProviderReference)
}

func TestProcessConfirmationBeforeFirstReadDoesNotGrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.payments.ProcessConfirmation(ctx, confirmation("k1", "ord_1", "10"))
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("10"), res.BalanceAfter)
	assert.Zero(t, countLedger(t, f, model.TransactionTypeInitial))

	// the grant still arrives, once, on first read
	b, err := f.balances.GetBalance(ctx, org1)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("12"), b)
	assertLedgerMatches(t, f, org1.ID)
}

func TestProcessConfirmationConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const deliveries = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handled int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.payments.ProcessConfirmation(ctx, confirmation("k"+string(rune('a'+i)), "ord_1", "10"))
			if !assert.NoError(t, err) {
				return
			}
			if res.AlreadyHandled {
				mu.Lock()
				handled++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, deliveries-1, handled)
	raw, err := f.balances.GetRawBalance(ctx, org1.ID)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("10"), raw)
}

func TestProcessConfirmationValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := []*ConfirmationRequest{
		confirmation("k1", "ord_1", "0"),
		confirmation("k1", "ord_1", "-5"),
		confirmation("", "ord_1", "10"),
		confirmation("k1", " ", "10"),
		{IdempotencyID: "k1", ProviderOrderID: "ord_1", Entity: model.EntityRef{Type: "bank", ID: "b"}, Amount: money.MustParse("1")},
	}
	for _, req := range bad {
		_, err := f.payments.ProcessConfirmation(ctx, req)
		assert.True(t, apperr.IsValidation(err), "%+v", req)
	}

	var n int64
	require.NoError(t, f.db.Model(&model.PaymentConfirmation{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestProcessConfirmationIdempotencyIDReuse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.payments.ProcessConfirmation(ctx, confirmation("k1", "ord_1", "10"))
	require.NoError(t, err)

	_, err = f.payments.ProcessConfirmation(ctx, confirmation("k1", "ord_2", "10"))
	assert.True(t, apperr.IsConflict(err))
}

func TestProcessConfirmationInsertFailure(t *testing.T) {
	f := newFixture(t)
	failOn(t, f.db, "create", "payment_confirmations").Store(true)

	_, err := f.payments.ProcessConfirmation(context.Background(), confirmation("k1", "ord_1", "10"))
	assert.True(t, apperr.IsStorage(err))
}

func TestProcessConfirmationCreditFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fail := failOn(t, f.db, "create", "ledger_transactions")
	fail.Store(true)

	_, err := f.payments.ProcessConfirmation(ctx, confirmation("k1", "ord_1", "10"))
	require.Error(t, err)
	assert.True(t, apperr.IsStorage(err))
	assert.ErrorIs(t, err, errInjected)

	stored, err := f.payments.GetConfirmation(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.ConfirmationStatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Contains(t, *stored.FailureReason, errInjected.Error())

	// the adjust rolled back with the failed posting
	raw, err := f.balances.GetRawBalance(ctx, org1.ID)
	require.NoError(t, err)
	assert.True(t, raw.IsZero())

	// the sender's retry is a duplicate, not a second attempt
	fail.Store(false)
	res, err := f.payments.ProcessConfirmation(ctx, confirmation("k2", "ord_1", "10"))
	require.NoError(t, err)
	assert.True(t, res.AlreadyHandled)
	assert.Equal(t, model.ConfirmationStatusFailed, res.Confirmation.Status)
}

func TestReconcileStaleConfirmations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	confirmRepo := repository.NewPaymentConfirmationRepository(f.db)

	// k1 crashed after its insert, before crediting
	_, err := confirmRepo.InsertIfAbsent(ctx, &model.PaymentConfirmation{
		ID:              "k1",
		ProviderOrderID: "ord_1",
		EntityID:        org1.ID,
		EntityType:      org1.Type,
		RequestedAmount: money.MustParse("10"),
		Status:          model.ConfirmationStatusPending,
	})
	require.NoError(t, err)

	// k2 credited but its status write was lost
	_, err = confirmRepo.InsertIfAbsent(ctx, &model.PaymentConfirmation{
		ID:              "k2",
		ProviderOrderID: "ord_2",
		EntityID:        org1.ID,
		EntityType:      org1.Type,
		RequestedAmount: money.MustParse("5"),
		Status:          model.ConfirmationStatusPending,
	})
	require.NoError(t, err)
	orderID := "ord_2"
	_, err = repository.NewLedgerRepository(f.db).Append(ctx, nil, &model.LedgerTransaction{
		ID:                "TXN-k2",
		EntityID:          org1.ID,
		EntityType:        org1.Type,
		Amount:            money.MustParse("5"),
		Type:              model.TransactionTypeRecharge,
		SourceID:          "k2",
		ProviderReference: &orderID,
		BalanceAfter:      money.MustParse("5"),
	})
	require.NoError(t, err)

	result, err := f.payments.ReconcileStale(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 2, Resolved: 2}, result)

	k1, err := f.payments.GetConfirmation(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.ConfirmationStatusFailed, k1.Status)
	require.NotNil(t, k1.FailureReason)
	assert.Equal(t, reasonAbandoned, *k1.FailureReason)

	k2, err := f.payments.GetConfirmation(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, model.ConfirmationStatusProcessed, k2.Status)
	assert.Equal(t, money.MustParse("5"), k2.GrantedAmount)

	// recent rows are left to the live request
	result, err = f.payments.ReconcileStale(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)
}

func TestUsageAndRechargeInterleaveKeepLedgerBalanced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.billing.CreateBillableEvent(ctx, usageOf(90))
			assert.NoError(t, err)
		}()
		go func(i int) {
			defer wg.Done()
			_, err := f.payments.ProcessConfirmation(ctx, confirmation("k"+string(rune('a'+i)), "ord_"+string(rune('a'+i)), "0.25"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assertLedgerMatches(t, f, org1.ID)
}
