package service

import (
	"context"
	"sync"
	"testing"

	"creditledger/internal/apperr"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var org1 = model.EntityRef{Type: model.EntityTypeOrganization, ID: "org_1"}

func assertLedgerMatches(t *testing.T, f *fixture, entityID string) {
	t.Helper()
	v, err := f.ledger.VerifyEntity(context.Background(), entityID)
	require.NoError(t, err)
	assert.True(t, v.Consistent, "balance %s, ledger sum %s", v.Balance, v.LedgerSum)
}

func TestGetBalanceGrantsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.balances.GetBalance(ctx, org1)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("2.00"), first)

	second, err := f.balances.GetBalance(ctx, org1)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	list, total, err := f.ledger.ListTransactions(ctx, org1.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, model.TransactionTypeInitial, list[0].Type)
	assertLedgerMatches(t, f, org1.ID)
}

func TestGetBalanceConcurrentFirstAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := f.balances.GetBalance(ctx, org1)
			assert.NoError(t, err)
			assert.Equal(t, money.MustParse("2.00"), b)
		}()
	}
	wg.Wait()

	_, total, err := f.ledger.ListTransactions(ctx, org1.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestGetBalanceValidatesEntity(t *testing.T) {
	f := newFixture(t)

	_, err := f.balances.GetBalance(context.Background(), model.EntityRef{Type: "team", ID: "x"})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.balances.GetBalance(context.Background(), model.EntityRef{Type: model.EntityTypeUser, ID: "  "})
	assert.True(t, apperr.IsValidation(err))
}

func TestGetBalanceGrantsLegacyRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// a credit before the first read creates the record without the grant
	_, err := f.balances.AddAmount(ctx, org1, money.MustParse("5"), "")
	require.NoError(t, err)

	raw, err := f.balances.GetRawBalance(ctx, org1.ID)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("5"), raw)

	b, err := f.balances.GetBalance(ctx, org1)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("7"), b)

	b, err = f.balances.GetBalance(ctx, org1)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("7"), b)
	assertLedgerMatches(t, f, org1.ID)
}

func TestGetRawBalanceDoesNotInitialize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	raw, err := f.balances.GetRawBalance(ctx, org1.ID)
	require.NoError(t, err)
	assert.True(t, raw.IsZero())

	_, err = repository.NewBalanceRepository(f.db).Get(ctx, nil, org1.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestSetBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.True(t, apperr.IsNotFound(f.balances.SetBalance(ctx, org1.ID, money.MustParse("1"))))

	_, err := f.balances.GetBalance(ctx, org1)
	require.NoError(t, err)
	require.NoError(t, f.balances.SetBalance(ctx, org1.ID, money.MustParse("0.50")))

	raw, err := f.balances.GetRawBalance(ctx, org1.ID)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("0.50"), raw)
	assertLedgerMatches(t, f, org1.ID)
}

func TestAddAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.balances.AddAmount(ctx, org1, 0, "")
	assert.True(t, apperr.IsValidation(err))

	_, err = f.balances.GetBalance(ctx, org1)
	require.NoError(t, err)

	trans, err := f.balances.AddAmount(ctx, org1, money.MustParse("-0.25"), "correction")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeManualAdjustment, trans.Type)
	assert.Equal(t, money.MustParse("1.75"), trans.BalanceAfter)
	assertLedgerMatches(t, f, org1.ID)
}

// Runs serialized on the single test connection. It checks the outcome under
// contention; the single-statement update itself is pinned by the
// repository tests.
func TestAddAmountConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.balances.GetBalance(ctx, org1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.balances.AddAmount(ctx, org1, money.MustParse("0.10"), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	raw, err := f.balances.GetRawBalance(ctx, org1.ID)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("4.00"), raw)
	assertLedgerMatches(t, f, org1.ID)
}

func TestAtomicAdjust(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.balances.AtomicAdjust(ctx, org1.ID, money.MustParse("1"))
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.balances.GetBalance(ctx, org1)
	require.NoError(t, err)

	after, err := f.balances.AtomicAdjust(ctx, org1.ID, money.MustParse("-0.5"))
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("1.5"), after)
}

func TestGetBalanceStorageFailure(t *testing.T) {
	f := newFixture(t)
	fail := failOn(t, f.db, "create", "balances")
	fail.Store(true)

	_, err := f.balances.GetBalance(context.Background(), org1)
	assert.True(t, apperr.IsStorage(err))
	assert.ErrorIs(t, err, errInjected)
}
