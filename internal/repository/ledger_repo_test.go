package repository

import (
	"context"
	"testing"

	"creditledger/internal/model"
	"creditledger/internal/testutil"
	"creditledger/pkg/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func posting(id string, typ model.TransactionType, source string, amount string) *model.LedgerTransaction {
	return &model.LedgerTransaction{
		ID:         id,
		EntityID:   "org_1",
		EntityType: model.EntityTypeOrganization,
		Amount:     money.MustParse(amount),
		Type:       typ,
		SourceID:   source,
	}
}

func TestLedgerAppendIsIdempotentPerSource(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(testutil.NewDB(t))

	inserted, err := repo.Append(ctx, nil, posting("TXN1", model.TransactionTypeUsage, "EVT1", "-0.5"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Append(ctx, nil, posting("TXN2", model.TransactionTypeUsage, "EVT1", "-0.5"))
	require.NoError(t, err)
	assert.False(t, inserted)

	// same source, different type is a separate posting
	inserted, err = repo.Append(ctx, nil, posting("TXN3", model.TransactionTypeRecharge, "EVT1", "3"))
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := repo.GetBySource(ctx, nil, model.TransactionTypeUsage, "EVT1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TXN1", got.ID)

	missing, err := repo.GetBySource(ctx, nil, model.TransactionTypeUsage, "EVT404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLedgerSumAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(testutil.NewDB(t))

	sum, err := repo.SumByEntity(ctx, nil, "org_1")
	require.NoError(t, err)
	assert.True(t, sum.IsZero())

	for _, p := range []*model.LedgerTransaction{
		posting("TXN1", model.TransactionTypeInitial, "org_1", "2"),
		posting("TXN2", model.TransactionTypeUsage, "EVT1", "-0.0033"),
		posting("TXN3", model.TransactionTypeRecharge, "PC1", "10"),
	} {
		_, err := repo.Append(ctx, nil, p)
		require.NoError(t, err)
	}

	sum, err = repo.SumByEntity(ctx, nil, "org_1")
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("11.9967"), sum)

	list, total, err := repo.ListByEntity(ctx, "org_1", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, list, 2)
}
