package service

import (
	"testing"

	"creditledger/pkg/money"

	"github.com/stretchr/testify/assert"
)

func TestCost(t *testing.T) {
	calc := NewCostCalculator(money.MustParse("2.00"), 600)

	cases := []struct {
		seconds int64
		want    string
	}{
		{-5, "0"},
		{0, "0"},
		{1, "0.0033"},
		{2, "0.0067"},
		{3, "0.01"},
		{121, "0.4033"},
		{300, "1.00"},
		{600, "2.00"},
		{3600, "12.00"},
	}
	for _, c := range cases {
		assert.Equal(t, money.MustParse(c.want), calc.Cost(c.seconds), "cost(%d)", c.seconds)
	}
}

func TestCostRoundsHalfAwayFromZero(t *testing.T) {
	// 1s at 0.0001 per 2s is exactly half a unit
	calc := NewCostCalculator(money.Amount(1), 2)
	assert.Equal(t, money.Amount(1), calc.Cost(1))

	neg := NewCostCalculator(money.Amount(-1), 2)
	assert.Equal(t, money.Amount(-1), neg.Cost(1))
}

func TestCostLargeUsageDoesNotOverflow(t *testing.T) {
	calc := NewCostCalculator(money.MustParse("100000"), 1_000_000)
	// the 10^21 intermediate product overflows int64, the result does not
	assert.Equal(t, money.MustParse("100000000000"), calc.Cost(1_000_000_000_000))
}

func TestCostZeroUnit(t *testing.T) {
	assert.True(t, NewCostCalculator(money.MustParse("2"), 0).Cost(100).IsZero())
}
