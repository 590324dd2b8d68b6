package service

import (
	"math/big"

	"creditledger/pkg/money"
)

// CostCalculator prices usage: seconds / unitSeconds * rate, rounded half
// away from zero to the 4 stored fractional digits.
type CostCalculator struct {
	rate        money.Amount
	unitSeconds int64
}

func NewCostCalculator(rate money.Amount, unitSeconds int64) *CostCalculator {
	return &CostCalculator{rate: rate, unitSeconds: unitSeconds}
}

// Cost is pure and deterministic. Non-positive usage costs nothing.
func (c *CostCalculator) Cost(usageSeconds int64) money.Amount {
	if usageSeconds <= 0 || c.unitSeconds <= 0 {
		return 0
	}

	// seconds * rate can overflow int64 for long calls at high rates
	num := new(big.Int).Mul(big.NewInt(usageSeconds), big.NewInt(int64(c.rate)))
	den := big.NewInt(c.unitSeconds)

	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	r.Abs(r).Lsh(r, 1)
	if r.Cmp(den) >= 0 {
		if num.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return money.Amount(q.Int64())
}
