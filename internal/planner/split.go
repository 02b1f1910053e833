package planner

import "math/big"

// wad is the 18-decimal fixed-point unit used by protocol utilizations
var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// SplitInstallments divides a total amount across one bucket per
// utilization entry, weighting less-utilized maturities more heavily so the
// blended borrow rate stays low. The bucket amounts always sum to the total
// exactly: each bucket gets its proportional floor and the first bucket
// absorbs the rounding remainder.
func SplitInstallments(total *big.Int, utilizations []*big.Int) []*big.Int {
	count := len(utilizations)
	amounts := make([]*big.Int, count)
	if count == 1 {
		amounts[0] = new(big.Int).Set(total)
		return amounts
	}

	weights := make([]*big.Int, count)
	weightSum := new(big.Int)
	for i, utilization := range utilizations {
		// weight = wad^2 / (wad + utilization), decreasing in utilization
		weight := new(big.Int).Mul(wad, wad)
		weight.Div(weight, new(big.Int).Add(wad, utilization))
		weights[i] = weight
		weightSum.Add(weightSum, weight)
	}

	assigned := new(big.Int)
	for i := 1; i < count; i++ {
		amount := new(big.Int).Mul(total, weights[i])
		amount.Div(amount, weightSum)
		amounts[i] = amount
		assigned.Add(assigned, amount)
	}
	amounts[0] = new(big.Int).Sub(total, assigned)
	return amounts
}
