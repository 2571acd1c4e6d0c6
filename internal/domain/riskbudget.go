package domain

import "github.com/shopspring/decimal"

// RiskBudget risk-based allocation logic.
type RiskBudget struct {
	percent float64
}

// NewRiskBudget returns a risk budget allocating the given percent of balance.
func NewRiskBudget(percent float64) RiskBudget {
	return RiskBudget{percent: percent}
}

// Allocate calculates position value and base asset size for a decision,
// capped by maxSize when it is set.
func (r RiskBudget) Allocate(balance, price, maxSize decimal.Decimal) (positionValue, amount decimal.Decimal) {
	if r.percent <= 0 {
		return decimal.Zero, decimal.Zero
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero
	}

	fraction := decimal.NewFromFloat(r.percent / 100)
	positionValue = balance.Mul(fraction)
	if positionValue.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero
	}

	amount = positionValue.Div(price)
	if maxSize.GreaterThan(decimal.Zero) && amount.GreaterThan(maxSize) {
		amount = maxSize
		positionValue = amount.Mul(price)
	}
	return positionValue, amount
}
