/*
amount.go - Candidate point-quantity calculation

PURPOSE:
  Converts a rule's point-type configuration (plus an optional
  transaction amount) into a candidate point quantity. Pure: no side
  effects, no wall-clock reads, and the random source is injected so
  that Random-type grants are reproducible in tests.

MODES:
  Fixed:      Returns the configured flat amount (0 if unset)
  Random:     Uniform integer in [RandomMin, RandomMax] inclusive;
              an empty range (max < min) yields 0
  Percentage: floor(transaction amount * Percentage / 100);
              0 when no transaction amount is present
  Anything else yields 0.

The candidate is a ceiling, not a commitment - the constraint enforcer
may clamp it down before a lot is written.
*/
package loyalty

import (
	"math/rand"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// AmountCalculator computes candidate point quantities. The random
// source must be provided; sharing one calculator across goroutines is
// not safe because rand.Rand is not.
type AmountCalculator struct {
	rng *rand.Rand
}

// NewAmountCalculator creates a calculator with the given random source.
func NewAmountCalculator(rng *rand.Rand) *AmountCalculator {
	return &AmountCalculator{rng: rng}
}

// Candidate returns the candidate quantity for a rule. txnAmount is the
// transaction amount of the triggering event, required for Percentage
// rules and ignored otherwise.
func (c *AmountCalculator) Candidate(rule Rule, txnAmount *decimal.Decimal) int64 {
	switch rule.PointType {
	case PointFixed:
		return rule.FixedAmount

	case PointRandom:
		if rule.RandomMax < rule.RandomMin {
			// Empty range. The admin UI should reject this, but a stored
			// rule may still carry it.
			return 0
		}
		return rule.RandomMin + c.rng.Int63n(rule.RandomMax-rule.RandomMin+1)

	case PointPercentage:
		if txnAmount == nil {
			return 0
		}
		pct := decimal.NewFromInt(rule.Percentage)
		return txnAmount.Mul(pct).Div(oneHundred).Floor().IntPart()

	default:
		return 0
	}
}
