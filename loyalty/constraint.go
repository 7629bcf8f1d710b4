/*
constraint.go - Monthly cap and lifetime budget enforcement

PURPOSE:
  Reduces a candidate grant to the largest value that violates neither
  of a rule's configured spending constraints, reading live usage from
  the ledger. Returning 0 means "skip this grant" - a clamped-to-zero
  grant is correct, silent behavior, not an error.

ORDER OF APPLICATION:
  1. Per-member monthly cap (calendar month of "now")
  2. Rule-wide lifetime budget
  The budget goes second because it is the harder ceiling, shared
  across every recipient of the same invocation.

CONCURRENCY:
  Clamp is a read-then-decide step; on its own it is racy. Callers MUST
  run it inside TxLedgerStore.WithRuleLock together with the lot insert,
  so that two concurrent runs of the same rule can never jointly exceed
  the budget or the cap. The engine's grant path does exactly that.
*/
package loyalty

import (
	"context"
	"fmt"
	"time"
)

// ConstraintEnforcer clamps candidate grants against a rule's
// per-member monthly cap and lifetime budget.
type ConstraintEnforcer struct{}

// Clamp returns the amount that may actually be granted: always >= 0
// and never more than candidate.
func (e ConstraintEnforcer) Clamp(ctx context.Context, ledger LedgerStore, rule Rule, memberID MemberID, candidate int64, now time.Time) (int64, error) {
	if candidate <= 0 {
		return 0, nil
	}

	if rule.MonthlyCap > 0 {
		used, err := ledger.MemberRuleUsage(ctx, rule.ID, memberID, startOfMonth(now), now)
		if err != nil {
			return 0, fmt.Errorf("monthly cap usage for rule %d member %d: %w", rule.ID, memberID, err)
		}
		remaining := rule.MonthlyCap - used
		if remaining <= 0 {
			return 0, nil
		}
		if candidate > remaining {
			candidate = remaining
		}
	}

	if rule.TotalBudget > 0 {
		remaining, err := e.RemainingBudget(ctx, ledger, rule)
		if err != nil {
			return 0, err
		}
		if remaining <= 0 {
			return 0, nil
		}
		if candidate > remaining {
			candidate = remaining
		}
	}

	return candidate, nil
}

// RemainingBudget returns how much of the rule's lifetime budget is
// left, or -1 when the rule has no budget configured.
func (ConstraintEnforcer) RemainingBudget(ctx context.Context, ledger LedgerStore, rule Rule) (int64, error) {
	if rule.TotalBudget <= 0 {
		return -1, nil
	}
	used, err := ledger.RuleUsage(ctx, rule.ID)
	if err != nil {
		return 0, fmt.Errorf("budget usage for rule %d: %w", rule.ID, err)
	}
	remaining := rule.TotalBudget - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
