/*
engine.go - Rule evaluation orchestration

PURPOSE:
  The engine is the root component: it decides, for a given trigger,
  how many points to grant to which members, enforces cap/budget
  invariants, computes expiry, and records grants through the ledger
  store. Two entry points:

  RunSchedule:  One rule, many members. Invoked by external scheduling
                infrastructure when a schedule rule is due.
  HandleEvent:  One member, many matching rules. Invoked by order /
                registration / member-lifecycle code.

FAILURE SEMANTICS:
  - Unknown, disabled, or wrong-trigger rule: no-op, not an error.
  - Unrecognized event type or no matching rules: no-op.
  - Missing or inactive member: no-op for that member only.
  - Persistence failures propagate; a grant (lot + audit entry) either
    commits whole or not at all, and already-committed grants from the
    same run stay valid.

CONCURRENCY:
  Every grant decision runs inside WithRuleLock, so concurrent
  invocations of the same rule - two scheduled runs, or a scheduled run
  racing an event - can never jointly exceed the rule's budget or a
  member's monthly cap. RunSchedule additionally keeps an advisory
  in-memory running budget to stop early without a usage query per
  member; the locked check at write time remains the source of truth.

IDEMPOTENCY:
  Lots carry deterministic idempotency keys (rule+member+order for
  order events, rule+member+date for scheduled runs), so retried events
  and re-fired schedule ticks do not double-grant.
*/
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Engine orchestrates rule evaluation and grant recording. Stateless
// between invocations except for the shared ledger; safe to invoke from
// multiple goroutines as long as the AmountCalculator is not shared
// (see NewEngine).
type Engine struct {
	rules    RuleStore
	members  MemberStore
	ledger   TxLedgerStore
	amounts  *AmountCalculator
	clock    Clock
	enforcer ConstraintEnforcer
}

// NewEngine wires an engine. The amount calculator's random source is
// owned by this engine; callers running engines concurrently should
// give each its own calculator.
func NewEngine(rules RuleStore, members MemberStore, ledger TxLedgerStore, amounts *AmountCalculator, clock Clock) *Engine {
	return &Engine{
		rules:   rules,
		members: members,
		ledger:  ledger,
		amounts: amounts,
		clock:   clock,
	}
}

// =============================================================================
// SCHEDULED ENTRY POINT - One rule, many members
// =============================================================================

// RunSchedule evaluates one schedule-triggered rule against its target
// audience and returns the number of lots created. Fail-soft on
// configuration issues: an unknown, disabled, or non-schedule rule
// yields (0, nil).
func (e *Engine) RunSchedule(ctx context.Context, ruleID RuleID) (int, error) {
	now := e.clock.Now()

	rule, err := e.rules.Rule(ctx, ruleID)
	if errors.Is(err, ErrRuleNotFound) {
		log.Printf("[Engine] schedule run for unknown rule %d, skipping", ruleID)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load rule %d: %w", ruleID, err)
	}
	if !rule.Enabled || rule.Trigger != TriggerSchedule {
		return 0, nil
	}

	members, err := e.resolveAudience(ctx, rule, now)
	if err != nil {
		return 0, fmt.Errorf("resolve audience for rule %d: %w", rule.ID, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	// One expiry for the whole run.
	expiresAt := ExpiresAt(rule, now)

	// Advisory running budget: seeded once, decremented in memory as
	// grants are issued. Avoids a budget re-query per member; the locked
	// clamp at write time still enforces the real ceiling.
	runBudget, err := e.enforcer.RemainingBudget(ctx, e.ledger, rule)
	if err != nil {
		return 0, err
	}
	if runBudget == 0 {
		return 0, nil
	}

	granted := 0
	for _, m := range members {
		// A cancelled run keeps its already-committed grants.
		if err := ctx.Err(); err != nil {
			return granted, err
		}

		candidate := e.amounts.Candidate(rule, nil)
		if candidate <= 0 {
			continue
		}
		if runBudget > 0 && candidate > runBudget {
			candidate = runBudget
		}

		key := scheduleIdempotencyKey(rule.ID, m.ID, now)
		awarded, err := e.grant(ctx, rule, m.ID, candidate, grantContext{now: now, expiresAt: expiresAt, idempotencyKey: key})
		if err != nil {
			return granted, err
		}
		if awarded <= 0 {
			continue
		}
		granted++
		if runBudget > 0 {
			runBudget -= awarded
			if runBudget <= 0 {
				break
			}
		}
	}
	return granted, nil
}

// =============================================================================
// EVENT ENTRY POINT - One member, many matching rules
// =============================================================================

// HandleEvent evaluates every enabled rule matching the event's trigger
// type against one member and returns the number of lots created. An
// unrecognized event type or a missing/inactive member yields (0, nil).
func (e *Engine) HandleEvent(ctx context.Context, ev Event) (int, error) {
	now := e.clock.Now()

	if ev.Type == TriggerSchedule {
		// Schedule rules are only ever invoked via RunSchedule.
		return 0, nil
	}

	candidates, err := e.rules.RulesByTrigger(ctx, ev.Type)
	if err != nil {
		return 0, fmt.Errorf("load rules for trigger %q: %w", ev.Type, err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	member, err := e.members.Member(ctx, ev.MemberID)
	if errors.Is(err, ErrMemberNotFound) {
		log.Printf("[Engine] event %q for unknown member %d, skipping", ev.Type, ev.MemberID)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load member %d: %w", ev.MemberID, err)
	}
	if !member.Active {
		return 0, nil
	}

	granted := 0
	for _, rule := range candidates {
		if !rule.Enabled {
			continue
		}
		if rule.Trigger == TriggerCustomEvent && rule.CustomEventKey != ev.CustomKey {
			continue
		}
		if rule.Audience == AudienceBirthdayToday {
			ok, err := e.memberBirthdayToday(ctx, ev.MemberID, now)
			if err != nil {
				return granted, err
			}
			if !ok {
				continue
			}
		}

		candidate := e.amounts.Candidate(rule, ev.Amount)

		if rule.Trigger == TriggerSpendingThreshold {
			if ev.Amount == nil || ev.Amount.LessThan(rule.SpendingThreshold) {
				continue
			}
		}
		if candidate <= 0 {
			continue
		}

		awarded, err := e.grant(ctx, rule, ev.MemberID, candidate, grantContext{
			now:            now,
			expiresAt:      ExpiresAt(rule, now),
			orderID:        ev.OrderID,
			eventType:      string(ev.Type),
			idempotencyKey: eventIdempotencyKey(ev, rule.ID),
		})
		if err != nil {
			return granted, err
		}
		if awarded > 0 {
			granted++
		}
	}
	return granted, nil
}

// =============================================================================
// GRANT - The single write path, shared by both entry points
// =============================================================================

type grantContext struct {
	now            time.Time
	expiresAt      time.Time
	orderID        string
	eventType      string // Empty for scheduled grants
	idempotencyKey string
}

// grant clamps the candidate under the rule's lock and, if anything
// remains, writes the lot and its audit entry in the same critical
// section. Returns the points actually awarded (0 = skipped).
func (e *Engine) grant(ctx context.Context, rule Rule, memberID MemberID, candidate int64, gc grantContext) (int64, error) {
	var awarded int64
	err := e.ledger.WithRuleLock(ctx, rule.ID, func(view LedgerStore) error {
		if gc.idempotencyKey != "" {
			exists, err := view.LotExists(ctx, gc.idempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				// Already granted for this event/run. Not an error.
				return nil
			}
		}

		amount, err := e.enforcer.Clamp(ctx, view, rule, memberID, candidate, gc.now)
		if err != nil {
			return err
		}
		if amount <= 0 {
			return nil
		}

		reason := grantReason(rule, gc.eventType)
		lot := Lot{
			ID:             uuid.NewString(),
			MemberID:       memberID,
			RuleID:         rule.ID,
			Points:         amount,
			Remaining:      amount,
			Reason:         reason,
			OrderID:        gc.orderID,
			IdempotencyKey: gc.idempotencyKey,
			ExpiresAt:      gc.expiresAt,
			CreatedAt:      gc.now,
		}
		if err := view.InsertLot(ctx, lot); err != nil {
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				return nil
			}
			return fmt.Errorf("insert lot for rule %d member %d: %w", rule.ID, memberID, err)
		}

		entry := LogEntry{
			ID:        uuid.NewString(),
			MemberID:  memberID,
			OrderID:   gc.orderID,
			Change:    amount,
			Reason:    reason,
			CreatedAt: gc.now,
		}
		if err := view.AppendLog(ctx, entry); err != nil {
			return fmt.Errorf("append log for rule %d member %d: %w", rule.ID, memberID, err)
		}

		awarded = amount
		return nil
	})
	return awarded, err
}

// grantReason builds the human-readable reason tag. The rule identity
// rides along for audit; usage aggregation keys on Lot.RuleID, not on
// this string.
func grantReason(rule Rule, eventType string) string {
	if eventType != "" {
		return fmt.Sprintf("%s: rule %d (%s)", eventType, rule.ID, rule.Name)
	}
	return fmt.Sprintf("schedule: rule %d (%s)", rule.ID, rule.Name)
}

func scheduleIdempotencyKey(ruleID RuleID, memberID MemberID, now time.Time) string {
	return fmt.Sprintf("sched-%d-%d-%s", ruleID, memberID, now.Format("2006-01-02"))
}

func eventIdempotencyKey(ev Event, ruleID RuleID) string {
	if ev.OrderID == "" {
		// Without an order reference there is nothing stable to key on;
		// repeated custom events are legitimately distinct grants.
		return ""
	}
	return fmt.Sprintf("evt-%s-%d-%d-%s", ev.Type, ruleID, ev.MemberID, ev.OrderID)
}

// =============================================================================
// AUDIENCE RESOLUTION
// =============================================================================

func (e *Engine) resolveAudience(ctx context.Context, rule Rule, now time.Time) ([]Member, error) {
	switch rule.Audience {
	case AudienceNewMembers:
		return e.members.ActiveMembersCreatedSince(ctx, now.AddDate(0, 0, -30))
	case AudienceBirthdayToday:
		return e.members.ActiveMembersWithBirthday(ctx, now.Month(), now.Day())
	default:
		// AllMembers, and the safe fallback for unrecognized selectors.
		return e.members.ActiveMembers(ctx)
	}
}

func (e *Engine) memberBirthdayToday(ctx context.Context, id MemberID, now time.Time) (bool, error) {
	profile, err := e.members.Profile(ctx, id)
	if errors.Is(err, ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load profile %d: %w", id, err)
	}
	return profile.BirthdayMatches(now), nil
}

// =============================================================================
// READ SURFACE - Consumed by summary/preview features
// =============================================================================

// Balance returns the member's current point balance: the sum of
// Remaining across non-exhausted lots.
func (e *Engine) Balance(ctx context.Context, memberID MemberID) (int64, error) {
	return e.ledger.Balance(ctx, memberID, e.clock.Now())
}

// ExpiringWithin returns the member's non-exhausted lots expiring
// within the horizon, soonest first.
func (e *Engine) ExpiringWithin(ctx context.Context, memberID MemberID, horizon time.Duration) ([]Lot, error) {
	now := e.clock.Now()
	return e.ledger.ExpiringLots(ctx, memberID, now, now.Add(horizon))
}

// RunnableSchedules returns how many enabled schedule-triggered rules
// exist. The external scheduler uses this to size its work.
func (e *Engine) RunnableSchedules(ctx context.Context) (int, error) {
	rules, err := e.rules.RulesByTrigger(ctx, TriggerSchedule)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rules {
		if r.Enabled {
			n++
		}
	}
	return n, nil
}

// RunExpiryReaper sweeps expired lots. See reaper.go.
func (e *Engine) RunExpiryReaper(ctx context.Context) (int, error) {
	r := Reaper{Ledger: e.ledger, Clock: e.clock}
	return r.Run(ctx)
}
