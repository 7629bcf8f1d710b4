/*
store.go - Persistence interfaces for the ledger, rule catalog, and members

PURPOSE:
  Defines the boundary between the engine and storage. The ledger store
  is the single source of truth for budget/cap usage; the rule catalog
  and member store are read-mostly lookups owned by other parts of the
  platform.

LEDGER CONTRACT:
  - Lots are inserted once and never deleted. The only mutation the
    engine performs is the reaper's expiry-zeroing of Remaining.
  - Log entries are append-only. No Update, no Delete. Ever.
  - Idempotency keys are unique across lots; a second insert with the
    same key fails with ErrDuplicateIdempotencyKey.

CONCURRENCY CONTRACT:
  The "read current usage, then decide how much more to grant" sequence
  must be serialized per rule against concurrent invocations of the
  same rule. TxLedgerStore.WithRuleLock provides that critical section:
  everything the callback does through the store view - usage reads,
  the lot insert, the log append - is atomic with respect to other
  locked invocations for the same rule, and commits all-or-nothing.

IMPLEMENTATIONS:
  - store/memory: In-memory, for tests and development
  - store/sqlite: SQLite, for production
*/
package loyalty

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE - Point lots and audit log
// =============================================================================

// LedgerStore persists point lots and audit log entries and answers the
// aggregate usage queries the constraint enforcer needs.
type LedgerStore interface {
	// InsertLot persists a new lot. Fails with ErrDuplicateIdempotencyKey
	// if the lot carries a key that already exists.
	InsertLot(ctx context.Context, lot Lot) error

	// AppendLog persists an audit log entry. Append-only.
	AppendLog(ctx context.Context, entry LogEntry) error

	// LotExists reports whether a lot with this idempotency key exists.
	LotExists(ctx context.Context, idempotencyKey string) (bool, error)

	// RuleUsage returns the sum of Points across all lots granted under
	// the rule, all members, all time. Drives the lifetime budget check.
	RuleUsage(ctx context.Context, ruleID RuleID) (int64, error)

	// MemberRuleUsage returns the sum of Points granted to one member
	// under one rule with CreatedAt in [from, to]. Drives the monthly cap.
	MemberRuleUsage(ctx context.Context, ruleID RuleID, memberID MemberID, from, to time.Time) (int64, error)

	// Balance returns the sum of Remaining across the member's
	// non-exhausted lots as of now.
	Balance(ctx context.Context, memberID MemberID, now time.Time) (int64, error)

	// ExpiringLots returns the member's non-exhausted lots with
	// ExpiresAt in (now, until], soonest first.
	ExpiringLots(ctx context.Context, memberID MemberID, now, until time.Time) ([]Lot, error)

	// ExpireDue zeroes Remaining on every lot with Remaining > 0 and
	// ExpiresAt <= now. Returns the number of lots affected. Idempotent.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// TxLedgerStore extends LedgerStore with the per-rule critical section
// required for correct cap/budget enforcement under concurrency.
type TxLedgerStore interface {
	LedgerStore

	// WithRuleLock executes fn while holding an exclusive lock for
	// ruleID. The LedgerStore passed to fn sees committed state plus
	// fn's own writes; if fn returns an error, its writes are discarded.
	WithRuleLock(ctx context.Context, ruleID RuleID, fn func(LedgerStore) error) error
}

// =============================================================================
// RULE CATALOG
// =============================================================================

// RuleStore provides access to rule definitions.
type RuleStore interface {
	// Rule returns one rule by id, or ErrRuleNotFound.
	Rule(ctx context.Context, id RuleID) (Rule, error)

	// Rules returns every rule, newest first.
	Rules(ctx context.Context) ([]Rule, error)

	// RulesByTrigger returns all rules with the given trigger type,
	// enabled or not. The engine filters on Enabled.
	RulesByTrigger(ctx context.Context, trigger TriggerType) ([]Rule, error)

	// SaveRule inserts or updates a rule. A zero ID means insert; the
	// returned rule carries the assigned id.
	SaveRule(ctx context.Context, rule Rule) (Rule, error)
}

// =============================================================================
// MEMBER STORE - Read-only member/audience data
// =============================================================================

// MemberStore provides the member lookups audience resolution needs.
type MemberStore interface {
	// Member returns one member by id, or ErrMemberNotFound.
	Member(ctx context.Context, id MemberID) (Member, error)

	// ActiveMembers returns all active members.
	ActiveMembers(ctx context.Context) ([]Member, error)

	// ActiveMembersCreatedSince returns active members whose creation
	// timestamp is at or after since.
	ActiveMembersCreatedSince(ctx context.Context, since time.Time) ([]Member, error)

	// ActiveMembersWithBirthday returns active members whose profile
	// birthdate falls on month/day (year ignored). Members without a
	// birthdate on file are excluded.
	ActiveMembersWithBirthday(ctx context.Context, month time.Month, day int) ([]Member, error)

	// Profile returns a member's profile, or ErrProfileNotFound.
	Profile(ctx context.Context, id MemberID) (Profile, error)

	// SaveMember and SaveProfile exist so deployments without an
	// external member service can bootstrap data.
	SaveMember(ctx context.Context, m Member) error
	SaveProfile(ctx context.Context, p Profile) error
}
