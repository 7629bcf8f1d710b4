/*
Package loyalty provides the rule evaluation and point-ledger engine.

PURPOSE:
  This package contains the core types and algorithms for awarding,
  tracking, and expiring loyalty points. Administrators author rules
  that decide when points are granted (on a schedule or in response to
  business events), to whom, how many, and for how long. Granted points
  live in discrete, independently-expiring lots.

KEY CONCEPTS IN THIS FILE (types.go):
  - Rule: Administrator-authored grant configuration (trigger, audience,
    amount mode, caps, expiry)
  - Lot: One discrete point grant with its own remaining balance and expiry
  - LogEntry: An immutable audit record of a point change
  - Member/Profile: Read-only member data used for audience filtering
  - Event: A business event notification delivered to the engine

DESIGN PRINCIPLES:
  1. Immutability: Log entries are never modified or deleted
  2. Precision: Money amounts use decimal.Decimal to avoid float errors
  3. Determinism: The clock and the random source are injected, never global
  4. Auditability: Every lot references its originating rule and carries
     a human-readable reason

SEE ALSO:
  - amount.go:     Candidate point-quantity calculation
  - expiry.go:     Expiry timestamp calculation
  - constraint.go: Monthly cap / lifetime budget enforcement
  - engine.go:     Scheduled and event-driven orchestration
  - reaper.go:     Expired-lot sweep
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RuleID int64
type MemberID int64

// =============================================================================
// RULE - Administrator-authored grant configuration
// =============================================================================

// TriggerType is the activation condition of a rule. A rule has exactly
// one trigger. Schedule rules are only ever invoked via the scheduled
// entry point; all other triggers via the event entry point.
type TriggerType string

const (
	TriggerSchedule          TriggerType = "schedule"
	TriggerRegistration      TriggerType = "registration_completed"
	TriggerFirstPurchase     TriggerType = "first_purchase_completed"
	TriggerSpendingThreshold TriggerType = "spending_threshold"
	TriggerCustomEvent       TriggerType = "custom_event"
	TriggerBirthday          TriggerType = "birthday_today"
)

// Audience selects which members a rule applies to.
type Audience string

const (
	AudienceAllMembers    Audience = "all_members"
	AudienceNewMembers    Audience = "new_members_last_30_days"
	AudienceBirthdayToday Audience = "birthday_today"
)

// PointType selects how the candidate point quantity is computed.
type PointType string

const (
	PointFixed      PointType = "fixed"      // Flat amount
	PointRandom     PointType = "random"     // Uniform integer in [min, max]
	PointPercentage PointType = "percentage" // floor(transaction amount * pct / 100)
)

// ExpiryMode selects how a lot's expiry timestamp is computed.
type ExpiryMode string

const (
	ExpiryDays           ExpiryMode = "days"             // now + ExpiryDays days
	ExpiryFixedDate      ExpiryMode = "fixed_date"       // Configured absolute date
	ExpiryThisWeekSunday ExpiryMode = "this_week_sunday" // End of current week, Sunday 23:59:59
)

// DefaultExpiryDays applies when the expiry mode is unset or unrecognized.
const DefaultExpiryDays = 30

// Rule is a named configuration that decides when, to whom, how much,
// and for how long points are granted.
//
// Constraint fields use zero as "unconfigured": a MonthlyCap or
// TotalBudget of 0 means no limit of that kind applies.
type Rule struct {
	ID      RuleID
	Name    string
	Enabled bool

	Trigger  TriggerType
	Audience Audience

	// Amount configuration
	PointType   PointType
	FixedAmount int64
	RandomMin   int64
	RandomMax   int64
	Percentage  int64

	// Spending constraints
	MonthlyCap  int64 // Per-member per-calendar-month ceiling (0 = none)
	TotalBudget int64 // Rule-wide lifetime ceiling across all members (0 = none)

	// Expiry configuration
	ExpiryMode ExpiryMode
	ExpiryDays int
	ExpiryDate time.Time

	// Trigger-specific fields
	SpendingThreshold decimal.Decimal // Required for TriggerSpendingThreshold
	CustomEventKey    string          // Required match for TriggerCustomEvent
	ScheduleSpec      string          // Cron-like expression, opaque to the engine

	CreatedAt time.Time
}

// =============================================================================
// LOT - One discrete point grant
// =============================================================================

// Lot records a single grant transaction. Remaining is monotonically
// non-increasing and starts equal to Points.
//
// INVARIANT: 0 <= Remaining <= Points at all times.
//
// A lot is exhausted when Remaining is 0 or the current time has passed
// ExpiresAt. Lots are created only by the engine, debited only by an
// external redemption consumer, and expiry-zeroed only by the reaper.
type Lot struct {
	ID        string
	MemberID  MemberID
	RuleID    RuleID // Originating rule (usage aggregation keys on this)
	Points    int64
	Remaining int64
	Reason    string
	OrderID   string

	// IdempotencyKey prevents double-granting for the same event or the
	// same scheduled run. Empty means no idempotency guarantee is needed.
	IdempotencyKey string

	ExpiresAt time.Time
	CreatedAt time.Time
}

// Exhausted reports whether the lot can still contribute to a balance.
func (l Lot) Exhausted(now time.Time) bool {
	return l.Remaining <= 0 || !now.Before(l.ExpiresAt)
}

// =============================================================================
// LOG ENTRY - Immutable audit record
// =============================================================================

// LogEntry is an append-only record of a point change, independent of
// lot bookkeeping. Never mutated or deleted.
type LogEntry struct {
	ID        string
	MemberID  MemberID
	OrderID   string
	Change    int64 // Signed point delta
	Reason    string
	CreatedAt time.Time
}

// =============================================================================
// MEMBER - Read-only to this engine
// =============================================================================

// Member is the subset of member data the engine needs for audience
// filtering. Registration and profile management live elsewhere.
type Member struct {
	ID        MemberID
	Active    bool
	CreatedAt time.Time
}

// Profile carries the optional birthdate used for birthday targeting.
type Profile struct {
	MemberID MemberID
	Birthday *time.Time
}

// BirthdayMatches reports whether the profile's birthdate falls on the
// month/day of the given time (year ignored). False when no birthdate
// is on file.
func (p Profile) BirthdayMatches(now time.Time) bool {
	if p.Birthday == nil {
		return false
	}
	return p.Birthday.Month() == now.Month() && p.Birthday.Day() == now.Day()
}

// =============================================================================
// EVENT - Business event notification
// =============================================================================

// Event is delivered by order/registration/member-lifecycle code when
// something happened that rules may react to.
type Event struct {
	Type      TriggerType
	MemberID  MemberID
	Amount    *decimal.Decimal // Transaction amount, when the event has one
	OrderID   string
	CustomKey string // Matched against Rule.CustomEventKey for custom events
}

// =============================================================================
// CLOCK - Injected time source
// =============================================================================

// Clock supplies "now" to every decision path. Business logic never
// reads the wall clock directly, so monthly windows, expiry, and
// birthday matching are deterministic under test.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return ClockFunc(time.Now) }

// FixedClock returns a Clock frozen at t. For tests.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
