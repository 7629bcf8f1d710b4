/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place. Configuration and data issues (missing
  rule, disabled rule, inactive member) are NOT represented here - the
  engine absorbs those as zero-effect results by design. Only genuine
  failures that callers must see are errors.

ERROR CATEGORIES:
  1. Lookup errors - Referenced rule/member does not exist
  2. Ledger errors - Persistence failures, duplicate idempotency keys
  3. Definition errors - Malformed rule configuration (factory/validation)
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRuleNotFound is returned by rule lookups for unknown rule ids.
	// The scheduled entry point treats this as a no-op, not a failure.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrMemberNotFound is returned by member lookups for unknown ids.
	ErrMemberNotFound = errors.New("member not found")

	// ErrProfileNotFound is returned when a member has no profile on file.
	ErrProfileNotFound = errors.New("member profile not found")

	// ErrDuplicateIdempotencyKey is returned when a lot with the same
	// idempotency key already exists. Expected behavior for retries; the
	// engine treats it as "already granted" and moves on.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidRule is returned when a rule definition fails validation.
	ErrInvalidRule = errors.New("invalid rule definition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RuleDefinitionError reports which field of a rule definition is bad.
type RuleDefinitionError struct {
	Field  string
	Detail string
}

func (e *RuleDefinitionError) Error() string {
	return fmt.Sprintf("invalid rule definition: %s: %s", e.Field, e.Detail)
}

func (e *RuleDefinitionError) Unwrap() error { return ErrInvalidRule }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing rule, member,
// or profile.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrProfileNotFound)
}
