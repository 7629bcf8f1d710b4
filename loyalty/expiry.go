/*
expiry.go - Expiry timestamp calculation

PURPOSE:
  Converts a rule's expiry-mode configuration into an absolute expiry
  timestamp given a caller-supplied "now". Pure: no side effects, no
  wall-clock reads.

MODES:
  days:             now + ExpiryDays days
  fixed_date:       the configured absolute date; falls back to now if unset
  this_week_sunday: end of the current week (Sunday 23:59:59), computed
                    as now.date + (7 - weekday) days, end-of-day
  anything else:    now + 30 days
*/
package loyalty

import "time"

// ExpiresAt computes the absolute expiry timestamp for a grant made
// under rule at time now.
func ExpiresAt(rule Rule, now time.Time) time.Time {
	switch rule.ExpiryMode {
	case ExpiryDays:
		return now.AddDate(0, 0, rule.ExpiryDays)

	case ExpiryFixedDate:
		if rule.ExpiryDate.IsZero() {
			return now
		}
		return rule.ExpiryDate

	case ExpiryThisWeekSunday:
		return endOfWeekSunday(now)

	default:
		return now.AddDate(0, 0, DefaultExpiryDays)
	}
}

// endOfWeekSunday returns 23:59:59 on the Sunday at or after now.
// time.Weekday numbers Sunday as 0, so a Sunday "now" rolls to the
// NEXT Sunday - the week is treated as Monday-through-Sunday.
func endOfWeekSunday(now time.Time) time.Time {
	days := 7 - int(now.Weekday())
	d := now.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, now.Location())
}

// startOfMonth returns midnight on the first day of now's calendar
// month, in now's location. The monthly cap window is [startOfMonth, now].
func startOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}
