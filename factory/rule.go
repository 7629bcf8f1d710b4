/*
Package factory provides JSON and YAML to Go rule conversion.

PURPOSE:
  Converts serialized rule definitions into loyalty.Rule values. This
  enables rule configuration without code changes - an administrator
  (or the admin UI) submits a definition, and the factory validates it
  and fills in defaults.

JSON SCHEMA:
  {
    "name": "Birthday Bonus",
    "enabled": true,
    "trigger": "birthday_today",
    "audience": "birthday_today",
    "point_type": "fixed",
    "fixed_amount": 100,
    "monthly_cap": 100,
    "total_budget": 50000,
    "expiry": {"mode": "days", "days": 90}
  }

  Amount fields by point_type:
    fixed:      fixed_amount
    random:     random_min, random_max
    percentage: percentage
  Trigger-specific fields:
    spending_threshold: spending_threshold (decimal string or number)
    custom_event:       custom_event_key
    schedule:           schedule_spec (cron-like, opaque here)

YAML:
  The same schema, accepted via ParseRuleYAML. Useful for seeding rules
  from files checked into ops repos.

VALIDATION:
  Structural problems return *loyalty.RuleDefinitionError wrapping
  loyalty.ErrInvalidRule, naming the offending field.
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/meridian/loyalty-engine/loyalty"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// RuleDef is the serialized representation of a rule.
type RuleDef struct {
	ID      int64  `json:"id,omitempty" yaml:"id,omitempty"`
	Name    string `json:"name" yaml:"name"`
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"` // Default true

	Trigger  string `json:"trigger" yaml:"trigger"`
	Audience string `json:"audience,omitempty" yaml:"audience,omitempty"` // Default all_members

	PointType   string `json:"point_type" yaml:"point_type"`
	FixedAmount int64  `json:"fixed_amount,omitempty" yaml:"fixed_amount,omitempty"`
	RandomMin   int64  `json:"random_min,omitempty" yaml:"random_min,omitempty"`
	RandomMax   int64  `json:"random_max,omitempty" yaml:"random_max,omitempty"`
	Percentage  int64  `json:"percentage,omitempty" yaml:"percentage,omitempty"`

	MonthlyCap  int64 `json:"monthly_cap,omitempty" yaml:"monthly_cap,omitempty"`
	TotalBudget int64 `json:"total_budget,omitempty" yaml:"total_budget,omitempty"`

	Expiry *ExpiryDef `json:"expiry,omitempty" yaml:"expiry,omitempty"`

	SpendingThreshold DecimalString `json:"spending_threshold,omitempty" yaml:"spending_threshold,omitempty"`
	CustomEventKey    string        `json:"custom_event_key,omitempty" yaml:"custom_event_key,omitempty"`
	ScheduleSpec      string        `json:"schedule_spec,omitempty" yaml:"schedule_spec,omitempty"`
}

// DecimalString accepts either a JSON/YAML number or a string and
// preserves it verbatim for exact decimal parsing.
type DecimalString string

func (d *DecimalString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = DecimalString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = DecimalString(n.String())
	return nil
}

func (d *DecimalString) UnmarshalYAML(node *yaml.Node) error {
	*d = DecimalString(node.Value)
	return nil
}

// ExpiryDef configures how grants under the rule expire.
type ExpiryDef struct {
	Mode string `json:"mode" yaml:"mode"` // days | fixed_date | this_week_sunday
	Days int    `json:"days,omitempty" yaml:"days,omitempty"`
	Date string `json:"date,omitempty" yaml:"date,omitempty"` // RFC3339 or YYYY-MM-DD
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRule converts a JSON rule definition into a loyalty.Rule.
func ParseRule(data []byte) (loyalty.Rule, error) {
	var def RuleDef
	if err := json.Unmarshal(data, &def); err != nil {
		return loyalty.Rule{}, fmt.Errorf("parse rule JSON: %w", err)
	}
	return BuildRule(def)
}

// ParseRuleYAML converts a YAML rule definition into a loyalty.Rule.
func ParseRuleYAML(data []byte) (loyalty.Rule, error) {
	var def RuleDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return loyalty.Rule{}, fmt.Errorf("parse rule YAML: %w", err)
	}
	return BuildRule(def)
}

// ParseRulesYAML converts a YAML document holding a list of rule
// definitions. Used to seed rules from files.
func ParseRulesYAML(data []byte) ([]loyalty.Rule, error) {
	var defs []RuleDef
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse rules YAML: %w", err)
	}
	rules := make([]loyalty.Rule, 0, len(defs))
	for i, def := range defs {
		rule, err := BuildRule(def)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// BuildRule validates a definition and produces a loyalty.Rule with
// defaults applied.
func BuildRule(def RuleDef) (loyalty.Rule, error) {
	if def.Name == "" {
		return loyalty.Rule{}, &loyalty.RuleDefinitionError{Field: "name", Detail: "required"}
	}

	trigger := loyalty.TriggerType(def.Trigger)
	switch trigger {
	case loyalty.TriggerSchedule, loyalty.TriggerRegistration, loyalty.TriggerFirstPurchase,
		loyalty.TriggerSpendingThreshold, loyalty.TriggerCustomEvent, loyalty.TriggerBirthday:
	default:
		return loyalty.Rule{}, &loyalty.RuleDefinitionError{Field: "trigger", Detail: fmt.Sprintf("unknown trigger %q", def.Trigger)}
	}

	audience := loyalty.Audience(def.Audience)
	switch audience {
	case "":
		audience = loyalty.AudienceAllMembers
	case loyalty.AudienceAllMembers, loyalty.AudienceNewMembers, loyalty.AudienceBirthdayToday:
	default:
		return loyalty.Rule{}, &loyalty.RuleDefinitionError{Field: "audience", Detail: fmt.Sprintf("unknown audience %q", def.Audience)}
	}

	pointType := loyalty.PointType(def.PointType)
	switch pointType {
	case loyalty.PointFixed, loyalty.PointPercentage:
	case loyalty.PointRandom:
		if def.RandomMax < def.RandomMin {
			return loyalty.Rule{}, &loyalty.RuleDefinitionError{Field: "random_max", Detail: "must be >= random_min"}
		}
	default:
		return loyalty.Rule{}, &loyalty.RuleDefinitionError{Field: "point_type", Detail: fmt.Sprintf("unknown point type %q", def.PointType)}
	}

	if def.MonthlyCap < 0 {
		return loyalty.Rule{}, &loyalty.RuleDefinitionError{Field: "monthly_cap", Detail: "must not be negative"}
	}
	if def.TotalBudget < 0 {
		return loyalty.Rule{}, &loyalty.RuleDefinitionError{Field: "total_budget", Detail: "must not be negative"}
	}

	rule := loyalty.Rule{
		ID:          loyalty.RuleID(def.ID),
		Name:        def.Name,
		Enabled:     def.Enabled == nil || *def.Enabled,
		Trigger:     trigger,
		Audience:    audience,
		PointType:   pointType,
		FixedAmount: def.FixedAmount,
		RandomMin:   def.RandomMin,
		RandomMax:   def.RandomMax,
		Percentage:  def.Percentage,
		MonthlyCap:  def.MonthlyCap,
		TotalBudget: def.TotalBudget,
	}

	if err := applyExpiry(&rule, def.Expiry); err != nil {
		return loyalty.Rule{}, err
	}

	switch trigger {
	case loyalty.TriggerSpendingThreshold:
		if def.SpendingThreshold == "" {
			return loyalty.Rule{}, &loyalty.RuleDefinitionError{Field: "spending_threshold", Detail: "required for spending_threshold trigger"}
		}
		threshold, err := decimal.NewFromString(string(def.SpendingThreshold))
		if err != nil {
			return loyalty.Rule{}, &loyalty.RuleDefinitionError{Field: "spending_threshold", Detail: "not a valid decimal"}
		}
		rule.SpendingThreshold = threshold
	case loyalty.TriggerCustomEvent:
		if def.CustomEventKey == "" {
			return loyalty.Rule{}, &loyalty.RuleDefinitionError{Field: "custom_event_key", Detail: "required for custom_event trigger"}
		}
		rule.CustomEventKey = def.CustomEventKey
	case loyalty.TriggerSchedule:
		rule.ScheduleSpec = def.ScheduleSpec
	}

	return rule, nil
}

func applyExpiry(rule *loyalty.Rule, def *ExpiryDef) error {
	if def == nil {
		// Unspecified expiry takes the engine default (now + 30 days).
		return nil
	}
	mode := loyalty.ExpiryMode(def.Mode)
	switch mode {
	case loyalty.ExpiryDays:
		if def.Days <= 0 {
			return &loyalty.RuleDefinitionError{Field: "expiry.days", Detail: "must be positive"}
		}
		rule.ExpiryDays = def.Days
	case loyalty.ExpiryFixedDate:
		date, err := parseDate(def.Date)
		if err != nil {
			return &loyalty.RuleDefinitionError{Field: "expiry.date", Detail: "not a valid date"}
		}
		rule.ExpiryDate = date
	case loyalty.ExpiryThisWeekSunday:
	default:
		return &loyalty.RuleDefinitionError{Field: "expiry.mode", Detail: fmt.Sprintf("unknown expiry mode %q", def.Mode)}
	}
	rule.ExpiryMode = mode
	return nil
}

// parseDate accepts RFC3339 or plain YYYY-MM-DD. Dates without an
// explicit timezone are treated as already in the system's operating
// timezone (UTC).
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
