/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements loyalty.TxLedgerStore, loyalty.RuleStore, and
  loyalty.MemberStore using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  point_lots:      One row per grant; remaining balance is zeroed by the
                   reaper, everything else is immutable after insert
  point_logs:      Append-only audit log of point changes
  rules:           Administrator-authored rule definitions
  members:         Member records (active flag, creation timestamp)
  member_profiles: Optional birthdate per member

INDEXES:
  - idx_lots_rule:                Lifetime budget aggregation
  - idx_lots_rule_member_created: Monthly cap aggregation (hot path)
  - idx_lots_member_expires:      Balance and expiring-lot reads

CONCURRENCY:
  WithRuleLock serializes grant decisions with a store-wide mutex plus
  a transaction. SQLite allows one writer at a time, so the mutex is
  the in-process fast path and the transaction makes the lot and its
  audit entry commit all-or-nothing. Usage reads inside the lock see
  committed state plus the transaction's own writes.

WAL MODE:
  Opened with WAL so readers don't block behind the writer.

TIME:
  All timestamps are stored as RFC3339 UTC text. Second precision is
  enough for this domain, and the fixed-width format keeps string
  comparison consistent with time ordering.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian/loyalty-engine/loyalty"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Compile-time interface checks.
var (
	_ loyalty.TxLedgerStore = (*Store)(nil)
	_ loyalty.RuleStore     = (*Store)(nil)
	_ loyalty.MemberStore   = (*Store)(nil)
)

// New creates a SQLite store at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite permits one writer anyway, and :memory:
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		trigger_type TEXT NOT NULL,
		audience TEXT NOT NULL,
		point_type TEXT NOT NULL,
		fixed_amount INTEGER NOT NULL DEFAULT 0,
		random_min INTEGER NOT NULL DEFAULT 0,
		random_max INTEGER NOT NULL DEFAULT 0,
		percentage INTEGER NOT NULL DEFAULT 0,
		monthly_cap INTEGER NOT NULL DEFAULT 0,
		total_budget INTEGER NOT NULL DEFAULT 0,
		expiry_mode TEXT NOT NULL DEFAULT '',
		expiry_days INTEGER NOT NULL DEFAULT 0,
		expiry_date TEXT,
		spending_threshold TEXT NOT NULL DEFAULT '0',
		custom_event_key TEXT NOT NULL DEFAULT '',
		schedule_spec TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_trigger ON rules(trigger_type);

	CREATE TABLE IF NOT EXISTS members (
		id INTEGER PRIMARY KEY,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS member_profiles (
		member_id INTEGER PRIMARY KEY REFERENCES members(id),
		birthday TEXT
	);

	-- Point lots: one row per grant. rule_id is a real relation, not a
	-- tag buried in the reason string - usage aggregation keys on it.
	CREATE TABLE IF NOT EXISTS point_lots (
		id TEXT PRIMARY KEY,
		member_id INTEGER NOT NULL,
		rule_id INTEGER NOT NULL,
		points INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		reason TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		expires_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		CHECK (remaining >= 0 AND remaining <= points)
	);

	CREATE INDEX IF NOT EXISTS idx_lots_rule
		ON point_lots(rule_id);
	CREATE INDEX IF NOT EXISTS idx_lots_rule_member_created
		ON point_lots(rule_id, member_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_lots_member_expires
		ON point_lots(member_id, expires_at);

	-- Audit log (append-only; no UPDATE or DELETE ever touches it)
	CREATE TABLE IF NOT EXISTS point_logs (
		id TEXT PRIMARY KEY,
		member_id INTEGER NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		change_amount INTEGER NOT NULL,
		reason TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_logs_member ON point_logs(member_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TIME ENCODING
// =============================================================================

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// dbtx is satisfied by both *sql.DB and *sql.Tx so the ledger queries
// can run outside or inside a rule-locked transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) InsertLot(ctx context.Context, lot loyalty.Lot) error {
	return insertLot(ctx, s.db, lot)
}

func (s *Store) AppendLog(ctx context.Context, entry loyalty.LogEntry) error {
	return appendLog(ctx, s.db, entry)
}

func (s *Store) LotExists(ctx context.Context, key string) (bool, error) {
	return lotExists(ctx, s.db, key)
}

func (s *Store) RuleUsage(ctx context.Context, ruleID loyalty.RuleID) (int64, error) {
	return ruleUsage(ctx, s.db, ruleID)
}

func (s *Store) MemberRuleUsage(ctx context.Context, ruleID loyalty.RuleID, memberID loyalty.MemberID, from, to time.Time) (int64, error) {
	return memberRuleUsage(ctx, s.db, ruleID, memberID, from, to)
}

func (s *Store) Balance(ctx context.Context, memberID loyalty.MemberID, now time.Time) (int64, error) {
	return balance(ctx, s.db, memberID, now)
}

func (s *Store) ExpiringLots(ctx context.Context, memberID loyalty.MemberID, now, until time.Time) ([]loyalty.Lot, error) {
	return expiringLots(ctx, s.db, memberID, now, until)
}

func (s *Store) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return expireDue(ctx, s.db, now)
}

// WithRuleLock runs fn inside a store-wide mutex and a transaction.
// The mutex serializes in-process grant decisions for all rules (SQLite
// permits one writer at a time anyway); the transaction makes the lot
// and its audit entry commit all-or-nothing.
func (s *Store) WithRuleLock(ctx context.Context, ruleID loyalty.RuleID, fn func(loyalty.LedgerStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grant transaction: %w", err)
	}

	if err := fn(&txLedger{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grant transaction: %w", err)
	}
	return nil
}

// txLedger is the LedgerStore view handed to WithRuleLock callbacks.
type txLedger struct {
	tx *sql.Tx
}

func (t *txLedger) InsertLot(ctx context.Context, lot loyalty.Lot) error {
	return insertLot(ctx, t.tx, lot)
}

func (t *txLedger) AppendLog(ctx context.Context, entry loyalty.LogEntry) error {
	return appendLog(ctx, t.tx, entry)
}

func (t *txLedger) LotExists(ctx context.Context, key string) (bool, error) {
	return lotExists(ctx, t.tx, key)
}

func (t *txLedger) RuleUsage(ctx context.Context, ruleID loyalty.RuleID) (int64, error) {
	return ruleUsage(ctx, t.tx, ruleID)
}

func (t *txLedger) MemberRuleUsage(ctx context.Context, ruleID loyalty.RuleID, memberID loyalty.MemberID, from, to time.Time) (int64, error) {
	return memberRuleUsage(ctx, t.tx, ruleID, memberID, from, to)
}

func (t *txLedger) Balance(ctx context.Context, memberID loyalty.MemberID, now time.Time) (int64, error) {
	return balance(ctx, t.tx, memberID, now)
}

func (t *txLedger) ExpiringLots(ctx context.Context, memberID loyalty.MemberID, now, until time.Time) ([]loyalty.Lot, error) {
	return expiringLots(ctx, t.tx, memberID, now, until)
}

func (t *txLedger) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	return expireDue(ctx, t.tx, now)
}

// =============================================================================
// LEDGER QUERIES - Shared between direct and transactional paths
// =============================================================================

func insertLot(ctx context.Context, q dbtx, lot loyalty.Lot) error {
	var key any
	if lot.IdempotencyKey != "" {
		key = lot.IdempotencyKey
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO point_lots
			(id, member_id, rule_id, points, remaining, reason, order_id, idempotency_key, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.ID, lot.MemberID, lot.RuleID, lot.Points, lot.Remaining,
		lot.Reason, lot.OrderID, key, encodeTime(lot.ExpiresAt), encodeTime(lot.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return loyalty.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

func appendLog(ctx context.Context, q dbtx, entry loyalty.LogEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO point_logs (id, member_id, order_id, change_amount, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.MemberID, entry.OrderID, entry.Change, entry.Reason, encodeTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func lotExists(ctx context.Context, q dbtx, key string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM point_lots WHERE idempotency_key = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return n > 0, nil
}

func ruleUsage(ctx context.Context, q dbtx, ruleID loyalty.RuleID) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM point_lots WHERE rule_id = ?`, ruleID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("rule usage: %w", err)
	}
	return sum, nil
}

func memberRuleUsage(ctx context.Context, q dbtx, ruleID loyalty.RuleID, memberID loyalty.MemberID, from, to time.Time) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM point_lots
		WHERE rule_id = ? AND member_id = ? AND created_at >= ? AND created_at <= ?`,
		ruleID, memberID, encodeTime(from), encodeTime(to)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("member rule usage: %w", err)
	}
	return sum, nil
}

func balance(ctx context.Context, q dbtx, memberID loyalty.MemberID, now time.Time) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(remaining), 0) FROM point_lots
		WHERE member_id = ? AND remaining > 0 AND expires_at > ?`,
		memberID, encodeTime(now)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return sum, nil
}

func expiringLots(ctx context.Context, q dbtx, memberID loyalty.MemberID, now, until time.Time) ([]loyalty.Lot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, member_id, rule_id, points, remaining, reason, order_id,
		       COALESCE(idempotency_key, ''), expires_at, created_at
		FROM point_lots
		WHERE member_id = ? AND remaining > 0 AND expires_at > ? AND expires_at <= ?
		ORDER BY expires_at ASC`,
		memberID, encodeTime(now), encodeTime(until))
	if err != nil {
		return nil, fmt.Errorf("expiring lots: %w", err)
	}
	defer rows.Close()

	var result []loyalty.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, lot)
	}
	return result, rows.Err()
}

func expireDue(ctx context.Context, q dbtx, now time.Time) (int, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE point_lots SET remaining = 0 WHERE remaining > 0 AND expires_at <= ?`,
		encodeTime(now))
	if err != nil {
		return 0, fmt.Errorf("expire lots: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanLot(rows *sql.Rows) (loyalty.Lot, error) {
	var lot loyalty.Lot
	var expiresAt, createdAt string
	err := rows.Scan(&lot.ID, &lot.MemberID, &lot.RuleID, &lot.Points, &lot.Remaining,
		&lot.Reason, &lot.OrderID, &lot.IdempotencyKey, &expiresAt, &createdAt)
	if err != nil {
		return loyalty.Lot{}, fmt.Errorf("scan lot: %w", err)
	}
	if lot.ExpiresAt, err = decodeTime(expiresAt); err != nil {
		return loyalty.Lot{}, fmt.Errorf("scan lot expires_at: %w", err)
	}
	if lot.CreatedAt, err = decodeTime(createdAt); err != nil {
		return loyalty.Lot{}, fmt.Errorf("scan lot created_at: %w", err)
	}
	return lot, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// RULE STORE
// =============================================================================

const ruleColumns = `id, name, enabled, trigger_type, audience, point_type,
	fixed_amount, random_min, random_max, percentage, monthly_cap, total_budget,
	expiry_mode, expiry_days, COALESCE(expiry_date, ''), spending_threshold,
	custom_event_key, schedule_spec, created_at`

func (s *Store) Rule(ctx context.Context, id loyalty.RuleID) (loyalty.Rule, error) {
	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	if err != nil {
		return loyalty.Rule{}, err
	}
	if len(rules) == 0 {
		return loyalty.Rule{}, loyalty.ErrRuleNotFound
	}
	return rules[0], nil
}

func (s *Store) Rules(ctx context.Context) ([]loyalty.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY id DESC`)
}

func (s *Store) RulesByTrigger(ctx context.Context, trigger loyalty.TriggerType) ([]loyalty.Rule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE trigger_type = ? ORDER BY id ASC`, string(trigger))
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]loyalty.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	var result []loyalty.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

func scanRule(rows *sql.Rows) (loyalty.Rule, error) {
	var r loyalty.Rule
	var enabled int
	var expiryDate, threshold, createdAt string
	err := rows.Scan(&r.ID, &r.Name, &enabled, &r.Trigger, &r.Audience, &r.PointType,
		&r.FixedAmount, &r.RandomMin, &r.RandomMax, &r.Percentage, &r.MonthlyCap, &r.TotalBudget,
		&r.ExpiryMode, &r.ExpiryDays, &expiryDate, &threshold,
		&r.CustomEventKey, &r.ScheduleSpec, &createdAt)
	if err != nil {
		return loyalty.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	r.Enabled = enabled != 0
	if r.ExpiryDate, err = decodeTime(expiryDate); err != nil {
		return loyalty.Rule{}, fmt.Errorf("scan rule expiry_date: %w", err)
	}
	if r.SpendingThreshold, err = decimal.NewFromString(threshold); err != nil {
		return loyalty.Rule{}, fmt.Errorf("scan rule spending_threshold: %w", err)
	}
	if r.CreatedAt, err = decodeTime(createdAt); err != nil {
		return loyalty.Rule{}, fmt.Errorf("scan rule created_at: %w", err)
	}
	return r, nil
}

func (s *Store) SaveRule(ctx context.Context, rule loyalty.Rule) (loyalty.Rule, error) {
	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	var expiryDate any
	if !rule.ExpiryDate.IsZero() {
		expiryDate = encodeTime(rule.ExpiryDate)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	if rule.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO rules
				(name, enabled, trigger_type, audience, point_type,
				 fixed_amount, random_min, random_max, percentage, monthly_cap, total_budget,
				 expiry_mode, expiry_days, expiry_date, spending_threshold,
				 custom_event_key, schedule_spec, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.Name, enabled, string(rule.Trigger), string(rule.Audience), string(rule.PointType),
			rule.FixedAmount, rule.RandomMin, rule.RandomMax, rule.Percentage, rule.MonthlyCap, rule.TotalBudget,
			string(rule.ExpiryMode), rule.ExpiryDays, expiryDate, rule.SpendingThreshold.String(),
			rule.CustomEventKey, rule.ScheduleSpec, encodeTime(rule.CreatedAt))
		if err != nil {
			return loyalty.Rule{}, fmt.Errorf("insert rule: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return loyalty.Rule{}, fmt.Errorf("rule id: %w", err)
		}
		rule.ID = loyalty.RuleID(id)
		return rule, nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET
			name = ?, enabled = ?, trigger_type = ?, audience = ?, point_type = ?,
			fixed_amount = ?, random_min = ?, random_max = ?, percentage = ?,
			monthly_cap = ?, total_budget = ?, expiry_mode = ?, expiry_days = ?,
			expiry_date = ?, spending_threshold = ?, custom_event_key = ?, schedule_spec = ?
		WHERE id = ?`,
		rule.Name, enabled, string(rule.Trigger), string(rule.Audience), string(rule.PointType),
		rule.FixedAmount, rule.RandomMin, rule.RandomMax, rule.Percentage,
		rule.MonthlyCap, rule.TotalBudget, string(rule.ExpiryMode), rule.ExpiryDays,
		expiryDate, rule.SpendingThreshold.String(), rule.CustomEventKey, rule.ScheduleSpec,
		rule.ID)
	if err != nil {
		return loyalty.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return rule, nil
}

// =============================================================================
// MEMBER STORE
// =============================================================================

func (s *Store) Member(ctx context.Context, id loyalty.MemberID) (loyalty.Member, error) {
	var m loyalty.Member
	var active int
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, active, created_at FROM members WHERE id = ?`, id).
		Scan(&m.ID, &active, &createdAt)
	if err == sql.ErrNoRows {
		return loyalty.Member{}, loyalty.ErrMemberNotFound
	}
	if err != nil {
		return loyalty.Member{}, fmt.Errorf("load member: %w", err)
	}
	m.Active = active != 0
	if m.CreatedAt, err = decodeTime(createdAt); err != nil {
		return loyalty.Member{}, fmt.Errorf("member created_at: %w", err)
	}
	return m, nil
}

func (s *Store) ActiveMembers(ctx context.Context) ([]loyalty.Member, error) {
	return s.queryMembers(ctx,
		`SELECT id, active, created_at FROM members WHERE active = 1 ORDER BY id ASC`)
}

func (s *Store) ActiveMembersCreatedSince(ctx context.Context, since time.Time) ([]loyalty.Member, error) {
	return s.queryMembers(ctx, `
		SELECT id, active, created_at FROM members
		WHERE active = 1 AND created_at >= ? ORDER BY id ASC`, encodeTime(since))
}

func (s *Store) ActiveMembersWithBirthday(ctx context.Context, month time.Month, day int) ([]loyalty.Member, error) {
	// Birthdays are stored as RFC3339, so month and day sit at fixed
	// offsets in the text.
	return s.queryMembers(ctx, `
		SELECT m.id, m.active, m.created_at
		FROM members m
		JOIN member_profiles p ON p.member_id = m.id
		WHERE m.active = 1
		  AND p.birthday IS NOT NULL
		  AND CAST(substr(p.birthday, 6, 2) AS INTEGER) = ?
		  AND CAST(substr(p.birthday, 9, 2) AS INTEGER) = ?
		ORDER BY m.id ASC`, int(month), day)
}

func (s *Store) queryMembers(ctx context.Context, query string, args ...any) ([]loyalty.Member, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	var result []loyalty.Member
	for rows.Next() {
		var m loyalty.Member
		var active int
		var createdAt string
		if err := rows.Scan(&m.ID, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Active = active != 0
		if m.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, fmt.Errorf("member created_at: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) Profile(ctx context.Context, id loyalty.MemberID) (loyalty.Profile, error) {
	var birthday sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT birthday FROM member_profiles WHERE member_id = ?`, id).Scan(&birthday)
	if err == sql.ErrNoRows {
		return loyalty.Profile{}, loyalty.ErrProfileNotFound
	}
	if err != nil {
		return loyalty.Profile{}, fmt.Errorf("load profile: %w", err)
	}

	p := loyalty.Profile{MemberID: id}
	if birthday.Valid && birthday.String != "" {
		t, err := decodeTime(birthday.String)
		if err != nil {
			return loyalty.Profile{}, fmt.Errorf("profile birthday: %w", err)
		}
		p.Birthday = &t
	}
	return p, nil
}

func (s *Store) SaveMember(ctx context.Context, m loyalty.Member) error {
	active := 0
	if m.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, active, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET active = excluded.active`,
		m.ID, active, encodeTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("save member: %w", err)
	}
	return nil
}

func (s *Store) SaveProfile(ctx context.Context, p loyalty.Profile) error {
	var birthday any
	if p.Birthday != nil {
		birthday = encodeTime(*p.Birthday)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO member_profiles (member_id, birthday) VALUES (?, ?)
		ON CONFLICT(member_id) DO UPDATE SET birthday = excluded.birthday`,
		p.MemberID, birthday)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
