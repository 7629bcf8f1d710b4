/*
Package memory provides in-memory store implementations (for testing/dev).

PURPOSE:
  Implements loyalty.TxLedgerStore, loyalty.RuleStore, and
  loyalty.MemberStore with plain maps and slices. One Memory instance
  backs all three, which mirrors how the SQLite store shares one
  database file.

CONCURRENCY:
  A store-wide RWMutex guards the data. WithRuleLock additionally takes
  a per-rule mutex and buffers the callback's writes in a view, so a
  failing callback discards its writes and concurrent callbacks for
  DIFFERENT rules never clobber each other's commits.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meridian/loyalty-engine/loyalty"
)

type Memory struct {
	mu   sync.RWMutex
	lots []loyalty.Lot
	logs []loyalty.LogEntry
	idem map[string]bool

	rules      map[loyalty.RuleID]loyalty.Rule
	nextRuleID loyalty.RuleID

	members  map[loyalty.MemberID]loyalty.Member
	profiles map[loyalty.MemberID]loyalty.Profile

	lockMu    sync.Mutex
	ruleLocks map[loyalty.RuleID]*sync.Mutex
}

// Compile-time interface checks.
var (
	_ loyalty.TxLedgerStore = (*Memory)(nil)
	_ loyalty.RuleStore     = (*Memory)(nil)
	_ loyalty.MemberStore   = (*Memory)(nil)
)

func New() *Memory {
	return &Memory{
		idem:      make(map[string]bool),
		rules:     make(map[loyalty.RuleID]loyalty.Rule),
		members:   make(map[loyalty.MemberID]loyalty.Member),
		profiles:  make(map[loyalty.MemberID]loyalty.Profile),
		ruleLocks: make(map[loyalty.RuleID]*sync.Mutex),
	}
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) InsertLot(_ context.Context, lot loyalty.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLotLocked(lot)
}

func (m *Memory) insertLotLocked(lot loyalty.Lot) error {
	if lot.IdempotencyKey != "" {
		if m.idem[lot.IdempotencyKey] {
			return loyalty.ErrDuplicateIdempotencyKey
		}
		m.idem[lot.IdempotencyKey] = true
	}
	m.lots = append(m.lots, lot)
	return nil
}

func (m *Memory) AppendLog(_ context.Context, entry loyalty.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *Memory) LotExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idem[idempotencyKey], nil
}

func (m *Memory) RuleUsage(_ context.Context, ruleID loyalty.RuleID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, l := range m.lots {
		if l.RuleID == ruleID {
			sum += l.Points
		}
	}
	return sum, nil
}

func (m *Memory) MemberRuleUsage(_ context.Context, ruleID loyalty.RuleID, memberID loyalty.MemberID, from, to time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, l := range m.lots {
		if l.RuleID == ruleID && l.MemberID == memberID &&
			!l.CreatedAt.Before(from) && !l.CreatedAt.After(to) {
			sum += l.Points
		}
	}
	return sum, nil
}

func (m *Memory) Balance(_ context.Context, memberID loyalty.MemberID, now time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, l := range m.lots {
		if l.MemberID == memberID && !l.Exhausted(now) {
			sum += l.Remaining
		}
	}
	return sum, nil
}

func (m *Memory) ExpiringLots(_ context.Context, memberID loyalty.MemberID, now, until time.Time) ([]loyalty.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []loyalty.Lot
	for _, l := range m.lots {
		if l.MemberID == memberID && !l.Exhausted(now) && !l.ExpiresAt.After(until) {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	return result, nil
}

func (m *Memory) ExpireDue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.lots {
		if m.lots[i].Remaining > 0 && !m.lots[i].ExpiresAt.After(now) {
			m.lots[i].Remaining = 0
			n++
		}
	}
	return n, nil
}

// Lots returns all lots for a member, oldest first. Not part of the
// store interfaces; used by tests and the API's lot listing.
func (m *Memory) Lots(_ context.Context, memberID loyalty.MemberID) ([]loyalty.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []loyalty.Lot
	for _, l := range m.lots {
		if l.MemberID == memberID {
			result = append(result, l)
		}
	}
	return result, nil
}

// Logs returns all audit entries for a member, oldest first. Not part
// of the store interfaces; used by tests.
func (m *Memory) Logs(_ context.Context, memberID loyalty.MemberID) ([]loyalty.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []loyalty.LogEntry
	for _, e := range m.logs {
		if e.MemberID == memberID {
			result = append(result, e)
		}
	}
	return result, nil
}

// =============================================================================
// RULE LOCK - Per-rule critical section with buffered writes
// =============================================================================

func (m *Memory) WithRuleLock(ctx context.Context, ruleID loyalty.RuleID, fn func(loyalty.LedgerStore) error) error {
	lock := m.ruleLock(ruleID)
	lock.Lock()
	defer lock.Unlock()

	view := &ledgerView{parent: m}
	if err := fn(view); err != nil {
		return err
	}

	// Commit buffered writes.
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lot := range view.lots {
		if err := m.insertLotLocked(lot); err != nil {
			return err
		}
	}
	m.logs = append(m.logs, view.logs...)
	return nil
}

func (m *Memory) ruleLock(ruleID loyalty.RuleID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.ruleLocks[ruleID]
	if !ok {
		lock = &sync.Mutex{}
		m.ruleLocks[ruleID] = lock
	}
	return lock
}

// ledgerView overlays buffered writes on the parent store. Reads see
// committed state plus the view's own pending lots.
type ledgerView struct {
	parent *Memory
	lots   []loyalty.Lot
	logs   []loyalty.LogEntry
}

func (v *ledgerView) InsertLot(ctx context.Context, lot loyalty.Lot) error {
	if lot.IdempotencyKey != "" {
		exists, err := v.LotExists(ctx, lot.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return loyalty.ErrDuplicateIdempotencyKey
		}
	}
	v.lots = append(v.lots, lot)
	return nil
}

func (v *ledgerView) AppendLog(_ context.Context, entry loyalty.LogEntry) error {
	v.logs = append(v.logs, entry)
	return nil
}

func (v *ledgerView) LotExists(ctx context.Context, key string) (bool, error) {
	for _, l := range v.lots {
		if l.IdempotencyKey == key {
			return true, nil
		}
	}
	return v.parent.LotExists(ctx, key)
}

func (v *ledgerView) RuleUsage(ctx context.Context, ruleID loyalty.RuleID) (int64, error) {
	sum, err := v.parent.RuleUsage(ctx, ruleID)
	if err != nil {
		return 0, err
	}
	for _, l := range v.lots {
		if l.RuleID == ruleID {
			sum += l.Points
		}
	}
	return sum, nil
}

func (v *ledgerView) MemberRuleUsage(ctx context.Context, ruleID loyalty.RuleID, memberID loyalty.MemberID, from, to time.Time) (int64, error) {
	sum, err := v.parent.MemberRuleUsage(ctx, ruleID, memberID, from, to)
	if err != nil {
		return 0, err
	}
	for _, l := range v.lots {
		if l.RuleID == ruleID && l.MemberID == memberID &&
			!l.CreatedAt.Before(from) && !l.CreatedAt.After(to) {
			sum += l.Points
		}
	}
	return sum, nil
}

func (v *ledgerView) Balance(ctx context.Context, memberID loyalty.MemberID, now time.Time) (int64, error) {
	sum, err := v.parent.Balance(ctx, memberID, now)
	if err != nil {
		return 0, err
	}
	for _, l := range v.lots {
		if l.MemberID == memberID && !l.Exhausted(now) {
			sum += l.Remaining
		}
	}
	return sum, nil
}

func (v *ledgerView) ExpiringLots(ctx context.Context, memberID loyalty.MemberID, now, until time.Time) ([]loyalty.Lot, error) {
	return v.parent.ExpiringLots(ctx, memberID, now, until)
}

func (v *ledgerView) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	return v.parent.ExpireDue(ctx, now)
}

// =============================================================================
// RULE STORE
// =============================================================================

func (m *Memory) Rule(_ context.Context, id loyalty.RuleID) (loyalty.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[id]
	if !ok {
		return loyalty.Rule{}, loyalty.ErrRuleNotFound
	}
	return rule, nil
}

func (m *Memory) Rules(_ context.Context) ([]loyalty.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]loyalty.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (m *Memory) RulesByTrigger(_ context.Context, trigger loyalty.TriggerType) ([]loyalty.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []loyalty.Rule
	for _, r := range m.rules {
		if r.Trigger == trigger {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveRule(_ context.Context, rule loyalty.Rule) (loyalty.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == 0 {
		m.nextRuleID++
		rule.ID = m.nextRuleID
	} else if rule.ID > m.nextRuleID {
		m.nextRuleID = rule.ID
	}
	m.rules[rule.ID] = rule
	return rule, nil
}

// =============================================================================
// MEMBER STORE
// =============================================================================

func (m *Memory) Member(_ context.Context, id loyalty.MemberID) (loyalty.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.members[id]
	if !ok {
		return loyalty.Member{}, loyalty.ErrMemberNotFound
	}
	return member, nil
}

func (m *Memory) ActiveMembers(_ context.Context) ([]loyalty.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeMembersLocked(func(loyalty.Member) bool { return true }), nil
}

func (m *Memory) ActiveMembersCreatedSince(_ context.Context, since time.Time) ([]loyalty.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeMembersLocked(func(mem loyalty.Member) bool {
		return !mem.CreatedAt.Before(since)
	}), nil
}

func (m *Memory) ActiveMembersWithBirthday(_ context.Context, month time.Month, day int) ([]loyalty.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeMembersLocked(func(mem loyalty.Member) bool {
		p, ok := m.profiles[mem.ID]
		return ok && p.Birthday != nil && p.Birthday.Month() == month && p.Birthday.Day() == day
	}), nil
}

func (m *Memory) activeMembersLocked(match func(loyalty.Member) bool) []loyalty.Member {
	var result []loyalty.Member
	for _, mem := range m.members {
		if mem.Active && match(mem) {
			result = append(result, mem)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *Memory) Profile(_ context.Context, id loyalty.MemberID) (loyalty.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return loyalty.Profile{}, loyalty.ErrProfileNotFound
	}
	return p, nil
}

func (m *Memory) SaveMember(_ context.Context, member loyalty.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.ID] = member
	return nil
}

func (m *Memory) SaveProfile(_ context.Context, p loyalty.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.MemberID] = p
	return nil
}
