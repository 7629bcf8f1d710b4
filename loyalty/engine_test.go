package loyalty_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/loyalty-engine/loyalty"
	"github.com/meridian/loyalty-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.June, 3, 12, 0, 0, 0, time.UTC) // A Wednesday

func newTestEngine(t *testing.T) (*loyalty.Engine, *memory.Memory) {
	t.Helper()
	store := memory.New()
	calc := loyalty.NewAmountCalculator(rand.New(rand.NewSource(1)))
	engine := loyalty.NewEngine(store, store, store, calc, loyalty.FixedClock(testNow))
	return engine, store
}

func mustSaveRule(t *testing.T, store *memory.Memory, rule loyalty.Rule) loyalty.Rule {
	t.Helper()
	saved, err := store.SaveRule(context.Background(), rule)
	require.NoError(t, err)
	return saved
}

func mustSaveMember(t *testing.T, store *memory.Memory, id loyalty.MemberID, createdAt time.Time) {
	t.Helper()
	err := store.SaveMember(context.Background(), loyalty.Member{ID: id, Active: true, CreatedAt: createdAt})
	require.NoError(t, err)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// =============================================================================
// SPENDING THRESHOLD EVENTS
// =============================================================================

func TestEngine_SpendingThreshold(t *testing.T) {
	// GIVEN: A 10% rule requiring an order of at least 500
	// WHEN: Orders of 499.99 and 500 arrive
	// THEN: Only the second grants, and it grants floor(500 * 10%) = 50

	engine, store := newTestEngine(t)
	ctx := context.Background()
	mustSaveMember(t, store, 7, testNow.AddDate(-1, 0, 0))
	mustSaveRule(t, store, loyalty.Rule{
		Name:              "Big Spender",
		Enabled:           true,
		Trigger:           loyalty.TriggerSpendingThreshold,
		Audience:          loyalty.AudienceAllMembers,
		PointType:         loyalty.PointPercentage,
		Percentage:        10,
		SpendingThreshold: decimal.RequireFromString("500"),
	})

	granted, err := engine.HandleEvent(ctx, loyalty.Event{
		Type: loyalty.TriggerSpendingThreshold, MemberID: 7, Amount: decPtr("499.99"), OrderID: "ord-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, granted, "below threshold should not grant")

	granted, err = engine.HandleEvent(ctx, loyalty.Event{
		Type: loyalty.TriggerSpendingThreshold, MemberID: 7, Amount: decPtr("500"), OrderID: "ord-2",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, granted)

	balance, err := engine.Balance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestEngine_SpendingThreshold_NoAmount(t *testing.T) {
	// An event without a transaction amount can never satisfy a threshold
	engine, store := newTestEngine(t)
	mustSaveMember(t, store, 7, testNow)
	mustSaveRule(t, store, loyalty.Rule{
		Name: "Big Spender", Enabled: true,
		Trigger: loyalty.TriggerSpendingThreshold, PointType: loyalty.PointFixed, FixedAmount: 10,
		SpendingThreshold: decimal.RequireFromString("500"),
	})

	granted, err := engine.HandleEvent(context.Background(), loyalty.Event{
		Type: loyalty.TriggerSpendingThreshold, MemberID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
}

// =============================================================================
// FAIL-SOFT SEMANTICS
// =============================================================================

func TestEngine_RunSchedule_UnknownRule(t *testing.T) {
	engine, _ := newTestEngine(t)

	granted, err := engine.RunSchedule(context.Background(), 999)
	require.NoError(t, err, "unknown rule is a no-op, not an error")
	assert.Equal(t, 0, granted)
}

func TestEngine_RunSchedule_DisabledRule(t *testing.T) {
	engine, store := newTestEngine(t)
	mustSaveMember(t, store, 7, testNow)
	rule := mustSaveRule(t, store, loyalty.Rule{
		Name: "Paused", Enabled: false,
		Trigger: loyalty.TriggerSchedule, PointType: loyalty.PointFixed, FixedAmount: 10,
	})

	granted, err := engine.RunSchedule(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
}

func TestEngine_RunSchedule_WrongTrigger(t *testing.T) {
	// A non-schedule rule invoked via the scheduled entry point is a no-op
	engine, store := newTestEngine(t)
	mustSaveMember(t, store, 7, testNow)
	rule := mustSaveRule(t, store, loyalty.Rule{
		Name: "Welcome", Enabled: true,
		Trigger: loyalty.TriggerRegistration, PointType: loyalty.PointFixed, FixedAmount: 10,
	})

	granted, err := engine.RunSchedule(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
}

func TestEngine_HandleEvent_ScheduleTypeRejected(t *testing.T) {
	engine, store := newTestEngine(t)
	mustSaveMember(t, store, 7, testNow)
	mustSaveRule(t, store, loyalty.Rule{
		Name: "Daily", Enabled: true,
		Trigger: loyalty.TriggerSchedule, PointType: loyalty.PointFixed, FixedAmount: 10,
	})

	granted, err := engine.HandleEvent(context.Background(), loyalty.Event{Type: loyalty.TriggerSchedule, MemberID: 7})
	require.NoError(t, err)
	assert.Equal(t, 0, granted, "schedule rules only run via RunSchedule")
}

func TestEngine_HandleEvent_UnknownMember(t *testing.T) {
	engine, store := newTestEngine(t)
	mustSaveRule(t, store, loyalty.Rule{
		Name: "Welcome", Enabled: true,
		Trigger: loyalty.TriggerRegistration, PointType: loyalty.PointFixed, FixedAmount: 10,
	})

	granted, err := engine.HandleEvent(context.Background(), loyalty.Event{Type: loyalty.TriggerRegistration, MemberID: 404})
	require.NoError(t, err, "unknown member is a no-op, not an error")
	assert.Equal(t, 0, granted)
}

func TestEngine_HandleEvent_InactiveMember(t *testing.T) {
	engine, store := newTestEngine(t)
	require.NoError(t, store.SaveMember(context.Background(), loyalty.Member{ID: 7, Active: false, CreatedAt: testNow}))
	mustSaveRule(t, store, loyalty.Rule{
		Name: "Welcome", Enabled: true,
		Trigger: loyalty.TriggerRegistration, PointType: loyalty.PointFixed, FixedAmount: 10,
	})

	granted, err := engine.HandleEvent(context.Background(), loyalty.Event{Type: loyalty.TriggerRegistration, MemberID: 7})
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
}

func TestEngine_HandleEvent_NoMatchingRules(t *testing.T) {
	engine, store := newTestEngine(t)
	mustSaveMember(t, store, 7, testNow)

	granted, err := engine.HandleEvent(context.Background(), loyalty.Event{Type: loyalty.TriggerFirstPurchase, MemberID: 7})
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
}

// =============================================================================
// CUSTOM EVENTS
// =============================================================================

func TestEngine_CustomEvent_KeyMatching(t *testing.T) {
	// GIVEN: A custom-event rule keyed "app_review"
	// WHEN: Events with the wrong and the right key arrive
	// THEN: Only the matching key grants

	engine, store := newTestEngine(t)
	ctx := context.Background()
	mustSaveMember(t, store, 7, testNow)
	mustSaveRule(t, store, loyalty.Rule{
		Name: "App Review", Enabled: true,
		Trigger: loyalty.TriggerCustomEvent, CustomEventKey: "app_review",
		PointType: loyalty.PointFixed, FixedAmount: 25,
	})

	granted, err := engine.HandleEvent(ctx, loyalty.Event{Type: loyalty.TriggerCustomEvent, MemberID: 7, CustomKey: "newsletter_signup"})
	require.NoError(t, err)
	assert.Equal(t, 0, granted)

	granted, err = engine.HandleEvent(ctx, loyalty.Event{Type: loyalty.TriggerCustomEvent, MemberID: 7, CustomKey: "app_review"})
	require.NoError(t, err)
	assert.Equal(t, 1, granted)
}

func TestEngine_MultipleRulesOneEvent(t *testing.T) {
	// Two enabled rules on the same trigger both fire for one event

	engine, store := newTestEngine(t)
	ctx := context.Background()
	mustSaveMember(t, store, 7, testNow)
	mustSaveRule(t, store, loyalty.Rule{
		Name: "Welcome A", Enabled: true,
		Trigger: loyalty.TriggerRegistration, PointType: loyalty.PointFixed, FixedAmount: 100,
	})
	mustSaveRule(t, store, loyalty.Rule{
		Name: "Welcome B", Enabled: true,
		Trigger: loyalty.TriggerRegistration, PointType: loyalty.PointFixed, FixedAmount: 50,
	})
	mustSaveRule(t, store, loyalty.Rule{
		Name: "Welcome C (off)", Enabled: false,
		Trigger: loyalty.TriggerRegistration, PointType: loyalty.PointFixed, FixedAmount: 9999,
	})

	granted, err := engine.HandleEvent(ctx, loyalty.Event{Type: loyalty.TriggerRegistration, MemberID: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, granted)

	balance, err := engine.Balance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestEngine_OrderEvent_Idempotent(t *testing.T) {
	// GIVEN: A first-purchase grant already recorded for order ord-1
	// WHEN: The same event is delivered again (retry)
	// THEN: No second lot, balance unchanged

	engine, store := newTestEngine(t)
	ctx := context.Background()
	mustSaveMember(t, store, 7, testNow)
	mustSaveRule(t, store, loyalty.Rule{
		Name: "First Purchase", Enabled: true,
		Trigger: loyalty.TriggerFirstPurchase, PointType: loyalty.PointFixed, FixedAmount: 200,
	})

	ev := loyalty.Event{Type: loyalty.TriggerFirstPurchase, MemberID: 7, OrderID: "ord-1"}

	granted, err := engine.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, granted)

	granted, err = engine.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 0, granted, "retried event must not double-grant")

	balance, err := engine.Balance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)
}

func TestEngine_RunSchedule_SameDayIdempotent(t *testing.T) {
	// Re-running a schedule rule on the same day grants nothing further

	engine, store := newTestEngine(t)
	ctx := context.Background()
	mustSaveMember(t, store, 7, testNow)
	rule := mustSaveRule(t, store, loyalty.Rule{
		Name: "Daily Login", Enabled: true,
		Trigger: loyalty.TriggerSchedule, Audience: loyalty.AudienceAllMembers,
		PointType: loyalty.PointFixed, FixedAmount: 5,
	})

	granted, err := engine.RunSchedule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, granted)

	granted, err = engine.RunSchedule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, granted)

	balance, err := engine.Balance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

// =============================================================================
// AUDIENCES
// =============================================================================

func TestEngine_RunSchedule_NewMembersAudience(t *testing.T) {
	// GIVEN: One member registered 10 days ago, one 60 days ago
	// WHEN: A new-members schedule rule runs
	// THEN: Only the recent member is granted

	engine, store := newTestEngine(t)
	ctx := context.Background()
	mustSaveMember(t, store, 1, testNow.AddDate(0, 0, -10))
	mustSaveMember(t, store, 2, testNow.AddDate(0, 0, -60))
	rule := mustSaveRule(t, store, loyalty.Rule{
		Name: "Newcomer Perk", Enabled: true,
		Trigger: loyalty.TriggerSchedule, Audience: loyalty.AudienceNewMembers,
		PointType: loyalty.PointFixed, FixedAmount: 10,
	})

	granted, err := engine.RunSchedule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, granted)

	b1, _ := engine.Balance(ctx, 1)
	b2, _ := engine.Balance(ctx, 2)
	assert.Equal(t, int64(10), b1)
	assert.Equal(t, int64(0), b2)
}

func TestEngine_RunSchedule_BirthdayAudience(t *testing.T) {
	// Only active members whose birthday falls on "today" are granted

	engine, store := newTestEngine(t)
	ctx := context.Background()
	mustSaveMember(t, store, 1, testNow.AddDate(-2, 0, 0))
	mustSaveMember(t, store, 2, testNow.AddDate(-2, 0, 0))
	bday := time.Date(1990, testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC)
	other := time.Date(1990, time.January, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveProfile(ctx, loyalty.Profile{MemberID: 1, Birthday: &bday}))
	require.NoError(t, store.SaveProfile(ctx, loyalty.Profile{MemberID: 2, Birthday: &other}))

	rule := mustSaveRule(t, store, loyalty.Rule{
		Name: "Birthday Bonus", Enabled: true,
		Trigger: loyalty.TriggerSchedule, Audience: loyalty.AudienceBirthdayToday,
		PointType: loyalty.PointFixed, FixedAmount: 100,
	})

	granted, err := engine.RunSchedule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, granted)

	b1, _ := engine.Balance(ctx, 1)
	assert.Equal(t, int64(100), b1)
}

func TestEngine_Event_BirthdayAudience_NoProfile(t *testing.T) {
	// A birthday-audience rule skips members with no birthdate on file

	engine, store := newTestEngine(t)
	mustSaveMember(t, store, 7, testNow)
	mustSaveRule(t, store, loyalty.Rule{
		Name: "Birthday Treat", Enabled: true,
		Trigger: loyalty.TriggerBirthday, Audience: loyalty.AudienceBirthdayToday,
		PointType: loyalty.PointFixed, FixedAmount: 100,
	})

	granted, err := engine.HandleEvent(context.Background(), loyalty.Event{Type: loyalty.TriggerBirthday, MemberID: 7})
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
}

// =============================================================================
// BUDGET ACROSS A SCHEDULED RUN
// =============================================================================

func TestEngine_RunSchedule_BudgetStopsRun(t *testing.T) {
	// GIVEN: A 60-point grant rule with a 100-point lifetime budget and 3 members
	// WHEN: The schedule runs
	// THEN: First member gets 60, second gets the 40 remainder, third nothing

	engine, store := newTestEngine(t)
	ctx := context.Background()
	for id := loyalty.MemberID(1); id <= 3; id++ {
		mustSaveMember(t, store, id, testNow.AddDate(-1, 0, 0))
	}
	rule := mustSaveRule(t, store, loyalty.Rule{
		Name: "Limited Promo", Enabled: true,
		Trigger: loyalty.TriggerSchedule, Audience: loyalty.AudienceAllMembers,
		PointType: loyalty.PointFixed, FixedAmount: 60, TotalBudget: 100,
	})

	granted, err := engine.RunSchedule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, granted)

	usage, err := store.RuleUsage(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), usage, "total granted must equal the budget exactly")

	b3, _ := engine.Balance(ctx, 3)
	assert.Equal(t, int64(0), b3)
}

func TestEngine_RunSchedule_ExhaustedBudgetShortCircuits(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	mustSaveMember(t, store, 1, testNow)
	rule := mustSaveRule(t, store, loyalty.Rule{
		Name: "Spent Promo", Enabled: true,
		Trigger: loyalty.TriggerSchedule, Audience: loyalty.AudienceAllMembers,
		PointType: loyalty.PointFixed, FixedAmount: 60, TotalBudget: 100,
	})
	// Budget already fully consumed by an earlier run
	require.NoError(t, store.InsertLot(ctx, loyalty.Lot{
		ID: "prior", MemberID: 99, RuleID: rule.ID, Points: 100, Remaining: 100,
		ExpiresAt: testNow.AddDate(1, 0, 0), CreatedAt: testNow.AddDate(0, 0, -1),
	}))

	granted, err := engine.RunSchedule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
}

// =============================================================================
// GRANT RECORDS
// =============================================================================

func TestEngine_Grant_LotAndAuditShape(t *testing.T) {
	// Every grant writes a lot (Remaining == Points, expiry per rule) and
	// a matching audit entry

	engine, store := newTestEngine(t)
	ctx := context.Background()
	mustSaveMember(t, store, 7, testNow)
	rule := mustSaveRule(t, store, loyalty.Rule{
		Name: "Weekly Flash", Enabled: true,
		Trigger: loyalty.TriggerSchedule, Audience: loyalty.AudienceAllMembers,
		PointType: loyalty.PointFixed, FixedAmount: 30,
		ExpiryMode: loyalty.ExpiryThisWeekSunday,
	})

	_, err := engine.RunSchedule(ctx, rule.ID)
	require.NoError(t, err)

	lots, err := store.Lots(ctx, 7)
	require.NoError(t, err)
	require.Len(t, lots, 1)

	lot := lots[0]
	assert.NotEmpty(t, lot.ID)
	assert.Equal(t, rule.ID, lot.RuleID)
	assert.Equal(t, int64(30), lot.Points)
	assert.Equal(t, lot.Points, lot.Remaining, "a fresh lot starts fully available")
	assert.Equal(t, testNow, lot.CreatedAt)
	// testNow is a Wednesday; the week closes Sunday June 7
	assert.Equal(t, time.Date(2026, time.June, 7, 23, 59, 59, 0, time.UTC), lot.ExpiresAt)

	logs, err := store.Logs(ctx, 7)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(30), logs[0].Change)
	assert.Contains(t, logs[0].Reason, rule.Name)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestEngine_ConcurrentEvents_NeverExceedBudget(t *testing.T) {
	// GIVEN: A 10-point custom-event rule with a 100-point budget
	// WHEN: 50 events race in from separate goroutines
	// THEN: Total granted points never exceed the budget

	store := memory.New()
	ctx := context.Background()
	mustSaveMember(t, store, 7, testNow)
	rule := mustSaveRule(t, store, loyalty.Rule{
		Name: "Race Promo", Enabled: true,
		Trigger: loyalty.TriggerCustomEvent, CustomEventKey: "spin",
		PointType: loyalty.PointFixed, FixedAmount: 10, TotalBudget: 100,
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Each goroutine gets its own engine: the amount calculator's
			// random source is not goroutine-safe.
			calc := loyalty.NewAmountCalculator(rand.New(rand.NewSource(int64(n))))
			engine := loyalty.NewEngine(store, store, store, calc, loyalty.FixedClock(testNow))
			_, err := engine.HandleEvent(ctx, loyalty.Event{
				Type: loyalty.TriggerCustomEvent, MemberID: 7, CustomKey: "spin",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	usage, err := store.RuleUsage(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), usage, "concurrent grants must land exactly on the budget")
}

func TestEngine_ConcurrentScheduleRuns_SingleGrantPerMember(t *testing.T) {
	// Two racing runs of the same schedule rule on the same day produce
	// one grant per member, not two

	store := memory.New()
	ctx := context.Background()
	for id := loyalty.MemberID(1); id <= 5; id++ {
		mustSaveMember(t, store, id, testNow.AddDate(-1, 0, 0))
	}
	rule := mustSaveRule(t, store, loyalty.Rule{
		Name: "Daily Drop", Enabled: true,
		Trigger: loyalty.TriggerSchedule, Audience: loyalty.AudienceAllMembers,
		PointType: loyalty.PointFixed, FixedAmount: 5,
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			calc := loyalty.NewAmountCalculator(rand.New(rand.NewSource(int64(n))))
			engine := loyalty.NewEngine(store, store, store, calc, loyalty.FixedClock(testNow))
			_, err := engine.RunSchedule(ctx, rule.ID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for id := loyalty.MemberID(1); id <= 5; id++ {
		lots, err := store.Lots(ctx, id)
		require.NoError(t, err)
		assert.Len(t, lots, 1, fmt.Sprintf("member %d should hold exactly one lot", id))
	}
}

// =============================================================================
// READ SURFACE
// =============================================================================

func TestEngine_ExpiringWithin(t *testing.T) {
	// GIVEN: Lots expiring in 5, 20, and 60 days
	// WHEN: Asking for lots expiring within 30 days
	// THEN: The two nearest, soonest first

	engine, store := newTestEngine(t)
	ctx := context.Background()
	for i, days := range []int{20, 5, 60} {
		require.NoError(t, store.InsertLot(ctx, loyalty.Lot{
			ID: fmt.Sprintf("lot-%d", i), MemberID: 7, RuleID: 1, Points: 10, Remaining: 10,
			ExpiresAt: testNow.AddDate(0, 0, days), CreatedAt: testNow,
		}))
	}

	lots, err := engine.ExpiringWithin(ctx, 7, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, "lot-1", lots[0].ID)
	assert.Equal(t, "lot-0", lots[1].ID)
}

func TestEngine_RunnableSchedules(t *testing.T) {
	engine, store := newTestEngine(t)
	mustSaveRule(t, store, loyalty.Rule{Name: "A", Enabled: true, Trigger: loyalty.TriggerSchedule, PointType: loyalty.PointFixed, FixedAmount: 1})
	mustSaveRule(t, store, loyalty.Rule{Name: "B", Enabled: false, Trigger: loyalty.TriggerSchedule, PointType: loyalty.PointFixed, FixedAmount: 1})
	mustSaveRule(t, store, loyalty.Rule{Name: "C", Enabled: true, Trigger: loyalty.TriggerRegistration, PointType: loyalty.PointFixed, FixedAmount: 1})

	n, err := engine.RunnableSchedules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
