package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/loyalty-engine/loyalty"
	"github.com/meridian/loyalty-engine/store/memory"
)

func TestReaper_ZeroesExpiredLots(t *testing.T) {
	// GIVEN: One lot past expiry, one still live
	// WHEN: The reaper runs
	// THEN: Only the expired lot is zeroed; its Points stay for audit

	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertLot(ctx, loyalty.Lot{
		ID: "expired", MemberID: 7, RuleID: 1, Points: 50, Remaining: 50,
		ExpiresAt: now.AddDate(0, 0, -1), CreatedAt: now.AddDate(0, 0, -31),
	}))
	require.NoError(t, store.InsertLot(ctx, loyalty.Lot{
		ID: "live", MemberID: 7, RuleID: 1, Points: 30, Remaining: 30,
		ExpiresAt: now.AddDate(0, 0, 10), CreatedAt: now,
	}))

	reaper := loyalty.Reaper{Ledger: store, Clock: loyalty.FixedClock(now)}
	n, err := reaper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lots, err := store.Lots(ctx, 7)
	require.NoError(t, err)
	for _, l := range lots {
		switch l.ID {
		case "expired":
			assert.Equal(t, int64(0), l.Remaining)
			assert.Equal(t, int64(50), l.Points, "historical Points must survive expiry")
		case "live":
			assert.Equal(t, int64(30), l.Remaining)
		}
	}
}

func TestReaper_Idempotent(t *testing.T) {
	// A second sweep finds nothing further to do

	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertLot(ctx, loyalty.Lot{
		ID: "expired", MemberID: 7, RuleID: 1, Points: 50, Remaining: 50,
		ExpiresAt: now.AddDate(0, 0, -1), CreatedAt: now.AddDate(0, 0, -31),
	}))

	reaper := loyalty.Reaper{Ledger: store, Clock: loyalty.FixedClock(now)}

	n, err := reaper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = reaper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReaper_ExactExpiryBoundary(t *testing.T) {
	// A lot expiring exactly at "now" is expired (expiry is exclusive of
	// the expiry instant itself)

	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertLot(ctx, loyalty.Lot{
		ID: "boundary", MemberID: 7, RuleID: 1, Points: 10, Remaining: 10,
		ExpiresAt: now, CreatedAt: now.AddDate(0, 0, -30),
	}))

	reaper := loyalty.Reaper{Ledger: store, Clock: loyalty.FixedClock(now)}
	n, err := reaper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReaper_BalanceExcludesExpired(t *testing.T) {
	// Balance already ignores past-expiry lots even before the reaper
	// zeroes them; the sweep makes the ledger rows match

	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertLot(ctx, loyalty.Lot{
		ID: "expired", MemberID: 7, RuleID: 1, Points: 50, Remaining: 50,
		ExpiresAt: now.AddDate(0, 0, -1), CreatedAt: now.AddDate(0, 0, -31),
	}))
	require.NoError(t, store.InsertLot(ctx, loyalty.Lot{
		ID: "live", MemberID: 7, RuleID: 1, Points: 30, Remaining: 30,
		ExpiresAt: now.AddDate(0, 0, 10), CreatedAt: now,
	}))

	balance, err := store.Balance(ctx, 7, now)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)

	reaper := loyalty.Reaper{Ledger: store, Clock: loyalty.FixedClock(now)}
	_, err = reaper.Run(ctx)
	require.NoError(t, err)

	balance, err = store.Balance(ctx, 7, now)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}
