/*
reaper.go - Expired-lot sweep

PURPOSE:
  Periodically zeroes the remaining balance on lots whose expiry
  timestamp has passed. The lot keeps its historical Points value;
  only Remaining is forced to 0, so audit history survives expiry.

  Idempotent: re-running finds nothing further to do until more lots
  cross their expiry. Externally scheduled (hourly in dev, daily in
  production) - the reaper itself never decides when to run.
*/
package loyalty

import (
	"context"
	"log"
)

// Reaper zeroes out remaining balance on expired lots.
type Reaper struct {
	Ledger LedgerStore
	Clock  Clock
}

// Run performs one sweep and returns the number of lots expired.
func (r Reaper) Run(ctx context.Context) (int, error) {
	now := r.Clock.Now()
	n, err := r.Ledger.ExpireDue(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[Reaper] expired %d lots as of %s", n, now.Format("2006-01-02 15:04:05"))
	}
	return n, nil
}
